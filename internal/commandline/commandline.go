// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package commandline contains formatting helpers for reports printed on the terminal: durations,
// counts, tables and progress bars.
package commandline

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
)

var durationRegexp = regexp.MustCompile(`(\d+\.?\d*)([µa-z]+)`)

// FormatDuration pretty prints the duration with 2 decimal places, e.g.: "1.23ms".
func FormatDuration(d time.Duration) string {
	s := d.String()
	matches := durationRegexp.FindStringSubmatch(s)
	if len(matches) != 3 || matches[0] != s {
		return s
	}
	num, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return s
	}
	return fmt.Sprintf("%.2f%s", num, matches[2])
}

// HumanizeInt formats n with thousands separators, e.g.: "1,234,567".
func HumanizeInt[I ~int | ~int32 | ~int64 | ~uint32 | ~uint64](n I) string {
	return humanize.Comma(int64(n))
}

var (
	cellStyle         = lipgloss.NewStyle().Padding(0, 1)
	rightAlignedStyle = lipgloss.NewStyle().Align(lipgloss.Right).Padding(0, 1)
	headerStyle       = lipgloss.NewStyle().Padding(0, 1).Bold(true).Reverse(true)
	tableBorderColor  = "#705090"
)

// Table renders a table with rounded borders. Columns listed in rightAligned (typically numbers)
// are aligned to the right.
func Table(headers []string, rows [][]string, rightAligned ...int) string {
	isRight := make(map[int]bool, len(rightAligned))
	for _, col := range rightAligned {
		isRight[col] = true
	}
	table := lgtable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(tableBorderColor))).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == lgtable.HeaderRow:
				return headerStyle
			case isRight[col]:
				return rightAlignedStyle
			}
			return cellStyle
		})
	table.Headers(headers...)
	for _, row := range rows {
		table.Row(row...)
	}
	return table.String()
}
