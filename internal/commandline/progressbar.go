// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"fmt"
	"io"
	"strings"

	"github.com/muesli/termenv"
	"github.com/schollz/progressbar/v3"
)

// ProgressbarStyle to use. Defaults to the ASCII version.
var ProgressbarStyle = progressbar.ThemeASCII

// ProgressBar displays the progress of a loop of a known number of steps, followed by the
// current values of some metrics.
type ProgressBar struct {
	bar     *progressbar.ProgressBar
	out     *termenv.Output
	metrics []string
}

// NewProgressBar creates a progress bar for numSteps steps, written to w.
func NewProgressBar(w io.Writer, numSteps int, description string) *ProgressBar {
	pBar := &ProgressBar{out: termenv.NewOutput(w)}
	pBar.bar = progressbar.NewOptions(numSteps,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(w),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("steps"),
		progressbar.OptionSetTheme(ProgressbarStyle),
		progressbar.OptionSetRenderBlankState(true),
	)
	pBar.out.HideCursor()
	return pBar
}

// Update advances the bar by amount steps and sets the metrics displayed after it, given as
// name/value pairs.
func (pBar *ProgressBar) Update(amount int, metrics ...string) error {
	pBar.metrics = pBar.metrics[:0]
	for ii := 0; ii+1 < len(metrics); ii += 2 {
		pBar.metrics = append(pBar.metrics, fmt.Sprintf("[%s=%s]", metrics[ii], metrics[ii+1]))
	}
	pBar.bar.Describe(strings.Join(pBar.metrics, " "))
	return pBar.bar.Add(amount)
}

// Finish completes the bar and restores the cursor.
func (pBar *ProgressBar) Finish() error {
	defer pBar.out.ShowCursor()
	return pBar.bar.Finish()
}
