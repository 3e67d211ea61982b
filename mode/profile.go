// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package mode

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gomlx/symbolic/internal/commandline"
	"github.com/gomlx/symbolic/linker"
	"github.com/gomlx/symbolic/optimizer"
	"github.com/gomlx/symbolic/types/xslices"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Profile collects the execution statistics of a compiled function: the number of calls and the
// time spent per op, the duration of the function calls, and the compilation time and rewrites
// applied.
//
// The run-time statistics are kept in a Prometheus registry, which can be exported by the
// application (see Registry).
type Profile struct {
	name     string
	registry *prometheus.Registry

	opCalls   *prometheus.CounterVec
	opSeconds *prometheus.CounterVec
	calls     prometheus.Histogram

	mu           sync.Mutex
	optimizeTime time.Duration
	linkTime     time.Duration
	rewrites     map[string]int
}

// OpStat holds the statistics of one op in a Profile.
type OpStat struct {
	Op    string
	Calls int
	Time  time.Duration
}

// NewProfile creates an empty Profile for the function with the given name.
func NewProfile(name string) *Profile {
	labels := prometheus.Labels{"function": name}
	p := &Profile{
		name:     name,
		registry: prometheus.NewRegistry(),
		opCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "symbolic_op_calls_total",
			Help:        "Number of executions of each op.",
			ConstLabels: labels,
		}, []string{"op"}),
		opSeconds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "symbolic_op_seconds_total",
			Help:        "Time spent executing each op.",
			ConstLabels: labels,
		}, []string{"op"}),
		calls: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "symbolic_function_call_seconds",
			Help:        "Duration of the function calls.",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(1e-6, 10, 8),
		}),
		rewrites: make(map[string]int),
	}
	p.registry.MustRegister(p.opCalls, p.opSeconds, p.calls)
	return p
}

// Name of the profiled function.
func (p *Profile) Name() string { return p.name }

// Registry returns the Prometheus registry holding the run-time statistics.
func (p *Profile) Registry() *prometheus.Registry { return p.registry }

// Callback returns the linker callback that records the execution of each thunk.
func (p *Profile) Callback() linker.Callback {
	return func(thunk *linker.Thunk, elapsed time.Duration) {
		op := thunk.Node.Op.Name()
		p.opCalls.WithLabelValues(op).Inc()
		p.opSeconds.WithLabelValues(op).Add(elapsed.Seconds())
	}
}

// RecordCompile records the compilation times and the rewrites applied (stats may be nil).
func (p *Profile) RecordCompile(optimizeTime, linkTime time.Duration, stats *optimizer.Stats) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.optimizeTime += optimizeTime
	p.linkTime += linkTime
	if stats != nil {
		for name, count := range stats.Applied() {
			p.rewrites[name] += count
		}
	}
}

// RecordCall records the duration of one call of the function.
func (p *Profile) RecordCall(elapsed time.Duration) {
	p.calls.Observe(elapsed.Seconds())
}

// CompileTime returns the time spent optimizing and linking.
func (p *Profile) CompileTime() (optimizeTime, linkTime time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.optimizeTime, p.linkTime
}

// Rewrites returns the number of times each rewrite was applied during compilation.
func (p *Profile) Rewrites() map[string]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	result := make(map[string]int, len(p.rewrites))
	for name, count := range p.rewrites {
		result[name] = count
	}
	return result
}

// gather returns the metric families of the registry, by name.
func (p *Profile) gather() (map[string]*dto.MetricFamily, error) {
	families, err := p.registry.Gather()
	if err != nil {
		return nil, errors.Wrapf(err, "gathering the metrics of profile %q", p.name)
	}
	byName := make(map[string]*dto.MetricFamily, len(families))
	for _, family := range families {
		byName[family.GetName()] = family
	}
	return byName, nil
}

func labelValue(metric *dto.Metric, name string) string {
	for _, label := range metric.GetLabel() {
		if label.GetName() == name {
			return label.GetValue()
		}
	}
	return ""
}

// Calls returns the number of calls of the function and their total duration.
func (p *Profile) Calls() (count int, total time.Duration, err error) {
	families, err := p.gather()
	if err != nil {
		return 0, 0, err
	}
	family, found := families["symbolic_function_call_seconds"]
	if !found || len(family.GetMetric()) == 0 {
		return 0, 0, nil
	}
	histogram := family.GetMetric()[0].GetHistogram()
	return int(histogram.GetSampleCount()), time.Duration(histogram.GetSampleSum() * float64(time.Second)), nil
}

// OpStats returns the statistics per op, sorted by decreasing time.
func (p *Profile) OpStats() ([]OpStat, error) {
	families, err := p.gather()
	if err != nil {
		return nil, err
	}
	stats := make(map[string]*OpStat)
	statFor := func(op string) *OpStat {
		s, found := stats[op]
		if !found {
			s = &OpStat{Op: op}
			stats[op] = s
		}
		return s
	}
	for _, metric := range families["symbolic_op_calls_total"].GetMetric() {
		statFor(labelValue(metric, "op")).Calls = int(metric.GetCounter().GetValue())
	}
	for _, metric := range families["symbolic_op_seconds_total"].GetMetric() {
		statFor(labelValue(metric, "op")).Time = time.Duration(metric.GetCounter().GetValue() * float64(time.Second))
	}
	result := make([]OpStat, 0, len(stats))
	for _, s := range stats {
		result = append(result, *s)
	}
	slices.SortFunc(result, func(a, b OpStat) int {
		if a.Time != b.Time {
			if a.Time > b.Time {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Op, b.Op)
	})
	return result, nil
}

// Summary returns a report of the profile, with a table of the time spent per op.
func (p *Profile) Summary() string {
	var sb strings.Builder
	numCalls, callsTime, err := p.Calls()
	if err != nil {
		return err.Error()
	}
	optimizeTime, linkTime := p.CompileTime()
	_, _ = fmt.Fprintf(&sb, "Function %q: %s calls, %s total\n", p.name, commandline.HumanizeInt(numCalls), commandline.FormatDuration(callsTime))
	_, _ = fmt.Fprintf(&sb, "Compilation: optimization %s, linking %s\n",
		commandline.FormatDuration(optimizeTime), commandline.FormatDuration(linkTime))
	if rewrites := p.Rewrites(); len(rewrites) > 0 {
		names := xslices.SortedKeys(rewrites)
		parts := make([]string, len(names))
		for ii, name := range names {
			parts[ii] = fmt.Sprintf("%s=%d", name, rewrites[name])
		}
		_, _ = fmt.Fprintf(&sb, "Rewrites: %s\n", strings.Join(parts, ", "))
	}

	opStats, err := p.OpStats()
	if err != nil {
		return err.Error()
	}
	var opsTime time.Duration
	for _, s := range opStats {
		opsTime += s.Time
	}
	rows := make([][]string, len(opStats))
	for ii, s := range opStats {
		share := 0.0
		if opsTime > 0 {
			share = 100 * float64(s.Time) / float64(opsTime)
		}
		perCall := time.Duration(0)
		if s.Calls > 0 {
			perCall = s.Time / time.Duration(s.Calls)
		}
		rows[ii] = []string{s.Op, commandline.HumanizeInt(s.Calls), commandline.FormatDuration(s.Time),
			commandline.FormatDuration(perCall), fmt.Sprintf("%.1f%%", share)}
	}
	sb.WriteString(commandline.Table([]string{"Op", "Calls", "Time", "Per call", "%"}, rows, 1, 2, 3, 4))
	sb.WriteString("\n")
	return sb.String()
}
