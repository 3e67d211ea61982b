// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package workerspool limits the number of goroutines used to execute the thunks of a program
// in parallel.
package workerspool

import (
	"runtime"
	"sync"
)

// Pool runs tasks in goroutines, with at most MaxParallelism of them running at any time.
type Pool struct {
	maxParallelism int

	mu         sync.Mutex
	cond       sync.Cond // Signaled whenever numRunning decreases.
	numRunning int
}

// New returns a Pool running at most maxParallelism tasks at a time. If maxParallelism is
// negative, runtime.NumCPU() is used. A maxParallelism of 0 disables parallelism: tasks run
// inline.
func New(maxParallelism int) *Pool {
	if maxParallelism < 0 {
		maxParallelism = runtime.NumCPU()
	}
	p := &Pool{maxParallelism: maxParallelism}
	p.cond = sync.Cond{L: &p.mu}
	return p
}

// MaxParallelism returns the maximum number of tasks running at the same time.
func (p *Pool) MaxParallelism() int {
	return p.maxParallelism
}

// IsEnabled returns whether tasks run in their own goroutines.
func (p *Pool) IsEnabled() bool {
	return p.maxParallelism > 0
}

// NumRunning returns the number of tasks currently running.
func (p *Pool) NumRunning() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.numRunning
}

// WaitToStart blocks until a worker is available and starts the task in a goroutine.
// If parallelism is disabled, the task runs inline, and it returns when the task is finished.
//
// It's up to the caller to synchronize on the end of the task.
func (p *Pool) WaitToStart(task func()) {
	if !p.IsEnabled() {
		task()
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.numRunning >= p.maxParallelism {
		p.cond.Wait()
	}
	p.lockedStart(task)
}

// StartIfAvailable starts the task in a goroutine if a worker is available, and returns whether
// it did.
func (p *Pool) StartIfAvailable(task func()) bool {
	if !p.IsEnabled() {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.numRunning >= p.maxParallelism {
		return false
	}
	p.lockedStart(task)
	return true
}

// lockedStart must be called with p.mu held.
func (p *Pool) lockedStart(task func()) {
	p.numRunning++
	go func() {
		defer func() {
			p.mu.Lock()
			p.numRunning--
			p.cond.Signal()
			p.mu.Unlock()
		}()
		task()
	}()
}
