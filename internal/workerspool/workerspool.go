// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package workerspool limits the number of classifications running in parallel.
package workerspool

import (
	"context"
	"runtime"
	"sync"
)

// Pool runs tasks in goroutines, with at most MaxParallelism of them running at the same time.
type Pool struct {
	maxParallelism int
	mu             sync.Mutex
	cond           sync.Cond // Signaled whenever numRunning is decreased.
	numRunning     int
}

// New returns a new Pool of workers with the default parallelism (runtime.NumCPU()).
func New() *Pool {
	w := &Pool{maxParallelism: runtime.NumCPU()}
	w.cond = sync.Cond{L: &w.mu}
	return w
}

// IsEnabled returns whether parallelism is enabled (maxParallelism is != 0)
func (w *Pool) IsEnabled() bool {
	return w.maxParallelism != 0
}

// IsUnlimited returns whether parallelism is unlimited (maxParallelism < 0)
func (w *Pool) IsUnlimited() bool {
	return w.maxParallelism < 0
}

// MaxParallelism is the limit of tasks running at the same time.
// If 0 tasks are run inline, and if -1 parallelism is unlimited.
func (w *Pool) MaxParallelism() int {
	return w.maxParallelism
}

// SetMaxParallelism sets the maxParallelism. It returns the Pool itself, so calls can be cascaded.
//
// It should only be changed before any task starts running.
func (w *Pool) SetMaxParallelism(maxParallelism int) *Pool {
	w.maxParallelism = maxParallelism
	return w
}

// NumRunning returns the number of tasks currently running.
func (w *Pool) NumRunning() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.numRunning
}

// lockedIsFull returns whether all available workers are in use.
//
// It must be called with Pool.mu acquired.
func (w *Pool) lockedIsFull() bool {
	if w.maxParallelism < 0 {
		return false
	}
	return w.numRunning >= w.maxParallelism
}

// WaitToStart waits until there is a worker available and runs task in a new goroutine.
//
// If parallelism is disabled (maxParallelism is 0), it runs the task inline and returns when it is finished.
func (w *Pool) WaitToStart(task func()) {
	if w.maxParallelism == 0 {
		task()
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for w.lockedIsFull() {
		w.cond.Wait()
	}
	w.lockedRunTaskInGoroutine(task)
}

// lockedRunTaskInGoroutine and keep tabs on w.numRunning.
//
// It must be called with Pool.mu acquired.
func (w *Pool) lockedRunTaskInGoroutine(task func()) {
	w.numRunning++
	go func() {
		defer func() {
			w.mu.Lock()
			w.numRunning--
			w.cond.Signal()
			w.mu.Unlock()
		}()
		task()
	}()
}

// ForEach calls task(ii) for ii in [0, n), running at most MaxParallelism tasks at a time,
// and returns when all started tasks are finished.
//
// Tasks not yet started when ctx is cancelled are skipped, and ctx.Err() is returned.
func (w *Pool) ForEach(ctx context.Context, n int, task func(ii int)) error {
	var wg sync.WaitGroup
	defer wg.Wait()
	for ii := range n {
		if err := ctx.Err(); err != nil {
			return err
		}
		wg.Add(1)
		w.WaitToStart(func() {
			defer wg.Done()
			task(ii)
		})
	}
	return nil
}
