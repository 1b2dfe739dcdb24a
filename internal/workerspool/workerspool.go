// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package workerspool runs independent jobs, e.g. the fusion of different graphs, with a
// bounded number of goroutines.
package workerspool

import (
	"runtime"
	"sync"
)

// Pool of workers. Jobs are started with Go, and Wait blocks until all of them are finished.
type Pool struct {
	// maxParallelism is the limit of jobs running at the same time.
	// 0 runs jobs inline, and a negative value means unlimited.
	maxParallelism int

	mu         sync.Mutex
	cond       sync.Cond // Signaled whenever numRunning is decreased.
	numRunning int
}

// New returns a new Pool with the default parallelism (runtime.NumCPU()).
func New() *Pool {
	return NewWithParallelism(runtime.NumCPU())
}

// NewWithParallelism returns a new Pool running at most maxParallelism jobs at a time.
// If maxParallelism is 0, jobs run inline in Go. If it is negative, parallelism is unlimited.
func NewWithParallelism(maxParallelism int) *Pool {
	w := &Pool{maxParallelism: maxParallelism}
	w.cond = sync.Cond{L: &w.mu}
	return w
}

// MaxParallelism returns the limit of jobs running at the same time. See NewWithParallelism.
func (w *Pool) MaxParallelism() int {
	return w.maxParallelism
}

// lockedIsFull returns whether all available workers are in use.
//
// It must be called with Pool.mu acquired.
func (w *Pool) lockedIsFull() bool {
	return w.maxParallelism >= 0 && w.numRunning >= w.maxParallelism
}

// Go waits until there is a worker available and runs job in a new goroutine.
//
// If parallelism is disabled (maxParallelism is 0), it runs job inline and returns when it is
// finished.
func (w *Pool) Go(job func()) {
	if w.maxParallelism == 0 {
		job()
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for w.lockedIsFull() {
		w.cond.Wait()
	}
	w.numRunning++
	go func() {
		defer w.done()
		job()
	}()
}

func (w *Pool) done() {
	w.mu.Lock()
	w.numRunning--
	w.cond.Broadcast()
	w.mu.Unlock()
}

// Wait blocks until all jobs started with Go are finished.
func (w *Pool) Wait() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for w.numRunning > 0 {
		w.cond.Wait()
	}
}

// Map runs fn for each of the items in the pool, and returns the results in the order of
// the items. It returns when all jobs are finished.
func Map[T, R any](w *Pool, items []T, fn func(item T) R) []R {
	results := make([]R, len(items))
	for i, item := range items {
		w.Go(func() { results[i] = fn(item) })
	}
	w.Wait()
	return results
}
