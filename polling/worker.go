// go-st25r
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-st25r.
//
// go-st25r is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-st25r is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-st25r; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

// Package polling runs reader poll cycles on a single background goroutine.
package polling

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ZaparooProject/go-st25r/internal/syncutil"
)

// CycleFunc runs one poll cycle. Returning true asks for another cycle
// after Config.Interval.
type CycleFunc func(ctx context.Context) bool

// WorkerMetrics tracks operational metrics for a Worker
type WorkerMetrics struct {
	Cycles           int64         // Total number of poll cycles
	SleepsDetected   int64         // Scheduled cycles that fired late enough to imply a host sleep
	RecoveryFailures int64         // Recovery attempts that returned an error
	LastCycleLatency time.Duration // Duration of the last cycle
}

// Worker runs at most one cycle at a time. Cycles start on Trigger or when
// a timer armed by Schedule fires.
type Worker struct {
	cycle     CycleFunc
	config    *Config
	recoverer Recoverer
	trigger   chan struct{}
	stopChan  chan struct{}
	timer     *time.Timer
	armedAt   time.Time
	armedFor  time.Duration
	wg        sync.WaitGroup
	mu        syncutil.Mutex
	stopOnce  sync.Once
	// Atomic counters for metrics
	cycles           atomic.Int64
	sleeps           atomic.Int64
	recoveryFailures atomic.Int64
	lastLatency      atomic.Int64 // in nanoseconds
	slept            atomic.Bool
	running          atomic.Bool
	stopped          atomic.Bool
}

// NewWorker creates a worker. A nil config means DefaultConfig. recoverer
// may be nil, in which case detected sleeps are only counted.
func NewWorker(cycle CycleFunc, config *Config, recoverer Recoverer) *Worker {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	return &Worker{
		cycle:     cycle,
		config:    config,
		recoverer: recoverer,
		trigger:   make(chan struct{}, 1),
		stopChan:  make(chan struct{}),
	}
}

// Start launches the worker goroutine. It returns immediately; cycles run
// until Stop is called or ctx is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	if w.stopped.Load() {
		return context.Canceled
	}
	if w.running.CompareAndSwap(false, true) {
		w.wg.Add(1)
		go w.loop(ctx)
	}
	return nil
}

func (w *Worker) loop(ctx context.Context) {
	defer w.wg.Done()
	defer w.running.Store(false)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case <-w.trigger:
			w.runCycle(ctx)
		}
	}
}

func (w *Worker) runCycle(ctx context.Context) {
	if w.slept.Swap(false) && w.recoverer != nil {
		if err := w.recoverer.AttemptRecovery(ctx); err != nil {
			w.recoveryFailures.Add(1)
		}
	}

	start := time.Now()
	again := w.cycle(ctx)
	w.cycles.Add(1)
	w.lastLatency.Store(int64(time.Since(start)))

	if again {
		w.Schedule(w.config.Interval)
	}
}

// Trigger cancels any pending reschedule and runs a cycle as soon as the
// current one, if any, completes. Triggers coalesce.
func (w *Worker) Trigger() {
	w.mu.Lock()
	w.stopTimerLocked()
	w.mu.Unlock()
	w.signal()
}

func (w *Worker) signal() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

// Schedule arms the reschedule timer, replacing any pending one.
func (w *Worker) Schedule(d time.Duration) {
	if w.stopped.Load() {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopTimerLocked()
	w.armedAt = time.Now()
	w.armedFor = d
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		w.mu.Lock()
		if w.timer != t {
			w.mu.Unlock()
			return
		}
		w.timer = nil
		if w.config.SleepRecovery.DetectSleep(time.Since(w.armedAt), w.armedFor) {
			w.sleeps.Add(1)
			w.slept.Store(true)
		}
		w.mu.Unlock()
		w.signal()
	})
	w.timer = t
}

// Pending reports whether a reschedule is armed.
func (w *Worker) Pending() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.timer != nil
}

func (w *Worker) stopTimerLocked() {
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

// Stop ends the worker and waits for an in-flight cycle to finish. The
// worker cannot be restarted.
func (w *Worker) Stop(_ context.Context) error {
	w.stopOnce.Do(func() {
		w.stopped.Store(true)
		w.mu.Lock()
		w.stopTimerLocked()
		w.mu.Unlock()
		close(w.stopChan)
	})
	w.wg.Wait()
	return nil
}

// GetMetrics returns current operational metrics
func (w *Worker) GetMetrics() WorkerMetrics {
	return WorkerMetrics{
		Cycles:           w.cycles.Load(),
		SleepsDetected:   w.sleeps.Load(),
		RecoveryFailures: w.recoveryFailures.Load(),
		LastCycleLatency: time.Duration(w.lastLatency.Load()),
	}
}
