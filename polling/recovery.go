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

package polling

import (
	"context"
	"errors"
	"time"

	"github.com/ZaparooProject/go-st25r/internal/syncutil"
)

// ErrNoRecovery is returned when a recoverer has nothing to try.
var ErrNoRecovery = errors.New("no recovery step configured")

// Recoverer brings the reader back after a host sleep or a run of errors.
type Recoverer interface {
	// AttemptRecovery returns nil once the reader is usable again.
	AttemptRecovery(ctx context.Context) error
}

// RecoverFunc is one recovery step.
type RecoverFunc func(ctx context.Context) error

// DefaultRecoverer implements a tiered recovery strategy:
// 1. Soft reset, usually restarting the chip over the existing bus
// 2. Full reconnection via user-provided reopen function
type DefaultRecoverer struct {
	reset       RecoverFunc
	reopen      RecoverFunc
	backoff     time.Duration
	maxAttempts int
	mu          syncutil.Mutex
}

// NewDefaultRecoverer creates a recoverer with tiered recovery strategy.
// Either step may be nil.
func NewDefaultRecoverer(reset, reopen RecoverFunc, backoff time.Duration, maxAttempts int) *DefaultRecoverer {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	return &DefaultRecoverer{
		reset:       reset,
		reopen:      reopen,
		backoff:     backoff,
		maxAttempts: maxAttempts,
	}
}

// AttemptRecovery tries the soft reset, then the reopen step, up to
// maxAttempts times with backoff in between.
func (r *DefaultRecoverer) AttemptRecovery(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.reset == nil && r.reopen == nil {
		return ErrNoRecovery
	}

	var lastErr error
	for attempt := range r.maxAttempts {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.backoff):
			}
		}

		if r.reset != nil {
			err := r.reset(ctx)
			if err == nil {
				return nil
			}
			lastErr = err
		}

		if r.reopen != nil {
			err := r.reopen(ctx)
			if err == nil {
				return nil
			}
			lastErr = err
		}
	}
	return lastErr
}
