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

package irq

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		str     string
		cfg     Config
		enabled bool
	}{
		{name: "zero", cfg: Config{}, str: "gpiochip0:0"},
		{name: "default chip", cfg: Config{Line: 25}, str: "gpiochip0:25", enabled: true},
		{name: "named chip", cfg: Config{Chip: "gpiochip4", Line: 7}, str: "gpiochip4:7", enabled: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.enabled, tt.cfg.Enabled())
			assert.Equal(t, tt.str, tt.cfg.String())
		})
	}
}

func TestLine_EdgesCoalesce(t *testing.T) {
	t.Parallel()
	l := newLine()

	l.assert()
	l.assert()
	l.assert()
	assert.Equal(t, uint64(3), l.Edges())

	select {
	case <-l.Events():
	default:
		t.Fatal("expected a pending wakeup")
	}
	select {
	case <-l.Events():
		t.Fatal("edges should coalesce into one wakeup")
	default:
	}
}

func TestLine_Close(t *testing.T) {
	t.Parallel()
	closes := 0
	l := newLine()
	l.closer = func() error {
		closes++
		return nil
	}

	require.NoError(t, l.Close())
	require.NoError(t, l.Close())
	assert.Equal(t, 1, closes)
}

func TestLine_CloseError(t *testing.T) {
	t.Parallel()
	l := newLine()
	l.closer = func() error { return errors.New("busy") }

	err := l.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "busy")
}
