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

package i2c

import (
	"context"
	"errors"
	"runtime"
	"testing"

	st25r "github.com/ZaparooProject/go-st25r"
	"github.com/ZaparooProject/go-st25r/detection"
	testutil "github.com/ZaparooProject/go-st25r/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestDetector serves a chip on /dev/i2c-1 only; opening any other bus
// yields a transport that fails like an unanswered address.
func newTestDetector(t *testing.T, buses ...string) (*detector, *[]string) {
	t.Helper()
	if runtime.GOOS != "linux" {
		t.Skip("I2C detection is Linux only")
	}
	sim := testutil.NewVirtualST25R()
	var opened []string
	d := &detector{
		listBuses: func() ([]string, error) { return buses, nil },
		address:   0x50,
		open: func(path string) (st25r.Transport, error) {
			opened = append(opened, path)
			if path != "/dev/i2c-1:0x50" {
				mock := st25r.NewMockTransport(nil)
				mock.SetError(st25r.ModeReadRegister|st25r.RegICIdentity, st25r.ErrTransportRead)
				return mock, nil
			}
			return st25r.NewMockTransport(sim.Transfer), nil
		},
	}
	return d, &opened
}

func TestDetect_Safe(t *testing.T) {
	t.Parallel()
	d, opened := newTestDetector(t, "/dev/i2c-0", "/dev/i2c-1")
	opts := detection.DefaultOptions()

	devices, err := d.Detect(context.Background(), &opts)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "/dev/i2c-1:0x50", devices[0].Path)
	assert.Equal(t, "i2c", devices[0].Transport)
	assert.Equal(t, detection.High, devices[0].Confidence)
	assert.Equal(t, "/dev/i2c-1", devices[0].Metadata["bus"])
	assert.Equal(t, "0x2A", devices[0].Metadata["identity"])
	assert.Equal(t, []string{"/dev/i2c-0:0x50", "/dev/i2c-1:0x50"}, *opened)
}

func TestDetect_Passive(t *testing.T) {
	t.Parallel()
	d, opened := newTestDetector(t, "/dev/i2c-0", "/dev/i2c-1")
	opts := detection.DefaultOptions()
	opts.Mode = detection.Passive

	devices, err := d.Detect(context.Background(), &opts)
	require.NoError(t, err)
	assert.Len(t, devices, 2)
	for _, device := range devices {
		assert.Equal(t, detection.Low, device.Confidence)
	}
	assert.Empty(t, *opened)
}

func TestDetect_IgnorePaths(t *testing.T) {
	t.Parallel()
	d, opened := newTestDetector(t, "/dev/i2c-0", "/dev/i2c-1")
	opts := detection.DefaultOptions()
	opts.IgnorePaths = []string{"/dev/i2c-1"}

	_, err := d.Detect(context.Background(), &opts)
	require.ErrorIs(t, err, detection.ErrNoDevicesFound)
	assert.Equal(t, []string{"/dev/i2c-0:0x50"}, *opened)
}

func TestDetect_NoBuses(t *testing.T) {
	t.Parallel()
	d, _ := newTestDetector(t)
	opts := detection.DefaultOptions()

	_, err := d.Detect(context.Background(), &opts)
	require.ErrorIs(t, err, detection.ErrNoDevicesFound)
}

func TestDetect_ListError(t *testing.T) {
	t.Parallel()
	d, _ := newTestDetector(t)
	d.listBuses = func() ([]string, error) { return nil, errors.New("bad pattern") }
	opts := detection.DefaultOptions()

	_, err := d.Detect(context.Background(), &opts)
	require.Error(t, err)
	assert.NotErrorIs(t, err, detection.ErrNoDevicesFound)
}

func TestDetect_Cancelled(t *testing.T) {
	t.Parallel()
	d, _ := newTestDetector(t, "/dev/i2c-1")
	opts := detection.DefaultOptions()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Detect(ctx, &opts)
	require.ErrorIs(t, err, detection.ErrDetectionTimeout)
}

func TestTransport(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "i2c", New().Transport())
}
