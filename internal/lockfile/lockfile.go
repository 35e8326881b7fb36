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

// Package lockfile gives one process at a time ownership of a reader bus.
package lockfile

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// ErrLocked is returned when another process holds the lock.
var ErrLocked = errors.New("lockfile: device in use by another process")

// DefaultDir is where daemon locks live.
var DefaultDir = os.TempDir()

// PathFor returns the lock file path guarding device, e.g.
// "/dev/i2c-1:0x50" maps to "<dir>/st25r-dev-i2c-1-0x50.lock".
func PathFor(dir, device string) string {
	name := strings.Trim(strings.Map(func(r rune) rune {
		switch r {
		case '/', ':', '\\', ' ':
			return '-'
		}
		return r
	}, device), "-")
	return filepath.Join(dir, "st25r-"+name+".lock")
}

// Lock is a held lock. The zero value is not usable.
type Lock struct {
	file *os.File
	path string
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}
