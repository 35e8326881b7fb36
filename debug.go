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

package st25r

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ZaparooProject/go-st25r/internal/syncutil"
)

// debugEnabled gates console output. The worker goroutine logs concurrently
// with callers toggling it, hence the atomic.
var debugEnabled atomic.Bool

var (
	consoleMu  syncutil.Mutex
	consoleOut io.Writer = os.Stdout
)

func init() {
	if os.Getenv("ST25R_DEBUG") != "" || os.Getenv("DEBUG") != "" {
		debugEnabled.Store(true)
	}
}

// Debugf prints debug information.
// Always writes to session log file (if initialized) with timestamp.
// Only prints to console when debug mode is enabled.
func Debugf(format string, args ...any) {
	emit(fmt.Sprintf(format, args...))
}

// Debugln prints debug information.
// Always writes to session log file (if initialized) with timestamp.
// Only prints to console when debug mode is enabled.
func Debugln(args ...any) {
	emit(strings.TrimSuffix(fmt.Sprintln(args...), "\n"))
}

func emit(message string) {
	writeSessionLine("DEBUG", message)

	if !debugEnabled.Load() {
		return
	}
	consoleMu.Lock()
	defer consoleMu.Unlock()
	_, _ = fmt.Fprintf(consoleOut, "DEBUG: %s\n", message)
}

// SetDebugEnabled allows programmatic control of debug logging
func SetDebugEnabled(enabled bool) {
	debugEnabled.Store(enabled)
}

// DebugEnabled reports whether console debug output is on.
func DebugEnabled() bool {
	return debugEnabled.Load()
}

// SetDebugOutput redirects console debug output. A nil writer restores stdout.
func SetDebugOutput(w io.Writer) {
	consoleMu.Lock()
	defer consoleMu.Unlock()
	if w == nil {
		w = os.Stdout
	}
	consoleOut = w
}

func timestamp() string {
	return time.Now().Format("15:04:05.000")
}
