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
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/ZaparooProject/go-st25r/internal/syncutil"
)

// Session log state. Guarded by sessionMu because the poll worker writes
// while the owning program may close the log.
var (
	sessionMu      syncutil.Mutex
	sessionLogFile *os.File
	sessionLogPath string
)

// InitSessionLog creates a new session log file in dir (the current directory
// when dir is empty). Returns the log file path for display to the user.
func InitSessionLog(dir string) (string, error) {
	filename := fmt.Sprintf("st25r_%s.log", time.Now().Format("20060102_150405"))
	if dir != "" {
		filename = filepath.Join(dir, filename)
	}

	logFile, err := os.Create(filename) //nolint:gosec // filename is constructed internally
	if err != nil {
		return "", fmt.Errorf("failed to create session log: %w", err)
	}

	sessionMu.Lock()
	defer sessionMu.Unlock()
	if sessionLogFile != nil {
		_ = sessionLogFile.Close()
	}
	sessionLogFile = logFile
	sessionLogPath = filename
	writeSessionHeader(logFile)

	return filename, nil
}

// CloseSessionLog closes the current session log file.
func CloseSessionLog() error {
	sessionMu.Lock()
	defer sessionMu.Unlock()
	if sessionLogFile == nil {
		return nil
	}

	_, _ = fmt.Fprintf(sessionLogFile, "\n%s === Session ended ===\n", timestamp())
	err := sessionLogFile.Close()
	sessionLogFile = nil
	sessionLogPath = ""
	if err != nil {
		return fmt.Errorf("failed to close session log: %w", err)
	}
	return nil
}

// GetSessionLogPath returns the current session log file path.
func GetSessionLogPath() string {
	sessionMu.Lock()
	defer sessionMu.Unlock()
	return sessionLogPath
}

func writeSessionLine(level, message string) {
	sessionMu.Lock()
	defer sessionMu.Unlock()
	if sessionLogFile == nil {
		return
	}
	_, _ = fmt.Fprintf(sessionLogFile, "%s %s: %s\n", timestamp(), level, message)
}

func writeSessionHeader(writer io.Writer) {
	_, _ = fmt.Fprint(writer, "=== ST25R Debug Session Log ===\n")
	_, _ = fmt.Fprintf(writer, "Started: %s\n", time.Now().Format(time.RFC3339))
	_, _ = fmt.Fprintf(writer, "PID: %d\n", os.Getpid())
	_, _ = fmt.Fprintf(writer, "OS: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	_, _ = fmt.Fprintf(writer, "Go Version: %s\n", runtime.Version())
	_, _ = fmt.Fprintf(writer, "Protocol Version: 0x%016X\n", protocolVersion)
	if exe, err := os.Executable(); err == nil {
		_, _ = fmt.Fprintf(writer, "Executable: %s\n", exe)
	}
	_, _ = fmt.Fprintf(writer, "Command Line: %s\n", strings.Join(os.Args, " "))
	_, _ = fmt.Fprint(writer, "================================\n\n")
}
