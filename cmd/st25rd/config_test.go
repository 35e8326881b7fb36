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

package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZaparooProject/go-st25r/protocol"
)

const sampleConfig = `
mode: scan
debug: true
reader:
  device: /dev/i2c-1:0x50
  name: front-door
  irq:
    chip: gpiochip1
    line: 17
scan:
  protocols: [ST25TB, MIFARE-Classic]
  removal_timeout: 750ms
mqtt:
  host: broker.local
  port: 8883
  topic: home/nfc
  ca_cert: /etc/ssl/ca.pem
`

func TestDecodeConfig(t *testing.T) {
	t.Parallel()
	cfg := defaultConfig()
	require.NoError(t, decodeConfig(strings.NewReader(sampleConfig), cfg))

	assert.Equal(t, modeScan, cfg.Mode)
	assert.True(t, cfg.Debug)
	assert.Equal(t, "/dev/i2c-1:0x50", cfg.Reader.Device)
	assert.Equal(t, "front-door", cfg.readerName(cfg.Reader.Device))
	assert.Equal(t, "gpiochip1", cfg.Reader.IRQ.Chip)
	assert.Equal(t, 17, cfg.Reader.IRQ.Line)
	assert.Equal(t, 750*time.Millisecond, cfg.Scan.RemovalTimeout)
	assert.Equal(t, "broker.local", cfg.MQTT.Host)
	assert.Equal(t, 8883, cfg.MQTT.Port)
	assert.Equal(t, "/etc/ssl/ca.pem", cfg.MQTT.CACert)

	// untouched sections keep their defaults
	assert.Equal(t, defaultListen, cfg.Serve.Listen)

	mask, err := cfg.protocols()
	require.NoError(t, err)
	assert.Equal(t, protocol.ProtocolST25TB|protocol.ProtocolMifareClassic, mask)
}

func TestDecodeConfigEmpty(t *testing.T) {
	t.Parallel()
	cfg := defaultConfig()
	require.NoError(t, decodeConfig(strings.NewReader(""), cfg))
	assert.Equal(t, modeServe, cfg.Mode)
	assert.Equal(t, "/dev/i2c-1", cfg.readerName("/dev/i2c-1"))
}

func TestDecodeConfigInvalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
	}{
		{name: "unknown mode", yaml: "mode: poll\n"},
		{name: "bad listen", yaml: "serve:\n  listen: udp:1.2.3.4:5\n"},
		{name: "unknown protocol", yaml: "mode: scan\nscan:\n  protocols: [felica]\n"},
		{name: "no protocols", yaml: "mode: scan\nscan:\n  protocols: []\n"},
		{name: "zero removal timeout", yaml: "mode: scan\nscan:\n  removal_timeout: 0s\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := decodeConfig(strings.NewReader(tt.yaml), defaultConfig())
			require.ErrorIs(t, err, errConfig)
		})
	}
}

func TestDecodeConfigSyntaxError(t *testing.T) {
	t.Parallel()
	err := decodeConfig(strings.NewReader("mode: [serve\n"), defaultConfig())
	require.Error(t, err)
	assert.NotErrorIs(t, err, errConfig)
}

func TestLoadConfig(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	missing := filepath.Join(dir, "missing.yaml")

	cfg, err := loadConfig(missing, false)
	require.NoError(t, err)
	assert.Equal(t, modeServe, cfg.Mode)

	_, err = loadConfig(missing, true)
	require.ErrorIs(t, err, os.ErrNotExist)

	path := filepath.Join(dir, "st25rd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("serve:\n  listen: tcp::7070\n"), 0o600))
	cfg, err = loadConfig(path, true)
	require.NoError(t, err)
	assert.Equal(t, "tcp::7070", cfg.Serve.Listen)
}
