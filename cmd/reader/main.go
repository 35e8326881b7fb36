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

// Command reader is a client for an st25rd bridge. It prints discovered
// tags and can dump ST25TB blocks or the NDEF message of a Type 2 tag.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ZaparooProject/go-st25r"
	"github.com/ZaparooProject/go-st25r/bridge"
	"github.com/ZaparooProject/go-st25r/client"
	"github.com/ZaparooProject/go-st25r/protocol"
)

// ST25TB user area dumped by -dump
const (
	firstUserBlock = 7
	lastUserBlock  = 15
)

type config struct {
	writeText string
	connect   string
	protocols string
	reportDir string
	baud      int
	count     int
	dump      bool
	ndef      bool
	stress    bool
	debug     bool
}

// Package-level flag variables
var (
	flagWriteText string
	flagConnect   string
	flagProtocols string
	flagReportDir string
	flagBaud      int
	flagCount     int
	flagDump      bool
	flagNDEF      bool
	flagStress    bool
	flagDebug     bool
)

func init() {
	flag.StringVar(&flagWriteText, "write", "", "Text to write to the next Type 2 tag (exits after write)")
	flag.StringVar(&flagConnect, "connect", "unix:/run/st25r.sock",
		"Bridge endpoint: unix:PATH, tcp:HOST:PORT or serial:TTY")
	flag.StringVar(&flagProtocols, "protocols", "all", "Comma separated tag types to discover")
	flag.StringVar(&flagReportDir, "report-dir", ".", "Directory for stress test crash reports")
	flag.IntVar(&flagBaud, "baud", bridge.DefaultBaudRate, "Baud rate for serial endpoints")
	flag.IntVar(&flagCount, "count", 0, "Stop after this many detections (0 = until Ctrl+C, max 255)")
	flag.BoolVar(&flagDump, "dump", false, "Select an ST25TB tag and dump its system and user blocks")
	flag.BoolVar(&flagNDEF, "ndef", false, "Select a Type 2 tag and print its NDEF message")
	flag.BoolVar(&flagStress, "stress", false, "Write/verify soak test of ST25TB user blocks")
	flag.BoolVar(&flagDebug, "debug", false, "Enable debug output")
}

func parseConfig() *config {
	cfg := &config{
		writeText: flagWriteText,
		connect:   flagConnect,
		protocols: flagProtocols,
		reportDir: flagReportDir,
		baud:      flagBaud,
		count:     flagCount,
		dump:      flagDump,
		ndef:      flagNDEF,
		stress:    flagStress,
		debug:     flagDebug,
	}

	if cfg.debug {
		st25r.SetDebugEnabled(true)
	}

	return cfg
}

func (cfg *config) protocolMask() (uint64, error) {
	mask, err := protocol.ParseProtocols(strings.Split(cfg.protocols, ","))
	if err != nil {
		return 0, err
	}
	if mask == 0 {
		return 0, errors.New("no protocols selected")
	}
	return mask, nil
}

// connectToBridge dials the bridge and checks its protocol version. The
// connection is closed when ctx is done so blocked reads return.
func connectToBridge(ctx context.Context, cfg *config) (*client.Client, io.Closer, error) {
	ep, err := bridge.ParseEndpoint(cfg.connect)
	if err != nil {
		return nil, nil, err
	}
	conn, preamble, err := bridge.Dial(ctx, ep, cfg.baud)
	if err != nil {
		return nil, nil, err
	}
	context.AfterFunc(ctx, func() { _ = conn.Close() })

	if !preamble {
		return client.New(conn), conn, nil
	}
	c, err := client.Connect(ctx, conn)
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("failed to connect to %s: %w", ep, err)
	}
	return c, conn, nil
}

func runDiscoverMode(ctx context.Context, c *client.Client, cfg *config, out io.Writer) error {
	if cfg.count < 0 || cfg.count > 255 {
		return fmt.Errorf("count %d out of range 0..255", cfg.count)
	}
	mask, err := cfg.protocolMask()
	if err != nil {
		return err
	}
	err = c.Discover(ctx, protocol.DiscoverRequest{
		Protocols:   mask,
		DeviceCount: uint8(cfg.count),
	})
	if err != nil {
		return fmt.Errorf("discover: %w", err)
	}
	_, _ = fmt.Fprintln(out, "Discovering tags (exit with control-C)")
	_, _ = fmt.Fprintln(out)

	// The reader reports a tag on every poll cycle it stays in the field.
	var last protocol.TagID
	for {
		msg, err := c.Next(ctx)
		if err != nil {
			return err
		}
		switch m := msg.(type) {
		case protocol.DetectedTag:
			if cfg.count == 0 && m.Info.ID().Equal(last) {
				continue
			}
			last = m.Info.ID()
			if err := client.WriteTagInfo(out, m.Info); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(out)
		case protocol.IdleAck:
			return nil
		default:
			_, _ = fmt.Fprintf(out, "Unexpected message (type=%s)\n", msg.Type())
		}
	}
}

func runDumpMode(ctx context.Context, c *client.Client, out io.Writer) error {
	_, _ = fmt.Fprintln(out, "Waiting for an ST25TB tag...")
	info, err := c.DiscoverSelect(ctx, protocol.ProtocolST25TB)
	if err != nil {
		return fmt.Errorf("select: %w", err)
	}
	st, ok := info.(*protocol.ST25TB)
	if !ok {
		return fmt.Errorf("selected %s, not an ST25TB", info.Type())
	}
	d := client.DescribeST25TBUID(st.UID)
	_, _ = fmt.Fprintf(out, "UID: %s\n", d.UID)
	if !d.ValidPrefix {
		_, _ = fmt.Fprintf(out, "Unexpected MSB, got %d\n", st.UID[len(st.UID)-1])
	}
	if d.ManufCode != 0x02 {
		_, _ = fmt.Fprintln(out, "Not a STMicroelectronics chip, will read block 255 anyway")
	}

	system, err := c.ReadSystemBlock(ctx)
	if err != nil {
		return fmt.Errorf("read system block: %w", err)
	}
	_, _ = fmt.Fprintf(out, "System block (255): %s\n", blockString(system))

	for block := byte(firstUserBlock); block <= lastUserBlock; block++ {
		v, err := c.ReadBlock(ctx, block)
		if err != nil {
			return fmt.Errorf("read block %d: %w", block, err)
		}
		_, _ = fmt.Fprintf(out, "User data block %d: %s\n", block, blockString(v))
	}
	return c.Idle(ctx)
}

func runNDEFMode(ctx context.Context, c *client.Client, out io.Writer) error {
	_, _ = fmt.Fprintln(out, "Waiting for a Type 2 tag...")
	info, err := c.DiscoverSelect(ctx, protocol.ProtocolISO14443AT2T)
	if err != nil {
		return fmt.Errorf("select: %w", err)
	}
	_, _ = fmt.Fprintf(out, "Tag: %s\n", info.ID())

	msg, err := c.ReadNDEF(ctx)
	if err != nil {
		return fmt.Errorf("read NDEF: %w", err)
	}
	for i, rec := range msg.Records {
		if rec.Text != "" {
			_, _ = fmt.Fprintf(out, "Record %d (%s): %s\n", i, rec.Type, rec.Text)
			continue
		}
		_, _ = fmt.Fprintf(out, "Record %d (%s): % X\n", i, rec.Type, rec.Payload)
	}
	return c.Idle(ctx)
}

func runWriteMode(ctx context.Context, c *client.Client, cfg *config, out io.Writer) error {
	_, _ = fmt.Fprintf(out, "Waiting for tag to write text: %q\n", cfg.writeText)
	info, err := c.DiscoverSelect(ctx, protocol.ProtocolISO14443AT2T)
	if err != nil {
		return fmt.Errorf("select: %w", err)
	}
	_, _ = fmt.Fprintf(out, "Tag detected: %s. Writing text...\n", info.ID())

	if err := c.WriteNDEFText(ctx, cfg.writeText); err != nil {
		return fmt.Errorf("write operation failed: %w", err)
	}
	_, _ = fmt.Fprintf(out, "Successfully wrote text to tag: %q\n", cfg.writeText)
	return c.Idle(ctx)
}

// blockString prints a block value most significant byte first.
func blockString(v uint32) string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x", byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func run(ctx context.Context, cfg *config, out io.Writer) error {
	c, conn, err := connectToBridge(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	model, err := c.Identify(ctx)
	if err != nil {
		return fmt.Errorf("identify: %w", err)
	}
	_, _ = fmt.Fprintf(out, "Chip model: %s\n", model)

	switch {
	case cfg.writeText != "":
		err = runWriteMode(ctx, c, cfg, out)
	case cfg.stress:
		err = runStressTestMode(ctx, c, cfg, out)
	case cfg.dump:
		err = runDumpMode(ctx, c, out)
	case cfg.ndef:
		err = runNDEFMode(ctx, c, out)
	default:
		err = runDiscoverMode(ctx, c, cfg, out)
	}
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func main() {
	flag.Parse()
	os.Exit(mainWithExitCode())
}

func mainWithExitCode() int {
	cfg := parseConfig()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, os.Stdout); err != nil {
		if errors.Is(err, context.Canceled) {
			return 0
		}
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
