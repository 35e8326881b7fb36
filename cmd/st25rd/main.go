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

// Command st25rd owns an ST25R3916/7 reader. In serve mode it bridges the
// reader to one remote client at a time; in scan mode it discovers tags
// itself and publishes them to MQTT.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ZaparooProject/go-st25r"
	"github.com/ZaparooProject/go-st25r/bridge"
	_ "github.com/ZaparooProject/go-st25r/detection/i2c"
	_ "github.com/ZaparooProject/go-st25r/detection/spi"
	"github.com/ZaparooProject/go-st25r/events/mqtt"
	"github.com/ZaparooProject/go-st25r/irq"
)

const (
	defaultConfigPath = "/etc/st25rd.yaml"
	connectTimeout    = 10 * time.Second
)

var (
	flagConfig string
	flagDevice string
	flagMode   string
	flagListen string
	flagDebug  bool
)

func init() {
	flag.StringVar(&flagConfig, "config", defaultConfigPath, "Config file")
	flag.StringVar(&flagDevice, "device", "", "Reader bus, e.g. /dev/i2c-1 or /dev/spidev0.0 (auto-detect if empty)")
	flag.StringVar(&flagMode, "mode", "", "serve or scan (overrides config)")
	flag.StringVar(&flagListen, "listen", "", "Bridge endpoint: unix:PATH, tcp:ADDR or serial:TTY (overrides config)")
	flag.BoolVar(&flagDebug, "debug", false, "Enable debug output")
}

// applyFlags overrides cfg with the flags that were set.
func applyFlags(cfg *Config) error {
	if flagDevice != "" {
		cfg.Reader.Device = flagDevice
	}
	if flagMode != "" {
		cfg.Mode = flagMode
	}
	if flagListen != "" {
		cfg.Serve.Listen = flagListen
	}
	if flagDebug {
		cfg.Debug = true
	}
	return cfg.validate()
}

func openIRQ(cfg irq.Config) (st25r.InterruptLine, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	line, err := irq.Open(cfg)
	if errors.Is(err, irq.ErrUnsupported) {
		_, _ = fmt.Fprintf(os.Stderr, "IRQ %s unavailable, polling interrupts instead\n", cfg)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open IRQ %s: %w", cfg, err)
	}
	return line, nil
}

func connect(ctx context.Context, cfg *Config, factory *lockingFactory) (*st25r.Device, error) {
	opts := []st25r.ConnectOption{st25r.WithConnectTimeout(connectTimeout)}
	if cfg.Reader.Device == "" {
		opts = append(opts,
			st25r.WithAutoDetection(),
			st25r.WithTransportFromDeviceFactory(factory.transportForDevice))
		st25r.Debugln("Auto-detecting ST25R devices...")
	} else {
		opts = append(opts, st25r.WithTransportFactory(factory.transportFor))
		st25r.Debugf("Opening device: %s", cfg.Reader.Device)
	}

	line, err := openIRQ(cfg.Reader.IRQ)
	if err != nil {
		return nil, err
	}
	if line != nil {
		opts = append(opts, st25r.WithDeviceOptions(st25r.WithIRQ(line)))
	}

	device, err := st25r.ConnectDevice(ctx, cfg.Reader.Device, opts...)
	if err != nil {
		if line != nil {
			_ = line.Close()
		}
		return nil, fmt.Errorf("failed to connect to ST25R device: %w", err)
	}
	return device, nil
}

func runServe(ctx context.Context, device *st25r.Device, cfg *Config) error {
	ep, err := bridge.ParseEndpoint(cfg.Serve.Listen)
	if err != nil {
		return err
	}
	srv := bridge.New(device)

	if ep.Network == bridge.NetworkSerial {
		conn, err := bridge.OpenSerial(ep.Address, cfg.Serve.Baud)
		if err != nil {
			return err
		}
		_, _ = fmt.Printf("Serving reader on %s\n", ep)
		return srv.ServeSerial(ctx, conn)
	}

	ln, err := bridge.ListenEndpoint(ep)
	if err != nil {
		return err
	}
	_, _ = fmt.Printf("Serving reader on %s\n", ep)
	err = srv.ServeListener(ctx, ln)
	stats := srv.Stats()
	st25r.Debugf("bridge: served %d clients, refused %d", stats.Served, stats.Refused)
	return err
}

func runScan(ctx context.Context, device *st25r.Device, cfg *Config, out io.Writer) error {
	publisher, err := mqtt.New(cfg.MQTT, cfg.readerName(cfg.Reader.Device))
	if err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	if err := publisher.Connect(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	defer publisher.Close()

	session, err := device.Open(ctx)
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	defer func() { _ = session.Close() }()

	s, err := newScanner(session, cfg, publisher, out)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(out, "Discovering tags. Press Ctrl+C to stop...")
	err = s.Run(ctx)

	if publisher.Enabled() {
		sent, failed := publisher.Published()
		st25r.Debugf("mqtt: published %d events to %s, %d failed", sent, publisher.Topic(), failed)
	}
	return err
}

func run(ctx context.Context, cfg *Config) error {
	factory := &lockingFactory{lockDir: cfg.Reader.LockDir}
	defer func() { _ = factory.Release() }()

	device, err := connect(ctx, cfg, factory)
	if err != nil {
		return err
	}
	defer func() {
		if err := device.Close(); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Failed to close device: %v\n", err)
		}
	}()
	if cfg.Reader.Device == "" {
		cfg.Reader.Device = factory.path
	}

	switch cfg.Mode {
	case modeScan:
		return runScan(ctx, device, cfg, os.Stdout)
	default:
		return runServe(ctx, device, cfg)
	}
}

func main() {
	flag.Parse()
	os.Exit(mainWithExitCode())
}

func mainWithExitCode() int {
	explicit := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "config" {
			explicit = true
		}
	})
	cfg, err := loadConfig(flagConfig, explicit)
	if err == nil {
		err = applyFlags(cfg)
	}
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}
	if cfg.Debug {
		st25r.SetDebugEnabled(true)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		if errors.Is(err, context.Canceled) {
			return 0
		}
		reportError(os.Stderr, err, cfg.Debug)
		return 1
	}
	return 0
}

// reportError prints err, followed by the bus trace that led to it when
// debug output is on.
func reportError(w io.Writer, err error, debug bool) {
	_, _ = fmt.Fprintf(w, "Error: %v\n", err)
	if !debug {
		return
	}
	if te := st25r.GetTrace(err); te != nil {
		_, _ = fmt.Fprintln(w, te.FormatTrace())
	}
}
