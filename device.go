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
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ZaparooProject/go-st25r/detection"
	"github.com/ZaparooProject/go-st25r/protocol"
)

const protocolVersion = protocol.Version

// DeviceConfig contains configuration options for the Device
type DeviceConfig struct {
	// RetryConfig configures retry behavior of the chip startup check
	RetryConfig *RetryConfig
	// Session configures sessions returned by Open
	Session *SessionConfig
	// Clock drives interrupt polling deadlines
	Clock Clock
	// IRQ is the optional chip interrupt line
	IRQ InterruptLine
}

// DefaultDeviceConfig returns default device configuration
func DefaultDeviceConfig() *DeviceConfig {
	return &DeviceConfig{
		RetryConfig: StartupRetryConfig(),
		Session:     DefaultSessionConfig(),
		Clock:       SystemClock{},
	}
}

// Option configures a Device
type Option func(*Device) error

// WithSessionConfig sets the configuration of sessions returned by Open
func WithSessionConfig(config *SessionConfig) Option {
	return func(d *Device) error {
		d.config.Session = config
		return nil
	}
}

// WithStartupRetry sets the retry behavior of Init
func WithStartupRetry(config *RetryConfig) Option {
	return func(d *Device) error {
		d.config.RetryConfig = config
		return nil
	}
}

// WithDeviceClock sets the clock used for interrupt waits
func WithDeviceClock(clock Clock) Option {
	return func(d *Device) error {
		if clock == nil {
			return fmt.Errorf("%w: nil clock", ErrInvalidParameter)
		}
		d.config.Clock = clock
		return nil
	}
}

// WithIRQ attaches the chip interrupt line
func WithIRQ(line InterruptLine) Option {
	return func(d *Device) error {
		d.config.IRQ = line
		return nil
	}
}

// Device represents an ST25R3916/7 reader.
//
// Thread Safety: Init and Close must not run concurrently with anything
// else. While a Session is open, the session owns the chip; use the
// session, not the Chip, for tag operations.
type Device struct {
	transport Transport
	chip      *Chip
	config    *DeviceConfig
	inited    atomic.Bool
	open      atomic.Bool
}

// New creates a new device on the given transport. The chip is not touched
// until Init.
func New(transport Transport, opts ...Option) (*Device, error) {
	device := &Device{
		transport: transport,
		config:    DefaultDeviceConfig(),
	}

	for _, opt := range opts {
		if err := opt(device); err != nil {
			return nil, err
		}
	}

	chipOpts := []ChipOption{WithClock(device.config.Clock)}
	if device.config.IRQ != nil {
		chipOpts = append(chipOpts, WithInterruptLine(device.config.IRQ))
	}
	device.chip = NewChip(transport, chipOpts...)
	return device, nil
}

// Init resets and identifies the chip, retrying per the device RetryConfig.
func (d *Device) Init(ctx context.Context) error {
	err := RetryWithConfig(ctx, d.config.RetryConfig, d.chip.Startup)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	d.inited.Store(true)
	Debugln("ST25R3916 identified")
	return nil
}

// Open starts the single session of this device. It returns ErrDeviceBusy
// while another session is open.
func (d *Device) Open(_ context.Context) (*Session, error) {
	if !d.inited.Load() {
		return nil, ErrDeviceNotInited
	}
	if !d.open.CompareAndSwap(false, true) {
		return nil, ErrDeviceBusy
	}
	return newSession(d.chip, d.config.Session, func() { d.open.Store(false) }), nil
}

// ProtocolVersion returns the version of the client protocol spoken by
// sessions of this device.
func (*Device) ProtocolVersion() uint64 {
	return protocolVersion
}

// Chip returns the chip driver. Do not use it while a session is open.
func (d *Device) Chip() *Chip {
	return d.chip
}

// Transport returns the underlying transport
func (d *Device) Transport() Transport {
	return d.transport
}

// SetRetryConfig updates the retry configuration
func (d *Device) SetRetryConfig(config *RetryConfig) {
	d.config.RetryConfig = config
	if tr, ok := d.transport.(*TransportWithRetry); ok {
		tr.SetRetryConfig(config)
	}
}

// Close closes the device connection and the IRQ line, if any
func (d *Device) Close() error {
	var errs []error
	if d.config.IRQ != nil {
		if err := d.config.IRQ.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close IRQ line: %w", err))
		}
	}
	if d.transport != nil {
		if err := d.transport.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close transport: %w", err))
		}
	}
	return errors.Join(errs...)
}

// TransportFactory is a function type for creating transports
type TransportFactory func(path string) (Transport, error)

// TransportFromDeviceFactory is a function type for creating transports from detected devices
type TransportFromDeviceFactory func(device detection.DeviceInfo) (Transport, error)

// ConnectOption represents a functional option for ConnectDevice
type ConnectOption func(*connectConfig) error

// connectConfig holds configuration options for device connection
type connectConfig struct {
	transportFactory       TransportFactory
	transportDeviceFactory TransportFromDeviceFactory
	deviceDetector         func(context.Context, *detection.Options) ([]detection.DeviceInfo, error)
	deviceOptions          []Option
	timeout                time.Duration
	autoDetect             bool
	connectionRetries      int
}

// WithAutoDetection enables automatic device detection instead of using a specific path
func WithAutoDetection() ConnectOption {
	return func(c *connectConfig) error {
		c.autoDetect = true
		return nil
	}
}

// WithDeviceOptions adds device-level options
func WithDeviceOptions(opts ...Option) ConnectOption {
	return func(c *connectConfig) error {
		c.deviceOptions = append(c.deviceOptions, opts...)
		return nil
	}
}

// WithConnectTimeout bounds detection and initialisation
func WithConnectTimeout(timeout time.Duration) ConnectOption {
	return func(c *connectConfig) error {
		c.timeout = timeout
		return nil
	}
}

// WithTransportFactory sets the transport factory function
func WithTransportFactory(factory TransportFactory) ConnectOption {
	return func(c *connectConfig) error {
		c.transportFactory = factory
		return nil
	}
}

// WithTransportFromDeviceFactory sets the transport from device factory function
func WithTransportFromDeviceFactory(factory TransportFromDeviceFactory) ConnectOption {
	return func(c *connectConfig) error {
		c.transportDeviceFactory = factory
		return nil
	}
}

// WithConnectionRetries sets the number of connection retry attempts
func WithConnectionRetries(maxAttempts int) ConnectOption {
	return func(c *connectConfig) error {
		if maxAttempts < 1 {
			return fmt.Errorf("connection retries must be at least 1, got %d", maxAttempts)
		}
		c.connectionRetries = maxAttempts
		return nil
	}
}

// WithDeviceDetector sets a custom device detector function for auto-detection
func WithDeviceDetector(
	detector func(context.Context, *detection.Options) ([]detection.DeviceInfo, error),
) ConnectOption {
	return func(c *connectConfig) error {
		c.deviceDetector = detector
		return nil
	}
}

func applyConnectOptions(opts []ConnectOption) (*connectConfig, error) {
	config := &connectConfig{
		timeout:           30 * time.Second,
		connectionRetries: 3,
	}

	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, fmt.Errorf("failed to apply connect option: %w", err)
		}
	}

	return config, nil
}

func createTransport(ctx context.Context, path string, config *connectConfig) (Transport, error) {
	if config.autoDetect || path == "" {
		return createAutoDetectedTransport(ctx, config.transportDeviceFactory, config.deviceDetector)
	}
	return createManualTransport(path, config.transportFactory)
}

// setupDevice creates and initialises the device. Auto-detected devices get
// a single startup attempt; manual paths use the connection retry count.
func setupDevice(ctx context.Context, transport Transport, config *connectConfig) (*Device, error) {
	retry := StartupRetryConfig()
	retry.MaxAttempts = config.connectionRetries
	if config.autoDetect {
		retry.MaxAttempts = 1
	}
	opts := append([]Option{WithStartupRetry(retry)}, config.deviceOptions...)
	device, err := New(transport, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create device: %w", err)
	}
	if err := device.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize device: %w", err)
	}
	return device, nil
}

// ConnectDevice creates and initializes a device from a path or auto-detection.
//
// Example usage:
//
//	// Connect to a specific bus
//	device, err := st25r.ConnectDevice(ctx, "/dev/i2c-1", st25r.WithTransportFactory(i2c.Factory))
//
//	// Auto-detect
//	device, err := st25r.ConnectDevice(ctx, "", st25r.WithAutoDetection(),
//		st25r.WithTransportFromDeviceFactory(factory))
func ConnectDevice(ctx context.Context, path string, opts ...ConnectOption) (*Device, error) {
	config, err := applyConnectOptions(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to apply connect options: %w", err)
	}
	if config.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.timeout)
		defer cancel()
	}

	transport, err := createTransport(ctx, path, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}

	device, err := setupDevice(ctx, transport, config)
	if err != nil {
		_ = transport.Close()
		return nil, err
	}

	return device, nil
}

// createManualTransport handles creation of transport for a specific path
func createManualTransport(path string, factory TransportFactory) (Transport, error) {
	if factory == nil {
		return nil, errors.New("transport factory not provided")
	}

	transport, err := factory(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport for path %s: %w", path, err)
	}

	return transport, nil
}

// createAutoDetectedTransport handles auto-detection of devices
func createAutoDetectedTransport(
	ctx context.Context,
	factory TransportFromDeviceFactory,
	detector func(context.Context, *detection.Options) ([]detection.DeviceInfo, error),
) (Transport, error) {
	opts := detection.DefaultOptions()
	opts.Mode = detection.Safe

	if detector == nil {
		detector = detection.DetectAll
	}
	devices, err := detector(ctx, &opts)
	if err != nil {
		return nil, fmt.Errorf("failed to detect devices: %w", err)
	}
	if len(devices) == 0 {
		return nil, ErrDeviceNotFound
	}

	device := devices[0]
	if factory == nil {
		return nil, errors.New("transport device factory not provided")
	}
	return factory(device)
}
