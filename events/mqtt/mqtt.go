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

// Package mqtt publishes tag detections to an MQTT broker.
package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/ZaparooProject/go-st25r"
	"github.com/ZaparooProject/go-st25r/client"
	"github.com/ZaparooProject/go-st25r/protocol"
)

const (
	defaultPort        = 1883
	defaultTopic       = "st25r"
	disconnectQuiesce  = 250 // ms
	detectedTopicLevel = "detected"
)

// ErrNoCACerts is returned when the CA file holds no PEM certificates.
var ErrNoCACerts = errors.New("no CA certificates found")

// Config holds MQTT connection settings. An empty Host disables
// publishing.
type Config struct {
	Host       string `yaml:"host"`
	Topic      string `yaml:"topic"`
	ClientID   string `yaml:"client_id"`
	CACert     string `yaml:"ca_cert"`
	ClientCert string `yaml:"client_cert"`
	ClientKey  string `yaml:"client_key"`
	Port       int    `yaml:"port"`
	Retain     bool   `yaml:"retain"`
}

// TagEvent is the JSON payload published for a detected tag.
type TagEvent struct {
	Time    time.Time `json:"time"`
	Reader  string    `json:"reader,omitempty"`
	Type    string    `json:"type"`
	UID     string    `json:"uid"`
	Product string    `json:"product,omitempty"`
}

// NewTagEvent describes info.
func NewTagEvent(reader string, info protocol.TagInfo, now time.Time) TagEvent {
	return TagEvent{
		Time:    now.UTC(),
		Reader:  reader,
		Type:    info.Type().String(),
		UID:     hex.EncodeToString(info.ID().UID),
		Product: client.Product(info),
	}
}

// pahoClient is the part of paho.Client the publisher uses.
type pahoClient interface {
	Connect() paho.Token
	Publish(topic string, qos byte, retained bool, payload any) paho.Token
	Disconnect(quiesce uint)
}

// Publisher sends tag events. A disabled publisher accepts and drops
// every event.
type Publisher struct {
	client    pahoClient
	topic     string
	reader    string
	retain    bool
	published atomic.Uint64
	failed    atomic.Uint64
}

var routeLogs sync.Once

// New creates a publisher for reader, which names the device in events
// and topics. It does not connect.
func New(cfg Config, reader string) (*Publisher, error) {
	p := &Publisher{
		topic:  topicFor(cfg.Topic, reader),
		reader: reader,
		retain: cfg.Retain,
	}
	if cfg.Host == "" {
		st25r.Debugln("MQTT disabled (no host configured)")
		return p, nil
	}

	opts, err := clientOptions(cfg, reader)
	if err != nil {
		return nil, err
	}
	routeLogs.Do(func() {
		paho.ERROR = log.New(debugWriter{}, "[MQTT ERROR] ", 0)
		paho.CRITICAL = log.New(os.Stderr, "[MQTT CRIT] ", 0)
		paho.WARN = log.New(debugWriter{}, "[MQTT WARN] ", 0)
	})
	p.client = paho.NewClient(opts)
	return p, nil
}

func clientOptions(cfg Config, reader string) (*paho.ClientOptions, error) {
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "st25r-" + reader
	}

	scheme, port := "tcp", cfg.Port
	var tlsConfig *tls.Config
	if cfg.CACert != "" || cfg.ClientCert != "" {
		var err error
		if tlsConfig, err = buildTLSConfig(cfg); err != nil {
			return nil, fmt.Errorf("build TLS config: %w", err)
		}
		scheme = "ssl"
	}
	if port == 0 {
		port = defaultPort
	}

	opts := paho.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, port)).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetKeepAlive(60 * time.Second).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			st25r.Debugf("MQTT connection lost: %v", err)
		}).
		SetOnConnectHandler(func(paho.Client) {
			st25r.Debugln("MQTT connection established")
		})
	if tlsConfig != nil {
		opts.SetTLSConfig(tlsConfig)
	}
	return opts, nil
}

func buildTLSConfig(cfg Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if cfg.CACert != "" {
		caCert, err := os.ReadFile(cfg.CACert)
		if err != nil {
			return nil, fmt.Errorf("read CA cert: %w", err)
		}
		caPool := x509.NewCertPool()
		if !caPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("%w in %s", ErrNoCACerts, cfg.CACert)
		}
		tlsConfig.RootCAs = caPool
	}

	if cfg.ClientCert != "" && cfg.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCert, cfg.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("load client cert: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}

// topicFor joins the base topic and reader name, dropping path
// separators from the name.
func topicFor(base, reader string) string {
	if base == "" {
		base = defaultTopic
	}
	base = strings.TrimSuffix(base, "/")
	name := strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(strings.TrimPrefix(reader, "/"))
	if name == "" {
		return base
	}
	return base + "/" + name
}

// Enabled reports whether events are sent to a broker.
func (p *Publisher) Enabled() bool {
	return p.client != nil
}

// Topic returns the topic tag events are published to.
func (p *Publisher) Topic() string {
	return p.topic + "/" + detectedTopicLevel
}

// Connect connects to the broker, waiting until ctx is done.
func (p *Publisher) Connect(ctx context.Context) error {
	if !p.Enabled() {
		return nil
	}
	if err := wait(ctx, p.client.Connect()); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	st25r.Debugln("MQTT connected")
	return nil
}

// PublishTag publishes a detection of info.
func (p *Publisher) PublishTag(ctx context.Context, info protocol.TagInfo) error {
	if !p.Enabled() {
		return nil
	}
	payload, err := json.Marshal(NewTagEvent(p.reader, info, time.Now()))
	if err != nil {
		return fmt.Errorf("encode tag event: %w", err)
	}
	if err := wait(ctx, p.client.Publish(p.Topic(), 0, p.retain, payload)); err != nil {
		p.failed.Add(1)
		return fmt.Errorf("publish %s: %w", p.Topic(), err)
	}
	p.published.Add(1)
	return nil
}

// Published returns the number of events sent and failed.
func (p *Publisher) Published() (sent, failed uint64) {
	return p.published.Load(), p.failed.Load()
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	if p.Enabled() {
		p.client.Disconnect(disconnectQuiesce)
	}
}

func wait(ctx context.Context, token paho.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// debugWriter routes paho log lines to the package debug log.
type debugWriter struct{}

func (debugWriter) Write(p []byte) (int, error) {
	st25r.Debugf("%s", strings.TrimSuffix(string(p), "\n"))
	return len(p), nil
}
