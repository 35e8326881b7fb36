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
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ZaparooProject/go-st25r/internal/frame"
	"github.com/ZaparooProject/go-st25r/internal/ring"
	"github.com/ZaparooProject/go-st25r/internal/syncutil"
	"github.com/ZaparooProject/go-st25r/polling"
	"github.com/ZaparooProject/go-st25r/protocol"
)

// closeTimeout bounds the field-off transaction run by Close.
const closeTimeout = time.Second

// SessionConfig holds session options
type SessionConfig struct {
	// Polling configures the cycle worker
	Polling *polling.Config
	// RxTimeout is the receive window of transceive requests
	RxTimeout time.Duration
	// QueueSize is the outbound queue capacity in bytes, plus one
	QueueSize int
}

// DefaultSessionConfig returns the default session configuration
func DefaultSessionConfig() *SessionConfig {
	pc := polling.DefaultConfig()
	pc.Interval = PollInterval
	return &SessionConfig{
		Polling:   pc,
		RxTimeout: DefaultRxTimeout,
		QueueSize: ring.DefaultSize,
	}
}

// SessionStats is a snapshot of session counters.
type SessionStats struct {
	State    State
	Cycles   uint64
	Detected uint64 // tags confirmed, reported or selected
	Dropped  uint64 // outbound messages rejected by a full queue
	Queued   int    // bytes waiting to be read
}

// Session exposes the reader to one client as a byte stream of framed
// messages. Requests written to it drive the mode state machine; tag
// reports and responses are read back from it.
type Session struct {
	chip    *Chip
	config  *SessionConfig
	worker  *polling.Worker
	queue   *ring.Buffer
	acc     *frame.Accumulator
	notify  chan struct{}
	done    chan struct{}
	cancel  context.CancelFunc
	onClose func()

	// turn is held by whoever drives the chip: the poll cycle or a request
	// being handled. It is a channel so that writers can wait for it with a
	// context.
	turn chan struct{}
	// mu guards the mode state, the busy flag and the producer side of queue.
	mu     syncutil.Mutex
	state  modeState
	ready  chan struct{} // closed when busy clears
	busy   bool
	encBuf []byte
	rxBuf  [FIFOSize]byte

	writeMu syncutil.Mutex
	readMu  syncutil.Mutex

	closeOnce sync.Once
	closeErr  error
	cycles    atomic.Uint64
	detected  atomic.Uint64
	dropped   atomic.Uint64
}

func newSession(chip *Chip, config *SessionConfig, onClose func()) *Session {
	if config == nil {
		config = DefaultSessionConfig()
	}
	if config.RxTimeout <= 0 {
		config.RxTimeout = DefaultRxTimeout
	}
	if config.QueueSize <= 0 {
		config.QueueSize = ring.DefaultSize
	}
	if config.Polling == nil {
		config.Polling = polling.DefaultConfig()
	}

	s := &Session{
		chip:    chip,
		config:  config,
		queue:   ring.New(config.QueueSize),
		acc:     frame.NewAccumulator(frame.MaxPayload),
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		turn:    make(chan struct{}, 1),
		onClose: onClose,
		state:   idleState{},
		ready:   make(chan struct{}),
	}

	var recoverer polling.Recoverer
	if rc := config.Polling.SleepRecovery; rc.Enabled {
		recoverer = polling.NewDefaultRecoverer(s.reinitialise, nil, rc.RecoveryBackoff, rc.MaxRecoveryAttempts)
	}
	s.worker = polling.NewWorker(s.pollCycle, config.Polling, recoverer)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	_ = s.worker.Start(ctx)
	return s
}

// reinitialise restarts the chip after a host sleep. The selected tag, if
// any, is lost, so the session goes idle.
func (s *Session) reinitialise(ctx context.Context) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()
	s.mu.Lock()
	defer s.mu.Unlock()
	Debugln("host sleep detected, restarting chip")
	if err := s.chip.Startup(ctx); err != nil {
		return err
	}
	switch s.state.(type) {
	case *selectedState, *transceiveState:
		s.clearBusyLocked()
		s.enterIdleLocked(ctx)
	}
	return nil
}

// State returns the current mode.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.state()
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() SessionStats {
	return SessionStats{
		State:    s.State(),
		Cycles:   s.cycles.Load(),
		Detected: s.detected.Load(),
		Dropped:  s.dropped.Load(),
		Queued:   s.queue.Len(),
	}
}

// WorkerMetrics returns the poll worker counters.
func (s *Session) WorkerMetrics() polling.WorkerMetrics {
	return s.worker.GetMetrics()
}

func (s *Session) isClosed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Read implements io.Reader. It blocks until at least one byte is queued
// or the session is closed.
func (s *Session) Read(p []byte) (int, error) {
	return s.ReadContext(context.Background(), p)
}

// ReadContext reads queued outbound bytes, blocking until some are
// available, ctx is done or the session is closed. Bytes queued before
// Close are still returned; io.EOF follows.
func (s *Session) ReadContext(ctx context.Context, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	s.readMu.Lock()
	defer s.readMu.Unlock()

	for {
		if n := s.queue.Read(p); n > 0 {
			return n, nil
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-s.done:
			if n := s.queue.Read(p); n > 0 {
				return n, nil
			}
			return 0, io.EOF
		case <-s.notify:
		}
	}
}

// Write implements io.Writer.
func (s *Session) Write(p []byte) (int, error) {
	return s.WriteContext(context.Background(), p)
}

// WriteContext consumes p, dispatching every complete request in order.
// Partial requests are kept until the rest arrives. A request arriving
// while a transceive is in progress waits for it to finish; ctx bounds that
// wait. Malformed requests are logged and skipped.
func (s *Session) WriteContext(ctx context.Context, p []byte) (int, error) {
	if s.isClosed() {
		return 0, ErrSessionClosed
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	total := 0
	for total < len(p) {
		n, err := s.acc.Feed(p[total:], func(m frame.Message) error {
			return s.dispatch(ctx, m)
		})
		total += n
		if err != nil {
			if errors.Is(err, frame.ErrFrameTooLarge) {
				Debugf("session: %v", err)
				continue
			}
			return total, err
		}
	}
	return total, nil
}

func (s *Session) dispatch(ctx context.Context, m frame.Message) error {
	msg, err := protocol.Decode(protocol.MessageType(m.Type), m.Payload)
	if err != nil {
		Debugf("session: ignoring request: %v", err)
		return nil
	}
	if err := s.lockWhenReady(ctx); err != nil {
		return err
	}
	defer s.release()
	defer s.mu.Unlock()
	s.handleLocked(ctx, msg)
	return nil
}

// acquire takes the chip turn, waiting for a running cycle to finish.
func (s *Session) acquire(ctx context.Context) error {
	select {
	case s.turn <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrSessionClosed
	}
}

func (s *Session) release() {
	<-s.turn
}

// lockWhenReady takes the turn and mu once no transceive is in progress.
// Every wait is bounded by ctx.
func (s *Session) lockWhenReady(ctx context.Context) error {
	for {
		if err := s.acquire(ctx); err != nil {
			return err
		}
		s.mu.Lock()
		if s.isClosed() {
			s.mu.Unlock()
			s.release()
			return ErrSessionClosed
		}
		if !s.busy {
			return nil
		}
		ready := s.ready
		s.mu.Unlock()
		s.release()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return ErrSessionClosed
		case <-ready:
		}
	}
}

func (s *Session) setBusyLocked() {
	if !s.busy {
		s.busy = true
		s.ready = make(chan struct{})
	}
}

func (s *Session) clearBusyLocked() {
	if s.busy {
		s.busy = false
		close(s.ready)
	}
}

func (s *Session) handleLocked(ctx context.Context, msg protocol.Message) {
	switch m := msg.(type) {
	case protocol.IdentifyRequest:
		s.emitLocked(protocol.IdentifyResponse{Model: protocol.ChipModel})
	case protocol.IdleRequest:
		s.enterIdleLocked(ctx)
	case protocol.DiscoverRequest:
		s.state = &discoverState{
			protocols:     m.Protocols,
			pollingPeriod: m.PollingPeriod,
			remaining:     m.DeviceCount,
			maxBitrate:    m.MaxBitrate,
			flags:         m.Flags,
		}
		s.worker.Trigger()
	case protocol.SelectRequest:
		s.state = &selectState{id: m.ID}
		s.worker.Trigger()
	case protocol.TransceiveRequest:
		sel, ok := s.state.(*selectedState)
		if !ok {
			Debugf("session: transceive in %s: %v", s.state.state(), ErrNotSelected)
			s.emitLocked(protocol.TransceiveResponse{Flags: protocol.FlagError})
			s.enterIdleLocked(ctx)
			return
		}
		s.state = &transceiveState{
			selectedState: *sel,
			tx:            m.Data,
			txCount:       m.TxCount,
			flags:         m.Flags,
			rxTimeout:     s.config.RxTimeout,
		}
		s.setBusyLocked()
		s.worker.Trigger()
	default:
		Debugf("session: ignoring %s from client", msg.Type())
	}
}

// emitLocked frames m and queues it as one unit. A message that does not
// fit is dropped whole and counted.
func (s *Session) emitLocked(m protocol.Message) {
	buf, err := protocol.Append(s.encBuf[:0], m)
	if err != nil {
		Debugf("session: encode %s: %v", m.Type(), err)
		return
	}
	s.encBuf = buf
	if err := s.queue.Push(buf); err != nil {
		s.dropped.Add(1)
		Debugf("session: dropped %s (%d bytes): %v", m.Type(), len(buf), err)
		return
	}
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// enterIdleLocked switches to Idle, turning the field off first, and acks.
// It does nothing when already idle.
func (s *Session) enterIdleLocked(ctx context.Context) {
	if _, idle := s.state.(idleState); idle {
		return
	}
	s.fieldOffLocked(ctx)
	s.state = idleState{}
	s.emitLocked(protocol.IdleAck{})
}

func (s *Session) fieldOffLocked(ctx context.Context) {
	if !s.chip.IsFieldOn() {
		return
	}
	if err := s.chip.FieldOff(ctx); err != nil {
		Debugf("session: field off: %v", err)
	}
}

// pollCycle runs one cycle for the current mode. It reports whether the
// worker should reschedule.
func (s *Session) pollCycle(ctx context.Context) bool {
	if err := s.acquire(ctx); err != nil {
		return false
	}
	defer s.release()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cycles.Add(1)

	switch m := s.state.(type) {
	case *discoverState:
		if s.fieldOnLocked(ctx) {
			s.discoverLocked(ctx, m)
		}
	case *selectState:
		if s.fieldOnLocked(ctx) {
			s.selectLocked(ctx, m)
		}
	case *transceiveState:
		s.transceiveLocked(ctx, m)
	}

	s.clearBusyLocked()
	switch s.state.state() {
	case StateDiscover, StateSelect:
		s.fieldOffLocked(ctx)
		return true
	case StateIdle:
		s.fieldOffLocked(ctx)
	}
	return false
}

func (s *Session) fieldOnLocked(ctx context.Context) bool {
	err := s.chip.FieldOn(ctx)
	if err == nil {
		return true
	}
	if isCollision(err) {
		Debugln("session: another field is present, skipping cycle")
	} else {
		Debugf("session: field on: %v", err)
	}
	return false
}

func (s *Session) discoverLocked(ctx context.Context, d *discoverState) {
	for _, f := range families {
		if s.state != modeState(d) {
			return
		}
		if d.protocols&f.protocols == 0 {
			continue
		}
		info, err := f.poll(ctx, s.chip)
		if err != nil {
			Debugf("session: %s poll: %v", f.name, err)
			continue
		}
		if wants(d, info) {
			s.confirmTagLocked(ctx, info)
		}
	}
}

func (s *Session) selectLocked(ctx context.Context, sel *selectState) {
	f := familyOf(sel.id.Type)
	if f == nil {
		Debugf("session: select of %s is unsupported", sel.id.Type)
		return
	}
	info, err := f.poll(ctx, s.chip)
	if err != nil {
		Debugf("session: %s poll: %v", f.name, err)
		return
	}
	if wants(sel, info) {
		s.confirmTagLocked(ctx, info)
	}
}

// confirmTagLocked reports a matching tag, or selects it when selecting.
func (s *Session) confirmTagLocked(ctx context.Context, info protocol.TagInfo) {
	s.detected.Add(1)
	switch m := s.state.(type) {
	case *selectState:
		s.selectTagLocked(info)
	case *discoverState:
		if m.selecting() {
			s.selectTagLocked(info)
			return
		}
		s.emitLocked(protocol.DetectedTag{Info: info})
		if m.remaining > 0 {
			m.remaining--
			if m.remaining == 0 {
				s.enterIdleLocked(ctx)
			}
		}
	}
}

func (s *Session) selectTagLocked(info protocol.TagInfo) {
	id := info.ID()
	s.state = &selectedState{id: id, cid: id.CID}
	Debugf("session: selected %s", id)
	s.emitLocked(protocol.SelectedTag{Info: info})
}

func (s *Session) transceiveLocked(ctx context.Context, t *transceiveState) {
	flags := TransceiveFlags(t.flags)
	res, err := s.chip.TransceiveFrame(ctx, t.tx, int(t.txCount), s.rxBuf[:], flags, t.rxTimeout)
	if err != nil {
		Debugf("session: transceive with %s: %v", t.id, err)
		s.emitLocked(protocol.TransceiveResponse{Flags: protocol.FlagError})
		s.enterIdleLocked(ctx)
		return
	}

	respFlags := t.flags & (protocol.FlagNoCRC | protocol.FlagNoParity | protocol.FlagBits)
	if res.TimedOut {
		respFlags |= protocol.FlagTimeout
	}
	s.emitLocked(protocol.TransceiveResponse{
		RxCount: uint16(res.Count),
		Flags:   respFlags,
		Data:    s.rxBuf[:res.ByteLen(flags)],
	})
	sel := t.selectedState
	s.state = &sel
}

// Close stops the worker, waiting for an in-flight cycle, turns the field
// off and releases the device. Queued bytes remain readable.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.worker.Stop(context.Background())
		s.cancel()

		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		s.mu.Lock()
		s.clearBusyLocked()
		s.state = idleState{}
		if s.chip.IsFieldOn() {
			s.closeErr = s.chip.FieldOff(ctx)
		}
		s.mu.Unlock()

		if s.onClose != nil {
			s.onClose()
		}
	})
	return s.closeErr
}

// family is one discovery engine.
type family struct {
	poll      func(ctx context.Context, c *Chip) (protocol.TagInfo, error)
	accepts   func(t protocol.TagType) bool
	name      string
	protocols uint64
}

// families in polling order.
var families = []family{
	{
		name:      "ISO14443-A",
		protocols: protocol.ProtocolAnyISO14443A,
		accepts:   protocol.TagType.IsISO14443A,
		poll: func(ctx context.Context, c *Chip) (protocol.TagInfo, error) {
			return c.PollISO14443A(ctx)
		},
	},
	{
		name:      "ISO14443-B",
		protocols: protocol.ProtocolISO14443B,
		accepts:   func(t protocol.TagType) bool { return t == protocol.TagISO14443B },
		poll: func(ctx context.Context, c *Chip) (protocol.TagInfo, error) {
			info, err := c.PollISO14443B(ctx, 0)
			if err != nil {
				return nil, err
			}
			return info, nil
		},
	},
	{
		name:      "ST25TB",
		protocols: protocol.ProtocolST25TB,
		accepts:   func(t protocol.TagType) bool { return t == protocol.TagST25TB },
		poll: func(ctx context.Context, c *Chip) (protocol.TagInfo, error) {
			info, err := c.PollST25TB(ctx)
			if err != nil {
				return nil, err
			}
			return info, nil
		},
	},
	{
		name:      "NFC-F",
		protocols: protocol.ProtocolNFCF | protocol.ProtocolNFCFNFCDEP,
		accepts:   func(protocol.TagType) bool { return false },
		poll: func(ctx context.Context, c *Chip) (protocol.TagInfo, error) {
			return nil, c.PollNFCF(ctx)
		},
	},
}

// familyOf returns the engine able to select tags of type t, or nil.
func familyOf(t protocol.TagType) *family {
	for i := range families {
		if families[i].accepts(t) {
			return &families[i]
		}
	}
	return nil
}
