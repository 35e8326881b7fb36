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
	"time"

	"github.com/ZaparooProject/go-st25r/protocol"
)

// State is the session's current mode of operation.
type State int

const (
	StateIdle State = iota
	StateDiscover
	StateSelect
	StateSelected
	StateTransceive
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateDiscover:
		return "Discover"
	case StateSelect:
		return "Select"
	case StateSelected:
		return "Selected"
	case StateTransceive:
		return "TransceiveFrame"
	default:
		return "Unknown"
	}
}

// modeState holds the parameters of exactly one mode. The State is derived
// from the concrete type, so the two can never disagree.
type modeState interface {
	state() State
}

type idleState struct{}

func (idleState) state() State { return StateIdle }

type discoverState struct {
	protocols     uint64
	pollingPeriod uint32
	remaining     uint8
	maxBitrate    uint8
	flags         uint8
}

func (*discoverState) state() State { return StateDiscover }

// selecting reports whether a found tag is activated instead of reported.
func (d *discoverState) selecting() bool {
	return d.flags&protocol.DiscoverFlagSelect != 0
}

type selectState struct {
	id protocol.TagID
}

func (*selectState) state() State { return StateSelect }

type selectedState struct {
	id  protocol.TagID
	cid byte
}

func (*selectedState) state() State { return StateSelected }

type transceiveState struct {
	selectedState
	tx        []byte
	rxTimeout time.Duration
	txCount   uint16
	flags     uint8
}

func (*transceiveState) state() State { return StateTransceive }

// wants reports whether a tag found in this mode should be confirmed.
func wants(m modeState, info protocol.TagInfo) bool {
	switch m := m.(type) {
	case *discoverState:
		return info.Type().MatchedBy(m.protocols)
	case *selectState:
		return m.id.Equal(info.ID())
	default:
		return false
	}
}
