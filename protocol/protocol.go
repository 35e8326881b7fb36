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

// Package protocol defines the messages exchanged between an NFC reader
// session and its single client.
//
// Each message is a 3-byte header (type, payload length as u16 little
// endian) followed by the payload. Multi-byte integers are little endian;
// byte arrays such as UIDs are in RF protocol order.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ZaparooProject/go-st25r/internal/frame"
)

// Version is the protocol version reported by the device.
const Version uint64 = 0x004E464300000001

// ChipModel is the Identify response payload.
const ChipModel = "ST25R3916/7"

// MessageType is the first header byte.
type MessageType uint8

// Message types
const (
	TypeIdentifyRequest    MessageType = 0
	TypeIdentifyResponse   MessageType = 1
	TypeIdleRequest        MessageType = 2
	TypeIdleAck            MessageType = 3
	TypeDiscoverRequest    MessageType = 4
	TypeDetectedTag        MessageType = 5
	TypeSelectRequest      MessageType = 6
	TypeSelectedTag        MessageType = 7
	TypeTransceiveRequest  MessageType = 8
	TypeTransceiveResponse MessageType = 9
)

func (t MessageType) String() string {
	switch t {
	case TypeIdentifyRequest:
		return "IdentifyRequest"
	case TypeIdentifyResponse:
		return "IdentifyResponse"
	case TypeIdleRequest:
		return "IdleRequest"
	case TypeIdleAck:
		return "IdleAck"
	case TypeDiscoverRequest:
		return "DiscoverRequest"
	case TypeDetectedTag:
		return "DetectedTag"
	case TypeSelectRequest:
		return "SelectRequest"
	case TypeSelectedTag:
		return "SelectedTag"
	case TypeTransceiveRequest:
		return "TransceiveRequest"
	case TypeTransceiveResponse:
		return "TransceiveResponse"
	default:
		return fmt.Sprintf("MessageType(%d)", uint8(t))
	}
}

// DiscoverFlagSelect makes Discover select the first matching tag and
// report it with a SelectedTag message.
const DiscoverFlagSelect uint8 = 1

// Transceive flags
const (
	FlagNoCRC    uint8 = 0x01
	FlagNoParity uint8 = 0x02
	FlagRaw      uint8 = FlagNoCRC | FlagNoParity
	FlagBits     uint8 = 0x04
	FlagTxOnly   uint8 = 0x08
	FlagTimeout  uint8 = 0x10
	FlagError    uint8 = 0x80
)

// MaxFrameData is the largest tx or rx frame in a transceive message.
const MaxFrameData = 512

var (
	// ErrUnknownType is returned for an unknown message type.
	ErrUnknownType = errors.New("unknown message type")
	// ErrUnknownTagType is returned for a tag type without a wire layout.
	ErrUnknownTagType = errors.New("unknown tag type")
	// ErrPayloadLength is returned for a payload of the wrong size.
	ErrPayloadLength = errors.New("invalid payload length")
)

// Message is one protocol message.
type Message interface {
	Type() MessageType
	// AppendPayload appends the payload encoding to dst.
	AppendPayload(dst []byte) []byte
}

// Append appends the header and payload of m to dst.
func Append(dst []byte, m Message) ([]byte, error) {
	start := len(dst)
	dst = append(dst, 0, 0, 0)
	dst = m.AppendPayload(dst)
	n := len(dst) - start - frame.HeaderSize
	if n > frame.MaxWireLength {
		return dst[:start], fmt.Errorf("%w: %s payload is %d bytes", frame.ErrFrameTooLarge, m.Type(), n)
	}
	frame.PutHeader(dst[start:], byte(m.Type()), uint16(n))
	return dst, nil
}

// Marshal encodes m with its header.
func Marshal(m Message) ([]byte, error) {
	return Append(nil, m)
}

// IdentifyRequest asks for the chip model.
type IdentifyRequest struct{}

// Type implements Message.
func (IdentifyRequest) Type() MessageType { return TypeIdentifyRequest }

// AppendPayload implements Message.
func (IdentifyRequest) AppendPayload(dst []byte) []byte { return dst }

// IdentifyResponse carries the chip model.
type IdentifyResponse struct {
	Model string
}

// Type implements Message.
func (IdentifyResponse) Type() MessageType { return TypeIdentifyResponse }

// AppendPayload implements Message.
func (m IdentifyResponse) AppendPayload(dst []byte) []byte { return append(dst, m.Model...) }

// IdleRequest moves the device to idle mode.
type IdleRequest struct{}

// Type implements Message.
func (IdleRequest) Type() MessageType { return TypeIdleRequest }

// AppendPayload implements Message.
func (IdleRequest) AppendPayload(dst []byte) []byte { return dst }

// IdleAck is sent on every transition to idle mode.
type IdleAck struct{}

// Type implements Message.
func (IdleAck) Type() MessageType { return TypeIdleAck }

// AppendPayload implements Message.
func (IdleAck) AppendPayload(dst []byte) []byte { return dst }

// DiscoverRequest starts or updates discovery.
type DiscoverRequest struct {
	Protocols     uint64
	PollingPeriod uint32 // ms
	DeviceCount   uint8  // tags to report before going idle, 0 is unbounded
	MaxBitrate    uint8
	Flags         uint8
}

const discoverPayloadSize = 15

// Type implements Message.
func (DiscoverRequest) Type() MessageType { return TypeDiscoverRequest }

// AppendPayload implements Message.
func (m DiscoverRequest) AppendPayload(dst []byte) []byte {
	dst = binary.LittleEndian.AppendUint64(dst, m.Protocols)
	dst = binary.LittleEndian.AppendUint32(dst, m.PollingPeriod)
	return append(dst, m.DeviceCount, m.MaxBitrate, m.Flags)
}

// DetectedTag reports a tag found during discovery.
type DetectedTag struct {
	Info TagInfo
}

// Type implements Message.
func (DetectedTag) Type() MessageType { return TypeDetectedTag }

// AppendPayload implements Message.
func (m DetectedTag) AppendPayload(dst []byte) []byte {
	return m.Info.AppendTo(append(dst, byte(m.Info.Type())))
}

// SelectedTag reports the tag that is now selected.
type SelectedTag struct {
	Info TagInfo
}

// Type implements Message.
func (SelectedTag) Type() MessageType { return TypeSelectedTag }

// AppendPayload implements Message.
func (m SelectedTag) AppendPayload(dst []byte) []byte {
	return m.Info.AppendTo(append(dst, byte(m.Info.Type())))
}

// SelectRequest polls until the tag is found and selects it.
type SelectRequest struct {
	ID TagID
}

// Type implements Message.
func (SelectRequest) Type() MessageType { return TypeSelectRequest }

// AppendPayload implements Message. ISO14443-A ids carry a length byte;
// ISO14443-B and ST25TB ids are fixed size.
func (m SelectRequest) AppendPayload(dst []byte) []byte {
	dst = append(dst, byte(m.ID.Type))
	if m.ID.Type.IsISO14443A() {
		dst = append(dst, byte(len(m.ID.UID)))
	}
	return append(dst, m.ID.UID...)
}

// TransceiveRequest exchanges one raw frame with the selected tag.
type TransceiveRequest struct {
	Data    []byte
	TxCount uint16 // bits with FlagBits, else bytes
	Flags   uint8
}

// Type implements Message.
func (TransceiveRequest) Type() MessageType { return TypeTransceiveRequest }

// AppendPayload implements Message.
func (m TransceiveRequest) AppendPayload(dst []byte) []byte {
	dst = binary.LittleEndian.AppendUint16(dst, m.TxCount)
	dst = append(dst, m.Flags)
	return append(dst, m.Data...)
}

// TransceiveResponse carries the tag answer, or FlagError on failure.
type TransceiveResponse struct {
	Data    []byte
	RxCount uint16 // bits with FlagBits, else bytes
	Flags   uint8
}

// Type implements Message.
func (TransceiveResponse) Type() MessageType { return TypeTransceiveResponse }

// AppendPayload implements Message.
func (m TransceiveResponse) AppendPayload(dst []byte) []byte {
	dst = binary.LittleEndian.AppendUint16(dst, m.RxCount)
	dst = append(dst, m.Flags)
	return append(dst, m.Data...)
}

// Failed reports whether the exchange failed.
func (m TransceiveResponse) Failed() bool {
	return m.Flags&FlagError != 0
}

// TimedOut reports whether no answer arrived and the timeout was tolerated.
func (m TransceiveResponse) TimedOut() bool {
	return m.Flags&FlagTimeout != 0
}

// Decode decodes one payload of the given type. Byte slices in the result
// are copies.
func Decode(typ MessageType, payload []byte) (Message, error) {
	switch typ {
	case TypeIdentifyRequest:
		return IdentifyRequest{}, nil
	case TypeIdentifyResponse:
		return IdentifyResponse{Model: string(payload)}, nil
	case TypeIdleRequest:
		return IdleRequest{}, nil
	case TypeIdleAck:
		return IdleAck{}, nil
	case TypeDiscoverRequest:
		return decodeDiscover(payload)
	case TypeDetectedTag:
		info, err := DecodeTagInfo(payload)
		if err != nil {
			return nil, err
		}
		return DetectedTag{Info: info}, nil
	case TypeSelectedTag:
		info, err := DecodeTagInfo(payload)
		if err != nil {
			return nil, err
		}
		return SelectedTag{Info: info}, nil
	case TypeSelectRequest:
		return decodeSelect(payload)
	case TypeTransceiveRequest:
		count, flags, data, err := decodeFrame(payload)
		if err != nil {
			return nil, err
		}
		return TransceiveRequest{TxCount: count, Flags: flags, Data: data}, nil
	case TypeTransceiveResponse:
		count, flags, data, err := decodeFrame(payload)
		if err != nil {
			return nil, err
		}
		return TransceiveResponse{RxCount: count, Flags: flags, Data: data}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, uint8(typ))
	}
}

func decodeDiscover(p []byte) (DiscoverRequest, error) {
	if len(p) < discoverPayloadSize {
		return DiscoverRequest{}, fmt.Errorf("%w: discover payload is %d bytes", ErrPayloadLength, len(p))
	}
	return DiscoverRequest{
		Protocols:     binary.LittleEndian.Uint64(p[0:8]),
		PollingPeriod: binary.LittleEndian.Uint32(p[8:12]),
		DeviceCount:   p[12],
		MaxBitrate:    p[13],
		Flags:         p[14],
	}, nil
}

// decodeSelect accepts trailing padding, as clients may send the full
// fixed-size id structure.
func decodeSelect(p []byte) (SelectRequest, error) {
	if len(p) < 1 {
		return SelectRequest{}, fmt.Errorf("%w: empty select payload", ErrPayloadLength)
	}
	id := TagID{Type: TagType(p[0])}
	p = p[1:]

	var n int
	switch {
	case id.Type.IsISO14443A():
		if len(p) < 1 {
			return SelectRequest{}, fmt.Errorf("%w: select payload has no uid length", ErrPayloadLength)
		}
		n = int(p[0])
		if n > MaxUIDLength {
			return SelectRequest{}, fmt.Errorf("%w: uid length %d", ErrPayloadLength, n)
		}
		p = p[1:]
	case id.Type == TagISO14443B:
		n = PUPILength
	case id.Type == TagST25TB:
		n = ST25TBUIDLength
	default:
		// Unknown families are kept so that the session can report them.
		return SelectRequest{ID: id}, nil
	}
	if len(p) < n {
		return SelectRequest{}, fmt.Errorf("%w: %s id needs %d bytes, got %d", ErrPayloadLength, id.Type, n, len(p))
	}
	id.UID = append([]byte(nil), p[:n]...)
	return SelectRequest{ID: id}, nil
}

func decodeFrame(p []byte) (count uint16, flags uint8, data []byte, err error) {
	if len(p) < 3 {
		return 0, 0, nil, fmt.Errorf("%w: transceive payload is %d bytes", ErrPayloadLength, len(p))
	}
	if len(p)-3 > MaxFrameData {
		return 0, 0, nil, fmt.Errorf("%w: transceive data is %d bytes", ErrPayloadLength, len(p)-3)
	}
	return binary.LittleEndian.Uint16(p), p[2], append([]byte(nil), p[3:]...), nil
}
