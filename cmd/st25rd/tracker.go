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
	"sort"
	"time"

	"github.com/ZaparooProject/go-st25r/protocol"
)

// tracker turns the stream of per-cycle detections into arrivals and
// removals. A tag is removed once it has not been seen for the removal
// timeout.
type tracker struct {
	seen    map[string]*seenTag
	removal time.Duration
}

type seenTag struct {
	last time.Time
	info protocol.TagInfo
}

func newTracker(removal time.Duration) *tracker {
	return &tracker{seen: make(map[string]*seenTag), removal: removal}
}

// Seen records a detection and reports whether the tag just arrived.
func (t *tracker) Seen(info protocol.TagInfo, now time.Time) bool {
	key := info.ID().String()
	if s, ok := t.seen[key]; ok {
		s.last = now
		s.info = info
		return false
	}
	t.seen[key] = &seenTag{last: now, info: info}
	return true
}

// Expire forgets tags not seen within the removal timeout and returns
// them in key order.
func (t *tracker) Expire(now time.Time) []protocol.TagInfo {
	var keys []string
	for key, s := range t.seen {
		if now.Sub(s.last) >= t.removal {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	gone := make([]protocol.TagInfo, 0, len(keys))
	for _, key := range keys {
		gone = append(gone, t.seen[key].info)
		delete(t.seen, key)
	}
	return gone
}

// Present returns the number of tracked tags.
func (t *tracker) Present() int {
	return len(t.seen)
}
