/*
 * S370 - CKD repair engine: space-table model.
 *
 * Copyright 2024, Richard Cornwell
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

// Package ckdrepair implements the offline CKD repair engine (spec
// §4.3): validates a compressed-CKD image's structural invariants,
// locates recoverable track images in free gaps, and rewrites the
// L1/L2 tables, free chain, and header statistics. It never opens a
// volume through ckd.Open/ckd.Volume, since that assumes internal
// consistency the image may not have; it re-derives the same on-disk
// layout directly via ckd's exported codec functions.
package ckdrepair

import (
	"sort"

	"github.com/rcornwell/s370chan/internal/ckd"
)

// spaceType tags a byte range of the file (spec §3, Space table).
type spaceType int

const (
	spaceNone spaceType = iota
	spaceDeviceHeader
	spaceCompressedHeader
	spaceL1Table
	spaceL2Table
	spaceTrackImage
	spaceFreeBlock
	spaceEndOfFile
)

// spaceEntry is one entry of the in-memory space table.
type spaceEntry struct {
	typ       spaceType
	pos       uint32
	usedLen   uint32
	allocSize uint32
	value     uint32 // track number (spaceTrackImage) or L1 index (spaceL2Table)
}

func (e spaceEntry) end() uint32 { return e.pos + e.allocSize }

// spaceTable holds the full seeded/validated map of the file plus the
// recovery list of tracks/L2 tables known bad.
type spaceTable struct {
	entries        []spaceEntry
	recoverTracks  map[uint32]uint32 // track number -> last known stored length
	recoverL2      map[uint32]bool   // L1 index -> true if its L2 table needs reconstruction
	reconstructed  map[uint32]*[ckd.L2Entries]ckd.L2Entry
}

func newSpaceTable() *spaceTable {
	return &spaceTable{
		recoverTracks: make(map[uint32]uint32),
		recoverL2:     make(map[uint32]bool),
		reconstructed: make(map[uint32]*[ckd.L2Entries]ckd.L2Entry),
	}
}

func (st *spaceTable) add(e spaceEntry) { st.entries = append(st.entries, e) }

func (st *spaceTable) sortByPos() {
	sort.Slice(st.entries, func(i, j int) bool { return st.entries[i].pos < st.entries[j].pos })
}

// reconstructedL2 returns the in-progress reconstructed L2 table for
// L1 index i, creating an empty one on first use.
func (st *spaceTable) reconstructedL2(l1idx uint32) *[ckd.L2Entries]ckd.L2Entry {
	t, ok := st.reconstructed[l1idx]
	if !ok {
		empty := [ckd.L2Entries]ckd.L2Entry{}
		t = &empty
		st.reconstructed[l1idx] = t
	}
	return t
}

// gap is a byte range between two space-table entries with nothing
// claiming it.
type gap struct {
	pos, length uint32
}
