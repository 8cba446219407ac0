/*
 * S370 - CKD repair engine: space-table construction and validation.
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

package ckdrepair

import (
	"github.com/rcornwell/s370chan/internal/ckd"
)

// buildSpaceTable implements spec §4.3 step 2: seed the space table
// with the fixed-position structures and the free chain, then walk
// every L1/L2 entry, validating as deeply as the configured check
// level calls for and demoting anything that fails to the recovery
// lists.
func (r *repairer) buildSpaceTable() error {
	st := r.st

	st.add(spaceEntry{typ: spaceDeviceHeader, pos: 0, usedLen: ckd.DeviceHeaderSize, allocSize: ckd.DeviceHeaderSize})
	st.add(spaceEntry{typ: spaceCompressedHeader, pos: ckd.DeviceHeaderSize, usedLen: ckd.CompressedHeaderSize, allocSize: ckd.CompressedHeaderSize})

	l1Pos := uint32(ckd.DeviceHeaderSize + ckd.CompressedHeaderSize)
	l1Size := uint32(len(r.l1)) * 4
	st.add(spaceEntry{typ: spaceL1Table, pos: l1Pos, usedLen: l1Size, allocSize: l1Size})

	fi, err := r.f.Stat()
	if err != nil {
		return err
	}
	fileSize := fi.Size()
	st.add(spaceEntry{typ: spaceEndOfFile, pos: uint32(fileSize), usedLen: 0, allocSize: 0})

	if err := r.seedFreeChain(); err != nil {
		return err
	}

	lopos := l1Pos + l1Size
	hipos := uint32(fileSize)

	for l1idx, l2off := range r.l1 {
		if l2off == 0 {
			continue
		}
		if l2off < lopos || l2off > hipos-uint32(ckd.L2TableSize) {
			r.st.recoverL2[uint32(l1idx)] = true
			continue
		}
		if err := r.validateL2Table(uint32(l1idx), l2off); err != nil {
			return err
		}
	}
	return nil
}

func (r *repairer) seedFreeChain() error {
	off := r.header.FreeHead
	seen := map[uint32]bool{}
	for off != 0 {
		if seen[off] {
			break
		}
		seen[off] = true
		buf := make([]byte, ckd.FreeBlockSize)
		if _, err := r.f.ReadAt(buf, int64(off)); err != nil {
			return err
		}
		fb := ckd.DecodeFreeBlock(buf, r.header.BigEndian())
		r.st.add(spaceEntry{typ: spaceFreeBlock, pos: off, usedLen: ckd.FreeBlockSize, allocSize: fb.Length})
		off = fb.Next
	}
	return nil
}

// validateL2Table implements the inner loop of spec §4.3 step 2: read
// an L2 table whose offset passed the bounds check, and validate every
// non-zero entry.
func (r *repairer) validateL2Table(l1idx, l2off uint32) error {
	buf := make([]byte, ckd.L2TableSize)
	if _, err := r.f.ReadAt(buf, int64(l2off)); err != nil {
		return err
	}
	l2 := ckd.DecodeL2Table(buf, r.header.BigEndian())

	l2Bad := false
	for idx, e := range l2 {
		if e.Absent() {
			continue
		}
		trk := l1idx*256 + uint32(idx)
		if trk >= r.totalTrks || e.Length > e.Size || e.Offset == 0 {
			r.st.recoverTracks[trk] = e.Length
			l2Bad = true
			continue
		}
		if r.level >= LevelDefault {
			if !r.validateTrackHeader(e, trk) {
				r.st.recoverTracks[trk] = e.Length
				l2Bad = true
				continue
			}
		}
		if r.level >= LevelExhaustive {
			if !r.validateTrackBody(e) {
				r.st.recoverTracks[trk] = e.Length
				l2Bad = true
				continue
			}
		}
		r.st.add(spaceEntry{typ: spaceTrackImage, pos: e.Offset, usedLen: e.Length, allocSize: e.Size, value: trk})
	}

	if l2Bad {
		r.st.recoverL2[l1idx] = true
		return nil
	}
	r.st.add(spaceEntry{typ: spaceL2Table, pos: l2off, usedLen: ckd.L2TableSize, allocSize: ckd.L2TableSize, value: l1idx})
	return nil
}

// validateTrackHeader implements the level-1 check of spec §4.3 step
// 2: compression byte in range, cylinder/head within the device's
// bounds, and cyl*heads+head == trk.
func (r *repairer) validateTrackHeader(e ckd.L2Entry, trk uint32) bool {
	hdr := make([]byte, ckd.TrackHeaderSize)
	if _, err := r.f.ReadAt(hdr, int64(e.Offset)); err != nil {
		return false
	}
	comp := hdr[0]
	cyl := uint32(hdr[1])<<8 | uint32(hdr[2])
	head := uint32(hdr[3])<<8 | uint32(hdr[4])
	if comp > ckd.CompMax {
		return false
	}
	if cyl >= r.header.Cylinders || head >= r.devHeader.HeadsPerCyl {
		return false
	}
	return cyl*r.devHeader.HeadsPerCyl+head == trk
}

// validateTrackBody implements the level-3 check of spec §4.3 step 2:
// decompress and run the track-image validator.
func (r *repairer) validateTrackBody(e ckd.L2Entry) bool {
	stored := make([]byte, e.Length)
	if _, err := r.f.ReadAt(stored, int64(e.Offset)); err != nil {
		return false
	}
	comp := stored[0]
	plain, err := ckd.DecompressTrack(comp, stored[ckd.TrackHeaderSize:])
	if err != nil {
		return false
	}
	return ckd.ValidateTrackImage(plain, r.header.Cylinders, r.devHeader.HeadsPerCyl)
}
