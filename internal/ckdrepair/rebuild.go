/*
 * S370 - CKD repair engine: L2 reconstruction, gap healing, free chain.
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
	"sort"

	"github.com/rcornwell/s370chan/internal/ckd"
)

// reconstructL2Tables implements spec §4.3 step 7: for every L1 index
// marked for L2 recovery whose reconstructed table gained at least one
// recovered entry, find a gap large enough to hold it (exactly the L2
// table size, or that size plus a free-block header so the remainder
// stays a usable free block), write it there, and fix up the L1 entry.
// If nothing fits, the file is extended.
func (r *repairer) reconstructL2Tables(gaps []gap) ([]gap, error) {
	if len(r.st.recoverL2) == 0 {
		return gaps, nil
	}

	var l1idxs []uint32
	for idx := range r.st.recoverL2 {
		if tbl, ok := r.st.reconstructed[idx]; ok && hasAnyEntry(tbl) {
			l1idxs = append(l1idxs, idx)
		}
	}
	sort.Slice(l1idxs, func(i, j int) bool { return l1idxs[i] < l1idxs[j] })

	for _, l1idx := range l1idxs {
		tbl := r.st.reconstructed[l1idx]
		offset, newGaps, err := r.placeInGap(gaps, ckd.L2TableSize)
		if err != nil {
			return gaps, err
		}
		gaps = newGaps

		if _, err := r.f.WriteAt(ckd.EncodeL2Table(*tbl, r.header.BigEndian()), int64(offset)); err != nil {
			return gaps, err
		}
		for int(l1idx) >= len(r.l1) {
			r.l1 = append(r.l1, 0)
		}
		r.l1[l1idx] = offset
		l1Pos := int64(ckd.DeviceHeaderSize+ckd.CompressedHeaderSize) + int64(l1idx)*4
		b := ckd.EncodeL1Table(r.l1, r.header.BigEndian())
		if _, err := r.f.WriteAt(b[l1idx*4:l1idx*4+4], l1Pos); err != nil {
			return gaps, err
		}

		r.st.add(spaceEntry{typ: spaceL2Table, pos: offset, usedLen: ckd.L2TableSize, allocSize: ckd.L2TableSize, value: l1idx})
		r.report.L2TablesRebuilt++
		delete(r.st.recoverL2, l1idx)
	}
	r.st.sortByPos()
	return gaps, nil
}

func hasAnyEntry(tbl *[ckd.L2Entries]ckd.L2Entry) bool {
	for _, e := range tbl {
		if !e.Absent() {
			return true
		}
	}
	return false
}

// placeInGap finds the first gap that is exactly size bytes long or
// leaves a remainder of at least one free-block header (spec §4.3
// step 7: "exactly the L2-table size, or that size plus a free-block
// header"), consumes it, and returns the offset used plus the updated
// gap list. If nothing fits, it extends the file.
func (r *repairer) placeInGap(gaps []gap, size uint32) (uint32, []gap, error) {
	for i, g := range gaps {
		if g.length < size || (g.length > size && g.length-size < ckd.FreeBlockSize) {
			continue
		}
		remainder := g.length - size
		out := make([]gap, 0, len(gaps)+1)
		out = append(out, gaps[:i]...)
		if remainder > 0 {
			out = append(out, gap{pos: g.pos + size, length: remainder})
		}
		out = append(out, gaps[i+1:]...)
		return g.pos, out, nil
	}

	fi, err := r.f.Stat()
	if err != nil {
		return 0, gaps, err
	}
	offset := uint32(fi.Size())
	if err := r.f.Truncate(fi.Size() + int64(size)); err != nil {
		return 0, gaps, err
	}
	return offset, gaps, nil
}

// healShortGaps implements spec §4.3 step 8: a gap smaller than a
// free-block header cannot become a free block. Absorb it into a
// preceding track image's imbedded free space, or shift a following
// L2 table or track image backward to close it.
func (r *repairer) healShortGaps(gaps []gap) []gap {
	st := r.st
	var healed []gap

	for _, g := range gaps {
		if g.length >= ckd.FreeBlockSize {
			healed = append(healed, g)
			continue
		}
		if g.length == 0 {
			continue
		}

		if idx := st.entryEndingAt(g.pos); idx >= 0 && st.entries[idx].typ == spaceTrackImage {
			st.entries[idx].allocSize += g.length
			r.report.GapsHealed++
			continue
		}

		if idx := st.entryStartingAt(g.pos + g.length); idx >= 0 {
			e := &st.entries[idx]
			if e.typ == spaceL2Table || e.typ == spaceTrackImage {
				newPos := e.pos - g.length
				if err := r.relocate(e, newPos); err == nil {
					e.pos = newPos
					r.report.GapsHealed++
					continue
				}
			}
		}

		// Nothing adjacent to absorb into; leave as an unreachable
		// slack byte range (harmless: smaller than any allocation unit).
	}

	st.sortByPos()
	return healed
}

func (st *spaceTable) entryEndingAt(pos uint32) int {
	for i, e := range st.entries {
		if e.end() == pos {
			return i
		}
	}
	return -1
}

func (st *spaceTable) entryStartingAt(pos uint32) int {
	for i, e := range st.entries {
		if e.pos == pos {
			return i
		}
	}
	return -1
}

// relocate moves the validated data backing space-table entry e to
// newPos (spec §4.3, Failure model item (c): "a relocation of
// validated data within the file"), fixing up whatever index entry
// points at it.
func (r *repairer) relocate(e *spaceEntry, newPos uint32) error {
	buf := make([]byte, e.allocSize)
	if _, err := r.f.ReadAt(buf, int64(e.pos)); err != nil {
		return err
	}
	if _, err := r.f.WriteAt(buf, int64(newPos)); err != nil {
		return err
	}

	switch e.typ {
	case spaceL2Table:
		l1Pos := int64(ckd.DeviceHeaderSize+ckd.CompressedHeaderSize) + int64(e.value)*4
		r.l1[e.value] = newPos
		b := ckd.EncodeL1Table(r.l1, r.header.BigEndian())
		if _, err := r.f.WriteAt(b[e.value*4:e.value*4+4], l1Pos); err != nil {
			return err
		}
	case spaceTrackImage:
		l1idx := e.value / 256
		idx := int(e.value % 256)
		if l2off := r.l1[l1idx]; l2off != 0 {
			newEntry := ckd.L2Entry{Offset: newPos, Length: e.usedLen, Size: e.allocSize}
			r.writeL2Entry(l2off, idx, newEntry)
		}
	}
	return nil
}

// rebuildFreeChain implements spec §4.3 step 9: from the final gap
// list, write a free-block chain in ascending-offset order and update
// the header's free-space statistics and bytes-used counter.
func (r *repairer) rebuildFreeChain(gaps []gap) error {
	sort.Slice(gaps, func(i, j int) bool { return gaps[i].pos < gaps[j].pos })

	var count, total, largest uint32
	for i, g := range gaps {
		next := uint32(0)
		if i+1 < len(gaps) {
			next = gaps[i+1].pos
		}
		fb := ckd.FreeBlock{Next: next, Length: g.length}
		if _, err := r.f.WriteAt(ckd.EncodeFreeBlock(fb, r.header.BigEndian()), int64(g.pos)); err != nil {
			return err
		}
		count++
		total += g.length
		if g.length > largest {
			largest = g.length
		}
	}

	r.header.FreeCount = count
	r.header.FreeTotal = total
	r.header.FreeLargest = largest
	if len(gaps) > 0 {
		r.header.FreeHead = gaps[0].pos
	} else {
		r.header.FreeHead = 0
	}

	fi, err := r.f.Stat()
	if err != nil {
		return err
	}
	r.header.FileSize = uint32(fi.Size())
	r.header.BytesUsed = r.header.FileSize - total
	r.report.FreeChainEntries = len(gaps)
	r.report.BytesReclaimed = int64(total)
	return nil
}
