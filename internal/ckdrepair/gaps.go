/*
 * S370 - CKD repair engine: overlap/gap detection and chain rebuild.
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

import "github.com/rcornwell/s370chan/internal/ckd"

// detectOverlapsAndGaps implements spec §4.3 step 5: sort the space
// table by offset; adjacent entries with a hole between them produce a
// gap, entries that physically overlap are demoted (tracks/L2 tables
// to recovery, free blocks discarded).
func (r *repairer) detectOverlapsAndGaps() ([]gap, error) {
	st := r.st
	var gaps []gap
	kept := make([]spaceEntry, 0, len(st.entries))

	for i := 0; i < len(st.entries); i++ {
		e := st.entries[i]
		if i+1 >= len(st.entries) {
			kept = append(kept, e)
			continue
		}
		next := st.entries[i+1]

		switch {
		case e.end() < next.pos:
			gaps = append(gaps, gap{pos: e.end(), length: next.pos - e.end()})
			kept = append(kept, e)
		case e.allocSize > 0 && e.end() > next.pos && next.typ != spaceEndOfFile:
			// Overlap: demote the earlier entry.
			switch e.typ {
			case spaceTrackImage:
				r.st.recoverTracks[e.value] = e.usedLen
			case spaceL2Table:
				r.st.recoverL2[e.value] = true
			}
			// spaceFreeBlock overlaps are simply discarded (not kept).
		default:
			kept = append(kept, e)
		}
	}

	st.entries = kept
	return gaps, nil
}

// trackRecoverySweep implements spec §4.3 step 6: scan each gap's raw
// bytes at every offset for a plausible track header whose computed
// track number is in the recovery list, then brute-force a handful of
// trial lengths bracketing the last known stored length until one
// decompresses into a valid track image.
func (r *repairer) trackRecoverySweep(gaps []gap) error {
	if len(r.st.recoverTracks) == 0 {
		return nil
	}
	for _, g := range gaps {
		if g.length < ckd.TrackHeaderSize {
			continue
		}
		buf := make([]byte, g.length)
		if _, err := r.f.ReadAt(buf, int64(g.pos)); err != nil {
			return err
		}
		for off := uint32(0); off+ckd.TrackHeaderSize <= g.length; off++ {
			comp := buf[off]
			if comp > ckd.CompMax {
				continue
			}
			cyl := uint32(buf[off+1])<<8 | uint32(buf[off+2])
			head := uint32(buf[off+3])<<8 | uint32(buf[off+4])
			if cyl >= r.header.Cylinders || head >= r.devHeader.HeadsPerCyl {
				continue
			}
			trk := cyl*r.devHeader.HeadsPerCyl + head
			lastLen, wanted := r.st.recoverTracks[trk]
			if !wanted {
				continue
			}
			if r.recoverOneTrack(g, off, comp, trk, lastLen) {
				r.report.TracksRecovered++
				delete(r.st.recoverTracks, trk)
			}
		}
	}
	return nil
}

// trialLengths brackets the recovery table's recorded length as spec
// §4.3 step 6 describes: len, len+1, len-1, len+2, len-2, ...
func trialLengths(last uint32, max uint32) []uint32 {
	var out []uint32
	if last > 0 && last <= max {
		out = append(out, last)
	}
	for d := uint32(1); d <= 8; d++ {
		if last+d <= max {
			out = append(out, last+d)
		}
		if last > d {
			out = append(out, last-d)
		}
	}
	return out
}

func (r *repairer) recoverOneTrack(g gap, off uint32, comp uint8, trk, lastLen uint32) bool {
	maxLen := g.length - off - ckd.TrackHeaderSize
	for _, trial := range trialLengths(lastLen, maxLen) {
		stored := r.readAt(g.pos+off+ckd.TrackHeaderSize, trial)
		if stored == nil {
			continue
		}
		plain, err := ckd.DecompressTrack(comp, stored)
		if err != nil {
			continue
		}
		if !ckd.ValidateTrackImage(plain, r.header.Cylinders, r.devHeader.HeadsPerCyl) {
			continue
		}

		entryOffset := g.pos + off
		entryLength := ckd.TrackHeaderSize + trial
		e := ckd.L2Entry{Offset: entryOffset, Length: entryLength, Size: entryLength}
		r.st.add(spaceEntry{typ: spaceTrackImage, pos: entryOffset, usedLen: entryLength, allocSize: entryLength, value: trk})

		l1idx := trk / 256
		idx := trk % 256
		if r.st.recoverL2[l1idx] {
			tbl := r.st.reconstructedL2(l1idx)
			tbl[idx] = e
		} else if l2off := r.l1[l1idx]; l2off != 0 {
			r.writeL2Entry(l2off, int(idx), e)
		}
		return true
	}
	return false
}

func (r *repairer) readAt(pos, length uint32) []byte {
	buf := make([]byte, length)
	if _, err := r.f.ReadAt(buf, int64(pos)); err != nil {
		return nil
	}
	return buf
}

func (r *repairer) writeL2Entry(l2off uint32, idx int, e ckd.L2Entry) {
	// A single L2 entry is 12 bytes; rewrite just that slice in place
	// (spec §4.3, Failure model item (a): "an update to an
	// already-validated L2 entry").
	b := ckd.EncodeL2Entry(e, r.header.BigEndian())
	_, _ = r.f.WriteAt(b, int64(l2off)+int64(idx*ckd.L2EntrySize))
}
