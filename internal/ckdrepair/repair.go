/*
 * S370 - CKD repair engine: validation and recovery algorithm.
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
	"errors"
	"fmt"
	"os"

	"github.com/rcornwell/s370chan/internal/ckd"
)

// Check levels (spec §4.3, "Check levels").
const (
	LevelFast      = 0
	LevelDefault   = 1
	LevelExhaustive = 3
)

// Report summarizes what the repair run changed (SPEC_FULL §4.3,
// supplementing spec.md's exit-code-only contract with the
// informational detail the original cckdcdsk prints to stdout).
type Report struct {
	TracksRecovered  int
	L2TablesRebuilt  int
	FreeChainEntries int
	BytesReclaimed   int64
	GapsHealed       int
	Clean            bool // true if no structural errors were found at all
}

// ErrUnrecoverable reports a fatal header check failure (spec §4.3
// step 1): the header itself must be repaired externally.
var ErrUnrecoverable = errors.New("ckdrepair: fatal header error, unrecoverable")

// repairer holds the open file and decoded state threaded through the
// algorithm's steps.
type repairer struct {
	f         *os.File
	devHeader ckd.DeviceHeader
	header    ckd.CompressedHeader
	l1        []uint32
	geom      ckd.Geometry
	totalTrks uint32
	level     int
	st        *spaceTable
	report    Report
}

// Repair runs the CKD repair engine against the image at path at the
// requested check level, returning a summary of what it changed. Any
// structural error found during validation forces the effective level
// up to at least LevelDefault (spec §4.3, "Check levels").
func Repair(path string, level int) (Report, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return Report{}, err
	}
	defer f.Close()

	r := &repairer{f: f, level: level, st: newSpaceTable()}

	if err := r.fatalHeaderChecks(); err != nil {
		return Report{}, fmt.Errorf("%w: %v", ErrUnrecoverable, err)
	}

	if err := r.buildSpaceTable(); err != nil {
		return Report{}, err
	}

	if (len(r.st.recoverTracks) > 0 || len(r.st.recoverL2) > 0) && r.level < LevelDefault {
		r.level = LevelDefault
	}

	r.st.sortByPos()
	gaps, err := r.detectOverlapsAndGaps()
	if err != nil {
		return Report{}, err
	}

	if err := r.trackRecoverySweep(gaps); err != nil {
		return Report{}, err
	}

	gaps, err = r.reconstructL2Tables(gaps)
	if err != nil {
		return Report{}, err
	}

	gaps = r.healShortGaps(gaps)

	if err := r.rebuildFreeChain(gaps); err != nil {
		return Report{}, err
	}

	r.report.Clean = len(r.st.recoverTracks) == 0 && len(r.st.recoverL2) == 0

	r.header.Options &^= ckd.OptOpened
	if _, err := r.f.WriteAt(ckd.EncodeCompressedHeader(r.header), ckd.DeviceHeaderSize); err != nil {
		return r.report, err
	}

	return r.report, nil
}

// fatalHeaderChecks implements spec §4.3 step 1.
func (r *repairer) fatalHeaderChecks() error {
	devBuf := make([]byte, ckd.DeviceHeaderSize)
	if _, err := r.f.ReadAt(devBuf, 0); err != nil {
		return err
	}
	dh, err := ckd.DecodeDeviceHeader(devBuf)
	if err != nil {
		return err
	}
	if dh.Ident != ckd.DeviceIdent {
		return errors.New("bad device-header identifier")
	}
	geom, ok := ckd.LookupGeometry(dh.DeviceType)
	if !ok {
		return errors.New("unknown device type")
	}
	if dh.HeadsPerCyl != geom.HeadsPerCyl || dh.TrackSize != geom.TrackSize {
		return errors.New("heads-per-cylinder/track-size mismatch for device type")
	}

	chBuf := make([]byte, ckd.CompressedHeaderSize)
	if _, err := r.f.ReadAt(chBuf, ckd.DeviceHeaderSize); err != nil {
		return err
	}
	ch, err := ckd.DecodeCompressedHeader(chBuf)
	if err != nil {
		return err
	}
	if !ckd.ValidCylinderCount(dh.DeviceType, ch.Cylinders) {
		return ckd.ErrCylinderCount
	}
	if ch.NumL1Entries == 0 {
		return errors.New("zero L1 entry count")
	}

	l1Buf := make([]byte, ch.NumL1Entries*4)
	if _, err := r.f.ReadAt(l1Buf, ckd.DeviceHeaderSize+ckd.CompressedHeaderSize); err != nil {
		return err
	}

	r.devHeader = dh
	r.header = ch
	r.geom = geom
	r.l1 = ckd.DecodeL1Table(l1Buf, int(ch.NumL1Entries), ch.BigEndian())
	r.totalTrks = ch.Cylinders * dh.HeadsPerCyl
	return nil
}
