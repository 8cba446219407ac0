/*
 * S370 - CKD repair engine tests.
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
	"os"
	"path/filepath"
	"testing"

	"github.com/rcornwell/s370chan/internal/ckd"
)

func buildTestVolume(t *testing.T) string {
	t.Helper()
	geom, ok := ckd.LookupGeometry(0x90)
	if !ok {
		t.Fatal("missing 3390 geometry")
	}
	path := filepath.Join(t.TempDir(), "test.ckd")
	v, err := ckd.Create(path, geom, 3, ckd.CompNone)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	for cyl := uint32(0); cyl < 3; cyl++ {
		for head := uint32(0); head < 3; head++ {
			trk := ckd.Track{
				Cyl:  uint16(cyl),
				Head: uint16(head),
				Records: []ckd.Record{
					{Cyl: uint16(cyl), Head: uint16(head), RecNum: 0, Data: make([]byte, 8)},
					{Cyl: uint16(cyl), Head: uint16(head), RecNum: 1, Data: []byte("volume data here")},
				},
			}
			if err := v.WriteTrack(cyl, head, trk); err != nil {
				t.Fatalf("WriteTrack(%d,%d): %v", cyl, head, err)
			}
		}
	}
	if err := v.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return path
}

func TestRepairCleanVolumeReportsNoErrors(t *testing.T) {
	path := buildTestVolume(t)
	report, err := Repair(path, LevelExhaustive)
	if err != nil {
		t.Fatalf("Repair: %v", err)
	}
	if !report.Clean {
		t.Fatalf("expected clean report on an undamaged volume, got %+v", report)
	}
}

func TestRepairClearsOpenedBit(t *testing.T) {
	path := buildTestVolume(t)

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	buf := make([]byte, ckd.CompressedHeaderSize)
	if _, err := f.ReadAt(buf, ckd.DeviceHeaderSize); err != nil {
		t.Fatalf("read header: %v", err)
	}
	ch, _ := ckd.DecodeCompressedHeader(buf)
	ch.Options |= ckd.OptOpened
	if _, err := f.WriteAt(ckd.EncodeCompressedHeader(ch), ckd.DeviceHeaderSize); err != nil {
		t.Fatalf("write header: %v", err)
	}
	f.Close()

	if _, err := Repair(path, LevelDefault); err != nil {
		t.Fatalf("Repair: %v", err)
	}

	f, _ = os.Open(path)
	defer f.Close()
	f.ReadAt(buf, ckd.DeviceHeaderSize)
	ch, _ = ckd.DecodeCompressedHeader(buf)
	if ch.Opened() {
		t.Fatal("expected opened bit to be cleared after repair")
	}
}

func TestRepairRecoversDestroyedL1Entry(t *testing.T) {
	path := buildTestVolume(t)

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	l1Pos := int64(ckd.DeviceHeaderSize + ckd.CompressedHeaderSize)
	bad := make([]byte, 4)
	bad[0], bad[1], bad[2], bad[3] = 0xff, 0xff, 0xff, 0xff
	if _, err := f.WriteAt(bad, l1Pos); err != nil {
		t.Fatalf("corrupt L1[0]: %v", err)
	}
	f.Close()

	report, err := Repair(path, LevelDefault)
	if err != nil {
		t.Fatalf("Repair: %v", err)
	}
	if report.Clean {
		t.Fatal("expected repair to report damage")
	}
	if report.TracksRecovered == 0 && report.L2TablesRebuilt == 0 {
		t.Fatalf("expected some recovery activity, got %+v", report)
	}
}

func TestRepairUnrecoverableHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.ckd")
	if err := os.WriteFile(path, make([]byte, 2048), 0644); err != nil {
		t.Fatalf("write garbage file: %v", err)
	}
	if _, err := Repair(path, LevelDefault); err == nil {
		t.Fatal("expected an error repairing a file with no valid header")
	}
}
