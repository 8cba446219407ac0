/*
 * S370 - Compressed-CKD volume tests.
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

package ckd

import (
	"path/filepath"
	"testing"
)

func newTestVolume(t *testing.T, comp uint8) *Volume {
	t.Helper()
	geom, ok := LookupGeometry(0x90)
	if !ok {
		t.Fatal("missing 3390 geometry")
	}
	path := filepath.Join(t.TempDir(), "test.ckd")
	v, err := Create(path, geom, 3, comp)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return v
}

func TestEmptyTrackOnUnwrittenVolume(t *testing.T) {
	v := newTestVolume(t, CompNone)
	defer v.Close()

	trk, err := v.ReadTrack(1, 2)
	if err != nil {
		t.Fatalf("ReadTrack: %v", err)
	}
	if len(trk.Records) != 1 || trk.Records[0].RecNum != 0 {
		t.Fatalf("expected only record 0, got %+v", trk.Records)
	}
}

func TestWriteReadTrackRoundTrip(t *testing.T) {
	for _, comp := range []uint8{CompNone, CompZlib, CompBzip2} {
		v := newTestVolume(t, comp)
		trk := Track{
			Cyl:  1,
			Head: 0,
			Records: []Record{
				{Cyl: 1, Head: 0, RecNum: 0, Data: make([]byte, 8)},
				{Cyl: 1, Head: 0, RecNum: 1, Key: []byte("KEY1"), Data: []byte("hello, track")},
				{Cyl: 1, Head: 0, RecNum: 2, Data: []byte("second record")},
			},
		}
		if err := v.WriteTrack(1, 0, trk); err != nil {
			t.Fatalf("comp=%d WriteTrack: %v", comp, err)
		}
		got, err := v.ReadTrack(1, 0)
		if err != nil {
			t.Fatalf("comp=%d ReadTrack: %v", comp, err)
		}
		if len(got.Records) != 3 {
			t.Fatalf("comp=%d expected 3 records, got %d", comp, len(got.Records))
		}
		if string(got.Records[1].Data) != "hello, track" {
			t.Fatalf("comp=%d record 1 data mismatch: %q", comp, got.Records[1].Data)
		}
		if string(got.Records[2].Data) != "second record" {
			t.Fatalf("comp=%d record 2 data mismatch: %q", comp, got.Records[2].Data)
		}
		v.Close()
	}
}

func TestWriteTrackOverwriteReusesAllocation(t *testing.T) {
	v := newTestVolume(t, CompNone)
	defer v.Close()

	big := Track{Cyl: 0, Head: 0, Records: []Record{
		{Cyl: 0, Head: 0, RecNum: 0, Data: make([]byte, 8)},
		{Cyl: 0, Head: 0, RecNum: 1, Data: make([]byte, 4000)},
	}}
	if err := v.WriteTrack(0, 0, big); err != nil {
		t.Fatalf("WriteTrack big: %v", err)
	}
	l2Offset := v.l1[0]
	l2, err := v.readL2Table(l2Offset)
	if err != nil {
		t.Fatalf("readL2Table: %v", err)
	}
	bigSize := l2[0].Size

	small := Track{Cyl: 0, Head: 0, Records: []Record{
		{Cyl: 0, Head: 0, RecNum: 0, Data: make([]byte, 8)},
	}}
	if err := v.WriteTrack(0, 0, small); err != nil {
		t.Fatalf("WriteTrack small: %v", err)
	}
	l2, err = v.readL2Table(l2Offset)
	if err != nil {
		t.Fatalf("readL2Table after overwrite: %v", err)
	}
	if l2[0].Offset != 0 && l2[0].Size != bigSize {
		t.Fatalf("expected in-place reuse with Size=%d, got %d", bigSize, l2[0].Size)
	}
}

func TestOutOfRangeTrackRejected(t *testing.T) {
	v := newTestVolume(t, CompNone)
	defer v.Close()

	if _, err := v.ReadTrack(999, 0); err != ErrTrackOutOfRange {
		t.Fatalf("expected ErrTrackOutOfRange, got %v", err)
	}
}

func TestInvalidCylinderCountRejected(t *testing.T) {
	geom, _ := LookupGeometry(0x90)
	path := filepath.Join(t.TempDir(), "bad.ckd")
	if _, err := Create(path, geom, 0, CompNone); err != ErrCylinderCount {
		t.Fatalf("expected ErrCylinderCount, got %v", err)
	}
}
