/*
 * S370 - CKD physical track-image layout: home address, R0, records.
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
	"bytes"
	"errors"
)

// recordTerminator is the eight 0xFF bytes marking the end of a
// track's record chain (spec §3, Track Image).
var recordTerminator = [8]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// Record is one key-data record of an uncompressed CKD track (record 0
// is the special, always-present, key-less 8-byte record; records 1..n
// carry the real data).
type Record struct {
	Cyl     uint16
	Head    uint16
	RecNum  uint8
	Key     []byte
	Data    []byte
}

// Track is the fully decoded, uncompressed content of one CKD track
// (spec §3: home address + record 0 + records 1..n + terminator).
type Track struct {
	Cyl     uint16
	Head    uint16
	Records []Record // Records[0] is record 0
}

var errTruncatedTrack = errors.New("ckd: truncated track image")
var errBadHomeAddress = errors.New("ckd: home address flag byte not zero")

// EmptyTrack builds a freshly initialized track containing only the
// home address and record 0, as returned for an L2 entry whose track
// has never been written (spec §4.2, Addressing).
func EmptyTrack(cyl, head uint16) Track {
	return Track{
		Cyl: cyl,
		Head: head,
		Records: []Record{
			{Cyl: cyl, Head: head, RecNum: 0, Key: nil, Data: make([]byte, 8)},
		},
	}
}

// Encode renders t as the uncompressed byte stream described in spec
// §3 "Track Image": a 5-byte home address (flag byte zero, then (cyl,
// head) big-endian), then each record as (cyl, head, recnum, keylen,
// datalen, key, data), terminated by eight 0xFF bytes.
func (t Track) Encode() []byte {
	out := make([]byte, 0, 256)
	out = append(out, 0, byte(t.Cyl>>8), byte(t.Cyl), byte(t.Head>>8), byte(t.Head))
	for _, r := range t.Records {
		out = append(out, byte(r.Cyl>>8), byte(r.Cyl), byte(r.Head>>8), byte(r.Head))
		out = append(out, r.RecNum, uint8(len(r.Key)), byte(len(r.Data)>>8), byte(len(r.Data)))
		out = append(out, r.Key...)
		out = append(out, r.Data...)
	}
	out = append(out, recordTerminator[:]...)
	return out
}

// DecodeTrack parses the byte stream produced by Encode, stopping at
// the first terminator found. Bytes after the terminator are ignored;
// ValidateTrackImage uses the unexported decodeTrack, which also
// returns the number of bytes consumed (home address through
// terminator, inclusive), to reject trailing bytes.
func DecodeTrack(b []byte) (Track, error) {
	t, _, err := decodeTrack(b)
	return t, err
}

func decodeTrack(b []byte) (Track, int, error) {
	if len(b) < 5 {
		return Track{}, 0, errTruncatedTrack
	}
	if b[0] != 0 {
		return Track{}, 0, errBadHomeAddress
	}
	t := Track{
		Cyl:  uint16(b[1])<<8 | uint16(b[2]),
		Head: uint16(b[3])<<8 | uint16(b[4]),
	}
	pos := 5
	for {
		if pos+8 <= len(b) && bytes.Equal(b[pos:pos+8], recordTerminator[:]) {
			return t, pos + 8, nil
		}
		if pos+8 > len(b) {
			return Track{}, 0, errTruncatedTrack
		}
		cyl := uint16(b[pos])<<8 | uint16(b[pos+1])
		head := uint16(b[pos+2])<<8 | uint16(b[pos+3])
		recNum := b[pos+4]
		keyLen := int(b[pos+5])
		dataLen := int(b[pos+6])<<8 | int(b[pos+7])
		pos += 8
		if pos+keyLen+dataLen > len(b) {
			return Track{}, 0, errTruncatedTrack
		}
		rec := Record{Cyl: cyl, Head: head, RecNum: recNum}
		if keyLen > 0 {
			rec.Key = append([]byte(nil), b[pos:pos+keyLen]...)
		}
		rec.Data = append([]byte(nil), b[pos+keyLen:pos+keyLen+dataLen]...)
		pos += keyLen + dataLen
		t.Records = append(t.Records, rec)
	}
}

// ValidateTrackImage implements the track-image validator referenced
// by CRE at check level >= 3 (spec §4.3 step 2, matching
// original_source/cckdcdsk.c:cdsk_valid_trk): the home address flag
// byte must be zero, record 0 must be present with zero key length and
// an 8-byte data length, every subsequent record's (cyl, head) must
// match the home address, record numbers must run sequentially from
// 1 with no gaps or repeats, and the terminator must exactly coincide with the end of b. No
// trailing bytes are tolerated, since CRE's trial-length bracketing
// (spec §4.3 step 6) depends on over-long trial lengths being rejected.
func ValidateTrackImage(b []byte, maxCyl, headsPerCyl uint32) bool {
	t, consumed, err := decodeTrack(b)
	if err != nil {
		return false
	}
	if consumed != len(b) {
		return false
	}
	if uint32(t.Cyl) >= maxCyl || uint32(t.Head) >= headsPerCyl {
		return false
	}
	if len(t.Records) == 0 || t.Records[0].RecNum != 0 {
		return false
	}
	if len(t.Records[0].Key) != 0 || len(t.Records[0].Data) != 8 {
		return false
	}
	prev := uint8(0)
	for i, r := range t.Records {
		if r.Cyl != t.Cyl || r.Head != t.Head {
			return false
		}
		if i == 0 {
			continue
		}
		if r.RecNum != prev+1 {
			return false
		}
		prev = r.RecNum
	}
	return true
}
