/*
 * S370 - Compressed-CKD on-disk format constants and header layouts.
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

// Package ckd implements the compressed-CKD (Count-Key-Data) DASD image
// store (spec §4.2): device header, level-1/level-2 lookup tables,
// per-track compressed payloads, and the free-space chain. Binary
// layouts follow the teacher's fixed-width wire encoding style in
// config/configparser and util/tape, using encoding/binary rather than
// a struct-tag marshaler (no such library appears anywhere in the
// example pack).
package ckd

import "errors"

const (
	// DeviceHeaderSize is the size of the plain (uncompressed-format)
	// device header at file offset 0 (spec §3, Compressed-CKD Image
	// File).
	DeviceHeaderSize = 512
	// CompressedHeaderSize is the size of the compressed device header
	// immediately following the device header.
	CompressedHeaderSize = 512
	// L2Entries is the fixed size of a level-2 table.
	L2Entries = 256
	// L2EntrySize is the on-disk size of one L2TAB entry: offset,
	// length, size, each a 32-bit field.
	L2EntrySize = 12
	// L2TableSize is the on-disk size of a complete L2 table.
	L2TableSize = L2Entries * L2EntrySize
	// FreeBlockSize is the size of a free-chain block header.
	FreeBlockSize = 8
	// TrackHeaderSize is the fixed prefix of a track image: compression
	// byte, 2-byte cylinder, 2-byte head.
	TrackHeaderSize = 5
)

// DeviceIdent is the device-header identifier literal (spec §3).
var DeviceIdent = [8]byte{'C', 'K', 'D', '_', 'C', '3', '7', '0'}

// Option bits in the compressed device header's options byte.
const (
	OptBigEndian uint8 = 0x80 // on-disk multi-byte fields are big-endian
	OptOpened    uint8 = 0x01 // volume was open for write at last close
)

// Compression codes in a track image's header byte.
const (
	CompNone  uint8 = 0
	CompZlib  uint8 = 1
	CompBzip2 uint8 = 2
	CompMax   uint8 = CompBzip2
)

// Geometry is the allowed cylinder-count range for a supported device
// type (spec SPEC_FULL §4.2, "Geometry table"). Values reproduce the
// device families the original cckdutil/dasdutil tooling supports;
// spec.md names the check but not the table.
type Geometry struct {
	DeviceType   uint8
	Name         string
	HeadsPerCyl  uint32
	TrackSize    uint32
	MinCylinders uint32
	MaxCylinders uint32
}

// Known device geometries, keyed by device-type byte as stored in the
// plain device header.
var geometries = map[uint8]Geometry{
	0x30: {DeviceType: 0x30, Name: "3330", HeadsPerCyl: 19, TrackSize: 13165, MinCylinders: 1, MaxCylinders: 411},
	0x50: {DeviceType: 0x50, Name: "3350", HeadsPerCyl: 30, TrackSize: 19069, MinCylinders: 1, MaxCylinders: 555},
	0x80: {DeviceType: 0x80, Name: "3380", HeadsPerCyl: 15, TrackSize: 47476, MinCylinders: 1, MaxCylinders: 2655},
	0x90: {DeviceType: 0x90, Name: "3390", HeadsPerCyl: 15, TrackSize: 57326, MinCylinders: 1, MaxCylinders: 65520},
}

// ErrUnknownDeviceType reports a device-type byte with no known
// geometry table entry.
var ErrUnknownDeviceType = errors.New("ckd: unknown device type")

// ErrCylinderCount reports a cylinder count outside the device type's
// allowed range (spec §4.3, fatal header checks).
var ErrCylinderCount = errors.New("ckd: cylinder count out of range for device type")

// LookupGeometry returns the geometry table entry for devType.
func LookupGeometry(devType uint8) (Geometry, bool) {
	g, ok := geometries[devType]
	return g, ok
}

// ValidCylinderCount reports whether cyls is within devType's allowed
// range.
func ValidCylinderCount(devType uint8, cyls uint32) bool {
	g, ok := geometries[devType]
	if !ok {
		return false
	}
	return cyls >= g.MinCylinders && cyls <= g.MaxCylinders
}

// DeviceHeader is the plain (first, uncompressed-meaning) 512-byte
// header (spec §3).
type DeviceHeader struct {
	Ident       [8]byte
	DeviceType  uint8
	HeadsPerCyl uint32
	TrackSize   uint32
}

// CompressedHeader is the 512-byte compressed device header (spec §3).
type CompressedHeader struct {
	Options      uint8
	Cylinders    uint32
	NumL1Entries uint32
	FreeHead     uint32
	FreeCount    uint32
	FreeTotal    uint32
	FreeImbed    uint32
	FreeLargest  uint32
	FileSize     uint32
	BytesUsed    uint32
}

// BigEndian reports whether this image's on-disk multi-byte header and
// table fields are big-endian.
func (h CompressedHeader) BigEndian() bool { return h.Options&OptBigEndian != 0 }

// Opened reports the opened-bit (spec §4.2, Open/Close lifecycle).
func (h CompressedHeader) Opened() bool { return h.Options&OptOpened != 0 }

// L2Entry is one entry of a level-2 table (spec §3).
type L2Entry struct {
	Offset uint32 // 0 means track absent
	Length uint32 // stored (compressed) length
	Size   uint32 // allocated size, >= Length
}

// Absent reports whether this track has never been written.
func (e L2Entry) Absent() bool { return e.Offset == 0 }

// FreeBlock is one entry of the on-disk free-space chain (spec §3).
type FreeBlock struct {
	Next   uint32 // next-free offset, 0 = last
	Length uint32 // length including the 8-byte header itself
}
