/*
 * S370 - Compressed-CKD volume: open/close lifecycle and track I/O.
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
	"errors"
	"fmt"
	"os"
	"sync"
)

// ErrTrackOutOfRange reports a (cyl, head) outside the volume's
// configured geometry.
var ErrTrackOutOfRange = errors.New("ckd: track out of range")

// Volume is one open compressed-CKD image (spec §4.2). All mutating
// operations serialize through mu; CHS device handlers built on top of
// Volume call it from their own execution-task goroutine, so Volume
// itself need not be lock-free.
type Volume struct {
	mu sync.Mutex

	f    *os.File
	path string

	devHeader DeviceHeader
	header    CompressedHeader
	l1        []uint32
	geom      Geometry

	// DefaultCompression selects the codec used for newly written
	// tracks (spec §4.2, Track write).
	DefaultCompression uint8
}

// Open opens an existing compressed-CKD image and sets its opened bit
// (spec §4.2, Open/Close lifecycle).
func Open(path string) (*Volume, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	v := &Volume{f: f, path: path, DefaultCompression: CompZlib}
	if err := v.readHeaders(); err != nil {
		f.Close()
		return nil, err
	}
	v.header.Options |= OptOpened
	if err := v.writeCompressedHeader(); err != nil {
		f.Close()
		return nil, err
	}
	return v, nil
}

// Create initializes a new compressed-CKD image with cyls cylinders of
// geom's geometry, all tracks absent (L1/L2 entries zero), and opens
// it.
func Create(path string, geom Geometry, cyls uint32, comp uint8) (*Volume, error) {
	if !ValidCylinderCount(geom.DeviceType, cyls) {
		return nil, ErrCylinderCount
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}

	numL1 := (cyls*geom.HeadsPerCyl + 255) / 256
	v := &Volume{
		f:    f,
		path: path,
		devHeader: DeviceHeader{
			Ident:       DeviceIdent,
			DeviceType:  geom.DeviceType,
			HeadsPerCyl: geom.HeadsPerCyl,
			TrackSize:   geom.TrackSize,
		},
		header: CompressedHeader{
			Options:      OptOpened,
			Cylinders:    cyls,
			NumL1Entries: numL1,
		},
		l1:                  make([]uint32, numL1),
		geom:                geom,
		DefaultCompression:  comp,
	}

	l1Offset := DeviceHeaderSize + CompressedHeaderSize
	fileEnd := uint32(l1Offset) + numL1*4
	v.header.FreeHead = 0
	v.header.FileSize = fileEnd
	v.header.BytesUsed = fileEnd

	if err := v.writeAll(); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Truncate(int64(fileEnd)); err != nil {
		f.Close()
		return nil, err
	}
	return v, nil
}

func (v *Volume) writeAll() error {
	if _, err := v.f.WriteAt(encodeDeviceHeader(v.devHeader), 0); err != nil {
		return err
	}
	if err := v.writeCompressedHeader(); err != nil {
		return err
	}
	l1Offset := int64(DeviceHeaderSize + CompressedHeaderSize)
	if _, err := v.f.WriteAt(encodeL1Table(v.l1, v.header.BigEndian()), l1Offset); err != nil {
		return err
	}
	return nil
}

func (v *Volume) writeCompressedHeader() error {
	_, err := v.f.WriteAt(encodeCompressedHeader(v.header), DeviceHeaderSize)
	return err
}

func (v *Volume) readHeaders() error {
	devBuf := make([]byte, DeviceHeaderSize)
	if _, err := v.f.ReadAt(devBuf, 0); err != nil {
		return fmt.Errorf("ckd: reading device header: %w", err)
	}
	dh, err := decodeDeviceHeader(devBuf)
	if err != nil {
		return err
	}
	if dh.Ident != DeviceIdent {
		return errors.New("ckd: bad device-header identifier")
	}
	v.devHeader = dh

	geom, ok := LookupGeometry(dh.DeviceType)
	if !ok {
		return ErrUnknownDeviceType
	}
	v.geom = geom

	chBuf := make([]byte, CompressedHeaderSize)
	if _, err := v.f.ReadAt(chBuf, DeviceHeaderSize); err != nil {
		return fmt.Errorf("ckd: reading compressed header: %w", err)
	}
	ch, err := decodeCompressedHeader(chBuf)
	if err != nil {
		return err
	}
	if !ValidCylinderCount(dh.DeviceType, ch.Cylinders) {
		return ErrCylinderCount
	}
	v.header = ch

	l1Buf := make([]byte, ch.NumL1Entries*4)
	if _, err := v.f.ReadAt(l1Buf, DeviceHeaderSize+CompressedHeaderSize); err != nil {
		return fmt.Errorf("ckd: reading L1 table: %w", err)
	}
	v.l1 = decodeL1Table(l1Buf, int(ch.NumL1Entries), ch.BigEndian())
	v.DefaultCompression = CompZlib
	return nil
}

// Close clears the opened bit and flushes header statistics. Close
// always attempts the best-effort flush even when an earlier operation
// failed, and returns the header-write error (or else the file-close
// error) rather than panicking (spec SPEC_FULL §4.2).
func (v *Volume) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.header.Options &^= OptOpened
	writeErr := v.writeCompressedHeader()
	closeErr := v.f.Close()
	if writeErr != nil {
		return writeErr
	}
	return closeErr
}

// Geometry returns the volume's device geometry.
func (v *Volume) Geometry() Geometry { return v.geom }

// Cylinders returns the volume's configured cylinder count.
func (v *Volume) Cylinders() uint32 { return v.header.Cylinders }

// trackNumber computes the absolute track number T = cyl*heads + head
// (spec §4.2, Addressing).
func (v *Volume) trackNumber(cyl, head uint32) (uint32, error) {
	if cyl >= v.header.Cylinders || head >= v.devHeader.HeadsPerCyl {
		return 0, ErrTrackOutOfRange
	}
	return cyl*v.devHeader.HeadsPerCyl + head, nil
}

func (v *Volume) l2TableOffset(trk uint32) uint32 {
	l1i := trk >> 8
	if int(l1i) >= len(v.l1) {
		return 0
	}
	return v.l1[l1i]
}

func (v *Volume) readL2Table(offset uint32) ([L2Entries]L2Entry, error) {
	buf := make([]byte, L2TableSize)
	if _, err := v.f.ReadAt(buf, int64(offset)); err != nil {
		return [L2Entries]L2Entry{}, err
	}
	return decodeL2Table(buf, v.header.BigEndian()), nil
}

func (v *Volume) writeL2Entry(l2Offset uint32, idx int, e L2Entry) error {
	buf := encodeL2Entry(e, v.header.BigEndian())
	_, err := v.f.WriteAt(buf, int64(l2Offset)+int64(idx*L2EntrySize))
	return err
}

// EncodeL2Entry renders a single L2TAB entry as its 12-byte on-disk
// form, for callers (such as package ckdrepair) that patch one entry
// in place rather than rewriting the whole table.
func EncodeL2Entry(e L2Entry, bigEndian bool) []byte { return encodeL2Entry(e, bigEndian) }

func encodeL2Entry(e L2Entry, bigEndian bool) []byte {
	order := byteOrder(bigEndian)
	b := make([]byte, L2EntrySize)
	order.PutUint32(b[0:4], e.Offset)
	order.PutUint32(b[4:8], e.Length)
	order.PutUint32(b[8:12], e.Size)
	return b
}

// ReadTrack implements spec §4.2 "Track read". A track whose L1 or L2
// entry is absent returns a freshly initialized empty track.
func (v *Volume) ReadTrack(cyl, head uint32) (Track, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	trk, err := v.trackNumber(cyl, head)
	if err != nil {
		return Track{}, err
	}

	l2Offset := v.l2TableOffset(trk)
	if l2Offset == 0 {
		return EmptyTrack(uint16(cyl), uint16(head)), nil
	}
	l2, err := v.readL2Table(l2Offset)
	if err != nil {
		return Track{}, err
	}
	entry := l2[trk&0xff]
	if entry.Absent() {
		return EmptyTrack(uint16(cyl), uint16(head)), nil
	}

	stored := make([]byte, entry.Length)
	if _, err := v.f.ReadAt(stored, int64(entry.Offset)); err != nil {
		return Track{}, err
	}
	comp := stored[0]
	plain, err := decompressTrack(comp, stored[TrackHeaderSize:])
	if err != nil {
		return Track{}, err
	}
	return DecodeTrack(plain)
}

// WriteTrack implements spec §4.2 "Track write": compress with the
// volume's default codec; overwrite in place if the existing
// allocation is large enough (tracking the surplus as imbedded free
// space); otherwise free the old allocation and allocate from the free
// chain by first fit, extending the file if nothing suffices. The L2
// entry is rewritten only after the payload itself has been persisted.
func (v *Volume) WriteTrack(cyl, head uint32, t Track) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	trk, err := v.trackNumber(cyl, head)
	if err != nil {
		return err
	}

	plain := t.Encode()
	comp := v.DefaultCompression
	compressed, err := compressTrack(comp, plain)
	if err != nil {
		return err
	}
	stored := make([]byte, TrackHeaderSize+len(compressed))
	stored[0] = comp
	stored[1], stored[2] = byte(cyl>>8), byte(cyl)
	stored[3], stored[4] = byte(head>>8), byte(head)
	copy(stored[TrackHeaderSize:], compressed)

	l1i := trk >> 8
	for int(l1i) >= len(v.l1) {
		v.l1 = append(v.l1, 0)
		v.header.NumL1Entries = uint32(len(v.l1))
	}

	l2Offset := v.l1[l1i]
	if l2Offset == 0 {
		l2Offset, err = v.allocate(L2TableSize)
		if err != nil {
			return err
		}
		empty := [L2Entries]L2Entry{}
		if _, err := v.f.WriteAt(encodeL2Table(empty, v.header.BigEndian()), int64(l2Offset)); err != nil {
			return err
		}
		v.l1[l1i] = l2Offset
		l1Base := int64(DeviceHeaderSize + CompressedHeaderSize)
		if _, err := v.f.WriteAt(encodeL1Table(v.l1, v.header.BigEndian())[l1i*4:l1i*4+4], l1Base+int64(l1i)*4); err != nil {
			return err
		}
	}

	l2, err := v.readL2Table(l2Offset)
	if err != nil {
		return err
	}
	idx := trk & 0xff
	old := l2[idx]
	if !old.Absent() && old.Size > old.Length {
		if oldImbed := old.Size - old.Length; v.header.FreeImbed >= oldImbed {
			v.header.FreeImbed -= oldImbed
		} else {
			v.header.FreeImbed = 0
		}
	}

	var newOffset uint32
	var newSize uint32
	if !old.Absent() && old.Size >= uint32(len(stored)) {
		newOffset = old.Offset
		newSize = old.Size
		v.header.FreeImbed += newSize - uint32(len(stored))
	} else {
		if !old.Absent() {
			v.free(old.Offset, old.Size)
		}
		newOffset, err = v.allocate(uint32(len(stored)))
		if err != nil {
			return err
		}
		newSize = uint32(len(stored))
	}

	if _, err := v.f.WriteAt(stored, int64(newOffset)); err != nil {
		return err
	}

	newEntry := L2Entry{Offset: newOffset, Length: uint32(len(stored)), Size: newSize}
	l2[idx] = newEntry
	if err := v.writeL2Entry(l2Offset, int(idx), newEntry); err != nil {
		return err
	}

	v.header.BytesUsed += uint32(len(stored))
	return v.writeCompressedHeader()
}
