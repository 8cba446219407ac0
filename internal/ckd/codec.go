/*
 * S370 - Compressed-CKD binary (de)serialization and track codecs.
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
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/zlib"
)

// Exported wrappers let the repair engine (package ckdrepair) decode and
// re-encode the same on-disk structures Volume uses, without assuming
// the file is already internally consistent the way Open does.

// DecodeDeviceHeader parses the 512-byte plain device header.
func DecodeDeviceHeader(b []byte) (DeviceHeader, error) { return decodeDeviceHeader(b) }

// EncodeDeviceHeader renders h as its 512-byte on-disk form.
func EncodeDeviceHeader(h DeviceHeader) []byte { return encodeDeviceHeader(h) }

// DecodeCompressedHeader parses the 512-byte compressed device header.
func DecodeCompressedHeader(b []byte) (CompressedHeader, error) { return decodeCompressedHeader(b) }

// EncodeCompressedHeader renders h as its 512-byte on-disk form.
func EncodeCompressedHeader(h CompressedHeader) []byte { return encodeCompressedHeader(h) }

// DecodeL1Table parses an n-entry level-1 table.
func DecodeL1Table(b []byte, n int, bigEndian bool) []uint32 { return decodeL1Table(b, n, bigEndian) }

// EncodeL1Table renders t as its on-disk form.
func EncodeL1Table(t []uint32, bigEndian bool) []byte { return encodeL1Table(t, bigEndian) }

// DecodeL2Table parses a 256-entry level-2 table.
func DecodeL2Table(b []byte, bigEndian bool) [L2Entries]L2Entry { return decodeL2Table(b, bigEndian) }

// EncodeL2Table renders t as its on-disk form.
func EncodeL2Table(t [L2Entries]L2Entry, bigEndian bool) []byte { return encodeL2Table(t, bigEndian) }

// DecodeFreeBlock parses one 8-byte free-chain block header.
func DecodeFreeBlock(b []byte, bigEndian bool) FreeBlock { return decodeFreeBlock(b, bigEndian) }

// EncodeFreeBlock renders f as its 8-byte on-disk form.
func EncodeFreeBlock(f FreeBlock, bigEndian bool) []byte { return encodeFreeBlock(f, bigEndian) }

// DecompressTrack reverses the track codec named by comp.
func DecompressTrack(comp uint8, stored []byte) ([]byte, error) { return decompressTrack(comp, stored) }

// CompressTrack compresses plain with the codec named by comp.
func CompressTrack(comp uint8, plain []byte) ([]byte, error) { return compressTrack(comp, plain) }

func byteOrder(bigEndian bool) binary.ByteOrder {
	if bigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

func decodeDeviceHeader(b []byte) (DeviceHeader, error) {
	if len(b) < DeviceHeaderSize {
		return DeviceHeader{}, errors.New("ckd: short device header")
	}
	var h DeviceHeader
	copy(h.Ident[:], b[0:8])
	h.DeviceType = b[8]
	h.HeadsPerCyl = binary.LittleEndian.Uint32(b[9:13])
	h.TrackSize = binary.LittleEndian.Uint32(b[13:17])
	return h, nil
}

func encodeDeviceHeader(h DeviceHeader) []byte {
	b := make([]byte, DeviceHeaderSize)
	copy(b[0:8], h.Ident[:])
	b[8] = h.DeviceType
	binary.LittleEndian.PutUint32(b[9:13], h.HeadsPerCyl)
	binary.LittleEndian.PutUint32(b[13:17], h.TrackSize)
	return b
}

func decodeCompressedHeader(b []byte) (CompressedHeader, error) {
	if len(b) < CompressedHeaderSize {
		return CompressedHeader{}, errors.New("ckd: short compressed header")
	}
	var h CompressedHeader
	h.Options = b[0]
	order := byteOrder(h.BigEndian())
	h.Cylinders = order.Uint32(b[1:5])
	h.NumL1Entries = order.Uint32(b[5:9])
	h.FreeHead = order.Uint32(b[9:13])
	h.FreeCount = order.Uint32(b[13:17])
	h.FreeTotal = order.Uint32(b[17:21])
	h.FreeImbed = order.Uint32(b[21:25])
	h.FreeLargest = order.Uint32(b[25:29])
	h.FileSize = order.Uint32(b[29:33])
	h.BytesUsed = order.Uint32(b[33:37])
	return h, nil
}

func encodeCompressedHeader(h CompressedHeader) []byte {
	b := make([]byte, CompressedHeaderSize)
	b[0] = h.Options
	order := byteOrder(h.BigEndian())
	order.PutUint32(b[1:5], h.Cylinders)
	order.PutUint32(b[5:9], h.NumL1Entries)
	order.PutUint32(b[9:13], h.FreeHead)
	order.PutUint32(b[13:17], h.FreeCount)
	order.PutUint32(b[17:21], h.FreeTotal)
	order.PutUint32(b[21:25], h.FreeImbed)
	order.PutUint32(b[25:29], h.FreeLargest)
	order.PutUint32(b[29:33], h.FileSize)
	order.PutUint32(b[33:37], h.BytesUsed)
	return b
}

func decodeL1Table(b []byte, n int, bigEndian bool) []uint32 {
	order := byteOrder(bigEndian)
	out := make([]uint32, n)
	for i := 0; i < n; i++ {
		out[i] = order.Uint32(b[i*4 : i*4+4])
	}
	return out
}

func encodeL1Table(t []uint32, bigEndian bool) []byte {
	order := byteOrder(bigEndian)
	b := make([]byte, len(t)*4)
	for i, v := range t {
		order.PutUint32(b[i*4:i*4+4], v)
	}
	return b
}

func decodeL2Table(b []byte, bigEndian bool) [L2Entries]L2Entry {
	order := byteOrder(bigEndian)
	var t [L2Entries]L2Entry
	for i := 0; i < L2Entries; i++ {
		off := i * L2EntrySize
		t[i] = L2Entry{
			Offset: order.Uint32(b[off : off+4]),
			Length: order.Uint32(b[off+4 : off+8]),
			Size:   order.Uint32(b[off+8 : off+12]),
		}
	}
	return t
}

func encodeL2Table(t [L2Entries]L2Entry, bigEndian bool) []byte {
	order := byteOrder(bigEndian)
	b := make([]byte, L2TableSize)
	for i, e := range t {
		off := i * L2EntrySize
		order.PutUint32(b[off:off+4], e.Offset)
		order.PutUint32(b[off+4:off+8], e.Length)
		order.PutUint32(b[off+8:off+12], e.Size)
	}
	return b
}

func decodeFreeBlock(b []byte, bigEndian bool) FreeBlock {
	order := byteOrder(bigEndian)
	return FreeBlock{Next: order.Uint32(b[0:4]), Length: order.Uint32(b[4:8])}
}

func encodeFreeBlock(f FreeBlock, bigEndian bool) []byte {
	order := byteOrder(bigEndian)
	b := make([]byte, FreeBlockSize)
	order.PutUint32(b[0:4], f.Next)
	order.PutUint32(b[4:8], f.Length)
	return b
}

// compressTrack compresses plain (the uncompressed CKD track image)
// using the codec named by comp (spec §3, Track Image).
func compressTrack(comp uint8, plain []byte) ([]byte, error) {
	switch comp {
	case CompNone:
		return plain, nil
	case CompZlib:
		var buf bytes.Buffer
		w := zlib.NewWriter(&buf)
		if _, err := w.Write(plain); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case CompBzip2:
		var buf bytes.Buffer
		w, err := bzip2.NewWriter(&buf, nil)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(plain); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("ckd: unsupported compression code %d", comp)
	}
}

// decompressTrack reverses compressTrack.
func decompressTrack(comp uint8, stored []byte) ([]byte, error) {
	switch comp {
	case CompNone:
		return stored, nil
	case CompZlib:
		r, err := zlib.NewReader(bytes.NewReader(stored))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	case CompBzip2:
		r, err := bzip2.NewReader(bytes.NewReader(stored), nil)
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	default:
		return nil, fmt.Errorf("ckd: unsupported compression code %d", comp)
	}
}
