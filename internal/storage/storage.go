/*
 * S370 - Main storage with typed, bounds-checked accessors.
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

// Package storage models process-wide main storage: a byte-addressable
// array plus a parallel array of per-page storage-key bytes. Unlike the
// teacher's emu/memory package, Storage is not a process-wide global: it
// is constructed explicitly and passed to whatever needs it, so tests can
// build isolated fixtures (see spec Design Notes, "Source global state").
package storage

import "errors"

// Key bit values, one byte per page.
const (
	KeyFetchProt uint8 = 0x08 // Fetch protection
	KeyRef       uint8 = 0x04 // Reference bit
	KeyChange    uint8 = 0x02 // Change bit
	KeyAccess    uint8 = 0xf0 // 4-bit access key

	// PageShift2K / PageShift4K select the storage-key page granularity.
	PageShift2K = 11
	PageShift4K = 12
)

var ErrAddressing = errors.New("storage: address out of range")

// Storage is process-wide main storage for one configured machine.
type Storage struct {
	mem       []byte
	key       []uint8
	pageShift uint
	size      uint32
}

// New allocates a Storage of sizeBytes, with one key byte per
// 1<<pageShift bytes (PageShift2K or PageShift4K).
func New(sizeBytes uint32, pageShift uint) *Storage {
	if pageShift != PageShift2K && pageShift != PageShift4K {
		pageShift = PageShift4K
	}
	nkeys := (sizeBytes + (1 << pageShift) - 1) >> pageShift
	return &Storage{
		mem:       make([]byte, sizeBytes),
		key:       make([]uint8, nkeys),
		pageShift: pageShift,
		size:      sizeBytes,
	}
}

// Size returns the configured size of storage in bytes.
func (s *Storage) Size() uint32 {
	return s.size
}

// CheckAddr reports whether addr is a valid byte address.
func (s *Storage) CheckAddr(addr uint32) bool {
	return addr < s.size
}

// CheckRange reports whether [addr, addr+length) lies entirely in bounds.
// A zero length is always in range, even when addr == Size(), avoiding
// the teacher's underflow-prone `size-length < addr` style check (see
// spec Design Notes on copy_iobuf).
func (s *Storage) CheckRange(addr uint32, length uint32) bool {
	if length == 0 {
		return addr <= s.size
	}
	if addr >= s.size {
		return false
	}
	end := addr + length
	if end < addr { // overflow
		return false
	}
	return end <= s.size
}

func (s *Storage) markRef(addr uint32) {
	s.key[addr>>s.pageShift] |= KeyRef
}

func (s *Storage) markChange(addr uint32) {
	s.key[addr>>s.pageShift] |= KeyRef | KeyChange
}

// GetByte reads one byte, updating the reference bit.
func (s *Storage) GetByte(addr uint32) (uint8, error) {
	if !s.CheckAddr(addr) {
		return 0, ErrAddressing
	}
	s.markRef(addr)
	return s.mem[addr], nil
}

// PutByte writes one byte, updating reference and change bits.
func (s *Storage) PutByte(addr uint32, v uint8) error {
	if !s.CheckAddr(addr) {
		return ErrAddressing
	}
	s.markChange(addr)
	s.mem[addr] = v
	return nil
}

// GetHalf reads a big-endian halfword.
func (s *Storage) GetHalf(addr uint32) (uint16, error) {
	if !s.CheckRange(addr, 2) {
		return 0, ErrAddressing
	}
	s.markRef(addr)
	return uint16(s.mem[addr])<<8 | uint16(s.mem[addr+1]), nil
}

// PutHalf writes a big-endian halfword.
func (s *Storage) PutHalf(addr uint32, v uint16) error {
	if !s.CheckRange(addr, 2) {
		return ErrAddressing
	}
	s.markChange(addr)
	s.mem[addr] = uint8(v >> 8)
	s.mem[addr+1] = uint8(v)
	return nil
}

// GetWord reads a big-endian fullword.
func (s *Storage) GetWord(addr uint32) (uint32, error) {
	if !s.CheckRange(addr, 4) {
		return 0, ErrAddressing
	}
	s.markRef(addr)
	return uint32(s.mem[addr])<<24 | uint32(s.mem[addr+1])<<16 |
		uint32(s.mem[addr+2])<<8 | uint32(s.mem[addr+3]), nil
}

// PutWord writes a big-endian fullword. Architecturally this must be a
// single atomic store for control fields (CCW address in SCSW, linkage
// table entries, ASTE words); callers that need that guarantee should
// serialize through the owning lock rather than relying on byte writes
// racing safely — see spec Shared-resource policy.
func (s *Storage) PutWord(addr uint32, v uint32) error {
	if !s.CheckRange(addr, 4) {
		return ErrAddressing
	}
	s.markChange(addr)
	s.mem[addr] = uint8(v >> 24)
	s.mem[addr+1] = uint8(v >> 16)
	s.mem[addr+2] = uint8(v >> 8)
	s.mem[addr+3] = uint8(v)
	return nil
}

// GetBlock copies length bytes starting at addr into a fresh slice,
// updating the reference bit for every page touched.
func (s *Storage) GetBlock(addr uint32, length uint32) ([]byte, error) {
	if !s.CheckRange(addr, length) {
		return nil, ErrAddressing
	}
	for p := addr; p < addr+length; p += 1 << s.pageShift {
		s.markRef(p)
	}
	if length == 0 {
		s.markRef(addr)
		return nil, nil
	}
	out := make([]byte, length)
	copy(out, s.mem[addr:addr+length])
	return out, nil
}

// PutBlock copies data into storage starting at addr.
func (s *Storage) PutBlock(addr uint32, data []byte) error {
	length := uint32(len(data))
	if !s.CheckRange(addr, length) {
		return ErrAddressing
	}
	for p := addr; p < addr+length; p += 1 << s.pageShift {
		s.markChange(p)
	}
	if length == 0 {
		s.markChange(addr)
		return nil
	}
	copy(s.mem[addr:addr+length], data)
	return nil
}

// GetKey returns the storage-key byte for the page containing addr.
func (s *Storage) GetKey(addr uint32) uint8 {
	if !s.CheckAddr(addr) {
		return 0
	}
	return s.key[addr>>s.pageShift]
}

// PutKey sets the storage-key byte for the page containing addr.
func (s *Storage) PutKey(addr uint32, key uint8) {
	if s.CheckAddr(addr) {
		s.key[addr>>s.pageShift] = key
	}
}

// FetchProtected reports whether a fetch with the given protect key is
// blocked by the fetch-protection bit of the page containing addr. A
// protect key of 0 always bypasses key-controlled protection.
func (s *Storage) FetchProtected(addr uint32, protectKey uint8) bool {
	if protectKey == 0 {
		return false
	}
	k := s.GetKey(addr)
	if (k & KeyFetchProt) == 0 {
		return false
	}
	return (k & KeyAccess) != (protectKey << 4)
}

// StoreProtected reports whether a store with the given protect key is
// blocked by key-controlled protection on the page containing addr.
func (s *Storage) StoreProtected(addr uint32, protectKey uint8) bool {
	if protectKey == 0 {
		return false
	}
	k := s.GetKey(addr)
	return (k & KeyAccess) != (protectKey << 4)
}

// PageShift reports the configured storage-key granularity (11 or 12).
func (s *Storage) PageShift() uint {
	return s.pageShift
}
