/*
 * S370 - Linkage-stack entry layout.
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

// Package lsx implements the Linkage-Stack & Cross-Memory component
// (spec §4.4): the privileged control-transfer instructions that
// stack and unstack CPU state (BAKR/PC/PR/EREG/ESTA/MSTA) and the
// ASN-translation/subspace-group machinery PC, PT and the SSAR/LASP/
// BSA/BSG family rely on. Stack and ASTE accesses go straight through
// internal/storage's absolute addresses; this module, like the
// channel subsystem, carries no DAT/segment-translation layer of its
// own (none exists anywhere in this repo), so "stack address
// translation via the home segment table" in spec §4.4 collapses to
// the identity mapping plus the low-address-protection check that
// does not require a segment table to evaluate.
package lsx

import "github.com/rcornwell/s370chan/internal/cpu"

// EntrySize is the size in bytes of one linkage-stack state entry
// (spec §4.4: 16 GPRs + 16 ARs + PKM/SASN/EAX/PASN + old PSW + called
// address + modifiable area + entry descriptor).
const EntrySize = 168

// DescriptorSize is the size of a Linkage Stack Entry Descriptor.
const DescriptorSize = 8

// Entry type codes (LSED UET field).
const (
	EntryHeader uint8 = 0x00
	EntryBAKR   uint8 = 0x01
	EntryPC     uint8 = 0x02
)

// Descriptor is the 8-byte Linkage Stack Entry Descriptor trailing
// every section header and every state entry.
type Descriptor struct {
	EntryType         uint8  // LSED_UET_ET: Header, BAKR, or PC
	UnstackSuppressed bool   // LSED_UET_U: PR from this entry is suppressed
	SectionIndex      uint8
	RemainingFree     uint16 // bytes of free space left in this section
	NextEntrySize     uint16 // size of the entry that follows, 0 if none
}

// Encode packs a Descriptor into its 8-byte on-stack form.
func (d Descriptor) Encode() [8]byte {
	var b [8]byte
	b[0] = d.EntryType
	if d.UnstackSuppressed {
		b[0] |= 0x80
	}
	b[1] = d.SectionIndex
	b[2] = byte(d.RemainingFree >> 8)
	b[3] = byte(d.RemainingFree)
	b[6] = byte(d.NextEntrySize >> 8)
	b[7] = byte(d.NextEntrySize)
	return b
}

// DecodeDescriptor is the inverse of Descriptor.Encode.
func DecodeDescriptor(b [8]byte) Descriptor {
	return Descriptor{
		EntryType:         b[0] &^ 0x80,
		UnstackSuppressed: b[0]&0x80 != 0,
		SectionIndex:      b[1],
		RemainingFree:     uint16(b[2])<<8 | uint16(b[3]),
		NextEntrySize:     uint16(b[6])<<8 | uint16(b[7]),
	}
}

// Entry is one populated (non-header) linkage-stack entry.
type Entry struct {
	GPR      [16]uint32
	AR       [16]uint32
	PKM      uint16
	SASN     uint16
	EAX      uint16
	PASN     uint16
	OldPSW   cpu.PSW
	CallAddr uint32 // called PC number (PC) or branch address (BAKR)
	Desc     Descriptor
}

// Encode packs an Entry into its EntrySize-byte on-stack form:
// GRs (0-63), ARs (64-127), PKM/SASN/EAX/PASN (128-135), old PSW
// (136-143), called address (144-147), an 8-byte modifiable area
// (148-155) left zero, and the entry descriptor (160-167).
func (e Entry) Encode() []byte {
	b := make([]byte, EntrySize)
	for i, v := range e.GPR {
		putWord(b[i*4:], v)
	}
	for i, v := range e.AR {
		putWord(b[64+i*4:], v)
	}
	putHalf(b[128:], e.PKM)
	putHalf(b[130:], e.SASN)
	putHalf(b[132:], e.EAX)
	putHalf(b[134:], e.PASN)
	psw := e.OldPSW.Encode()
	copy(b[136:144], psw[:])
	putWord(b[144:], e.CallAddr)
	// bytes 148-155 modifiable area stay zero.
	desc := e.Desc.Encode()
	copy(b[160:168], desc[:])
	return b
}

// DecodeEntry is the inverse of Entry.Encode. b must be at least
// EntrySize bytes.
func DecodeEntry(b []byte) Entry {
	var e Entry
	for i := range e.GPR {
		e.GPR[i] = getWord(b[i*4:])
	}
	for i := range e.AR {
		e.AR[i] = getWord(b[64+i*4:])
	}
	e.PKM = getHalf(b[128:])
	e.SASN = getHalf(b[130:])
	e.EAX = getHalf(b[132:])
	e.PASN = getHalf(b[134:])
	var psw [8]byte
	copy(psw[:], b[136:144])
	e.OldPSW = cpu.DecodePSW(psw)
	e.CallAddr = getWord(b[144:])
	e.Desc = DecodeDescriptor([8]byte(b[160:168]))
	return e
}

func putWord(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func getWord(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func putHalf(b []byte, v uint16) {
	b[0] = byte(v >> 8)
	b[1] = byte(v)
}

func getHalf(b []byte) uint16 {
	return uint16(b[0])<<8 | uint16(b[1])
}
