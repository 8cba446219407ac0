/*
 * S370 - Minimal CPU register file for privileged control-transfer
 * instructions.
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

// Package cpu carries exactly the register-file shape that the
// linkage-stack and cross-memory instructions (internal/lsx) need: 16
// general registers, 16 access registers, 16 control registers and a
// PSW. It deliberately does not carry a full S/370 instruction
// interpreter state the way the teacher's emu/cpu.cpudefs does -- that
// interpreter is out of scope (spec.md §1). Extended with the
// ESA/390 access registers and ASN fields that S/370-only register
// files lack, since LSX needs them for PC/PT/PR.
package cpu

// Control-register indices LSX reads and writes directly, named rather
// than left as bare integers at call sites.
const (
	CR0  = 0  // ASF and other architectural-mode controls
	CR1  = 1  // primary STD
	CR3  = 3  // PSW key mask (high half) / SASN (low half)
	CR4  = 4  // EAX (high half) / PASN (low half)
	CR5  = 5  // linkage-table designation (or primary ASTE origin, ASF on)
	CR7  = 7  // secondary STD
	CR14 = 14 // AFX origin/length, machine-check controls
	CR15 = 15 // linkage-stack entry address
)

// CR0 bit 15 (low-order bit of byte 1): address-space-function control.
const CR0ASF uint32 = 0x00010000

// Further CR0 control bits SAC/IAC/PT consult.
const (
	CR0SecSpace uint32 = 0x00000002 // secondary-space control
	CR0ExtAuth  uint32 = 0x00000004 // extraction-authority control
)

// CR14 bit 12: ASN-translation control, gating whether PR/PT may
// perform ASN translation at all (xmem.c's CR14_ASN_TRAN).
const CR14ASNTran uint32 = 0x00080000

// CR13 is the home-space STD, read by space-switch-event detection
// when switching into or out of home-space mode.
const CR13 = 13

// PSW is the subset of program-status-word fields a linkage-stack entry
// carries: the 8-byte "old PSW" of spec §4.4's stack entry layout. Key,
// AMWP and the interruption-code fields are not modeled since no
// program-check dispatcher in this module inspects them; only the bits
// LSX's own invariants need (PER-mode preservation across PR, the
// instruction address PC/PR/BAKR substitute) are carried explicitly.
type PSW struct {
	PERMode  bool
	Problem  bool
	Amode31  bool // 1 if running in 31-bit addressing mode (ESA/390)
	InstAddr uint32

	// Mode is the address-space-control mode SAC/IAC operate on: 0
	// primary, 1 AR-mode, 2 secondary, 3 home. Not part of the 8-byte
	// linkage-stack PSW encoding (it is carried in the PSW's own
	// control bits, outside the 8 bytes spec §4.4 allots the stack
	// entry's "old PSW" field); Encode/DecodePSW leave it untouched.
	Mode uint8
}

const (
	ModePrimary   uint8 = 0
	ModeARMode    uint8 = 1
	ModeSecondary uint8 = 2
	ModeHome      uint8 = 3
)

// Encode packs a PSW into the 8-byte linkage-stack representation (spec
// §4.4, "old PSW (8)"): byte 0 bit 6 is PER-mode, byte 1 bit 4 is the
// problem-state bit, and the low-order 31 bits of the last fullword are
// the instruction address with bit 0 of that word set when Amode31 is
// in effect.
func (p PSW) Encode() [8]byte {
	var b [8]byte
	if p.PERMode {
		b[0] |= 0x40
	}
	if p.Problem {
		b[1] |= 0x10
	}
	addr := p.InstAddr & 0x7fffffff
	if p.Amode31 {
		addr |= 0x80000000
	}
	b[4] = byte(addr >> 24)
	b[5] = byte(addr >> 16)
	b[6] = byte(addr >> 8)
	b[7] = byte(addr)
	return b
}

// DecodePSW is the inverse of Encode.
func DecodePSW(b [8]byte) PSW {
	word := uint32(b[4])<<24 | uint32(b[5])<<16 | uint32(b[6])<<8 | uint32(b[7])
	return PSW{
		PERMode:  b[0]&0x40 != 0,
		Problem:  b[1]&0x10 != 0,
		Amode31:  word&0x80000000 != 0,
		InstAddr: word & 0x7fffffff,
	}
}

// State is the CPU register context LSX operates on.
type State struct {
	GPR [16]uint32
	AR  [16]uint32
	CR  [16]uint32
	PSW PSW
}

// PKM returns the PSW key mask (CR3 bits 0-15).
func (s *State) PKM() uint16 { return uint16(s.CR[CR3] >> 16) }

// SetPKM sets the PSW key mask (CR3 bits 0-15).
func (s *State) SetPKM(v uint16) { s.CR[CR3] = uint32(v)<<16 | (s.CR[CR3] & 0xffff) }

// SASN returns the secondary ASN (CR3 bits 16-31).
func (s *State) SASN() uint16 { return uint16(s.CR[CR3]) }

// SetSASN sets the secondary ASN (CR3 bits 16-31).
func (s *State) SetSASN(v uint16) { s.CR[CR3] = (s.CR[CR3] &^ 0xffff) | uint32(v) }

// EAX returns the extended authorization index (CR4 bits 0-15).
func (s *State) EAX() uint16 { return uint16(s.CR[CR4] >> 16) }

// SetEAX sets the extended authorization index (CR4 bits 0-15).
func (s *State) SetEAX(v uint16) { s.CR[CR4] = uint32(v)<<16 | (s.CR[CR4] & 0xffff) }

// PASN returns the primary ASN (CR4 bits 16-31).
func (s *State) PASN() uint16 { return uint16(s.CR[CR4]) }

// SetPASN sets the primary ASN (CR4 bits 16-31).
func (s *State) SetPASN(v uint16) { s.CR[CR4] = (s.CR[CR4] &^ 0xffff) | uint32(v) }

// ASF reports whether the address-space-function control (CR0 bit 15)
// is enabled; LSX's stacking instructions require it.
func (s *State) ASF() bool { return s.CR[CR0]&CR0ASF != 0 }

// LinkageStackEntryAddr returns CR15's stack-entry address field.
func (s *State) LinkageStackEntryAddr() uint32 { return s.CR[CR15] & 0x7ffffff8 }

// SetLinkageStackEntryAddr updates CR15's stack-entry address field.
func (s *State) SetLinkageStackEntryAddr(addr uint32) { s.CR[CR15] = addr & 0x7ffffff8 }
