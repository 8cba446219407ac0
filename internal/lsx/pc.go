/*
 * S370 - PC/PT/PR control-transfer instructions and the SAC/IAC/BSA
 * address-space-mode family.
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

// The instruction-level entry points LSX exposes, layering ASN
// translation, subspace replacement and space-switch-event detection
// (asn.go) on top of engine.go's stack mechanics. Grounded on
// original_source/xmem.c's program_call, program_transfer,
// program_return, set_address_space_control, insert_address_space_
// control and branch_and_set_authority. The linkage-table/entry-table
// byte layout below is this module's own invention (no header carrying
// the architectural LTD/LTE/ETE bit numbering survived the
// distillation into original_source/): it preserves the algorithm
// xmem.c describes (LX/EX split, length-bounded table walks, invalid
// bits, AKM authorization, basic-vs-stacking and non-space-switching-
// vs-space-switching PC) without claiming to be wire-compatible with
// real S/370 linkage tables.
package lsx

import "github.com/rcornwell/s370chan/internal/cpu"

// Linkage-table designation: one fullword, held directly in CR5 when
// ASF is off, or found at ASTE word asteWLTD of the primary ASTE when
// ASF is on. Bit 0 is the subsystem-linkage control; bits 1-8 are the
// maximum linkage index (MaxLX) the table holds; the rest of the word
// is the table's origin, forced to a 512-byte boundary.
const asteWLTD = 3

func decodeLTD(raw uint32) (origin uint32, maxLX uint32, ssLink bool) {
	ssLink = raw&0x1 != 0
	maxLX = (raw >> 1) & 0xff
	origin = raw &^ 0x1ff
	return
}

// Linkage-table entry: one fullword per linkage index. Bit 0 is the
// invalid bit; bits 1-8 are the entry table's maximum entry index
// (MaxEX); the rest of the word is the entry table's origin.
func decodeLTE(raw uint32) (origin uint32, maxEX uint32, invalid bool) {
	invalid = raw&0x1 != 0
	maxEX = (raw >> 1) & 0xff
	origin = raw &^ 0x1ff
	return
}

// ETE is an entry-table entry. The basic (ASF off) form occupies the
// first ETESizeBasic bytes at origin+EX*ETESizeBasic; the ASF-on form
// reserves ETESizeASF bytes per entry (the extra bytes are unused by
// this minimal model, mirroring how the architectural ASF entry table
// reserves space for fields -- authority-table entries, stacked ASTE
// info -- this engine does not separately model).
const (
	ETESizeBasic = 16
	ETESizeASF   = 32
)

type ETE struct {
	AKM    uint16 // authorization key mask
	Stack  bool   // T bit: stacking PC (push a state entry) vs basic PC
	Amode  bool   // entry instruction address is a 31-bit address
	EIA    uint32 // entry instruction address
	ASN    uint16 // target primary ASN, 0 = non-space-switching
}

func decodeETE(b []byte) ETE {
	return ETE{
		AKM:   getHalf(b[0:]),
		Stack: b[2]&0x80 != 0,
		Amode: b[2]&0x40 != 0,
		EIA:   getWord(b[4:]),
		ASN:   getHalf(b[8:]),
	}
}

// loadLTD fetches the linkage-table designation from CR5 (ASF off) or
// from the primary ASTE (ASF on), per xmem.c's program_call/program_
// transfer preamble.
func (e *Engine) loadLTD() (uint32, error) {
	if !e.Regs.ASF() {
		return e.Regs.CR[cpu.CR5], nil
	}
	asteAddr := e.Regs.CR[cpu.CR5] &^ 0x1ff
	a, err := e.absAddr(asteAddr+asteWLTD*4, false)
	if err != nil {
		return 0, err
	}
	return e.Storage.GetWord(a)
}

// lookupETE implements the LX/EX two-level linkage-table walk spec
// §4.4 describes for PC: decode pcnum into LX (upper 13 bits) and EX
// (lower 7 bits); bounds-check and fetch the LTE at LX off the
// linkage-table origin; bounds-check and fetch the ETE at EX off the
// entry-table origin the LTE names.
func (e *Engine) lookupETE(pcnum uint32) (ETE, error) {
	ltd, err := e.loadLTD()
	if err != nil {
		return ETE{}, programCheck(Addressing)
	}
	lto, maxLX, ssLink := decodeLTD(ltd)
	if !ssLink {
		return ETE{}, programCheck(SpecialOperation)
	}

	lx := (pcnum >> 7) & 0x1fff
	ex := pcnum & 0x7f
	if lx > maxLX {
		return ETE{}, programCheck(ASNTranslationLX)
	}
	lteWord, err := e.readWord(lto + lx*4)
	if err != nil {
		return ETE{}, err
	}
	eto, maxEX, invalid := decodeLTE(lteWord)
	if invalid {
		return ETE{}, programCheck(ASNTranslationLX)
	}
	if ex > maxEX {
		return ETE{}, programCheck(ASNTranslationEX)
	}

	size := ETESizeBasic
	if e.Regs.ASF() {
		size = ETESizeASF
	}
	eteAddr := eto + ex*uint32(size)
	a, err := e.absAddr(eteAddr, false)
	if err != nil {
		return ETE{}, err
	}
	b, err := e.Storage.GetBlock(a, ETESizeBasic)
	if err != nil {
		return ETE{}, programCheck(Addressing)
	}
	return decodeETE(b), nil
}

// spaceSwitchEvent reports whether either the outgoing or incoming STD
// carries the space-switch-event control bit, the condition PT and PR
// both test before reporting a space-switch event to the caller.
func spaceSwitchEvent(oldSTD, newSTD uint32) bool {
	return oldSTD&STDSSEvent != 0 || newSTD&STDSSEvent != 0
}

// ProgramCall implements PC (spec §4.4). pcnum is the 20-bit PC
// number; retAddr is the address of the instruction following PC,
// used as the stacked return address for a stacking PC. Returns
// whether a space-switch event occurred.
func (e *Engine) ProgramCall(pcnum, retAddr uint32) (switched bool, err error) {
	ete, err := e.lookupETE(pcnum)
	if err != nil {
		return false, err
	}

	if !ete.Stack && e.Regs.PSW.Mode == cpu.ModeARMode {
		return false, programCheck(SpecialOperation)
	}
	if !ete.Amode && ete.EIA > 0x00ffffff {
		return false, programCheck(PCTranslationSpecification)
	}
	if e.Regs.PSW.Problem && e.Regs.PKM()&ete.AKM == 0 {
		return false, programCheck(PrivilegedOperation)
	}

	oldPASN := e.Regs.PASN()
	oldPSTD := e.Regs.CR[cpu.CR1]

	if ete.Stack {
		if err := e.FormStackEntry(EntryPC, retAddr, pcnum); err != nil {
			return false, err
		}
	}

	if ete.ASN != 0 && ete.ASN != oldPASN {
		aste, _, err := e.translateASN(ete.ASN)
		if err != nil {
			return false, err
		}
		if !authorizeASN(e.Regs.EAX(), aste) {
			return false, programCheck(PrimaryAuthority)
		}
		newSTD := subspaceReplace(aste[asteWSTD], aste, false)
		switched = spaceSwitchEvent(oldPSTD, newSTD)

		e.Regs.CR[cpu.CR1] = newSTD
		e.Regs.CR[cpu.CR7] = newSTD
		e.Regs.SetEAX(asTE1AX(aste))
		e.Regs.SetPASN(ete.ASN)
	}

	if ete.Amode {
		e.Regs.PSW.Amode31 = true
		e.Regs.PSW.InstAddr = ete.EIA & 0x7fffffff
	} else {
		e.Regs.PSW.Amode31 = false
		e.Regs.PSW.InstAddr = ete.EIA & 0x00ffffff
	}
	return switched, nil
}

// ProgramTransfer implements PT (spec §4.4, original_source/xmem.c's
// program_transfer): pkm/pasn come from the caller's r1 register,
// amode/ia/prob from r2. PKM is ANDed (not replaced) into CR3; SASN is
// simply set to the new PASN, matching xmem.c's "regs->cr[3] &=
// (pkm<<16); regs->cr[3] |= pasn" -- PT does not swap primary and
// secondary, it collapses secondary into the new primary.
func (e *Engine) ProgramTransfer(pkm uint16, pasn uint16, amode31 bool, ia uint32, prob bool) (switched bool, err error) {
	if e.Regs.PSW.Mode != cpu.ModePrimary {
		return false, programCheck(SpecialOperation)
	}
	if !amode31 && ia > 0x00ffffff {
		return false, programCheck(Specification)
	}
	if !prob && e.Regs.PSW.Problem {
		return false, programCheck(SpecialOperation)
	}

	oldPASN := e.Regs.PASN()
	oldPSTD := e.Regs.CR[cpu.CR1]
	newPSTD := oldPSTD

	if pasn != oldPASN {
		aste, _, err := e.translateASN(pasn)
		if err != nil {
			return false, err
		}
		if !authorizeASN(e.Regs.EAX(), aste) {
			return false, programCheck(PrimaryAuthority)
		}
		newPSTD = subspaceReplace(aste[asteWSTD], aste, false)
		switched = spaceSwitchEvent(oldPSTD, newPSTD)
		e.Regs.CR[cpu.CR1] = newPSTD
		e.Regs.SetEAX(asTE1AX(aste))
	}

	e.Regs.PSW.Amode31 = amode31
	if amode31 {
		e.Regs.PSW.InstAddr = ia & 0x7fffffff
	} else {
		e.Regs.PSW.InstAddr = ia & 0x00ffffff
	}
	e.Regs.PSW.Problem = prob

	newPKM := uint16(e.Regs.CR[cpu.CR3]>>16) & pkm
	e.Regs.CR[cpu.CR3] = uint32(newPKM)<<16 | uint32(pasn)
	e.Regs.CR[cpu.CR7] = newPSTD
	return switched, nil
}

// ProgramReturn implements PR (spec §4.4, original_source/xmem.c's
// program_return): unstacks the top state entry, and if it was a
// PC-type entry whose restored PASN differs from the PASN in effect
// before the unstack, retranslates PASN (requiring CR14's ASN-
// translation control) and, separately, SASN.
func (e *Engine) ProgramReturn(currentPERMode bool) (switched bool, err error) {
	oldPASN := e.Regs.PASN()
	oldPSTD := e.Regs.CR[cpu.CR1]

	entry, err := e.ProgramReturnUnstack(currentPERMode)
	if err != nil {
		return false, err
	}
	if entry.Desc.EntryType != EntryPC {
		return false, nil
	}

	newPASN := e.Regs.PASN()
	if newPASN != oldPASN {
		if e.Regs.CR[cpu.CR14]&cpu.CR14ASNTran == 0 {
			return false, programCheck(SpecialOperation)
		}
		aste, _, err := e.translateASN(newPASN)
		if err != nil {
			return false, err
		}
		newPSTD := subspaceReplace(aste[asteWSTD], aste, false)
		switched = spaceSwitchEvent(oldPSTD, newPSTD)
		e.Regs.CR[cpu.CR1] = newPSTD
		e.Regs.SetEAX(asTE1AX(aste))

		sasn := e.Regs.SASN()
		if sasn == newPASN {
			e.Regs.CR[cpu.CR7] = newPSTD
		} else {
			saste, _, err := e.translateASN(sasn)
			if err != nil {
				return false, err
			}
			if !authorizeASN(e.Regs.EAX(), saste) {
				return false, programCheck(SecondaryAuthority)
			}
			e.Regs.CR[cpu.CR7] = subspaceReplace(saste[asteWSTD], saste, false)
		}
	}
	return switched, nil
}

// SetSecondaryASN implements SSAR (spec §4.4): translates and
// authorizes a new secondary ASN and loads CR7 from its STD.
func (e *Engine) SetSecondaryASN(sasn uint16) error {
	aste, _, err := e.translateASN(sasn)
	if err != nil {
		return err
	}
	if !authorizeASN(e.Regs.EAX(), aste) {
		return programCheck(SecondaryAuthority)
	}
	e.Regs.CR[cpu.CR7] = subspaceReplace(aste[asteWSTD], aste, false)
	e.Regs.SetSASN(sasn)
	return nil
}

// LoadAddressSpaceParameters implements LASP (spec §4.4), reduced to
// the ASN-translation and authorization core: translate both the
// target primary and secondary ASN supplied by the caller (no ALET/
// LASP-token table is modeled here, matching asn.go's documented
// simplification) and load CR1/CR4/CR7 accordingly.
func (e *Engine) LoadAddressSpaceParameters(pasn, sasn uint16) error {
	paste, _, err := e.translateASN(pasn)
	if err != nil {
		return err
	}
	if !authorizeASN(e.Regs.EAX(), paste) {
		return programCheck(PrimaryAuthority)
	}
	saste, _, err := e.translateASN(sasn)
	if err != nil {
		return err
	}
	if !authorizeASN(e.Regs.EAX(), saste) {
		return programCheck(SecondaryAuthority)
	}
	e.Regs.CR[cpu.CR1] = subspaceReplace(paste[asteWSTD], paste, false)
	e.Regs.CR[cpu.CR7] = subspaceReplace(saste[asteWSTD], saste, false)
	e.Regs.SetPASN(pasn)
	e.Regs.SetSASN(sasn)
	return nil
}

// SetAddressSpaceControl implements SAC (original_source/xmem.c's
// set_address_space_control): mode is 0 primary, 1 AR-mode, 2
// secondary, 3 home.
func (e *Engine) SetAddressSpaceControl(mode uint8) (switched bool, err error) {
	if mode == cpu.ModeHome && e.Regs.PSW.Problem {
		return false, programCheck(PrivilegedOperation)
	}
	if mode == cpu.ModeARMode && !e.Regs.ASF() {
		return false, programCheck(SpecialOperation)
	}
	if mode > cpu.ModeHome {
		return false, programCheck(Specification)
	}

	oldMode := e.Regs.PSW.Mode
	crossingHome := (oldMode == cpu.ModeHome) != (mode == cpu.ModeHome)
	if crossingHome {
		oldSTD := e.Regs.CR[cpu.CR1]
		newSTD := e.Regs.CR[cpu.CR13]
		if mode != cpu.ModeHome {
			newSTD = oldSTD
		}
		switched = spaceSwitchEvent(oldSTD, newSTD) || e.Regs.PSW.PERMode
	}
	e.Regs.PSW.Mode = mode
	return switched, nil
}

// InsertAddressSpaceControl implements IAC.
func (e *Engine) InsertAddressSpaceControl() (uint8, error) {
	if e.Regs.PSW.Problem && e.Regs.CR[cpu.CR0]&cpu.CR0ExtAuth == 0 {
		return 0, programCheck(PrivilegedOperation)
	}
	return e.Regs.PSW.Mode, nil
}

// DUCT word offsets BSA reads/writes, analogous to xmem.c's duct8/
// duct9 (PSW save area and PKM/key/problem-state/reduced-authority
// flags); ducto is the caller-supplied dispatchable-unit-control-table
// origin (this engine has no DUCT of its own, so the caller names it
// the way it already names linkage-stack sections).
const (
	ductWordIA  = 8
	ductWordPKM = 9
	duct9RA     = 0x00000001
	duct9Prob   = 0x00000002
)

// BranchAndSetAuthority implements BSA (spec §4.4, original_source/
// xmem.c's branch_and_set_authority): r1Val/r2Val are the caller's
// GPR r1/r2 contents; the DUCT's reduced-authority bit selects whether
// r2 must be nonzero (bit clear: base-authority branch) or zero (bit
// set: reduced-authority return). Returns the
// updated r1 register value (only meaningful on the reduced-authority
// path, where it receives the saved return address). cpu.PSW has no
// separate PSW-key field (only the key mask BSA/SSAR/LASP authorize
// against), so unlike xmem.c this sets PKM directly from r1Val rather
// than tracking a distinct current-key byte.
func (e *Engine) BranchAndSetAuthority(ducto uint32, r1, r2 int, r1Val, r2Val uint32) (newR1 uint32, err error) {
	if !e.Regs.ASF() {
		return 0, programCheck(SpecialOperation)
	}
	a, err := e.absAddr(ducto, true)
	if err != nil {
		return 0, err
	}
	ia, err := e.Storage.GetWord(a + ductWordIA*4)
	if err != nil {
		return 0, programCheck(Addressing)
	}
	pkmProb, err := e.Storage.GetWord(a + ductWordPKM*4)
	if err != nil {
		return 0, programCheck(Addressing)
	}

	if pkmProb&duct9RA == 0 {
		if r2 == 0 {
			return 0, programCheck(SpecialOperation)
		}
		key := r1Val & 0x000000f0
		if e.Regs.PSW.Problem && (e.Regs.PKM()<<(key>>4))&0x8000 == 0 {
			return 0, programCheck(PrivilegedOperation)
		}

		savedIA := e.Regs.PSW.InstAddr
		if e.Regs.PSW.Amode31 {
			savedIA |= 0x80000000
		}
		savedPKM := uint32(e.Regs.PKM())
		if e.Regs.PSW.Problem {
			savedPKM |= duct9Prob
		}
		savedPKM |= duct9RA
		if err := e.Storage.PutWord(a+ductWordIA*4, savedIA); err != nil {
			return 0, programCheck(Addressing)
		}
		if err := e.Storage.PutWord(a+ductWordPKM*4, savedPKM); err != nil {
			return 0, programCheck(Addressing)
		}

		e.Regs.SetPKM(uint16(r1Val))
		e.Regs.PSW.Problem = true
		if r2Val&0x80000000 != 0 {
			e.Regs.PSW.Amode31 = true
			e.Regs.PSW.InstAddr = r2Val & 0x7fffffff
		} else {
			e.Regs.PSW.Amode31 = false
			e.Regs.PSW.InstAddr = r2Val & 0x00ffffff
		}
		return r1Val, nil
	}

	if r2 != 0 {
		return 0, programCheck(SpecialOperation)
	}
	if r1 != 0 {
		newR1 = e.Regs.PSW.InstAddr
		if e.Regs.PSW.Amode31 {
			newR1 |= 0x80000000
		}
	}
	e.Regs.PSW.Amode31 = ia&0x80000000 != 0
	e.Regs.PSW.InstAddr = ia &^ 0x80000000
	e.Regs.SetPKM(uint16(pkmProb))
	e.Regs.PSW.Problem = pkmProb&duct9Prob != 0
	pkmProb &^= duct9RA
	if err := e.Storage.PutWord(a+ductWordPKM*4, pkmProb); err != nil {
		return 0, programCheck(Addressing)
	}
	if e.Regs.PSW.InstAddr&1 != 0 || (!e.Regs.PSW.Amode31 && e.Regs.PSW.InstAddr > 0x00ffffff) {
		return 0, programCheck(Specification)
	}
	return newR1, nil
}

// BranchInSubspaceGroup implements BSG (spec §4.4): branches into a
// destination subspace named by an ALET, a reduced form of
// original_source/xmem.c's branch_in_subspace_group restricted to the
// ASTE lookup and STD swap (no ART/ALET-table walk: aletASN is used
// directly as the ASN to translate, matching how this engine already
// simplifies ASN authorization elsewhere).
func (e *Engine) BranchInSubspaceGroup(aletASN uint16, target uint32, amode31 bool) error {
	if !e.Regs.ASF() {
		return programCheck(SpecialOperation)
	}
	aste, _, err := e.translateASN(aletASN)
	if err != nil {
		return err
	}
	newSTD := subspaceReplace(aste[asteWSTD], aste, true)
	e.Regs.CR[cpu.CR1] = newSTD
	e.Regs.PSW.Amode31 = amode31
	if amode31 {
		e.Regs.PSW.InstAddr = target & 0x7fffffff
	} else {
		e.Regs.PSW.InstAddr = target & 0x00ffffff
	}
	return nil
}
