/*
 * S370 - Linkage-stack engine: BAKR/PC stack formation, PR/EREG/ESTA/
 * MSTA unstacking.
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

package lsx

import (
	"github.com/rcornwell/s370chan/internal/cpu"
	"github.com/rcornwell/s370chan/internal/storage"
)

// SectionSize is the size in bytes of one linkage-stack section (spec
// §4.4: "a linked chain of 4 KiB sections").
const SectionSize = 4096

// sectionHeaderWords is the size of the backward/forward pointer pair
// at the base of every section, ahead of the section's own header
// entry descriptor.
const sectionHeaderWords = 8

const validFlag uint32 = 0x80000000

// Engine ties LSX operations to one CPU register context and main
// storage. It carries no other state: every linkage-stack section in
// main storage must already be chained (forward/backward pointers
// written) by the caller that set up the stack, matching how CHS
// expects its DEVBLKs pre-configured rather than self-allocating.
type Engine struct {
	Storage *storage.Storage
	Regs    *cpu.State
}

// New constructs an Engine bound to storage and a register context.
func New(store *storage.Storage, regs *cpu.State) *Engine {
	return &Engine{Storage: store, Regs: regs}
}

func (e *Engine) absAddr(addr uint32, write bool) (uint32, error) {
	addr &= 0x7fffffff
	if write && addr < 512 {
		return 0, programCheck(Protection)
	}
	if !e.Storage.CheckAddr(addr) {
		return 0, programCheck(Addressing)
	}
	return addr, nil
}

func (e *Engine) readWord(addr uint32) (uint32, error) {
	a, err := e.absAddr(addr, false)
	if err != nil {
		return 0, err
	}
	v, err := e.Storage.GetWord(a)
	if err != nil {
		return 0, programCheck(Addressing)
	}
	return v, nil
}

func (e *Engine) writeWord(addr uint32, v uint32) error {
	a, err := e.absAddr(addr, true)
	if err != nil {
		return err
	}
	if err := e.Storage.PutWord(a, v); err != nil {
		return programCheck(Addressing)
	}
	return nil
}

func (e *Engine) readDescriptor(addr uint32) (Descriptor, error) {
	a, err := e.absAddr(addr, false)
	if err != nil {
		return Descriptor{}, err
	}
	b, err := e.Storage.GetBlock(a, DescriptorSize)
	if err != nil {
		return Descriptor{}, programCheck(Addressing)
	}
	return DecodeDescriptor([8]byte(b)), nil
}

func (e *Engine) writeDescriptor(addr uint32, d Descriptor) error {
	a, err := e.absAddr(addr, true)
	if err != nil {
		return err
	}
	b := d.Encode()
	if err := e.Storage.PutBlock(a, b[:]); err != nil {
		return programCheck(Addressing)
	}
	return nil
}

// checkStackingAllowed implements the ASF/secondary-space precondition
// common to BAKR, PC, PR, EREG, ESTA and MSTA (spec §4.4 "Stack entry
// formation" step 1 / "Stack entry location"). There is no DAT layer,
// so no DAT-off condition is checked.
func (e *Engine) checkStackingAllowed() error {
	if !e.Regs.ASF() || e.Regs.PSW.Mode == cpu.ModeSecondary {
		return programCheck(SpecialOperation)
	}
	return nil
}

// FormStackEntry implements BAKR/PC stack-entry formation (spec §4.4
// "Stack entry formation (BAKR/PC)").
func (e *Engine) FormStackEntry(etype uint8, retAddr, calledAddr uint32) error {
	if err := e.checkStackingAllowed(); err != nil {
		return err
	}

	lsea := e.Regs.LinkageStackEntryAddr()
	desc, err := e.readDescriptor(lsea)
	if err != nil {
		return err
	}

	if desc.RemainingFree < EntrySize {
		if desc.RemainingFree%8 != 0 {
			return programCheck(StackSpecification)
		}
		// Follow the trailer's forward-section-header pointer, stored
		// 4 bytes past this section's header (stack.c's "word 3 of
		// the trailer entry").
		sectionBase := lsea - sectionHeaderWords
		fwd, err := e.readWord(sectionBase + 4)
		if err != nil {
			return err
		}
		if fwd&validFlag == 0 {
			return programCheck(StackFull)
		}
		newHeaderDescAddr := (fwd &^ validFlag) + sectionHeaderWords
		desc, err = e.readDescriptor(newHeaderDescAddr)
		if err != nil {
			return err
		}
		if desc.RemainingFree < EntrySize {
			return programCheck(StackSpecification)
		}

		newSectionBase := newHeaderDescAddr - sectionHeaderWords
		bsea := validFlag | lsea
		if err := e.writeWord(newSectionBase, bsea); err != nil {
			return err
		}
		lsea = newHeaderDescAddr
	}

	entryAddr := lsea + DescriptorSize
	entry := Entry{
		GPR:      e.Regs.GPR,
		AR:       e.Regs.AR,
		PKM:      e.Regs.PKM(),
		SASN:     e.Regs.SASN(),
		EAX:      e.Regs.EAX(),
		PASN:     e.Regs.PASN(),
		OldPSW:   psWithReturnAddr(e.Regs.PSW, retAddr),
		CallAddr: calledAddr,
		Desc: Descriptor{
			EntryType:     etype,
			RemainingFree: desc.RemainingFree - EntrySize,
		},
	}
	b := entry.Encode()
	a, err := e.absAddr(entryAddr, true)
	if err != nil {
		return err
	}
	if err := e.Storage.PutBlock(a, b); err != nil {
		return programCheck(Addressing)
	}

	// Update the previous entry's next-entry-size field.
	desc.NextEntrySize = EntrySize
	if err := e.writeDescriptor(lsea, desc); err != nil {
		return err
	}

	newDescAddr := entryAddr + EntrySize - DescriptorSize
	e.Regs.SetLinkageStackEntryAddr(newDescAddr)
	return nil
}

func psWithReturnAddr(p cpu.PSW, retAddr uint32) cpu.PSW {
	p.InstAddr = retAddr
	return p
}

// locateStackEntry implements "Stack entry location (PR/EREG/ESTA/
// MSTA)": returns the address of the entry descriptor of the state
// entry to unstack.
func (e *Engine) locateStackEntry(prinst bool) (uint32, Descriptor, error) {
	if err := e.checkStackingAllowed(); err != nil {
		return 0, Descriptor{}, err
	}

	lsea := e.Regs.LinkageStackEntryAddr()
	desc, err := e.readDescriptor(lsea)
	if err != nil {
		return 0, Descriptor{}, err
	}

	if desc.EntryType == EntryHeader {
		if prinst && desc.UnstackSuppressed {
			return 0, Descriptor{}, programCheck(StackOperation)
		}
		sectionBase := lsea - sectionHeaderWords
		bsea, err := e.readWord(sectionBase)
		if err != nil {
			return 0, Descriptor{}, err
		}
		if bsea&validFlag == 0 {
			return 0, Descriptor{}, programCheck(StackEmpty)
		}
		lsea = bsea &^ validFlag
		desc, err = e.readDescriptor(lsea)
		if err != nil {
			return 0, Descriptor{}, err
		}
		if desc.EntryType == EntryHeader {
			return 0, Descriptor{}, programCheck(StackSpecification)
		}
		if prinst {
			e.Regs.SetLinkageStackEntryAddr(lsea)
		}
	}

	if desc.EntryType != EntryBAKR && desc.EntryType != EntryPC {
		return 0, Descriptor{}, programCheck(StackType)
	}
	if prinst && desc.UnstackSuppressed {
		return 0, Descriptor{}, programCheck(StackOperation)
	}
	return lsea, desc, nil
}

func (e *Engine) readEntry(descAddr uint32) (Entry, error) {
	entryAddr := descAddr - (EntrySize - DescriptorSize)
	a, err := e.absAddr(entryAddr, false)
	if err != nil {
		return Entry{}, err
	}
	b, err := e.Storage.GetBlock(a, EntrySize)
	if err != nil {
		return Entry{}, programCheck(Addressing)
	}
	return DecodeEntry(b), nil
}

// unstackRegisters loads GPR/AR r1..r2 (wrapping mod 16) from the
// entry located at descAddr, per spec "Unstack registers": the entire
// entry is fetched before any register is modified, so a translation
// failure leaves all registers unchanged.
func (e *Engine) unstackRegisters(descAddr uint32, r1, r2 int) error {
	entry, err := e.readEntry(descAddr)
	if err != nil {
		return err
	}
	for i := r1; ; i = (i + 1) % 16 {
		e.Regs.GPR[i] = entry.GPR[i]
		e.Regs.AR[i] = entry.AR[i]
		if i == r2 {
			break
		}
	}
	return nil
}

// ExtractStackedRegisters implements EREG: loads GPR/AR r1..r2 from
// the current state entry without popping it.
func (e *Engine) ExtractStackedRegisters(r1, r2 int) error {
	descAddr, _, err := e.locateStackEntry(false)
	if err != nil {
		return err
	}
	return e.unstackRegisters(descAddr, r1, r2)
}

// ExtractStackedState implements ESTA: returns the PSW fields, PKM,
// SASN, EAX and PASN from the current state entry without popping it.
func (e *Engine) ExtractStackedState() (Entry, error) {
	descAddr, _, err := e.locateStackEntry(false)
	if err != nil {
		return Entry{}, err
	}
	return e.readEntry(descAddr)
}

// ModifyStackedState implements MSTA: overwrites PKM/SASN/EAX/PASN of
// the current state entry in place, leaving registers and PSW intact.
func (e *Engine) ModifyStackedState(pkm, sasn, eax, pasn uint16) error {
	descAddr, _, err := e.locateStackEntry(false)
	if err != nil {
		return err
	}
	entry, err := e.readEntry(descAddr)
	if err != nil {
		return err
	}
	entry.PKM, entry.SASN, entry.EAX, entry.PASN = pkm, sasn, eax, pasn
	entryAddr := descAddr - (EntrySize - DescriptorSize)
	a, err := e.absAddr(entryAddr, true)
	if err != nil {
		return err
	}
	if err := e.Storage.PutBlock(a, entry.Encode()); err != nil {
		return programCheck(Addressing)
	}
	return nil
}

// ProgramReturnUnstack implements Program Return's unstacking half
// (spec §4.4 "Program Return"): reloads GRs 2-14 and ARs 2-14, restores
// the PSW (preserving the caller's current PER-mode bit), and for a
// PC-type entry also restores PKM/SASN/EAX/PASN. ASN retranslation and
// subspace/space-switch-event handling are layered on top in pc.go's
// ProgramReturn, which is the entry point callers use; this method is
// exported separately so tests can exercise the pure unstack mechanics
// spec §8's "Push-then-pop" property describes.
func (e *Engine) ProgramReturnUnstack(currentPERMode bool) (Entry, error) {
	descAddr, desc, err := e.locateStackEntry(true)
	if err != nil {
		return Entry{}, err
	}
	entry, err := e.readEntry(descAddr)
	if err != nil {
		return Entry{}, err
	}

	for i := 2; i <= 14; i++ {
		e.Regs.GPR[i] = entry.GPR[i]
		e.Regs.AR[i] = entry.AR[i]
	}
	restored := entry.OldPSW
	restored.PERMode = currentPERMode
	e.Regs.PSW = restored

	if desc.EntryType == EntryPC {
		e.Regs.SetPKM(entry.PKM)
		e.Regs.SetSASN(entry.SASN)
		e.Regs.SetEAX(entry.EAX)
		e.Regs.SetPASN(entry.PASN)
	}

	// Clear the next-entry-size of the entry now on top (the one below
	// the entry just popped) and rewind CR15 to it.
	prevDescAddr := descAddr - EntrySize
	prevDesc, err := e.readDescriptor(prevDescAddr)
	if err != nil {
		return Entry{}, err
	}
	prevDesc.NextEntrySize = 0
	if err := e.writeDescriptor(prevDescAddr, prevDesc); err != nil {
		return Entry{}, err
	}
	e.Regs.SetLinkageStackEntryAddr(prevDescAddr)

	return entry, nil
}
