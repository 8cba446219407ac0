/*
 * S370 - Linkage-stack engine tests.
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
	"testing"

	"github.com/rcornwell/s370chan/internal/cpu"
	"github.com/rcornwell/s370chan/internal/storage"
)

// newTestStack builds one 4 KiB linkage-stack section starting at
// sectionBase with an empty header entry, and returns an Engine whose
// CR15 already points at that header's descriptor.
func newTestStack(t *testing.T, sectionBase uint32, remainingFree uint16) *Engine {
	t.Helper()
	st := storage.New(2*SectionSize, storage.PageShift4K)
	regs := &cpu.State{}
	regs.CR[cpu.CR0] = cpu.CR0ASF

	lsea := sectionBase + sectionHeaderWords
	hdr := Descriptor{EntryType: EntryHeader, RemainingFree: remainingFree}
	b := hdr.Encode()
	if err := st.PutBlock(lsea, b[:]); err != nil {
		t.Fatalf("PutBlock header: %v", err)
	}
	regs.SetLinkageStackEntryAddr(lsea)

	return New(st, regs)
}

func TestFormStackEntryThenProgramReturn(t *testing.T) {
	// The section sits above the 512-byte low-address-protected area.
	e := newTestStack(t, SectionSize, SectionSize-sectionHeaderWords-DescriptorSize)

	for i := range e.Regs.GPR {
		e.Regs.GPR[i] = uint32(0x1000 + i)
		e.Regs.AR[i] = uint32(0x2000 + i)
	}
	e.Regs.PSW.InstAddr = 0x00400000
	e.Regs.PSW.PERMode = false

	prePushLSEA := e.Regs.LinkageStackEntryAddr()

	const retAddr = 0x00500008
	const calledAddr = 0x00600000
	if err := e.FormStackEntry(EntryBAKR, retAddr, calledAddr); err != nil {
		t.Fatalf("FormStackEntry: %v", err)
	}

	// PR must restore only GRs/ARs 2-14, leaving GPR0/1/15 as they are
	// (spec §8, "push-then-pop").
	e.Regs.GPR[0] = 0xdeadbeef
	e.Regs.GPR[1] = 0xdeadbeef
	e.Regs.GPR[15] = 0xdeadbeef
	for i := 2; i <= 14; i++ {
		e.Regs.GPR[i] = 0
		e.Regs.AR[i] = 0
	}
	e.Regs.PSW.InstAddr = 0
	e.Regs.PSW.PERMode = true // current PER-mode must survive PR

	entry, err := e.ProgramReturnUnstack(true)
	if err != nil {
		t.Fatalf("ProgramReturnUnstack: %v", err)
	}
	if entry.CallAddr != calledAddr {
		t.Errorf("CallAddr = %#x, want %#x", entry.CallAddr, calledAddr)
	}
	for i := 2; i <= 14; i++ {
		if e.Regs.GPR[i] != uint32(0x1000+i) {
			t.Errorf("GPR[%d] = %#x, want %#x", i, e.Regs.GPR[i], 0x1000+i)
		}
		if e.Regs.AR[i] != uint32(0x2000+i) {
			t.Errorf("AR[%d] = %#x, want %#x", i, e.Regs.AR[i], 0x2000+i)
		}
	}
	if e.Regs.GPR[0] != 0xdeadbeef || e.Regs.GPR[1] != 0xdeadbeef || e.Regs.GPR[15] != 0xdeadbeef {
		t.Error("GPR 0/1/15 must not be restored by PR")
	}
	if e.Regs.PSW.InstAddr != retAddr {
		t.Errorf("PSW.InstAddr = %#x, want %#x", e.Regs.PSW.InstAddr, retAddr)
	}
	if !e.Regs.PSW.PERMode {
		t.Error("PR must preserve the caller's current PER-mode bit, not the stacked one")
	}
	if got := e.Regs.LinkageStackEntryAddr(); got != prePushLSEA {
		t.Errorf("LinkageStackEntryAddr() after PR = %#x, want pre-push value %#x", got, prePushLSEA)
	}
}

func TestFormStackEntryWithoutASF(t *testing.T) {
	e := newTestStack(t, 0, SectionSize-sectionHeaderWords-DescriptorSize)
	e.Regs.CR[cpu.CR0] = 0

	err := e.FormStackEntry(EntryBAKR, 0, 0)
	pc, ok := err.(ProgramCheck)
	if !ok || pc.Code != SpecialOperation {
		t.Fatalf("FormStackEntry without ASF: got %v, want SpecialOperation", err)
	}
}

func TestFormStackEntryStackFull(t *testing.T) {
	// Not enough room, and the section's forward-chain pointer is
	// unmarked (no validFlag bit), so the push must fail with
	// StackFull rather than silently following garbage.
	e := newTestStack(t, 0, EntrySize-8)

	err := e.FormStackEntry(EntryBAKR, 0, 0)
	pc, ok := err.(ProgramCheck)
	if !ok || pc.Code != StackFull {
		t.Fatalf("FormStackEntry over capacity: got %v, want StackFull", err)
	}
}

func TestLocateStackEntryEmpty(t *testing.T) {
	e := newTestStack(t, 0, SectionSize-sectionHeaderWords-DescriptorSize)

	_, err := e.ExtractStackedState()
	pc, ok := err.(ProgramCheck)
	if !ok || pc.Code != StackEmpty {
		t.Fatalf("ExtractStackedState on empty stack: got %v, want StackEmpty", err)
	}
}

func TestModifyStackedState(t *testing.T) {
	e := newTestStack(t, SectionSize, SectionSize-sectionHeaderWords-DescriptorSize)
	if err := e.FormStackEntry(EntryPC, 0x100, 0x200); err != nil {
		t.Fatalf("FormStackEntry: %v", err)
	}
	if err := e.ModifyStackedState(0x1111, 0x2222, 0x3333, 0x4444); err != nil {
		t.Fatalf("ModifyStackedState: %v", err)
	}
	entry, err := e.ExtractStackedState()
	if err != nil {
		t.Fatalf("ExtractStackedState: %v", err)
	}
	if entry.PKM != 0x1111 || entry.SASN != 0x2222 || entry.EAX != 0x3333 || entry.PASN != 0x4444 {
		t.Errorf("entry = %+v, want MSTA-written fields", entry)
	}
}
