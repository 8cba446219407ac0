/*
 * S370 - Subchannel and device control-block types.
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

// Package sysblk centralizes the process-wide machine state (SYSBLK) and
// per-device state (DEVBLK) that the teacher's C-heritage design kept as
// package-level globals (emu/sys_channel's chanUnit array, emu/memory's
// package-level mem). Per spec Design Notes "Source global state", both
// are explicit, constructed contexts so tests can build isolated
// fixtures instead of sharing process state.
package sysblk

import (
	"sync"

	"github.com/rcornwell/s370chan/internal/device"
	"github.com/rcornwell/s370chan/internal/storage"
)

// StCtl bits packed into the SCSW's status-control field.
const (
	StCtlAlert        uint8 = 0x80
	StCtlIntermediate uint8 = 0x40
	StCtlPrimary      uint8 = 0x20
	StCtlSecondary    uint8 = 0x10
	StCtlStatusPend   uint8 = 0x08
)

// FCtl bits: the function the subchannel is (or was) performing.
const (
	FCtlStart  uint8 = 0x80
	FCtlHalt   uint8 = 0x40
	FCtlClear  uint8 = 0x20
	FCtlResume uint8 = 0x10 // not architected as an FCTL bit, tracked here for resume-pending
)

// ActL (activity control) bits.
const (
	ActLResumePend uint8 = 0x80
	ActLStartPend  uint8 = 0x40
	ActLHaltPend   uint8 = 0x20
	ActLClearPend  uint8 = 0x10
	ActLSuspended  uint8 = 0x08
)

// Channel-status bits (spec §3 SCSW, §7.1).
const (
	ChanProgramCheck   uint8 = 0x80
	ChanProtectCheck   uint8 = 0x40
	ChanChainingCheck  uint8 = 0x20
	ChanIncorrectLen   uint8 = 0x10
	ChanChainDataCheck uint8 = 0x08
	ChanCtlCheck       uint8 = 0x04
	ChanIfaceCheck     uint8 = 0x02
)

// CCW flag bits (spec §3 CCW).
const (
	FlagCD   uint16 = 0x8000 // Chain-Data
	FlagCC   uint16 = 0x4000 // Chain-Command
	FlagSLI  uint16 = 0x2000 // Suppress-Length-Indication
	FlagSkip uint16 = 0x1000 // Skip
	FlagPCI  uint16 = 0x0800 // Program-Controlled-Interrupt
	FlagIDA  uint16 = 0x0400 // Indirect-Data-Addressing
	FlagSusp uint16 = 0x0200 // Suspend
)

// ORB control bits (spec §4.1 Start operation).
const (
	OrbFormat1      uint8 = 0x80 // CCW format 1 (ESA/390) vs format 0 (S/370)
	OrbPrefetch     uint8 = 0x40
	OrbInitialStat  uint8 = 0x20 // ISIC
	OrbAddrLimit    uint8 = 0x10 // ALC
	OrbSuppressSusp uint8 = 0x08 // SSIC: suppress suspend interrupt
	OrbSuspendCtl   uint8 = 0x04 // ORB bit S: suspension authorized
)

// ORB is the CPU's argument to a subchannel start.
type ORB struct {
	InterruptParam uint32
	ProtectKey     uint8
	Ctl            uint8 // OrbFormat1 | OrbPrefetch | ... | OrbSuspendCtl
	LogicalPathMsk uint16
	CCWAddr        uint32
}

// Format1 reports whether the ORB selects CCW format 1 (ESA/390).
func (o ORB) Format1() bool { return o.Ctl&OrbFormat1 != 0 }

// SuspendAuthorized reports whether the ORB authorizes CCW suspension.
func (o ORB) SuspendAuthorized() bool { return o.Ctl&OrbSuspendCtl != 0 }

// SuppressSuspendIntr reports whether the ORB suppresses the interrupt
// normally posted when a chain suspends.
func (o ORB) SuppressSuspendIntr() bool { return o.Ctl&OrbSuppressSusp != 0 }

// SCSW is the architectural subchannel status word (spec §3).
type SCSW struct {
	Key           uint8
	FCtl          uint8
	ActL          uint8
	StCtl         uint8
	CCWAddr       uint32
	UnitStatus    uint8
	ChannelStatus uint8
	Residual      uint16
}

// StatusPending reports the SCSW's status-pending bit.
func (s *SCSW) StatusPending() bool { return s.StCtl&StCtlStatusPend != 0 }

// PMCW is the persistent, CPU-visible configuration of a subchannel
// (spec §3 DEVBLK).
type PMCW struct {
	DevNum         uint16
	InterruptParam uint32
	Enabled        bool
	Valid          bool
	ISC            uint8 // interruption subclass, CR6 mask bit this subchannel raises
	LPM            uint8 // logical path mask
	ConcurrentSns  bool  // permits concurrent-sense ECW capture
}

// ECW is the extended control word captured at chain completion when
// unit-check with concurrent sense is in effect (spec §4.1 Chain
// completion).
type ECW struct {
	SenseValid bool
	Sense      [24]byte
}

// DEVBLK is the per-device control block (spec §3).
type DEVBLK struct {
	mu     sync.Mutex
	resume sync.Cond // signaled on RESUME SUBCHANNEL / HALT wake

	DevNum   uint16
	SubChan  uint16
	Busy     bool
	Pending  bool // main SCSW status-pending and interrupt-worthy
	PCIPend  bool
	SCSW     SCSW
	PCISCSW  SCSW // PCI-variant status-word pair
	PMCW     PMCW
	ECW      ECW
	Sense    [24]byte
	DevID    [7]byte // device-identifier buffer (STIDC-style)
	Handler  device.Device
	Handle   any // device-type-specific state (e.g. *ckd.Volume)
	next     *DEVBLK

	// execution-task coordination
	haltReq   bool
	clearReq  bool
	resumeReq bool
	orb       ORB
}

// Lock/Unlock expose the device lock to the channel package without
// letting it reach into sync.Mutex internals directly, keeping DEVBLK's
// zero value usable without calling a constructor from package sysblk
// itself.
func (d *DEVBLK) Lock()   { d.mu.Lock() }
func (d *DEVBLK) Unlock() { d.mu.Unlock() }

// Wait blocks on the device's resume condition; caller must hold the
// device lock.
func (d *DEVBLK) Wait() {
	if d.resume.L == nil {
		d.resume.L = &d.mu
	}
	d.resume.Wait()
}

// Signal wakes one waiter on the device's resume condition; caller must
// hold the device lock.
func (d *DEVBLK) Signal() {
	if d.resume.L == nil {
		d.resume.L = &d.mu
	}
	d.resume.Signal()
}

// HaltRequested, ClearRequested, ResumeRequested, and their setters let
// the channel executor observe HALT/CLEAR/RESUME requests without
// reaching past the device lock boundary (spec §5, cancellation).
func (d *DEVBLK) HaltRequested() bool   { return d.haltReq }
func (d *DEVBLK) ClearRequested() bool  { return d.clearReq }
func (d *DEVBLK) ResumeRequested() bool { return d.resumeReq }

func (d *DEVBLK) SetHaltRequested(v bool)   { d.haltReq = v }
func (d *DEVBLK) SetClearRequested(v bool)  { d.clearReq = v }
func (d *DEVBLK) SetResumeRequested(v bool) { d.resumeReq = v }

func (d *DEVBLK) ORB() ORB         { return d.orb }
func (d *DEVBLK) SetORB(orb ORB)   { d.orb = orb }

// SYSBLK is the process-wide machine context: main storage plus the
// device list. It is initialized once at startup; devices are appended
// at configuration time and never removed until shutdown (spec Design
// Notes).
type SYSBLK struct {
	Storage *storage.Storage

	intrMu   sync.Mutex
	intrCond sync.Cond
	pending  bool

	devMu sync.RWMutex
	head  *DEVBLK
	byNum map[uint16]*DEVBLK
}

// New constructs a SYSBLK bound to the given storage.
func New(store *storage.Storage) *SYSBLK {
	s := &SYSBLK{Storage: store, byNum: make(map[uint16]*DEVBLK)}
	s.intrCond.L = &s.intrMu
	return s
}

// AddDevice appends a DEVBLK to the device list and registers it by
// device number. Devices are never removed once added (spec Design
// Notes, DEVBLK lifecycle).
func (s *SYSBLK) AddDevice(d *DEVBLK) {
	s.devMu.Lock()
	defer s.devMu.Unlock()
	d.next = nil
	if s.head == nil {
		s.head = d
	} else {
		p := s.head
		for p.next != nil {
			p = p.next
		}
		p.next = d
	}
	s.byNum[d.DevNum] = d
}

// Device looks up a DEVBLK by device number.
func (s *SYSBLK) Device(devNum uint16) *DEVBLK {
	s.devMu.RLock()
	defer s.devMu.RUnlock()
	return s.byNum[devNum]
}

// Devices returns every configured device, in configuration order.
func (s *SYSBLK) Devices() []*DEVBLK {
	s.devMu.RLock()
	defer s.devMu.RUnlock()
	out := make([]*DEVBLK, 0, len(s.byNum))
	for p := s.head; p != nil; p = p.next {
		out = append(out, p)
	}
	return out
}
