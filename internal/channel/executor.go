/*
 * S370 - Channel subsystem: per-operation CCW chain executor.
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

package channel

import (
	"github.com/rcornwell/s370chan/internal/device"
	"github.com/rcornwell/s370chan/internal/sysblk"
)

const maxIOBuffer = 65536

// ccw is one decoded Channel Command Word (spec §3).
type ccw struct {
	opcode uint8
	addr   uint32
	flags  uint16
	count  uint16
}

// chainState tracks the executor's position through a CCW chain. It is
// owned entirely by the execution goroutine except where noted; no lock
// is held across a suspend wait (spec §9 "Coroutine-like suspension").
type chainState struct {
	c    *Subsystem
	d    *sysblk.DEVBLK
	orb  sysblk.ORB
	addr uint32 // next-CCW fetch address

	prevWasTIC bool
	prevOpcode uint8
	prevCD     bool // previous CCW had chain-data set
	seq        int
}

// executeChain is the per-operation execution task spawned by StartIO
// (spec §4.1 "Execution task"). It runs concurrently with CPUs and holds
// the device lock only to mutate CPU-visible fields.
func (c *Subsystem) executeChain(d *sysblk.DEVBLK) {
	st := &chainState{c: c, d: d, orb: d.ORB(), addr: d.ORB().CCWAddr}

	for {
		cw, chanStatus, halted, cleared := st.fetch()
		if cleared {
			st.complete(0, 0, 0, true)
			return
		}
		if halted {
			st.complete(device.StatusChannelEnd|device.StatusDeviceEnd, 0, 0, false)
			return
		}
		if chanStatus != 0 {
			st.complete(0, 0, chanStatus, false)
			return
		}

		if cw.opcode == device.CmdTIC {
			if st.prevWasTIC {
				st.complete(0, 0, sysblk.ChanProgramCheck, false)
				return
			}
			if cw.flags&0xfc00 != 0 { // format-1 TIC reserved bits
				st.complete(0, 0, sysblk.ChanProgramCheck, false)
				return
			}
			st.addr = cw.addr
			st.prevWasTIC = true
			continue
		}
		st.prevWasTIC = false

		if cw.flags&sysblk.FlagSusp != 0 && st.orb.SuspendAuthorized() && cw.flags&sysblk.FlagCD == 0 {
			if cleared := st.suspend(); cleared {
				st.complete(0, 0, 0, true)
				return
			}
			// resumed: re-fetch the same CCW from scratch, as if
			// starting a new chain (spec §4.1 step 4).
			continue
		}

		if cw.flags&sysblk.FlagPCI != 0 {
			st.postPCI()
		}

		unitStatus, residual, more, chanStatus := st.runOne(cw)
		if chanStatus&sysblk.ChanProgramCheck != 0 && chanStatus != 0 {
			st.complete(unitStatus, residual, chanStatus, false)
			return
		}

		if (residual != 0 || more) && (cw.flags&sysblk.FlagCD != 0 || cw.flags&sysblk.FlagSLI == 0) {
			chanStatus |= sysblk.ChanIncorrectLen
		}

		if unitStatus&device.StatusModifier != 0 {
			st.addr += 8
		}

		terminate := chanStatus != 0 || (unitStatus&^device.StatusModifier) != (device.StatusChannelEnd|device.StatusDeviceEnd)
		if terminate {
			st.complete(unitStatus, residual, chanStatus, false)
			return
		}

		st.prevOpcode = cw.opcode
		st.prevCD = cw.flags&sysblk.FlagCD != 0
		st.seq++
		if cw.flags&(sysblk.FlagCD|sysblk.FlagCC) == 0 {
			st.complete(unitStatus, residual, chanStatus, false)
			return
		}
		// chain continues: fetch next CCW from the advanced address.
	}
}

// fetch implements spec §4.1 steps 1-2: fetch and validate one CCW,
// then check for a pending HALT. halted reports a halt was observed
// (status already finalized by the caller via complete with no
// additional channel status); cleared reports CLEAR SUBCHANNEL forced
// immediate termination.
func (st *chainState) fetch() (c ccw, chanStatus uint8, halted bool, cleared bool) {
	st.d.Lock()
	if st.d.ClearRequested() {
		st.d.Unlock()
		return ccw{}, 0, false, true
	}
	if st.d.HaltRequested() {
		st.d.SetHaltRequested(false)
		st.d.Unlock()
		return ccw{}, 0, true, false
	}
	st.d.Unlock()

	if st.addr%8 != 0 {
		return ccw{}, sysblk.ChanProgramCheck, false, false
	}

	sys := st.c.Sys
	if !sys.Storage.CheckRange(st.addr, 8) {
		return ccw{}, sysblk.ChanProgramCheck, false, false
	}
	if sys.Storage.FetchProtected(st.addr, st.orb.ProtectKey) {
		return ccw{}, sysblk.ChanProtectCheck, false, false
	}

	raw, err := sys.Storage.GetBlock(st.addr, 8)
	if err != nil {
		return ccw{}, sysblk.ChanProgramCheck, false, false
	}

	var out ccw
	if st.orb.Format1() {
		out.opcode = raw[0]
		out.flags = uint16(raw[1]) << 8
		out.count = uint16(raw[2])<<8 | uint16(raw[3])
		out.addr = uint32(raw[4])<<24 | uint32(raw[5])<<16 | uint32(raw[6])<<8 | uint32(raw[7])
	} else {
		out.opcode = raw[0]
		out.addr = (uint32(raw[0]&0) | uint32(raw[1])<<16 | uint32(raw[2])<<8 | uint32(raw[3])) & 0x00ffffff
		out.flags = uint16(raw[4]) << 8
		out.count = uint16(raw[6])<<8 | uint16(raw[7])
	}

	st.d.Lock()
	st.d.SCSW.CCWAddr = st.addr + 8
	st.d.Unlock()
	st.addr += 8

	return out, 0, false, false
}

// suspend implements spec §4.1 step 4: park the execution task on the
// device's resume condition without holding the lock across the wait
// (sync.Cond.Wait releases it internally). Returns true if CLEAR
// SUBCHANNEL forced termination while suspended.
func (st *chainState) suspend() (cleared bool) {
	st.d.Lock()
	st.d.SCSW.ActL |= sysblk.ActLSuspended
	st.d.SCSW.StCtl = sysblk.StCtlStatusPend | sysblk.StCtlIntermediate
	st.d.Pending = true
	if !st.orb.SuppressSuspendIntr() {
		st.c.Sys.MarkPending()
	}
	for !st.d.ResumeRequested() && !st.d.ClearRequested() && !st.d.HaltRequested() {
		st.d.Wait()
	}
	cleared = st.d.ClearRequested()
	st.d.SetResumeRequested(false)
	st.d.SCSW.ActL &^= sysblk.ActLSuspended
	st.d.SCSW.StCtl = 0
	st.d.Pending = false
	st.d.Unlock()
	return cleared
}

// postPCI implements spec §4.1 step 5: post a PCI interrupt using the
// PCI-SCSW pair, leaving the main SCSW untouched.
func (st *chainState) postPCI() {
	st.d.Lock()
	st.d.PCISCSW = sysblk.SCSW{
		StCtl:   sysblk.StCtlStatusPend | sysblk.StCtlAlert,
		CCWAddr: st.addr,
	}
	st.d.PCIPend = true
	st.d.Unlock()
	st.c.Sys.MarkPending()
}

// runOne implements spec §4.1 steps 6-9: IDAW-aware buffer transfer,
// handler invocation, and result copy.
func (st *chainState) runOne(cw ccw) (unitStatus uint8, residual int, more bool, chanStatus uint8) {
	sys := st.c.Sys
	opc := device.Opcode{Code: cw.opcode, Prev: st.prevOpcode, Seq: st.seq, Chaining: st.prevCD}

	var buf []byte
	if opc.IsWrite() {
		if int(cw.count) > maxIOBuffer {
			return 0, 0, false, sysblk.ChanProgramCheck
		}
		var err error
		if cw.flags&sysblk.FlagIDA != 0 {
			buf, err = readIDAW(sys, cw.addr, int(cw.count), st.orb.ProtectKey)
		} else if cw.flags&sysblk.FlagSkip != 0 {
			buf = make([]byte, cw.count)
		} else {
			buf, err = sys.Storage.GetBlock(cw.addr, uint32(cw.count))
		}
		if err != nil {
			return 0, 0, false, sysblk.ChanProtectCheck
		}
	} else if opc.IsRead() {
		buf = make([]byte, cw.count)
	} else {
		buf = make([]byte, cw.count)
	}

	st.d.Lock()
	handler := st.d.Handler
	st.d.Unlock()
	if handler == nil {
		return 0, int(cw.count), false, sysblk.ChanProgramCheck
	}

	out, res, us, mo := handler.Execute(opc, buf)

	if opc.IsRead() && cw.flags&sysblk.FlagSkip == 0 {
		var err error
		if cw.flags&sysblk.FlagIDA != 0 {
			err = writeIDAW(sys, cw.addr, out, st.orb.ProtectKey)
		} else {
			err = sys.Storage.PutBlock(cw.addr, out)
		}
		if err != nil {
			return us, res, mo, sysblk.ChanProtectCheck
		}
	}

	return us, res, mo, 0
}

// complete implements spec §4.1 "Chain completion": write the final
// SCSW, capture concurrent sense into the ECW when applicable, clear
// busy, mark pending, and wake any CPU waiting for an interrupt.
func (st *chainState) complete(unitStatus uint8, residual int, chanStatus uint8, cleared bool) {
	d := st.d
	d.Lock()
	defer d.Unlock()

	d.SCSW.UnitStatus = unitStatus
	d.SCSW.ChannelStatus = chanStatus
	if residual >= 0 {
		d.SCSW.Residual = uint16(residual)
	}
	d.SCSW.FCtl = 0
	d.SCSW.ActL = 0

	if cleared {
		d.SCSW.StCtl = sysblk.StCtlStatusPend | sysblk.StCtlPrimary
		d.SetClearRequested(false)
	} else if chanStatus != 0 {
		d.SCSW.StCtl = sysblk.StCtlStatusPend | sysblk.StCtlAlert
	} else {
		d.SCSW.StCtl = sysblk.StCtlStatusPend | sysblk.StCtlPrimary | sysblk.StCtlSecondary
	}

	if unitStatus&device.StatusUnitCheck != 0 && d.PMCW.ConcurrentSns {
		d.ECW.SenseValid = true
		copy(d.ECW.Sense[:], d.Sense[:])
	}

	d.Busy = false
	d.Pending = true
	st.c.Sys.MarkPending()
}
