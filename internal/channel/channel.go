/*
 * S370 - Channel subsystem: subchannel control operations.
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

// Package channel implements the channel subsystem (spec §4.1): it
// dispatches CCW chains on behalf of a CPU, one goroutine per active
// operation, and drives device handlers through the internal/device
// contract. Unlike the teacher's emu/sys_channel, which executes a CCW
// chain synchronously inside StartIO and keeps channel state in package
// globals, this implementation spawns a per-operation execution task
// (spec §4.1 "Execution task", §9 "Coroutine-like suspension") and holds
// no lock across a suspend wait.
package channel

import (
	"github.com/rcornwell/s370chan/internal/sysblk"
)

// Subsystem is the channel subsystem bound to one machine context.
type Subsystem struct {
	Sys *sysblk.SYSBLK
}

// New constructs a Subsystem over sys.
func New(sys *sysblk.SYSBLK) *Subsystem {
	return &Subsystem{Sys: sys}
}

// StartIO implements the START SUBCHANNEL operation (spec §4.1 "Start
// operation"). It returns condition code 0, 1, or 2, or 3 when no device
// is configured at devNum.
func (c *Subsystem) StartIO(devNum uint16, orb sysblk.ORB) uint8 {
	d := c.Sys.Device(devNum)
	if d == nil {
		return 3
	}
	d.Lock()
	if d.SCSW.StatusPending() || d.PCIPend {
		d.Unlock()
		return 1
	}
	if d.Busy || d.Pending {
		d.Unlock()
		return 2
	}

	d.Busy = true
	d.SCSW = sysblk.SCSW{
		Key:     orb.ProtectKey,
		FCtl:    sysblk.FCtlStart,
		ActL:    sysblk.ActLStartPend,
		CCWAddr: orb.CCWAddr,
	}
	d.SetORB(orb)
	d.SetHaltRequested(false)
	d.SetClearRequested(false)
	d.SetResumeRequested(false)
	d.Unlock()

	go c.executeChain(d)
	return 0
}

// TestSubchan implements TEST SUBCHANNEL (spec §4.1 "Test subchannel").
// On cc 0, irb holds the status that was cleared.
func (c *Subsystem) TestSubchan(devNum uint16) (irb sysblk.SCSW, cc uint8) {
	d := c.Sys.Device(devNum)
	if d == nil {
		return sysblk.SCSW{}, 3
	}
	d.Lock()
	defer d.Unlock()

	if d.PCIPend {
		irb = d.PCISCSW
		d.PCIPend = false
		d.PCISCSW = sysblk.SCSW{}
		return irb, 0
	}

	if d.SCSW.StatusPending() {
		irb = d.SCSW

		// Pure-intermediate (suspended) status clears only the
		// intermediate/status-pending bits; the chain is still
		// executing and the subchannel stays busy. Any other
		// status-pending combination frees the subchannel for a
		// new START (spec §4.1 "Test subchannel").
		pureIntermediate := d.SCSW.StCtl == (sysblk.StCtlStatusPend|sysblk.StCtlIntermediate) &&
			d.SCSW.ActL&sysblk.ActLSuspended != 0
		if pureIntermediate {
			d.SCSW.StCtl &^= sysblk.StCtlStatusPend | sysblk.StCtlIntermediate
		} else {
			d.SCSW = sysblk.SCSW{}
			d.Busy = false
		}
		return irb, 0
	}

	return sysblk.SCSW{}, 1
}

// HaltSubchan implements HALT SUBCHANNEL (spec §4.1 "Halt subchannel").
func (c *Subsystem) HaltSubchan(devNum uint16) uint8 {
	d := c.Sys.Device(devNum)
	if d == nil {
		return 3
	}
	d.Lock()
	defer d.Unlock()

	st := d.SCSW.StCtl
	if st == sysblk.StCtlStatusPend {
		return 1
	}
	if st&sysblk.StCtlStatusPend != 0 && st&(sysblk.StCtlAlert|sysblk.StCtlPrimary|sysblk.StCtlSecondary) != 0 {
		return 1
	}
	if d.SCSW.FCtl&(sysblk.FCtlHalt|sysblk.FCtlClear) != 0 {
		return 2
	}

	d.SCSW.FCtl |= sysblk.FCtlHalt
	if d.Busy {
		d.SetHaltRequested(true)
		if d.SCSW.ActL&sysblk.ActLSuspended != 0 {
			d.Signal()
		}
		return 0
	}

	// Idle: synthesize an immediate pending status.
	d.SCSW.StCtl = sysblk.StCtlStatusPend | sysblk.StCtlAlert
	d.SCSW.UnitStatus = 0
	d.SCSW.ChannelStatus = 0
	d.Pending = true
	c.Sys.MarkPending()
	return 0
}

// ClearSubchan implements CLEAR SUBCHANNEL (spec §4.1 "Clear
// subchannel").
func (c *Subsystem) ClearSubchan(devNum uint16) uint8 {
	d := c.Sys.Device(devNum)
	if d == nil {
		return 3
	}
	d.Lock()
	defer d.Unlock()

	d.PMCW.LPM = 0xff // force path-operational mask
	d.SCSW.FCtl = sysblk.FCtlClear
	d.SCSW.StCtl = sysblk.StCtlStatusPend | sysblk.StCtlPrimary

	if d.Busy {
		d.SetClearRequested(true)
		if d.SCSW.ActL&sysblk.ActLSuspended != 0 {
			d.Signal()
		}
	} else {
		d.Pending = true
		c.Sys.MarkPending()
	}
	return 0
}

// ResumeSubchan implements RESUME SUBCHANNEL (spec §4.1 "Resume
// subchannel").
func (c *Subsystem) ResumeSubchan(devNum uint16) uint8 {
	d := c.Sys.Device(devNum)
	if d == nil {
		return 3
	}
	d.Lock()
	defer d.Unlock()

	if d.SCSW.StatusPending() {
		return 1
	}
	if d.SCSW.FCtl != sysblk.FCtlStart {
		return 2
	}
	if d.ResumeRequested() {
		return 2
	}
	if !d.ORB().SuspendAuthorized() {
		return 2
	}

	d.SetResumeRequested(true)
	d.SCSW.ActL |= sysblk.ActLResumePend
	d.Signal()
	return 0
}

// StoreChannelID implements STORE CHANNEL ID: a fixed channel-identifier
// word reporting a block-multiplexer channel supporting the compressed
// CKD / CCW format-1 feature set this subsystem implements.
func (c *Subsystem) StoreChannelID(chanNum uint16) uint32 {
	return 0x40000000 | uint32(chanNum)<<8
}

// TestChannel implements TEST CHANNEL: always reports the channel
// available (condition 0), since this subsystem models only the
// subchannel-based CSS addressing mode.
func (c *Subsystem) TestChannel(_ uint16) uint8 {
	return 0
}
