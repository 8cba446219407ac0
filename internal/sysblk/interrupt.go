/*
 * S370 - Process-wide interrupt lock and I/O interrupt presentation.
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

package sysblk

// MarkPending flips the process-wide pending flag and wakes any CPU
// thread blocked in WaitForInterrupt. Locks device -> interrupt (spec
// §5, Locks): callers hold the device lock when they call this, never
// the reverse.
func (s *SYSBLK) MarkPending() {
	s.intrMu.Lock()
	s.pending = true
	s.intrCond.Broadcast()
	s.intrMu.Unlock()
}

// WaitForInterrupt blocks the calling goroutine until MarkPending is
// called, or returns immediately if an interrupt is already pending.
// It models the CPU's short kernel wait on the interrupt condition
// (spec §5, Timeouts).
func (s *SYSBLK) WaitForInterrupt() {
	s.intrMu.Lock()
	defer s.intrMu.Unlock()
	for !s.pending {
		s.intrCond.Wait()
	}
}

// PresentIOInterrupt implements present_io_interrupt for
// channel-subsystem mode (spec §4.1 "Interrupt presentation"): it scans
// the device list for a device with pending or PCI-pending status whose
// PMCW is enabled & valid and whose interruption subclass is selected by
// iscMask (the CR6 ISC mask, one bit per subclass 0-7, bit 0 = 0x80).
// On a hit it clears the device's pending flag and returns the SCSW
// (or PCI SCSW) to deliver, the device number, and true.
func (s *SYSBLK) PresentIOInterrupt(iscMask uint8) (devNum uint16, param uint32, scsw SCSW, ok bool) {
	for _, d := range s.Devices() {
		d.Lock()
		enabled := d.PMCW.Enabled && d.PMCW.Valid && (iscMask&(0x80>>d.PMCW.ISC)) != 0
		switch {
		case enabled && d.PCIPend:
			d.PCIPend = false
			scsw = d.PCISCSW
			devNum = d.DevNum
			param = d.PMCW.InterruptParam
			ok = true
		case enabled && d.Pending:
			d.Pending = false
			scsw = d.SCSW
			devNum = d.DevNum
			param = d.PMCW.InterruptParam
			ok = true
		}
		d.Unlock()
		if ok {
			return devNum, param, scsw, true
		}
	}
	return 0, 0, SCSW{}, false
}

// PresentIOInterruptS370 implements present_io_interrupt for S/370
// channel mode, where enablement is tested against PSW system-mask bits
// 0-5 (channels 0-5) directly, and bit 6 plus the CR2 channel mask for
// channel 6 and above (spec §4.1).
func (s *SYSBLK) PresentIOInterruptS370(sysMask uint8, cr2ChanMask uint16) (devNum uint16, param uint32, scsw SCSW, ok bool) {
	chanEnabled := func(ch uint16) bool {
		if ch < 6 {
			return sysMask&(0x80>>ch) != 0
		}
		if sysMask&0x02 == 0 { // bit 6: channels 6+ masked by CR2
			return false
		}
		return cr2ChanMask&(0x8000>>(ch-6)) != 0
	}
	for _, d := range s.Devices() {
		ch := d.DevNum >> 8
		if !chanEnabled(ch) {
			continue
		}
		d.Lock()
		switch {
		case d.PCIPend:
			d.PCIPend = false
			scsw = d.PCISCSW
			devNum = d.DevNum
			ok = true
		case d.Pending:
			d.Pending = false
			scsw = d.SCSW
			devNum = d.DevNum
			ok = true
		}
		d.Unlock()
		if ok {
			return devNum, param, scsw, true
		}
	}
	return 0, 0, SCSW{}, false
}

// ResetIO implements the I/O-reset action (spec §4.1): zero pending
// flags, busy, sense, SCSW, and PMCW enable/limit/measurement bits for
// every configured device.
func (s *SYSBLK) ResetIO() {
	for _, d := range s.Devices() {
		d.Lock()
		d.Pending = false
		d.PCIPend = false
		d.Busy = false
		d.Sense = [24]byte{}
		d.SCSW = SCSW{}
		d.PCISCSW = SCSW{}
		d.PMCW.Enabled = false
		d.PMCW.Valid = false
		d.PMCW.LPM = 0
		d.haltReq = false
		d.clearReq = false
		d.resumeReq = false
		d.Unlock()
	}
	s.intrMu.Lock()
	s.pending = false
	s.intrMu.Unlock()
}
