/*
 * S370 - Test device controller.
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

// Package testdev is a synchronous reference device handler, used by
// internal/channel's tests the way _examples/rcornwell-S370/emu/
// test_dev exercises the teacher's channel subsystem. It is adapted to
// this repo's synchronous device.Device contract (one Execute call per
// CCW, no event-queue callback) rather than ported verbatim: the
// teacher's command matrix (write, read, nop, one-byte read, delayed
// channel-end, sense, read-backward) is preserved, its AddEvent-based
// deferred completion is not, since nothing in this module models
// asynchronous device timing (spec §4.1 scopes channel/device
// interaction to one synchronous Execute call).
package testdev

import "github.com/rcornwell/s370chan/internal/device"

// Command codes, matching the teacher's comment block in testdev.go.
const (
	cmdWrite    uint8 = 0x01
	cmdRead     uint8 = 0x02
	cmdNop      uint8 = 0x03
	cmdOneByte  uint8 = 0x0b
	cmdChanEnd  uint8 = 0x13
	cmdSense    uint8 = 0x04
	cmdReadBack uint8 = 0x0c
)

// Device is a fixed 256-byte data buffer a test can preload for reads
// or inspect after writes.
type Device struct {
	Data  [256]byte
	Max   int // valid byte count for reads
	Sense uint8
}

func (d *Device) Init(args []string) error {
	d.Max = 0
	d.Sense = 0
	return nil
}

func (d *Device) Shutdown() {}

// Execute implements device.Device. Write/read CCWs copy between buf
// and Data starting at offset 0 (a test configures Data/Max before
// issuing the CCW that reads it, and inspects Data after one that
// writes it); sense returns the one pending sense byte; an unrecognized
// command rejects with SenseCommandReject.
func (d *Device) Execute(op device.Opcode, buf []byte) (out []byte, residual int, unitStatus uint8, more bool) {
	switch op.Code {
	case cmdNop:
		return buf, 0, device.StatusChannelEnd | device.StatusDeviceEnd, false

	case cmdWrite:
		n := copy(d.Data[:], buf)
		d.Max = n
		return buf, 0, device.StatusChannelEnd | device.StatusDeviceEnd, false

	case cmdRead, cmdReadBack:
		n := len(buf)
		more = n < d.Max
		if d.Max < n {
			n = d.Max
		}
		copy(buf, d.Data[:n])
		return buf[:n], len(buf) - n, device.StatusChannelEnd | device.StatusDeviceEnd, more

	case cmdOneByte:
		if len(buf) == 0 {
			d.Sense = device.SenseCommandReject
			return buf, 0, device.StatusChannelEnd | device.StatusDeviceEnd | device.StatusUnitCheck, false
		}
		d.Data[0] = buf[0]
		return buf[:1], 0, device.StatusChannelEnd | device.StatusDeviceEnd, false

	case cmdChanEnd:
		return buf, 0, device.StatusChannelEnd | device.StatusDeviceEnd, false

	case cmdSense:
		out = []byte{d.Sense}
		residual = len(buf) - 1
		if residual < 0 {
			residual = 0
		}
		return out, residual, device.StatusChannelEnd | device.StatusDeviceEnd, false

	default:
		d.Sense = device.SenseCommandReject
		return buf, 0, device.StatusChannelEnd | device.StatusDeviceEnd | device.StatusUnitCheck, false
	}
}
