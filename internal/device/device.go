/*
 * S370 - Channel/device interface and status constants.
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

// Package device defines the device-handler contract the channel
// subsystem drives (spec §6): an Execute function invoked per CCW, plus
// the unit-status and sense constants shared by every handler.
package device

// Device is the contract a device handler exposes to the channel
// subsystem. Execute is called once per CCW; data-chained CCWs are not
// merged into a single call. It must not block past whatever the
// handler itself chooses as its blocking I/O boundary.
type Device interface {
	// Init configures the device from string arguments, as produced by
	// the configuration-file parser.
	Init(args []string) error

	// Execute runs one CCW against the device. chaining reports whether
	// this operation is data-chained from the previous CCW. buf is the
	// data written by the channel (write/control ops) or a buffer sized
	// for the handler to fill (read/sense ops). It returns the possibly
	// resized buffer, residual byte count, unit-status bits, and whether
	// more data was available than the CCW's count allowed for.
	Execute(op Opcode, buf []byte) (out []byte, residual int, unitStatus uint8, more bool)

	// Shutdown releases any resources (open files, sockets) held by the
	// device.
	Shutdown()
}

// AttentionRaiser lets a handler signal an unsolicited device-end
// outside of an active CCW chain (spec §6, device_attention).
type AttentionRaiser interface {
	DeviceAttention() uint8
}

// Opcode decomposes a CCW's 8-bit command code the way the channel
// executor needs to: by its low-order type bits and its full value
// (handlers frequently switch on the exact code for model-specific
// commands).
type Opcode struct {
	Code     uint8 // full 8-bit opcode
	Prev     uint8 // opcode of the immediately preceding CCW in the chain
	Seq      int   // sequence number of this CCW within the chain, 0-based
	Chaining bool  // true if this CCW is data-chained from the previous one
}

// Low-order command-type bits (spec §3, CCW).
const (
	CmdTypeMask uint8 = 0x03
	CmdWrite    uint8 = 0x01
	CmdRead     uint8 = 0x02
	CmdCtl      uint8 = 0x03
	CmdSense    uint8 = 0x04
	CmdTIC      uint8 = 0x08
	CmdRDBWD    uint8 = 0x0c
)

// IsWrite reports whether op is a write command or a control command
// other than NOP (0x03) (channel copies data from storage to the
// handler).
func (o Opcode) IsWrite() bool {
	t := o.Code & CmdTypeMask
	return t == CmdWrite || (t == CmdCtl && o.Code != 0x03)
}

// IsRead reports whether op is a read, sense, or read-backward command
// (channel reserves space for the handler to fill).
func (o Opcode) IsRead() bool {
	if o.Code == CmdSense {
		return true
	}
	if o.Code&0x0f == CmdRDBWD {
		return true
	}
	return o.Code&CmdTypeMask == CmdRead
}

// Unit-status bits (spec §3 SCSW, §7).
const (
	StatusAttention  uint8 = 0x80
	StatusModifier   uint8 = 0x40
	StatusControlEnd uint8 = 0x20
	StatusBusy       uint8 = 0x10
	StatusChannelEnd uint8 = 0x08
	StatusDeviceEnd  uint8 = 0x04
	StatusUnitCheck  uint8 = 0x02
	StatusException  uint8 = 0x01
)

// Basic sense-byte bits (common across device types, spec §7).
const (
	SenseCommandReject uint8 = 0x80
	SenseIntervention  uint8 = 0x40
	SenseBusCheck      uint8 = 0x20
	SenseEquipCheck    uint8 = 0x10
	SenseDataCheck     uint8 = 0x08
	SenseUnitSpecific  uint8 = 0x04
	SenseControlCheck  uint8 = 0x02
	SenseEC            uint8 = 0x02 // host I/O error, promoted per spec §7.4
	SenseOperCheck     uint8 = 0x01
)

// NoDev is the sentinel device number meaning "no device"/"no subchannel".
const NoDev uint16 = 0xffff
