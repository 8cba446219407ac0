/*
 * S370 - Indirect Data Addressing (IDAW) support.
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
	"errors"

	"github.com/rcornwell/s370chan/internal/sysblk"
)

// idaBlockSize is the size of the data block addressed by each IDAW
// (spec §3, IDAW): the first IDAW may point anywhere, every subsequent
// one must fall on a block boundary.
const idaBlockSize = 2048

var errIDAWAlignment = errors.New("channel: idaw not on block boundary")

// walkIDAW decodes the IDAW list rooted at listAddr and invokes xfer for
// each (storageAddr, length) segment needed to move n bytes, honoring
// the IDAW alignment rule: the first IDAW may address any byte, and
// every following IDAW must be aligned on a 2KiB boundary (spec §3).
func walkIDAW(sys *sysblk.SYSBLK, listAddr uint32, n int, protKey uint8, xfer func(addr uint32, length int) error) error {
	remaining := n
	first := true
	for remaining > 0 {
		if !sys.Storage.CheckRange(listAddr, 4) {
			return errors.New("channel: idaw list out of range")
		}
		raw, err := sys.Storage.GetBlock(listAddr, 4)
		if err != nil {
			return err
		}
		idaAddr := uint32(raw[0])<<24 | uint32(raw[1])<<16 | uint32(raw[2])<<8 | uint32(raw[3])

		if !first && idaAddr%idaBlockSize != 0 {
			return errIDAWAlignment
		}

		blockOff := idaAddr % idaBlockSize
		avail := idaBlockSize - blockOff
		length := remaining
		if length > int(avail) {
			length = int(avail)
		}

		if err := xfer(idaAddr, length); err != nil {
			return err
		}

		remaining -= length
		listAddr += 4
		first = false
	}
	return nil
}

// readIDAW gathers n bytes of channel-bound data from the IDAW chain
// rooted at listAddr (a write/control CCW: storage -> handler buffer).
func readIDAW(sys *sysblk.SYSBLK, listAddr uint32, n int, protKey uint8) ([]byte, error) {
	out := make([]byte, 0, n)
	err := walkIDAW(sys, listAddr, n, protKey, func(addr uint32, length int) error {
		if sys.Storage.FetchProtected(addr, protKey) {
			return errors.New("channel: idaw fetch protection exception")
		}
		chunk, err := sys.Storage.GetBlock(addr, uint32(length))
		if err != nil {
			return err
		}
		out = append(out, chunk...)
		return nil
	})
	return out, err
}

// writeIDAW scatters data into storage through the IDAW chain rooted at
// listAddr (a read/sense CCW: handler buffer -> storage).
func writeIDAW(sys *sysblk.SYSBLK, listAddr uint32, data []byte, protKey uint8) error {
	pos := 0
	return walkIDAW(sys, listAddr, len(data), protKey, func(addr uint32, length int) error {
		if sys.Storage.StoreProtected(addr, protKey) {
			return errors.New("channel: idaw store protection exception")
		}
		if pos+length > len(data) {
			length = len(data) - pos
		}
		if length <= 0 {
			return nil
		}
		err := sys.Storage.PutBlock(addr, data[pos:pos+length])
		pos += length
		return err
	})
}
