/*
 * S370 - Compressed-CKD free-space chain: first-fit allocation.
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

package ckd

// freeNode is an in-memory view of one on-disk free block plus that
// block's own file offset.
type freeNode struct {
	offset uint32
	block  FreeBlock
}

func (v *Volume) readFreeChain() ([]freeNode, error) {
	var chain []freeNode
	off := v.header.FreeHead
	seen := map[uint32]bool{}
	for off != 0 {
		if seen[off] {
			break // corrupt cycle; caller/CRE deals with structural repair
		}
		seen[off] = true
		buf := make([]byte, FreeBlockSize)
		if _, err := v.f.ReadAt(buf, int64(off)); err != nil {
			return nil, err
		}
		blk := decodeFreeBlock(buf, v.header.BigEndian())
		chain = append(chain, freeNode{offset: off, block: blk})
		off = blk.Next
	}
	return chain, nil
}

func (v *Volume) writeFreeChain(chain []freeNode) error {
	for i, n := range chain {
		next := uint32(0)
		if i+1 < len(chain) {
			next = chain[i+1].offset
		}
		b := encodeFreeBlock(FreeBlock{Next: next, Length: n.block.Length}, v.header.BigEndian())
		if _, err := v.f.WriteAt(b, int64(n.offset)); err != nil {
			return err
		}
	}
	head := uint32(0)
	if len(chain) > 0 {
		head = chain[0].offset
	}
	v.header.FreeHead = head
	v.recomputeFreeStats(chain)
	return nil
}

func (v *Volume) recomputeFreeStats(chain []freeNode) {
	var count, total, largest uint32
	for _, n := range chain {
		count++
		total += n.block.Length
		if n.block.Length > largest {
			largest = n.block.Length
		}
	}
	v.header.FreeCount = count
	v.header.FreeTotal = total
	v.header.FreeLargest = largest
}

// allocate reserves size bytes, by first-fit from the free chain
// (ascending offset order), splitting only when the remainder is at
// least one free-block header, else extending the file (spec §4.2,
// Free-space chain).
func (v *Volume) allocate(size uint32) (uint32, error) {
	chain, err := v.readFreeChain()
	if err != nil {
		return 0, err
	}

	for i, n := range chain {
		if n.block.Length < size {
			continue
		}
		remainder := n.block.Length - size
		out := make([]freeNode, 0, len(chain))
		out = append(out, chain[:i]...)
		if remainder >= FreeBlockSize {
			out = append(out, freeNode{offset: n.offset + size, block: FreeBlock{Length: remainder}})
		}
		out = append(out, chain[i+1:]...)
		if err := v.writeFreeChain(out); err != nil {
			return 0, err
		}
		return n.offset, nil
	}

	// No block suffices: extend the file.
	offset := v.header.FileSize
	v.header.FileSize += size
	if err := v.f.Truncate(int64(v.header.FileSize)); err != nil {
		return 0, err
	}
	return offset, nil
}

// free returns a (offset, length) extent to the chain, coalescing with
// immediately adjacent free blocks (spec §4.2, Free-space chain).
func (v *Volume) free(offset, length uint32) error {
	chain, err := v.readFreeChain()
	if err != nil {
		return err
	}

	// Insert in ascending-offset order.
	i := 0
	for i < len(chain) && chain[i].offset < offset {
		i++
	}
	merged := freeNode{offset: offset, block: FreeBlock{Length: length}}
	out := make([]freeNode, 0, len(chain)+1)
	out = append(out, chain[:i]...)
	out = append(out, merged)
	out = append(out, chain[i:]...)

	// Coalesce forward and backward passes.
	coalesced := make([]freeNode, 0, len(out))
	for _, n := range out {
		if len(coalesced) > 0 {
			last := &coalesced[len(coalesced)-1]
			if last.offset+last.block.Length == n.offset {
				last.block.Length += n.block.Length
				continue
			}
		}
		coalesced = append(coalesced, n)
	}

	return v.writeFreeChain(coalesced)
}
