/*
 * S370 - Register-file and PSW encoding tests.
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

package cpu

import "testing"

func TestPSWEncodeDecodeRoundTrip(t *testing.T) {
	cases := []PSW{
		{},
		{PERMode: true, Problem: true, Amode31: true, InstAddr: 0x00123456},
		{PERMode: false, Problem: true, Amode31: false, InstAddr: 0x00ffffff},
		{PERMode: true, Amode31: true, InstAddr: 0x7fffffff},
	}
	for _, p := range cases {
		got := DecodePSW(p.Encode())
		if got.PERMode != p.PERMode || got.Problem != p.Problem ||
			got.Amode31 != p.Amode31 || got.InstAddr != p.InstAddr {
			t.Errorf("round trip mismatch: want %+v, got %+v", p, got)
		}
	}
}

func TestPSWEncodeMasksInstAddr(t *testing.T) {
	p := PSW{Amode31: false, InstAddr: 0xffffffff}
	b := p.Encode()
	got := DecodePSW(b)
	if got.InstAddr != 0x7fffffff {
		t.Errorf("InstAddr = %#x, want masked to 31 bits", got.InstAddr)
	}
}

func TestASNFieldAccessors(t *testing.T) {
	var s State
	s.SetPKM(0xabcd)
	s.SetSASN(0x1234)
	if s.PKM() != 0xabcd {
		t.Errorf("PKM() = %#x, want 0xabcd", s.PKM())
	}
	if s.SASN() != 0x1234 {
		t.Errorf("SASN() = %#x, want 0x1234", s.SASN())
	}
	if s.CR[CR3] != 0xabcd1234 {
		t.Errorf("CR3 = %#x, want 0xabcd1234", s.CR[CR3])
	}

	s.SetEAX(0x0011)
	s.SetPASN(0x0022)
	if s.EAX() != 0x0011 || s.PASN() != 0x0022 {
		t.Errorf("EAX/PASN = %#x/%#x, want 0x0011/0x0022", s.EAX(), s.PASN())
	}
}

func TestASF(t *testing.T) {
	var s State
	if s.ASF() {
		t.Error("ASF() true with CR0 zero")
	}
	s.CR[CR0] = CR0ASF
	if !s.ASF() {
		t.Error("ASF() false with CR0ASF set")
	}
}

func TestLinkageStackEntryAddr(t *testing.T) {
	var s State
	s.SetLinkageStackEntryAddr(0x00100008)
	if got := s.LinkageStackEntryAddr(); got != 0x00100008 {
		t.Errorf("LinkageStackEntryAddr() = %#x, want 0x00100008", got)
	}
	// Low 3 bits are masked off.
	s.SetLinkageStackEntryAddr(0x00100003)
	if got := s.LinkageStackEntryAddr(); got != 0x00100000 {
		t.Errorf("LinkageStackEntryAddr() = %#x, want masked to 0x00100000", got)
	}
}
