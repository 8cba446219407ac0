/*
 * S370 - chaninfo: compressed-CKD volume inspection utility.
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

// Command chaninfo is a small read-only inspection tool for a
// compressed-CKD volume (spec §2's "small channel-inspection CLI"):
// it opens the volume the same way cckdcdsk does and reports geometry
// and per-cylinder occupancy, without attaching it to a running
// channel subsystem.
package main

import (
	"fmt"
	"os"

	getopt "github.com/pborman/getopt/v2"

	"github.com/rcornwell/s370chan/internal/ckd"
)

func main() {
	optHelp := getopt.BoolLong("help", 'h', "Help")
	getopt.Parse()

	if *optHelp {
		getopt.Usage()
		os.Exit(0)
	}

	args := getopt.Args()
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: chaninfo file")
		os.Exit(-1)
	}

	vol, err := ckd.Open(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "chaninfo: %s: %v\n", args[0], err)
		os.Exit(-1)
	}
	defer vol.Close()

	geom := vol.Geometry()
	fmt.Printf("%s:\n", args[0])
	fmt.Printf("  cylinders:        %d\n", vol.Cylinders())
	fmt.Printf("  tracks/cylinder:  %d\n", geom.HeadsPerCyl)
	fmt.Printf("  track size:       %d\n", geom.TrackSize)

	var populated int
	for cyl := uint32(0); cyl < vol.Cylinders(); cyl++ {
		for head := uint32(0); head < geom.HeadsPerCyl; head++ {
			if _, err := vol.ReadTrack(cyl, head); err == nil {
				populated++
			}
		}
	}
	fmt.Printf("  tracks readable:  %d\n", populated)
}
