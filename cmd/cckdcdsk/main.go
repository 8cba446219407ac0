/*
 * S370 - cckdcdsk: compressed-CKD image check/repair utility.
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

// Command cckdcdsk is the CKD repair engine's CLI (spec §6), matching
// the conventional Hercules cckdcdsk switches seen in
// original_source/cckdcdsk.c: -0/-1/-3 select the check level, -level
// is the long form.
package main

import (
	"fmt"
	"os"

	getopt "github.com/pborman/getopt/v2"

	"github.com/rcornwell/s370chan/internal/ckdrepair"
)

func main() {
	optLevel := getopt.IntLong("level", 'v', ckdrepair.LevelDefault, "Check level: 0 (fast), 1 (default), 3 (exhaustive)")
	opt0 := getopt.BoolLong("0", '0', "Check level 0 (fast)")
	opt1 := getopt.BoolLong("1", '1', "Check level 1 (default)")
	opt3 := getopt.BoolLong("3", '3', "Check level 3 (exhaustive)")
	optHelp := getopt.BoolLong("help", 'h', "Help")
	getopt.Parse()

	if *optHelp {
		getopt.Usage()
		os.Exit(0)
	}

	args := getopt.Args()
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: cckdcdsk [-0|-1|-3|-level N] file")
		os.Exit(-1)
	}

	level := *optLevel
	switch {
	case *opt0:
		level = ckdrepair.LevelFast
	case *opt1:
		level = ckdrepair.LevelDefault
	case *opt3:
		level = ckdrepair.LevelExhaustive
	}

	report, err := ckdrepair.Repair(args[0], level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cckdcdsk: %s: %v\n", args[0], err)
		os.Exit(-1)
	}

	if report.Clean {
		fmt.Printf("%s: no errors found\n", args[0])
		os.Exit(0)
	}

	fmt.Printf("%s: repaired\n", args[0])
	fmt.Printf("  tracks recovered:    %d\n", report.TracksRecovered)
	fmt.Printf("  L2 tables rebuilt:   %d\n", report.L2TablesRebuilt)
	fmt.Printf("  gaps healed:         %d\n", report.GapsHealed)
	fmt.Printf("  free chain entries:  %d\n", report.FreeChainEntries)
	fmt.Printf("  free bytes reclaimed: %d\n", report.BytesReclaimed)
	os.Exit(1)
}
