/*
 * S370 - Per-subsystem logger construction.
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

// Package logging builds one *slog.Logger per subsystem (channel, ckd,
// cckdcdsk, lsx) on top of util/logger's LogHandler, rather than every
// package reaching for a single global logger the way the teacher's
// cpu/sys_channel packages did through a package-level debug flag.
package logging

import (
	"log/slog"
	"os"

	"github.com/rcornwell/s370chan/util/logger"
)

// New returns a *slog.Logger for subsystem, tagged with a "subsystem"
// attribute on every record. debug must not be nil; its value is
// copied when the handler is built, so later changes to *debug do not
// change the returned logger's verbosity.
func New(out *os.File, subsystem string, debug *bool) *slog.Logger {
	h := logger.NewHandler(out, nil, debug)
	return slog.New(h).With("subsystem", subsystem)
}

// Subsystem names, named rather than left as bare strings at call
// sites (spec §2's ambient logging: "parameterized per subsystem").
const (
	SubsystemChannel   = "channel"
	SubsystemCKD       = "ckd"
	SubsystemCKDRepair = "cckdcdsk"
	SubsystemLSX       = "lsx"
)
