/*
 * S370 - Program-check exception codes raised by LSX.
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

package lsx

// Exception codes LSX raises through the CPU's program-check path
// (spec §7.3). There is no CPU interpreter in this module to dispatch
// these (spec.md §1 scopes it out), so a ProgramCheck is returned as a
// plain Go error for a future interpreter to translate into an
// interruption the way the teacher's emu/cpu would.
type Code uint16

const (
	SpecialOperation         Code = 0x0013
	PrivilegedOperation      Code = 0x0002
	Specification            Code = 0x0006
	Addressing               Code = 0x0005
	Protection               Code = 0x0004
	StackFull                Code = 0x0032
	StackEmpty               Code = 0x0033
	StackSpecification       Code = 0x0034
	StackType                Code = 0x0035
	StackOperation           Code = 0x0036
	ASNTranslationAFX        Code = 0x0026
	ASNTranslationASX        Code = 0x0027
	ASNTranslationLX         Code = 0x0038
	ASNTranslationEX         Code = 0x0039
	ASTEValidity             Code = 0x0029
	ASTESequence             Code = 0x002a
	PrimaryAuthority         Code = 0x0025
	SecondaryAuthority       Code = 0x0030
	PCTranslationSpecification Code = 0x0028
)

var names = map[Code]string{
	SpecialOperation:           "special-operation exception",
	PrivilegedOperation:        "privileged-operation exception",
	Specification:              "specification exception",
	Addressing:                 "addressing exception",
	Protection:                 "protection exception",
	StackFull:                  "stack-full exception",
	StackEmpty:                 "stack-empty exception",
	StackSpecification:         "stack-specification exception",
	StackType:                  "stack-type exception",
	StackOperation:             "stack-operation exception",
	ASNTranslationAFX:          "AFX-translation exception",
	ASNTranslationASX:          "ASX-translation exception",
	ASNTranslationLX:           "LX-translation exception",
	ASNTranslationEX:           "EX-translation exception",
	ASTEValidity:               "ASTE-validity exception",
	ASTESequence:               "ASTE-sequence exception",
	PrimaryAuthority:           "primary-authority exception",
	SecondaryAuthority:         "secondary-authority exception",
	PCTranslationSpecification: "PC-translation-specification exception",
}

// ProgramCheck is the error LSX returns in place of invoking a CPU's
// program-check handler directly.
type ProgramCheck struct {
	Code Code
}

func (p ProgramCheck) Error() string {
	if name, ok := names[p.Code]; ok {
		return name
	}
	return "program check"
}

func programCheck(c Code) error { return ProgramCheck{Code: c} }
