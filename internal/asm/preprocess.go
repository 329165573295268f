// Package asm turns an assembly fragment meant for a fixed virtual origin
// into bytes that can be copied verbatim into an image at that origin.
//
// The external assembler always places a module at address 0. Operands that
// name an absolute address are rewritten relative to the module's start
// label, and when such an address lies below the origin the module is
// prefixed with zero fill so no displacement goes negative. The fill is
// trimmed off the assembled bytes again.
package asm

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Fragment is a preprocessed assembly fragment.
type Fragment struct {
	Origin  uint32
	Lines   []string // module-ready lines, without line terminators
	Padding uint32   // zero-fill bytes required before start
}

// Branch mnemonics whose operand may be an absolute target. BL and BX are
// not in the set; their operands are left as written.
var branchOpcodes = map[string]bool{
	"B": true, "BEQ": true, "BNE": true, "BCS": true, "BHS": true,
	"BCC": true, "BLO": true, "BMI": true, "BPL": true, "BVS": true,
	"BVC": true, "BHI": true, "BLS": true, "BGE": true, "BLT": true,
	"BGT": true, "BLE": true, "BAL": true,
}

const loadOpcode = "LDR"

var lineBreak = regexp.MustCompile(`\r\n|\r|\n`)

// Preprocess rewrites fragment for assembly at origin. Labels are moved to
// their own line at column 0, EQU definitions pass through, and every other
// line is indented by one space. A load or branch whose operand is a bare
// hexadecimal literal gets a trailing "+ start - 0x<origin>" displacement.
func Preprocess(fragment string, origin uint32) Fragment {
	f := Fragment{Origin: origin}
	for _, line := range lineBreak.Split(fragment, -1) {
		code := line
		if i := strings.IndexByte(line, ':'); i >= 0 {
			if label := strings.TrimSpace(line[:i]); label != "" {
				f.Lines = append(f.Lines, label)
			}
			code = line[i+1:]
		}

		if isEquate(code) {
			f.Lines = append(f.Lines, strings.TrimSpace(code))
			continue
		}

		code = strings.TrimSpace(code)
		absolute := false
		if operand, ok := addressOperand(code); ok {
			if v, ok := parseAddress(operand); ok {
				absolute = true
				if v < origin && origin-v > f.Padding {
					f.Padding = origin - v
				}
			}
		}

		out := " " + code
		if absolute {
			out += fmt.Sprintf(" + start - 0x%08X", origin)
		}
		f.Lines = append(f.Lines, out)
	}
	return f
}

// isEquate reports whether code holds an EQU token with whitespace on both
// sides, not at the very start or end of the line. Every occurrence is
// checked, so a symbol name containing EQU does not hide the directive.
func isEquate(code string) bool {
	upper := strings.ToUpper(code)
	for from := 0; ; {
		j := strings.Index(upper[from:], "EQU")
		if j < 0 {
			return false
		}
		i := from + j
		if i > 0 && i < len(code)-3 && isBlank(code[i-1]) && isBlank(code[i+3]) {
			return true
		}
		from = i + 1
	}
}

func isBlank(c byte) bool { return c == ' ' || c == '\t' }

// addressOperand returns the operand text that may hold an absolute address:
// everything after the first comma for LDR, everything after the mnemonic
// for a branch.
func addressOperand(code string) (string, bool) {
	n := strings.IndexAny(code, "\t .")
	if n <= 0 {
		return "", false
	}
	op := strings.ToUpper(code[:n])
	switch {
	case op == loadOpcode:
		i := strings.IndexByte(code, ',')
		return strings.TrimSpace(code[i+1:]), true
	case branchOpcodes[op]:
		i := strings.IndexAny(code, "\t ")
		return strings.TrimSpace(code[i+1:]), true
	}
	return "", false
}

// parseAddress accepts a hexadecimal literal with an optional lower-case 0x
// prefix that fits in 32 bits.
func parseAddress(s string) (uint32, bool) {
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, false
	}
	return uint32(v), true
}
