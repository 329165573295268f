package asm

import (
	"fmt"
	"strings"
)

// Mode selects the instruction set directive of the module.
type Mode int

const (
	ModeARM    Mode = iota // 32-bit ARM (CODE32)
	ModeThumb              // 16-bit Thumb (CODE16)
	ModeThumb2             // mixed Thumb-2 (THUMB)
)

func (m Mode) Directive() string {
	switch m {
	case ModeThumb:
		return "CODE16"
	case ModeThumb2:
		return "THUMB"
	default:
		return "CODE32"
	}
}

func (m Mode) String() string {
	switch m {
	case ModeARM:
		return "arm"
	case ModeThumb:
		return "thumb"
	case ModeThumb2:
		return "thumb2"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode accepts the names returned by Mode.String, case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "arm", "arm32", "code32":
		return ModeARM, nil
	case "thumb", "code16":
		return ModeThumb, nil
	case "thumb2":
		return ModeThumb2, nil
	}
	return 0, fmt.Errorf("asm: unknown code type %q (want arm, thumb or thumb2)", s)
}

// AreaName is the code section every module is assembled into.
const AreaName = "ARM_AREA"

// BuildModule wraps a preprocessed fragment into a complete armasm source
// file: area and mode directives, optional zero fill, the start label, the
// fragment lines and the end directive. Lines end in CRLF.
func BuildModule(mode Mode, f Fragment) string {
	var b strings.Builder
	nl := "\r\n"
	b.WriteString(" AREA " + AreaName + ", CODE, READONLY" + nl)
	b.WriteString(" " + mode.Directive() + nl)
	if f.Padding > 0 {
		fmt.Fprintf(&b, " SPACE %d%s", f.Padding, nl)
	}
	b.WriteString("start" + nl)
	for _, l := range f.Lines {
		b.WriteString(l + nl)
	}
	b.WriteString(" end" + nl)
	return b.String()
}
