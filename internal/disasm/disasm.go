// Package disasm renders patch bytes as ARM, Thumb or ARM64 assembly.
package disasm

import (
	"encoding/binary"
	"fmt"
	"strings"

	"golang.org/x/arch/arm/armasm"
	"golang.org/x/arch/arm64/arm64asm"
)

// Mode selects the instruction set.
type Mode int

const (
	ModeARM   Mode = iota // A32, 4-byte instructions
	ModeThumb             // T32, 2- or 4-byte instructions
	ModeARM64             // A64, 4-byte instructions
)

func (m Mode) String() string {
	switch m {
	case ModeARM:
		return "arm"
	case ModeThumb:
		return "thumb"
	case ModeARM64:
		return "arm64"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode maps a name to a Mode. thumb2 is an alias for thumb.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "arm", "arm32", "a32":
		return ModeARM, nil
	case "thumb", "thumb2", "t32":
		return ModeThumb, nil
	case "arm64", "a64", "aarch64":
		return ModeARM64, nil
	}
	return 0, fmt.Errorf("disasm: unknown mode %q", s)
}

// Inst is a decoded instruction with address and raw bytes. For a 32-bit
// Thumb instruction Raw holds the first halfword in the low 16 bits.
type Inst struct {
	Addr     uint64
	Raw      uint32
	Size     int
	Mnemonic string
	Operands string
	Text     string // full disassembly line
}

// SymbolLookup resolves an address to a symbolic name. Returns ("", false) if unknown.
type SymbolLookup func(addr uint64) (name string, ok bool)

// Options controls disassembly behavior.
type Options struct {
	BaseAddr uint64 // VA of the first byte in Data
	Mode     Mode
	MaxSteps int // maximum instructions to decode; 0 = 1M
}

const defaultMaxSteps = 1_000_000

func (o Options) effectiveMax() int {
	if o.MaxSteps > 0 {
		return o.MaxSteps
	}
	return defaultMaxSteps
}

// Disassemble decodes instructions from a byte region. Undecodable units
// become .word (ARM, ARM64) or .short (Thumb) directives; a trailing
// partial unit becomes .byte lines.
func Disassemble(data []byte, opts Options) []Inst {
	maxSteps := opts.effectiveMax()
	var result []Inst
	off := 0
	for off < len(data) && len(result) < maxSteps {
		addr := opts.BaseAddr + uint64(off)
		var inst Inst
		switch opts.Mode {
		case ModeThumb:
			inst = decodeThumb(data[off:], addr)
		default:
			if len(data)-off < 4 {
				inst = byteInst(data[off], addr)
				break
			}
			inst = decodeWord(data[off:off+4], addr, opts.Mode)
		}
		result = append(result, inst)
		off += inst.Size
	}
	return result
}

func decodeWord(b []byte, addr uint64, mode Mode) Inst {
	raw := binary.LittleEndian.Uint32(b)
	var text string
	var err error
	if mode == ModeARM64 {
		var in arm64asm.Inst
		if in, err = arm64asm.Decode(b); err == nil {
			text = in.String()
		}
	} else {
		var in armasm.Inst
		if in, err = armasm.Decode(b, armasm.ModeARM); err == nil {
			text = armasm.GNUSyntax(in)
		}
	}
	if err != nil {
		text = fmt.Sprintf(".word 0x%08x", raw)
	}
	return newInst(addr, raw, 4, text)
}

func byteInst(b byte, addr uint64) Inst {
	return newInst(addr, uint32(b), 1, fmt.Sprintf(".byte 0x%02x", b))
}

func newInst(addr uint64, raw uint32, size int, text string) Inst {
	mnemonic, operands, _ := strings.Cut(text, " ")
	return Inst{
		Addr:     addr,
		Raw:      raw,
		Size:     size,
		Mnemonic: mnemonic,
		Operands: operands,
		Text:     text,
	}
}

// Format renders a slice of instructions as stable text output.
// Each line: <addr>  <hex bytes>  <disasm>  ; <comments>
// Annotators are checked in order; first non-empty result is used.
func Format(insts []Inst, lookup SymbolLookup, annotators ...Annotator) string {
	var b strings.Builder
	for _, inst := range insts {
		fmt.Fprintf(&b, "0x%08x  ", inst.Addr)
		hex := make([]string, 0, 4)
		for i := 0; i < inst.Size; i++ {
			hex = append(hex, fmt.Sprintf("%02x", byte(inst.Raw>>(8*i))))
		}
		fmt.Fprintf(&b, "%-12s  ", strings.Join(hex, " "))
		b.WriteString(inst.Text)
		commented := false
		if lookup != nil {
			if name, ok := lookup(inst.Addr); ok {
				fmt.Fprintf(&b, "  ; <%s>", name)
				commented = true
			}
		}
		if !commented {
			for _, ann := range annotators {
				if s := ann(inst); s != "" {
					fmt.Fprintf(&b, "  ; %s", s)
					break
				}
			}
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// MapLookup returns a SymbolLookup backed by a fixed address map.
func MapLookup(names map[uint64]string) SymbolLookup {
	return func(addr uint64) (string, bool) {
		name, ok := names[addr]
		return name, ok
	}
}
