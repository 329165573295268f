package disasm

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// golang.org/x/arch only decodes A32, so T32 is handled here for the
// handful of encodings that patch fragments use most. Everything else is
// emitted as .short or .inst.w.

var condNames = [...]string{"eq", "ne", "cs", "cc", "mi", "pl", "vs", "vc", "hi", "ls", "ge", "lt", "gt", "le"}

func decodeThumb(b []byte, addr uint64) Inst {
	if len(b) < 2 {
		return byteInst(b[0], addr)
	}
	hw1 := uint32(binary.LittleEndian.Uint16(b))
	if hw1>>11 < 0x1D {
		return newInst(addr, hw1, 2, thumb16Text(hw1, addr))
	}
	if len(b) < 4 {
		return newInst(addr, hw1, 2, fmt.Sprintf(".short 0x%04x", hw1))
	}
	hw2 := uint32(binary.LittleEndian.Uint16(b[2:]))
	raw := hw1 | hw2<<16
	text := fmt.Sprintf(".inst.w 0x%04x%04x", hw1, hw2)
	if bi := DecodeThumbBranch(raw, 4, addr); bi != nil {
		switch hw2 & 0xD000 {
		case 0xD000:
			text = fmt.Sprintf("bl 0x%x", bi.Target)
		case 0xC000:
			text = fmt.Sprintf("blx 0x%x", bi.Target)
		default:
			text = fmt.Sprintf("b.w 0x%x", bi.Target)
		}
	}
	return newInst(addr, raw, 4, text)
}

func thumb16Text(hw uint32, addr uint64) string {
	switch {
	case hw == 0xBF00:
		return "nop"
	case hw&0xFF87 == 0x4700:
		return fmt.Sprintf("bx %s", regName((hw>>3)&0xF))
	case hw&0xFF87 == 0x4780:
		return fmt.Sprintf("blx %s", regName((hw>>3)&0xF))
	case hw&0xFE00 == 0xB400:
		return "push " + regList(hw&0xFF, hw&0x100 != 0, "lr")
	case hw&0xFE00 == 0xBC00:
		return "pop " + regList(hw&0xFF, hw&0x100 != 0, "pc")
	case hw&0xF800 == 0x2000:
		return fmt.Sprintf("movs r%d, #%d", (hw>>8)&7, hw&0xFF)
	case hw&0xF800 == 0x2800:
		return fmt.Sprintf("cmp r%d, #%d", (hw>>8)&7, hw&0xFF)
	case hw&0xF800 == 0x4800:
		return fmt.Sprintf("ldr r%d, [pc, #%d]", (hw>>8)&7, (hw&0xFF)*4)
	case hw&0xF000 == 0xD000 && (hw>>8)&0xF < 0xE:
		bi := DecodeThumbBranch(hw, 2, addr)
		return fmt.Sprintf("b%s 0x%x", condNames[(hw>>8)&0xF], bi.Target)
	case hw&0xF800 == 0xE000:
		bi := DecodeThumbBranch(hw, 2, addr)
		return fmt.Sprintf("b 0x%x", bi.Target)
	}
	return fmt.Sprintf(".short 0x%04x", hw)
}

func regName(r uint32) string {
	switch r {
	case 13:
		return "sp"
	case 14:
		return "lr"
	case 15:
		return "pc"
	}
	return fmt.Sprintf("r%d", r)
}

func regList(low uint32, extra bool, extraName string) string {
	var regs []string
	for i := uint32(0); i < 8; i++ {
		if low&(1<<i) != 0 {
			regs = append(regs, fmt.Sprintf("r%d", i))
		}
	}
	if extra {
		regs = append(regs, extraName)
	}
	return "{" + strings.Join(regs, ", ") + "}"
}
