package disasm

// Branch detection from raw encodings. The decoders identify block
// terminators and calls and extract their absolute targets.

// BranchInfo describes a decoded branch instruction.
type BranchInfo struct {
	Target uint64 // absolute target address (0 if a return)
	Cond   bool   // true if conditional (has fallthrough)
	IsRet  bool   // true if a return
	Link   bool   // true for BL/BLX calls
}

// Branch dispatches to the decoder for mode.
func Branch(inst Inst, mode Mode) *BranchInfo {
	switch mode {
	case ModeARM:
		if inst.Size != 4 {
			return nil
		}
		return DecodeARMBranch(inst.Raw, inst.Addr)
	case ModeThumb:
		return DecodeThumbBranch(inst.Raw, inst.Size, inst.Addr)
	case ModeARM64:
		if inst.Size != 4 {
			return nil
		}
		return DecodeBranch(inst.Raw, inst.Addr)
	}
	return nil
}

// DecodeBranch attempts to decode an ARM64 branch instruction from raw
// encoding at the given PC. Returns nil if the instruction is not a
// branch/ret. BL is a call, not a terminator, and is not reported.
func DecodeBranch(raw uint32, pc uint64) *BranchInfo {
	// RET (0xD65F03C0 exactly, or RET Xn = 0xD65F0000 | Rn<<5)
	if raw&0xFFFFFC1F == 0xD65F0000 {
		return &BranchInfo{IsRet: true}
	}

	// B (unconditional): 000101 imm26
	if raw&0xFC000000 == 0x14000000 {
		offset := signExtend(raw&0x03FFFFFF, 26) * 4
		return &BranchInfo{Target: uint64(int64(pc) + int64(offset))}
	}

	// B.cond: 01010100 imm19 0 cond
	if raw&0xFF000010 == 0x54000000 {
		offset := signExtend((raw>>5)&0x7FFFF, 19) * 4
		return &BranchInfo{Target: uint64(int64(pc) + int64(offset)), Cond: true}
	}

	// CBZ / CBNZ: 0 sf 11010 op imm19 Rt
	if raw&0x7E000000 == 0x34000000 {
		offset := signExtend((raw>>5)&0x7FFFF, 19) * 4
		return &BranchInfo{Target: uint64(int64(pc) + int64(offset)), Cond: true}
	}

	// TBZ / TBNZ: 0 b5 11011 op b40 imm14 Rt
	if raw&0x7E000000 == 0x36000000 {
		offset := signExtend((raw>>5)&0x3FFF, 14) * 4
		return &BranchInfo{Target: uint64(int64(pc) + int64(offset)), Cond: true}
	}

	return nil
}

// DecodeARMBranch decodes A32 B, BL, BLX (immediate) and BX LR. The PC
// reads as the instruction address plus 8.
func DecodeARMBranch(raw uint32, pc uint64) *BranchInfo {
	cond := raw >> 28
	if raw&0x0FFFFFFF == 0x012FFF1E {
		return &BranchInfo{IsRet: true, Cond: cond != 0xE}
	}
	if raw&0x0E000000 != 0x0A000000 {
		return nil
	}
	offset := int64(signExtend(raw&0x00FFFFFF, 24)) * 4
	if cond == 0xF {
		// BLX imm: H supplies bit 1 of the Thumb target.
		h := int64(raw>>24) & 1
		return &BranchInfo{Target: uint64(int64(pc) + 8 + offset + h*2), Link: true}
	}
	return &BranchInfo{
		Target: uint64(int64(pc) + 8 + offset),
		Cond:   cond != 0xE,
		Link:   raw&0x01000000 != 0,
	}
}

// DecodeThumbBranch decodes T32 B (T1, T2, T4), BL, BLX (immediate) and
// BX LR. size selects between a 16-bit unit and a halfword pair as stored
// in Inst.Raw. The PC reads as the instruction address plus 4.
func DecodeThumbBranch(raw uint32, size int, pc uint64) *BranchInfo {
	if size == 2 {
		hw := raw & 0xFFFF
		switch {
		case hw == 0x4770:
			return &BranchInfo{IsRet: true}
		case hw&0xF000 == 0xD000 && (hw>>8)&0xF < 0xE:
			offset := int64(signExtend(hw&0xFF, 8)) * 2
			return &BranchInfo{Target: uint64(int64(pc) + 4 + offset), Cond: true}
		case hw&0xF800 == 0xE000:
			offset := int64(signExtend(hw&0x7FF, 11)) * 2
			return &BranchInfo{Target: uint64(int64(pc) + 4 + offset)}
		}
		return nil
	}
	if size != 4 {
		return nil
	}

	hw1, hw2 := raw&0xFFFF, raw>>16
	if hw1&0xF800 != 0xF000 || hw2&0x8000 == 0 {
		return nil
	}
	s := (hw1 >> 10) & 1
	j1 := (hw2 >> 13) & 1
	j2 := (hw2 >> 11) & 1
	i1 := ^(j1 ^ s) & 1
	i2 := ^(j2 ^ s) & 1
	imm := s<<24 | i1<<23 | i2<<22 | (hw1&0x3FF)<<12 | (hw2&0x7FF)<<1
	offset := int64(signExtend(imm, 25))

	switch hw2 & 0xD000 {
	case 0xD000: // BL
		return &BranchInfo{Target: uint64(int64(pc) + 4 + offset), Link: true}
	case 0xC000: // BLX: target is word aligned ARM code
		base := (int64(pc) + 4) &^ 3
		return &BranchInfo{Target: uint64(base + offset&^3), Link: true}
	case 0x9000: // B.W
		return &BranchInfo{Target: uint64(int64(pc) + 4 + offset)}
	}
	return nil
}

// signExtend sign-extends a value from the given bit width to int32.
func signExtend(val uint32, bits int) int32 {
	sign := uint32(1) << (bits - 1)
	mask := sign - 1
	if val&sign != 0 {
		return int32(val | ^mask) // negative
	}
	return int32(val & mask)
}

// IsBranchTerminator returns true if the ARM64 instruction terminates a
// basic block.
func IsBranchTerminator(raw uint32) bool {
	return DecodeBranch(raw, 0) != nil
}
