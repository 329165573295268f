package disasm

import "testing"

func TestDecodeBranch_RET(t *testing.T) {
	// RET (X30) = 0xD65F03C0
	bi := DecodeBranch(0xD65F03C0, 0x1000)
	if bi == nil {
		t.Fatal("expected RET")
	}
	if !bi.IsRet {
		t.Error("expected IsRet=true")
	}
}

func TestDecodeBranch_B(t *testing.T) {
	// B #0x100 at PC=0x1000 → target=0x1100
	// imm26 = 0x100/4 = 0x40
	raw := uint32(0x14000000 | 0x40)
	bi := DecodeBranch(raw, 0x1000)
	if bi == nil {
		t.Fatal("expected B")
	}
	if bi.Target != 0x1100 {
		t.Errorf("target = 0x%x, want 0x1100", bi.Target)
	}
	if bi.Cond {
		t.Error("B should not be conditional")
	}
}

func TestDecodeBranch_B_Negative(t *testing.T) {
	// B #-0x10 at PC=0x1000 → target=0xFF0
	// imm26 = -4 (offset = -0x10 / 4 = -4), encoded as 0x03FFFFFC
	raw := uint32(0x14000000 | (0x03FFFFFF - 3)) // -4 in 26-bit two's complement
	bi := DecodeBranch(raw, 0x1000)
	if bi == nil {
		t.Fatal("expected B")
	}
	if bi.Target != 0x0FF0 {
		t.Errorf("target = 0x%x, want 0xFF0", bi.Target)
	}
}

func TestDecodeBranch_Bcond(t *testing.T) {
	// B.EQ #0x20 at PC=0x2000 → target=0x2020
	// imm19 = 0x20/4 = 8, cond = 0 (EQ)
	raw := uint32(0x54000000 | (8 << 5) | 0) // B.EQ
	bi := DecodeBranch(raw, 0x2000)
	if bi == nil {
		t.Fatal("expected B.cond")
	}
	if bi.Target != 0x2020 {
		t.Errorf("target = 0x%x, want 0x2020", bi.Target)
	}
	if !bi.Cond {
		t.Error("B.cond should be conditional")
	}
}

func TestDecodeBranch_CBZ(t *testing.T) {
	// CBZ X0, #0x40 at PC=0x3000 → target=0x3040
	// imm19 = 0x40/4 = 0x10, sf=1 (64-bit), Rt=0
	raw := uint32(0xB4000000 | (0x10 << 5) | 0) // CBZ X0
	bi := DecodeBranch(raw, 0x3000)
	if bi == nil {
		t.Fatal("expected CBZ")
	}
	if bi.Target != 0x3040 {
		t.Errorf("target = 0x%x, want 0x3040", bi.Target)
	}
	if !bi.Cond {
		t.Error("CBZ should be conditional")
	}
}

func TestDecodeBranch_TBZ(t *testing.T) {
	// TBZ W0, #0, #0x10 at PC=0x4000 → target=0x4010
	// imm14 = 0x10/4 = 4
	raw := uint32(0x36000000 | (4 << 5) | 0) // TBZ
	bi := DecodeBranch(raw, 0x4000)
	if bi == nil {
		t.Fatal("expected TBZ")
	}
	if bi.Target != 0x4010 {
		t.Errorf("target = 0x%x, want 0x4010", bi.Target)
	}
	if !bi.Cond {
		t.Error("TBZ should be conditional")
	}
}

func TestDecodeBranch_NotBranch(t *testing.T) {
	// ADD X0, X1, X2 = 0x8B020020
	bi := DecodeBranch(0x8B020020, 0x1000)
	if bi != nil {
		t.Error("ADD should not be a branch")
	}

	// BL is NOT a basic-block terminator (it's a call)
	bl := uint32(0x94000000 | 0x100)
	bi = DecodeBranch(bl, 0x1000)
	if bi != nil {
		t.Error("BL should not be detected as branch terminator")
	}
}

func TestSignExtend(t *testing.T) {
	tests := []struct {
		val  uint32
		bits int
		want int32
	}{
		{0x04, 19, 4},       // positive
		{0x7FFFF, 19, -1},   // -1 in 19-bit
		{0x3FFF, 14, -1},    // -1 in 14-bit
		{0x2000, 14, -8192}, // MSB set in 14-bit
	}
	for _, tc := range tests {
		got := signExtend(tc.val, tc.bits)
		if got != tc.want {
			t.Errorf("signExtend(0x%x, %d) = %d, want %d", tc.val, tc.bits, got, tc.want)
		}
	}
}

func TestDecodeARMBranch(t *testing.T) {
	tests := []struct {
		name   string
		raw    uint32
		pc     uint64
		target uint64
		cond   bool
		link   bool
	}{
		{"B", 0xea00003e, 0x1000, 0x1100, false, false},
		{"BL_backward", 0xebfffffa, 0x1000, 0xff0, false, true},
		{"BEQ", 0x0a000002, 0x2000, 0x2010, true, false},
		{"BLX_imm_H", 0xfb000000, 0x3000, 0x300a, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bi := DecodeARMBranch(tt.raw, tt.pc)
			if bi == nil {
				t.Fatal("expected branch")
			}
			if bi.Target != tt.target {
				t.Errorf("target = 0x%x, want 0x%x", bi.Target, tt.target)
			}
			if bi.Cond != tt.cond || bi.Link != tt.link {
				t.Errorf("cond/link = %v/%v, want %v/%v", bi.Cond, bi.Link, tt.cond, tt.link)
			}
		})
	}

	if bi := DecodeARMBranch(0xe12fff1e, 0); bi == nil || !bi.IsRet {
		t.Error("BX LR should be a return")
	}
	if bi := DecodeARMBranch(0xe3a00001, 0); bi != nil {
		t.Error("MOV should not be a branch")
	}
}

func TestDecodeThumbBranch(t *testing.T) {
	tests := []struct {
		name   string
		raw    uint32
		size   int
		pc     uint64
		target uint64
		cond   bool
		link   bool
	}{
		{"B_T2", 0xe006, 2, 0x2000, 0x2010, false, false},
		{"BEQ_T1_backward", 0xd0f6, 2, 0x2000, 0x1ff0, true, false},
		{"BL", 0xf000 | 0xf87e<<16, 4, 0x1000, 0x1100, false, true},
		{"BL_backward", 0xf7ff | 0xff7e<<16, 4, 0x1000, 0xf00, false, true},
		{"B_W", 0xf000 | 0xb87e<<16, 4, 0x1000, 0x1100, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bi := DecodeThumbBranch(tt.raw, tt.size, tt.pc)
			if bi == nil {
				t.Fatal("expected branch")
			}
			if bi.Target != tt.target {
				t.Errorf("target = 0x%x, want 0x%x", bi.Target, tt.target)
			}
			if bi.Cond != tt.cond || bi.Link != tt.link {
				t.Errorf("cond/link = %v/%v, want %v/%v", bi.Cond, bi.Link, tt.cond, tt.link)
			}
		})
	}

	if bi := DecodeThumbBranch(0x4770, 2, 0); bi == nil || !bi.IsRet {
		t.Error("BX LR should be a return")
	}
	if bi := DecodeThumbBranch(0xbf00, 2, 0); bi != nil {
		t.Error("NOP should not be a branch")
	}
	if bi := DecodeThumbBranch(0xde00, 2, 0); bi != nil {
		t.Error("UDF should not be a branch")
	}
}
