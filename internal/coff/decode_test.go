package coff

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"armpatch/internal/coff/cofftest"
)

func singleSection(data []byte) []byte {
	return cofftest.Build(cofftest.Object{
		Machine: uint16(MachineARMNT),
		Sections: []cofftest.Section{
			{Name: "ARM_AREA", Data: data, Characteristics: ScnCntCode | ScnMemExecute | ScnMemRead},
		},
	})
}

func TestDecodeSingleSection(t *testing.T) {
	code := []byte{0x00, 0xbf, 0x70, 0x47, 0x01, 0x02, 0x03, 0x04}
	f, err := Decode(singleSection(code))
	if err != nil {
		t.Fatal(err)
	}
	if len(f.Sections) != 1 {
		t.Fatalf("got %d sections, want 1", len(f.Sections))
	}
	sec := f.Sections[0]
	if sec.Name != "ARM_AREA" {
		t.Errorf("name = %q", sec.Name)
	}
	if !bytes.Equal(sec.Data, code) {
		t.Errorf("data = % x, want % x", sec.Data, code)
	}
	if len(sec.Relocations) != 0 {
		t.Errorf("got %d relocations", len(sec.Relocations))
	}
	if len(f.Symbols) != 0 {
		t.Errorf("got %d symbols", len(f.Symbols))
	}
	if f.Header.Machine != MachineARMNT {
		t.Errorf("machine = %v", f.Header.Machine)
	}
}

func TestDecodeRejects(t *testing.T) {
	valid := singleSection([]byte{1, 2, 3, 4})

	mutate := func(fn func(b []byte) []byte) []byte {
		b := append([]byte(nil), valid...)
		return fn(b)
	}

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"short", valid[:FileHeaderSize-1], ErrTooSmall},
		{"empty", nil, ErrTooSmall},
		{"optional header", mutate(func(b []byte) []byte {
			binary.LittleEndian.PutUint16(b[16:], 0xe0)
			return b
		}), ErrOptionalHeader},
		{"no symbol table", mutate(func(b []byte) []byte {
			binary.LittleEndian.PutUint32(b[8:], 0)
			return b
		}), ErrNoSymbolTable},
		{"too many sections", mutate(func(b []byte) []byte {
			binary.LittleEndian.PutUint16(b[2:], 100)
			return b
		}), ErrSectionBounds},
		{"raw data out of bounds", mutate(func(b []byte) []byte {
			binary.LittleEndian.PutUint32(b[FileHeaderSize+16:], 0x1000)
			return b
		}), ErrSectionBounds},
		{"raw data pointer wraps", mutate(func(b []byte) []byte {
			binary.LittleEndian.PutUint32(b[FileHeaderSize+20:], 0xffffffff)
			return b
		}), ErrSectionBounds},
		{"relocations out of bounds", mutate(func(b []byte) []byte {
			binary.LittleEndian.PutUint32(b[FileHeaderSize+24:], 60)
			binary.LittleEndian.PutUint16(b[FileHeaderSize+32:], 50)
			return b
		}), ErrRelocationBounds},
		{"symbol table out of bounds", mutate(func(b []byte) []byte {
			binary.LittleEndian.PutUint32(b[12:], 1000)
			return b
		}), ErrSymbolTableBounds},
		{"string table length", mutate(func(b []byte) []byte {
			binary.LittleEndian.PutUint32(b[len(b)-4:], 0xffff)
			return b
		}), ErrStringTableBounds},
		{"string table missing", valid[:len(valid)-4], ErrStringTableBounds},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if !IsDecodeError(err) {
				t.Errorf("IsDecodeError(%v) = false", err)
			}
		})
	}
}

func TestDecodeErrorsDistinct(t *testing.T) {
	short := []byte{1, 2, 3}
	opt := singleSection([]byte{1})
	binary.LittleEndian.PutUint16(opt[16:], 0xe0)

	_, err1 := Decode(short)
	_, err2 := Decode(opt)
	if errors.Is(err1, ErrOptionalHeader) || errors.Is(err2, ErrTooSmall) {
		t.Fatalf("errors not distinct: %v / %v", err1, err2)
	}
}

func TestDecodeSymbolsAndRelocations(t *testing.T) {
	obj := cofftest.Object{
		Machine: uint16(MachineARMNT),
		Sections: []cofftest.Section{
			{
				Name:            "ARM_AREA",
				Data:            make([]byte, 16),
				Characteristics: ScnCntCode,
				Relocs: []cofftest.Reloc{
					{VirtualAddress: 4, SymbolTableIndex: 4, Type: 0x14},
					{VirtualAddress: 8, SymbolTableIndex: 5, Type: 0x01},
				},
			},
			{Name: ".debug$S_long_name", Data: []byte{9, 9}},
		},
		Symbols: []cofftest.Symbol{
			// index 0, aux at 1
			{Name: ".file", SectionNumber: -2, StorageClass: ClassFile, Aux: [][]byte{[]byte("fragment.s")}},
			// index 2, aux at 3
			{Name: "ARM_AREA", SectionNumber: 1, StorageClass: ClassStatic,
				Aux: [][]byte{cofftest.SectionDefinitionAux(16, 2, 1)}},
			// index 4
			{Name: "start", Value: 0, SectionNumber: 1, StorageClass: ClassLabel},
			// index 5
			{Name: "a_rather_long_external", SectionNumber: 0, StorageClass: ClassExternal},
		},
	}
	f, err := Decode(cofftest.Build(obj))
	if err != nil {
		t.Fatal(err)
	}

	if len(f.Symbols) != 4 {
		t.Fatalf("got %d regular symbols, want 4", len(f.Symbols))
	}
	if got := f.Symbols[0].FileName; got != "fragment.s" {
		t.Errorf(".file name = %q", got)
	}
	def := f.Symbols[1].SectionDef
	if def == nil {
		t.Fatal("section symbol has no section definition")
	}
	if def.Length != 16 || def.NumberOfRelocations != 2 || def.Number != 1 {
		t.Errorf("section definition = %+v", *def)
	}
	if f.Symbols[2].Index != 4 {
		t.Errorf("start index = %d, want 4", f.Symbols[2].Index)
	}
	if got := f.Symbols[3].Name; got != "a_rather_long_external" {
		t.Errorf("long symbol name = %q", got)
	}
	if got := f.Sections[1].Name; got != ".debug$S_long_name" {
		t.Errorf("long section name = %q", got)
	}

	relocs := f.Sections[0].Relocations
	if len(relocs) != 2 {
		t.Fatalf("got %d relocations", len(relocs))
	}
	if relocs[0].SymbolName != "start" || relocs[1].SymbolName != "a_rather_long_external" {
		t.Errorf("relocation names = %q, %q", relocs[0].SymbolName, relocs[1].SymbolName)
	}
	if relocs[0].Type != (RelocType{Arch: ArchARM, Value: 0x14}) {
		t.Errorf("relocation type = %v", relocs[0].Type)
	}
	if relocs[0].Type.String() != "arm/BRANCH24T" {
		t.Errorf("relocation type string = %q", relocs[0].Type.String())
	}
}

func TestRelocationArchByMachine(t *testing.T) {
	tests := []struct {
		machine Machine
		want    RelocArch
	}{
		{MachineI386, ArchX86},
		{MachineAMD64, ArchAMD64},
		{MachineARM, ArchARM},
		{MachineARMNT, ArchARM},
		{MachineARM64, ArchARM64},
		{Machine(0x0166), ArchX86}, // MIPS: no table of its own
	}
	for _, tt := range tests {
		obj := cofftest.Object{
			Machine: uint16(tt.machine),
			Sections: []cofftest.Section{{
				Name:   ".text",
				Data:   make([]byte, 4),
				Relocs: []cofftest.Reloc{{SymbolTableIndex: 0, Type: 3}},
			}},
			Symbols: []cofftest.Symbol{{Name: "x", StorageClass: ClassExternal}},
		}
		f, err := Decode(cofftest.Build(obj))
		if err != nil {
			t.Fatalf("%v: %v", tt.machine, err)
		}
		if got := f.Sections[0].Relocations[0].Type.Arch; got != tt.want {
			t.Errorf("%v: arch = %v, want %v", tt.machine, got, tt.want)
		}
	}
}

func TestDecodeBadRelocationIndex(t *testing.T) {
	obj := cofftest.Object{
		Machine: uint16(MachineARMNT),
		Sections: []cofftest.Section{{
			Name:   ".text",
			Data:   make([]byte, 4),
			Relocs: []cofftest.Reloc{{SymbolTableIndex: 7}},
		}},
		Symbols: []cofftest.Symbol{{Name: "x"}},
	}
	if _, err := Decode(cofftest.Build(obj)); !errors.Is(err, ErrRelocationSymbol) {
		t.Fatalf("err = %v, want ErrRelocationSymbol", err)
	}
}

func TestDecodeBadStringOffset(t *testing.T) {
	b := singleSection([]byte{1, 2, 3, 4})
	// Rename the section to point far past the 4-byte string table.
	copy(b[FileHeaderSize:FileHeaderSize+8], "/999\x00\x00\x00\x00")
	if _, err := Decode(b); !errors.Is(err, ErrStringOffset) {
		t.Fatalf("err = %v, want ErrStringOffset", err)
	}
}

func TestCodeSection(t *testing.T) {
	f, err := Decode(cofftest.Build(cofftest.Object{
		Sections: []cofftest.Section{
			{Name: ".drectve", Data: []byte("x"), Characteristics: ScnLnkInfo},
			{Name: ".text", Data: []byte{1, 2}, Characteristics: ScnCntCode},
		},
	}))
	if err != nil {
		t.Fatal(err)
	}
	sec, err := f.CodeSection("ARM_AREA")
	if err != nil {
		t.Fatal(err)
	}
	if sec.Name != ".text" {
		t.Errorf("fallback section = %q", sec.Name)
	}

	empty, err := Decode(cofftest.Build(cofftest.Object{
		Sections: []cofftest.Section{{Name: ".data", Data: []byte{1}}},
	}))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := empty.CodeSection("ARM_AREA"); !errors.Is(err, ErrNoCodeSection) {
		t.Errorf("err = %v, want ErrNoCodeSection", err)
	}
}
