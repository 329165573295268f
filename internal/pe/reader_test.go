package pe

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"armpatch/internal/pe/petest"
)

func textImage() petest.Image {
	return petest.Image{
		Machine:   0x01c4,
		ImageBase: 0x400000,
		CheckSum:  0xdeadbeef,
		Sections: []petest.Section{
			{Name: ".text", VirtualAddress: 0x1000, VirtualSize: 0x1f0, SizeOfRawData: 0x200, PointerToRawData: 0x400},
			{Name: ".data", VirtualAddress: 0x2000, VirtualSize: 0x80, SizeOfRawData: 0x200, PointerToRawData: 0x600},
		},
	}
}

func TestParseHeaders(t *testing.T) {
	f, err := Parse(petest.Build(textImage()))
	if err != nil {
		t.Fatal(err)
	}
	if !f.Is32Bit() {
		t.Error("expected PE32 image")
	}
	if f.OptionalHeader32 == nil || f.OptionalHeader64 != nil {
		t.Fatal("wrong optional header decoded")
	}
	if f.ImageBase() != 0x400000 {
		t.Errorf("image base = 0x%x", f.ImageBase())
	}
	if f.CheckSum() != 0xdeadbeef {
		t.Errorf("checksum = 0x%x", f.CheckSum())
	}
	if f.FileHeader.Machine != 0x01c4 {
		t.Errorf("machine = 0x%x", f.FileHeader.Machine)
	}
	if len(f.Sections) != 2 {
		t.Fatalf("got %d sections, want 2", len(f.Sections))
	}
	if f.SectionName(0) != ".text" || f.SectionName(1) != ".data" {
		t.Errorf("section names = %q, %q", f.SectionName(0), f.SectionName(1))
	}
}

func TestConvertVirtualToRaw(t *testing.T) {
	f, err := Parse(petest.Build(textImage()))
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		va   uint32
		want uint32
	}{
		{0x401050, 0x450},
		{0x401000, 0x400},
		{0x4011ff, 0x5ff},
		{0x402010, 0x610},
	}
	for _, tt := range tests {
		got, err := f.ConvertVirtualToRaw(tt.va)
		if err != nil {
			t.Errorf("0x%x: %v", tt.va, err)
			continue
		}
		if got != tt.want {
			t.Errorf("0x%x: got 0x%x, want 0x%x", tt.va, got, tt.want)
		}
		back, err := f.ConvertRawToVirtual(got)
		if err != nil || back != tt.va {
			t.Errorf("raw 0x%x: back = 0x%x, %v", got, back, err)
		}
	}
}

func TestConvertVirtualToRawNoSection(t *testing.T) {
	f, err := Parse(petest.Build(textImage()))
	if err != nil {
		t.Fatal(err)
	}
	for _, va := range []uint32{0x1050, 0x400fff, 0x402200, 0x500000} {
		_, err := f.ConvertVirtualToRaw(va)
		if !errors.Is(err, ErrNoSection) {
			t.Errorf("0x%x: err = %v, want ErrNoSection", va, err)
		}
		if !IsTranslationError(err) {
			t.Errorf("0x%x: IsTranslationError = false", va)
		}
	}
}

func TestConvertVirtualToRawDegenerate(t *testing.T) {
	img := textImage()
	img.Sections[0].Name = ""
	f, err := Parse(petest.Build(img))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.ConvertVirtualToRaw(0x401050); !errors.Is(err, ErrDegenerateSection) {
		t.Fatalf("err = %v, want ErrDegenerateSection", err)
	}
}

func TestConvertFirstMatchWins(t *testing.T) {
	img := textImage()
	img.Sections = append(img.Sections, petest.Section{
		Name: ".dup", VirtualAddress: 0x1000, SizeOfRawData: 0x200, PointerToRawData: 0x800,
	})
	f, err := Parse(petest.Build(img))
	if err != nil {
		t.Fatal(err)
	}
	got, err := f.ConvertVirtualToRaw(0x401004)
	if err != nil {
		t.Fatal(err)
	}
	if got != 0x404 {
		t.Errorf("got 0x%x, want 0x404", got)
	}
}

func TestParse64(t *testing.T) {
	img := textImage()
	img.Machine = 0xaa64
	img.PE32Plus = true
	img.ImageBase = 0x140000000
	img.Sections[0].VirtualAddress = 0x1000
	f, err := Parse(petest.Build(img))
	if err != nil {
		t.Fatal(err)
	}
	if f.Is32Bit() || f.OptionalHeader64 == nil {
		t.Fatal("expected PE32+ image")
	}
	if f.ImageBase() != 0x140000000 {
		t.Errorf("image base = 0x%x", f.ImageBase())
	}
	if f.CheckSum() != 0xdeadbeef {
		t.Errorf("checksum = 0x%x", f.CheckSum())
	}
	// A 32-bit address cannot reach a base above 4 GiB.
	if _, err := f.ConvertVirtualToRaw(0x401050); !errors.Is(err, ErrNoSection) {
		t.Errorf("err = %v, want ErrNoSection", err)
	}
}

func TestParse64LowBase(t *testing.T) {
	img := textImage()
	img.PE32Plus = true
	f, err := Parse(petest.Build(img))
	if err != nil {
		t.Fatal(err)
	}
	got, err := f.ConvertVirtualToRaw(0x401050)
	if err != nil {
		t.Fatal(err)
	}
	if got != 0x450 {
		t.Errorf("got 0x%x, want 0x450", got)
	}
}

func TestParseRejects(t *testing.T) {
	valid := petest.Build(textImage())
	mutate := func(fn func(b []byte)) []byte {
		b := append([]byte(nil), valid...)
		fn(b)
		return b
	}

	badDirs := textImage()
	badDirs.NumDirs = 10

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"bad magic", mutate(func(b []byte) { b[0] = 'Z' }), ErrBadDOSMagic},
		{"bad signature", mutate(func(b []byte) { b[0x80+1] = 'X' }), ErrBadSignature},
		{"directory count", petest.Build(badDirs), ErrDataDirectories},
		{"short dos header", valid[:10], ErrTruncated},
		{"lfanew past end", mutate(func(b []byte) {
			binary.LittleEndian.PutUint32(b[0x3c:], 0x7fff0000)
		}), ErrTruncated},
		{"section table cut", valid[:0x80+4+20+96+128+10], ErrTruncated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.data)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if !IsDecodeError(err) {
				t.Errorf("IsDecodeError(%v) = false", err)
			}
		})
	}
}

func TestOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "image.exe")
	if err := os.WriteFile(path, petest.Build(textImage()), 0o644); err != nil {
		t.Fatal(err)
	}
	f, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	got, err := f.ConvertVirtualToRaw(0x401050)
	if err != nil {
		t.Fatal(err)
	}
	if got != 0x450 {
		t.Errorf("got 0x%x, want 0x450", got)
	}

	if _, err := Open(filepath.Join(t.TempDir(), "missing.exe")); err == nil {
		t.Error("expected error for missing file")
	}
}
