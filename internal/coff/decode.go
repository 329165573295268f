// Package coff decodes relocatable COFF object files as produced by the ARM
// macro assembler. Every offset and length taken from the file is checked
// against the file size before it is used.
package coff

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"armpatch/internal/binfmt"
)

var (
	ErrTooSmall          = errors.New("coff: file too small for a COFF header")
	ErrOptionalHeader    = errors.New("coff: object file declares an optional header")
	ErrNoSymbolTable     = errors.New("coff: object file has no symbol table")
	ErrSectionBounds     = errors.New("coff: section exceeds file size")
	ErrRelocationBounds  = errors.New("coff: relocation table exceeds file size")
	ErrSymbolTableBounds = errors.New("coff: symbol table exceeds file size")
	ErrStringTableBounds = errors.New("coff: string table exceeds file size")
	ErrStringOffset      = errors.New("coff: string table offset out of range")
	ErrRelocationSymbol  = errors.New("coff: relocation references an invalid symbol")
	ErrNoCodeSection     = errors.New("coff: no code section")
)

var decodeErrors = []error{
	ErrTooSmall,
	ErrOptionalHeader,
	ErrNoSymbolTable,
	ErrSectionBounds,
	ErrRelocationBounds,
	ErrSymbolTableBounds,
	ErrStringTableBounds,
	ErrStringOffset,
	ErrRelocationSymbol,
	ErrNoCodeSection,
}

// IsDecodeError reports whether err came from decoding a malformed object.
func IsDecodeError(err error) bool {
	for _, e := range decodeErrors {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}

// Fixed record sizes.
const (
	FileHeaderSize    = 20
	SectionHeaderSize = 40
	SymbolSize        = 18
	RelocationSize    = 10
)

const fileSymbolName = ".file"

// Open reads and decodes the object file at path.
func Open(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("coff: read: %w", err)
	}
	return Decode(data)
}

// Decode decodes an in-memory object file.
func Decode(data []byte) (*File, error) {
	size := uint64(len(data))
	if size < FileHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooSmall, size)
	}

	s := binfmt.NewStream(data)
	f := &File{}
	if err := readHeader(s, &f.Header); err != nil {
		return nil, err
	}
	h := &f.Header
	if h.SizeOfOptionalHeader != 0 {
		return nil, fmt.Errorf("%w: size %d", ErrOptionalHeader, h.SizeOfOptionalHeader)
	}
	if h.PointerToSymbolTable == 0 {
		return nil, ErrNoSymbolTable
	}
	if !binfmt.InBounds(FileHeaderSize, uint64(h.NumberOfSections)*SectionHeaderSize, size) {
		return nil, fmt.Errorf("%w: %d section headers in %d bytes", ErrSectionBounds, h.NumberOfSections, size)
	}

	arch := archFor(h.Machine)
	f.Sections = make([]*Section, 0, h.NumberOfSections)
	for i := 0; i < int(h.NumberOfSections); i++ {
		sec, err := readSection(s, data, arch)
		if err != nil {
			return nil, fmt.Errorf("section %d: %w", i, err)
		}
		f.Sections = append(f.Sections, sec)
	}

	// The string table sits immediately after the symbol table and starts
	// with its own 4-byte length.
	symOff := uint64(h.PointerToSymbolTable)
	symLen := uint64(h.NumberOfSymbols) * SymbolSize
	if !binfmt.InBounds(symOff, symLen, size) {
		return nil, fmt.Errorf("%w: %d symbols at 0x%x", ErrSymbolTableBounds, h.NumberOfSymbols, symOff)
	}
	strOff := symOff + symLen
	if !binfmt.InBounds(strOff, 4, size) {
		return nil, fmt.Errorf("%w: length field at 0x%x", ErrStringTableBounds, strOff)
	}
	s.SetPosition(int(strOff))
	strLen, _ := s.ReadUint32()
	if strLen < 4 {
		strLen = 4
	}
	if !binfmt.InBounds(strOff, uint64(strLen), size) {
		return nil, fmt.Errorf("%w: %d bytes at 0x%x", ErrStringTableBounds, strLen, strOff)
	}
	f.StringTable = data[strOff+4 : strOff+uint64(strLen)]

	raw, err := readSymbols(data, f)
	if err != nil {
		return nil, err
	}

	for _, sec := range f.Sections {
		name, err := f.resolveName(sec.Name)
		if err != nil {
			return nil, fmt.Errorf("section %q: %w", sec.Name, err)
		}
		sec.Name = name
	}
	for _, sym := range f.Symbols {
		name, err := f.resolveName(sym.Name)
		if err != nil {
			return nil, fmt.Errorf("symbol %d: %w", sym.Index, err)
		}
		sym.Name = name
	}

	for _, sec := range f.Sections {
		for j := range sec.Relocations {
			r := &sec.Relocations[j]
			if uint64(r.SymbolTableIndex) >= uint64(len(raw)) || raw[r.SymbolTableIndex] == nil {
				return nil, fmt.Errorf("%w: section %q relocation %d index %d",
					ErrRelocationSymbol, sec.Name, j, r.SymbolTableIndex)
			}
			r.SymbolName = raw[r.SymbolTableIndex].Name
		}
	}

	return f, nil
}

func readHeader(s *binfmt.Stream, h *Header) error {
	machine, err := s.ReadUint16()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTooSmall, err)
	}
	h.Machine = Machine(machine)
	// The size check in Decode guarantees the remaining fields are present.
	h.NumberOfSections, _ = s.ReadUint16()
	h.TimeDateStamp, _ = s.ReadUint32()
	h.PointerToSymbolTable, _ = s.ReadUint32()
	h.NumberOfSymbols, _ = s.ReadUint32()
	h.SizeOfOptionalHeader, _ = s.ReadUint16()
	h.Characteristics, _ = s.ReadUint16()
	return nil
}

// readSection reads the next section header from s, then its contents and
// relocations from their file offsets.
func readSection(s *binfmt.Stream, data []byte, arch RelocArch) (*Section, error) {
	sec := &Section{}
	h := &sec.SectionHeader
	name, err := s.ReadBytes(8)
	if err != nil {
		return nil, fmt.Errorf("%w: header", ErrSectionBounds)
	}
	copy(h.RawName[:], name)
	h.VirtualSize, _ = s.ReadUint32()
	h.VirtualAddress, _ = s.ReadUint32()
	h.SizeOfRawData, _ = s.ReadUint32()
	h.PointerToRawData, _ = s.ReadUint32()
	h.PointerToRelocations, _ = s.ReadUint32()
	h.PointerToLinenumbers, _ = s.ReadUint32()
	h.NumberOfRelocations, _ = s.ReadUint16()
	h.NumberOfLinenumbers, _ = s.ReadUint16()
	h.Characteristics, err = s.ReadUint32()
	if err != nil {
		return nil, fmt.Errorf("%w: header", ErrSectionBounds)
	}
	sec.Name = binfmt.TrimNul(h.RawName[:])

	// Uninitialized data has a size but no contents in the file.
	if !(h.Characteristics&ScnCntUninitializedData != 0 && h.PointerToRawData == 0) {
		sec.Data, err = binfmt.Window(data, uint64(h.PointerToRawData), uint64(h.SizeOfRawData))
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrSectionBounds, sec.Name, err)
		}
	}

	if h.PointerToRelocations == 0 || h.NumberOfRelocations == 0 {
		return sec, nil
	}
	relOff := uint64(h.PointerToRelocations)
	if !binfmt.InBounds(relOff, uint64(h.NumberOfRelocations)*RelocationSize, uint64(len(data))) {
		return nil, fmt.Errorf("%w: %q: %d entries at 0x%x", ErrRelocationBounds, sec.Name, h.NumberOfRelocations, relOff)
	}
	rs := binfmt.NewStreamAt(data, int(relOff))
	sec.Relocations = make([]Relocation, h.NumberOfRelocations)
	for j := range sec.Relocations {
		r := &sec.Relocations[j]
		r.VirtualAddress, _ = rs.ReadUint32()
		r.SymbolTableIndex, _ = rs.ReadUint32()
		t, _ := rs.ReadUint16()
		r.Type = RelocType{Arch: arch, Value: t}
	}
	return sec, nil
}

// readSymbols walks the symbol table, filling f.Symbols with the regular
// entries. The returned slice is indexed by raw table position; auxiliary
// slots are nil.
func readSymbols(data []byte, f *File) ([]*Symbol, error) {
	h := &f.Header
	sectionNames := make(map[string]bool, len(f.Sections))
	for _, sec := range f.Sections {
		sectionNames[sec.Name] = true
	}

	raw := make([]*Symbol, h.NumberOfSymbols)
	s := binfmt.NewStreamAt(data, int(h.PointerToSymbolTable))
	for i := uint32(0); i < h.NumberOfSymbols; i++ {
		sym := &Symbol{Index: i}
		nameField, err := s.ReadBytes(8)
		if err != nil {
			return nil, fmt.Errorf("%w: symbol %d", ErrSymbolTableBounds, i)
		}
		if nameField[0] == 0 && nameField[1] == 0 && nameField[2] == 0 && nameField[3] == 0 {
			off := uint32(nameField[4]) | uint32(nameField[5])<<8 | uint32(nameField[6])<<16 | uint32(nameField[7])<<24
			sym.Name = "/" + strconv.FormatUint(uint64(off), 10)
		} else {
			sym.Name = strings.TrimRight(string(nameField), "\x00")
		}
		sym.Value, _ = s.ReadUint32()
		sym.SectionNumber, _ = s.ReadInt16()
		sym.Type, _ = s.ReadUint16()
		sym.StorageClass, _ = s.ReadUint8()
		sym.NumberOfAuxSymbols, err = s.ReadUint8()
		if err != nil {
			return nil, fmt.Errorf("%w: symbol %d", ErrSymbolTableBounds, i)
		}

		raw[i] = sym
		f.Symbols = append(f.Symbols, sym)

		naux := uint32(sym.NumberOfAuxSymbols)
		if naux == 0 {
			continue
		}
		if uint64(i)+uint64(naux) >= uint64(h.NumberOfSymbols) {
			return nil, fmt.Errorf("%w: symbol %d has %d aux records past the table end", ErrSymbolTableBounds, i, naux)
		}
		aux, err := s.ReadBytes(int(naux) * SymbolSize)
		if err != nil {
			return nil, fmt.Errorf("%w: aux records of symbol %d", ErrSymbolTableBounds, i)
		}
		switch {
		case sym.Name == fileSymbolName:
			sym.FileName = strings.TrimRight(string(aux), "\x00")
		case sectionNames[sym.Name]:
			sym.SectionDef = readSectionDefinition(aux)
		}
		i += naux
	}
	return raw, nil
}

func readSectionDefinition(aux []byte) *SectionDefinition {
	s := binfmt.NewStream(aux)
	d := &SectionDefinition{}
	d.Length, _ = s.ReadUint32()
	d.NumberOfRelocations, _ = s.ReadUint16()
	d.NumberOfLinenumbers, _ = s.ReadUint16()
	d.CheckSum, _ = s.ReadUint32()
	d.Number, _ = s.ReadUint16()
	d.Selection, _ = s.ReadUint8()
	return d
}

// resolveName replaces a "/<decimal>" name with the NUL-terminated string at
// that offset in the string table. Offsets count from the start of the
// table's length field, hence the -4.
func (f *File) resolveName(name string) (string, error) {
	if !strings.HasPrefix(name, "/") {
		return name, nil
	}
	off, err := strconv.ParseUint(name[1:], 10, 32)
	if err != nil {
		return name, nil
	}
	idx := int64(off) - 4
	if idx < 0 || idx > int64(len(f.StringTable)) {
		return "", fmt.Errorf("%w: %d (table is %d bytes)", ErrStringOffset, off, len(f.StringTable)+4)
	}
	str, err := binfmt.CString(f.StringTable, int(idx))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStringOffset, err)
	}
	return str, nil
}
