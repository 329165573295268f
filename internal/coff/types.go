package coff

import (
	"fmt"
	"time"
)

// Machine is the COFF target machine type.
type Machine uint16

const (
	MachineUnknown Machine = 0x0000
	MachineI386    Machine = 0x014c
	MachineARM     Machine = 0x01c0
	MachineThumb   Machine = 0x01c2
	MachineARMNT   Machine = 0x01c4 // ARM Thumb-2
	MachineAMD64   Machine = 0x8664
	MachineARM64   Machine = 0xaa64
)

func (m Machine) String() string {
	switch m {
	case MachineUnknown:
		return "unknown"
	case MachineI386:
		return "i386"
	case MachineARM:
		return "arm"
	case MachineThumb:
		return "thumb"
	case MachineARMNT:
		return "armnt"
	case MachineAMD64:
		return "amd64"
	case MachineARM64:
		return "arm64"
	}
	return fmt.Sprintf("machine(0x%04x)", uint16(m))
}

// Section characteristics used by the decoder and by code extraction.
const (
	ScnCntCode              = 0x00000020
	ScnCntInitializedData   = 0x00000040
	ScnCntUninitializedData = 0x00000080
	ScnLnkInfo              = 0x00000200
	ScnLnkRemove            = 0x00000800
	ScnMemExecute           = 0x20000000
	ScnMemRead              = 0x40000000
	ScnMemWrite             = 0x80000000
)

// Storage classes that matter when walking the symbol table.
const (
	ClassExternal = 2
	ClassStatic   = 3
	ClassLabel    = 6
	ClassFile     = 0x67
	ClassSection  = 0x68
)

// Header is the 20-byte COFF file header.
type Header struct {
	Machine              Machine
	NumberOfSections     uint16
	TimeDateStamp        uint32
	PointerToSymbolTable uint32
	NumberOfSymbols      uint32
	SizeOfOptionalHeader uint16
	Characteristics      uint16
}

// Time returns the header timestamp.
func (h Header) Time() time.Time {
	return time.Unix(int64(h.TimeDateStamp), 0).UTC()
}

// SectionHeader is the fixed 40-byte part of a section table entry.
type SectionHeader struct {
	RawName              [8]byte
	VirtualSize          uint32
	VirtualAddress       uint32
	SizeOfRawData        uint32
	PointerToRawData     uint32
	PointerToRelocations uint32
	PointerToLinenumbers uint32
	NumberOfRelocations  uint16
	NumberOfLinenumbers  uint16
	Characteristics      uint32
}

// Section is a decoded section: header, resolved name, contents and relocations.
type Section struct {
	SectionHeader
	Name        string
	Data        []byte
	Relocations []Relocation
}

// IsCode reports whether the section is flagged as containing code.
func (s *Section) IsCode() bool { return s.Characteristics&ScnCntCode != 0 }

// RelocArch selects which relocation-type table a relocation is read against.
type RelocArch uint8

const (
	ArchX86 RelocArch = iota
	ArchAMD64
	ArchARM
	ArchARM64
)

func (a RelocArch) String() string {
	switch a {
	case ArchX86:
		return "x86"
	case ArchAMD64:
		return "amd64"
	case ArchARM:
		return "arm"
	case ArchARM64:
		return "arm64"
	}
	return "unknown"
}

// archFor maps a machine to its relocation table. Machines without a table
// of their own are read as x86.
func archFor(m Machine) RelocArch {
	switch m {
	case MachineAMD64:
		return ArchAMD64
	case MachineARM, MachineThumb, MachineARMNT:
		return ArchARM
	case MachineARM64:
		return ArchARM64
	}
	return ArchX86
}

// RelocType is a relocation type value tagged with the architecture it was
// decoded for.
type RelocType struct {
	Arch  RelocArch
	Value uint16
}

var relocNames = map[RelocArch]map[uint16]string{
	ArchX86: {
		0x00: "ABSOLUTE",
		0x01: "DIR16",
		0x02: "REL16",
		0x06: "DIR32",
		0x07: "DIR32NB",
		0x09: "SEG12",
		0x0a: "SECTION",
		0x0b: "SECREL",
		0x0c: "TOKEN",
		0x0d: "SECREL7",
		0x14: "REL32",
	},
	ArchAMD64: {
		0x00: "ABSOLUTE",
		0x01: "ADDR64",
		0x02: "ADDR32",
		0x03: "ADDR32NB",
		0x04: "REL32",
		0x05: "REL32_1",
		0x06: "REL32_2",
		0x07: "REL32_3",
		0x08: "REL32_4",
		0x09: "REL32_5",
		0x0a: "SECTION",
		0x0b: "SECREL",
		0x0c: "SECREL7",
		0x0d: "TOKEN",
		0x0e: "SREL32",
		0x0f: "PAIR",
		0x10: "SSPAN32",
	},
	ArchARM: {
		0x00: "ABSOLUTE",
		0x01: "ADDR32",
		0x02: "ADDR32NB",
		0x03: "BRANCH24",
		0x04: "BRANCH11",
		0x05: "TOKEN",
		0x08: "BLX24",
		0x09: "BLX11",
		0x0e: "SECTION",
		0x0f: "SECREL",
		0x10: "MOV32A",
		0x11: "MOV32T",
		0x12: "BRANCH20T",
		0x14: "BRANCH24T",
		0x15: "BLX23T",
	},
	ArchARM64: {
		0x00: "ABSOLUTE",
		0x01: "ADDR32",
		0x02: "ADDR32NB",
		0x03: "BRANCH26",
		0x04: "PAGEBASE_REL21",
		0x05: "REL21",
		0x06: "PAGEOFFSET_12A",
		0x07: "PAGEOFFSET_12L",
		0x08: "SECREL",
		0x09: "SECREL_LOW12A",
		0x0a: "SECREL_HIGH12A",
		0x0b: "SECREL_LOW12L",
		0x0c: "TOKEN",
		0x0d: "SECTION",
		0x0e: "ADDR64",
	},
}

// Known reports whether the value is defined for the relocation's architecture.
func (t RelocType) Known() bool {
	_, ok := relocNames[t.Arch][t.Value]
	return ok
}

func (t RelocType) String() string {
	if name, ok := relocNames[t.Arch][t.Value]; ok {
		return t.Arch.String() + "/" + name
	}
	return fmt.Sprintf("%s/UNKNOWN(0x%04x)", t.Arch, t.Value)
}

// Relocation is a decoded relocation entry, annotated with the name of the
// symbol it references.
type Relocation struct {
	VirtualAddress   uint32
	SymbolTableIndex uint32
	Type             RelocType
	SymbolName       string
}

// SectionDefinition is the auxiliary record following a section symbol.
type SectionDefinition struct {
	Length              uint32
	NumberOfRelocations uint16
	NumberOfLinenumbers uint16
	CheckSum            uint32
	Number              uint16
	Selection           uint8
}

// Symbol is a regular (non-auxiliary) symbol table entry.
type Symbol struct {
	Name               string
	Value              uint32
	SectionNumber      int16
	Type               uint16
	StorageClass       uint8
	NumberOfAuxSymbols uint8

	// Index is the position of the entry in the raw symbol table, the
	// number relocations refer to.
	Index uint32

	// FileName is set for the .file symbol.
	FileName string
	// SectionDef is set for symbols named after a section.
	SectionDef *SectionDefinition
}

// File is a decoded COFF object file.
type File struct {
	Header      Header
	Sections    []*Section
	Symbols     []*Symbol
	StringTable []byte // contents after the 4-byte length field
}

// Section returns the first section with the given name, or nil.
func (f *File) Section(name string) *Section {
	for _, s := range f.Sections {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// CodeSection returns the section holding assembled code. The named section
// is preferred; failing that, a single section flagged as code is accepted.
func (f *File) CodeSection(name string) (*Section, error) {
	if name != "" {
		if s := f.Section(name); s != nil {
			return s, nil
		}
	}
	var found *Section
	for _, s := range f.Sections {
		if !s.IsCode() {
			continue
		}
		if found != nil {
			return nil, fmt.Errorf("%w: %q not found and more than one code section", ErrNoCodeSection, name)
		}
		found = s
	}
	if found == nil {
		return nil, fmt.Errorf("%w: %q", ErrNoCodeSection, name)
	}
	return found, nil
}

// Symbol returns the first regular symbol with the given name, or nil.
func (f *File) Symbol(name string) *Symbol {
	for _, s := range f.Symbols {
		if s.Name == name {
			return s
		}
	}
	return nil
}
