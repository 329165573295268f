package pe

import (
	"io"

	"github.com/lunixbochs/struc"
)

const (
	DOSMagic         = 0x5a4d     // "MZ"
	NTSignature      = 0x00004550 // "PE\0\0"
	NumDirectories   = 16
	DOSHeaderSize    = 64
	FileHeaderSize   = 20
	SectionHdrSize   = 40
	DataDirSize      = 8
	Char32BitMachine = 0x0100
)

// DOSHeader is the MS-DOS stub header at the start of every image.
type DOSHeader struct {
	Magic    uint16     `struc:"uint16,little"` // Magic number
	Cblp     uint16     `struc:"uint16,little"` // Bytes on last page of file
	Cp       uint16     `struc:"uint16,little"` // Pages in file
	Crlc     uint16     `struc:"uint16,little"` // Relocations
	Cparhdr  uint16     `struc:"uint16,little"` // Size of header in paragraphs
	Minalloc uint16     `struc:"uint16,little"` // Minimum extra paragraphs needed
	Maxalloc uint16     `struc:"uint16,little"` // Maximum extra paragraphs needed
	Ss       uint16     `struc:"uint16,little"` // Initial (relative) SS value
	Sp       uint16     `struc:"uint16,little"` // Initial SP value
	Csum     uint16     `struc:"uint16,little"` // Checksum
	Ip       uint16     `struc:"uint16,little"` // Initial IP value
	Cs       uint16     `struc:"uint16,little"` // Initial (relative) CS value
	Lfarlc   uint16     `struc:"uint16,little"` // File address of relocation table
	Ovno     uint16     `struc:"uint16,little"` // Overlay number
	Res      [4]uint16  `struc:"[4]uint16,little"`
	Oemid    uint16     `struc:"uint16,little"`
	Oeminfo  uint16     `struc:"uint16,little"`
	Res2     [10]uint16 `struc:"[10]uint16,little"`
	Lfanew   uint32     `struc:"uint32,little"` // File address of the NT headers
}

// FileHeader is the COFF file header inside the NT headers.
type FileHeader struct {
	Machine              uint16 `struc:"uint16,little"`
	NumberOfSections     uint16 `struc:"uint16,little"`
	TimeDateStamp        uint32 `struc:"uint32,little"`
	PointerToSymbolTable uint32 `struc:"uint32,little"`
	NumberOfSymbols      uint32 `struc:"uint32,little"`
	SizeOfOptionalHeader uint16 `struc:"uint16,little"`
	Characteristics      uint16 `struc:"uint16,little"`
}

// OptionalHeader32 is the PE32 optional header without its data directories.
type OptionalHeader32 struct {
	Magic                       uint16 `struc:"uint16,little"`
	MajorLinkerVersion          byte   `struc:"byte"`
	MinorLinkerVersion          byte   `struc:"byte"`
	SizeOfCode                  uint32 `struc:"uint32,little"`
	SizeOfInitializedData       uint32 `struc:"uint32,little"`
	SizeOfUninitializedData     uint32 `struc:"uint32,little"`
	AddressOfEntryPoint         uint32 `struc:"uint32,little"`
	BaseOfCode                  uint32 `struc:"uint32,little"`
	BaseOfData                  uint32 `struc:"uint32,little"`
	ImageBase                   uint32 `struc:"uint32,little"`
	SectionAlignment            uint32 `struc:"uint32,little"`
	FileAlignment               uint32 `struc:"uint32,little"`
	MajorOperatingSystemVersion uint16 `struc:"uint16,little"`
	MinorOperatingSystemVersion uint16 `struc:"uint16,little"`
	MajorImageVersion           uint16 `struc:"uint16,little"`
	MinorImageVersion           uint16 `struc:"uint16,little"`
	MajorSubsystemVersion       uint16 `struc:"uint16,little"`
	MinorSubsystemVersion       uint16 `struc:"uint16,little"`
	Win32VersionValue           uint32 `struc:"uint32,little"`
	SizeOfImage                 uint32 `struc:"uint32,little"`
	SizeOfHeaders               uint32 `struc:"uint32,little"`
	CheckSum                    uint32 `struc:"uint32,little"`
	Subsystem                   uint16 `struc:"uint16,little"`
	DllCharacteristics          uint16 `struc:"uint16,little"`
	SizeOfStackReserve          uint32 `struc:"uint32,little"`
	SizeOfStackCommit           uint32 `struc:"uint32,little"`
	SizeOfHeapReserve           uint32 `struc:"uint32,little"`
	SizeOfHeapCommit            uint32 `struc:"uint32,little"`
	LoaderFlags                 uint32 `struc:"uint32,little"`
	NumberOfRvaAndSizes         uint32 `struc:"uint32,little"`
}

// OptionalHeader64 is the PE32+ optional header without its data directories.
type OptionalHeader64 struct {
	Magic                       uint16 `struc:"uint16,little"`
	MajorLinkerVersion          byte   `struc:"byte"`
	MinorLinkerVersion          byte   `struc:"byte"`
	SizeOfCode                  uint32 `struc:"uint32,little"`
	SizeOfInitializedData       uint32 `struc:"uint32,little"`
	SizeOfUninitializedData     uint32 `struc:"uint32,little"`
	AddressOfEntryPoint         uint32 `struc:"uint32,little"`
	BaseOfCode                  uint32 `struc:"uint32,little"`
	ImageBase                   uint64 `struc:"uint64,little"`
	SectionAlignment            uint32 `struc:"uint32,little"`
	FileAlignment               uint32 `struc:"uint32,little"`
	MajorOperatingSystemVersion uint16 `struc:"uint16,little"`
	MinorOperatingSystemVersion uint16 `struc:"uint16,little"`
	MajorImageVersion           uint16 `struc:"uint16,little"`
	MinorImageVersion           uint16 `struc:"uint16,little"`
	MajorSubsystemVersion       uint16 `struc:"uint16,little"`
	MinorSubsystemVersion       uint16 `struc:"uint16,little"`
	Win32VersionValue           uint32 `struc:"uint32,little"`
	SizeOfImage                 uint32 `struc:"uint32,little"`
	SizeOfHeaders               uint32 `struc:"uint32,little"`
	CheckSum                    uint32 `struc:"uint32,little"`
	Subsystem                   uint16 `struc:"uint16,little"`
	DllCharacteristics          uint16 `struc:"uint16,little"`
	SizeOfStackReserve          uint64 `struc:"uint64,little"`
	SizeOfStackCommit           uint64 `struc:"uint64,little"`
	SizeOfHeapReserve           uint64 `struc:"uint64,little"`
	SizeOfHeapCommit            uint64 `struc:"uint64,little"`
	LoaderFlags                 uint32 `struc:"uint32,little"`
	NumberOfRvaAndSizes         uint32 `struc:"uint32,little"`
}

// DataDirectory is one entry of the optional header's directory table.
type DataDirectory struct {
	VirtualAddress uint32 `struc:"uint32,little"`
	Size           uint32 `struc:"uint32,little"`
}

// SectionHeader is an image section table entry.
type SectionHeader struct {
	Name                 [8]byte `struc:"[8]byte"`
	VirtualSize          uint32  `struc:"uint32,little"`
	VirtualAddress       uint32  `struc:"uint32,little"`
	SizeOfRawData        uint32  `struc:"uint32,little"`
	PointerToRawData     uint32  `struc:"uint32,little"`
	PointerToRelocations uint32  `struc:"uint32,little"`
	PointerToLinenumbers uint32  `struc:"uint32,little"`
	NumberOfRelocations  uint16  `struc:"uint16,little"`
	NumberOfLinenumbers  uint16  `struc:"uint16,little"`
	Characteristics      uint32  `struc:"uint32,little"`
}

func unpack(r io.Reader, v interface{}) error {
	return struc.Unpack(r, v)
}
