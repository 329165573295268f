// Package cofftest builds small COFF object files for tests.
package cofftest

import (
	"bytes"
	"encoding/binary"
	"strconv"
)

// Reloc is a relocation entry to emit.
type Reloc struct {
	VirtualAddress   uint32
	SymbolTableIndex uint32
	Type             uint16
}

// Section is a section to emit. Names longer than eight bytes are stored in
// the string table and referenced as "/<offset>".
type Section struct {
	Name            string
	Data            []byte
	Characteristics uint32
	Relocs          []Reloc
}

// Symbol is a symbol table entry to emit. Each Aux element must be 18 bytes
// or shorter; it is zero-padded to a full record.
type Symbol struct {
	Name          string
	Value         uint32
	SectionNumber int16
	Type          uint16
	StorageClass  uint8
	Aux           [][]byte
}

// Object describes the whole file.
type Object struct {
	Machine   uint16
	Timestamp uint32
	Sections  []Section
	Symbols   []Symbol
}

const (
	headerSize  = 20
	sectionSize = 40
	symbolSize  = 18
	relocSize   = 10
)

// Build lays out the object as header, section table, section contents,
// relocations, symbol table, string table.
func Build(o Object) []byte {
	le := binary.LittleEndian
	var strtab bytes.Buffer
	addString := func(s string) uint32 {
		off := uint32(strtab.Len()) + 4
		strtab.WriteString(s)
		strtab.WriteByte(0)
		return off
	}

	dataOff := uint32(headerSize + sectionSize*len(o.Sections))
	rawPtr := make([]uint32, len(o.Sections))
	off := dataOff
	for i, s := range o.Sections {
		rawPtr[i] = off
		off += uint32(len(s.Data))
	}
	relPtr := make([]uint32, len(o.Sections))
	for i, s := range o.Sections {
		if len(s.Relocs) > 0 {
			relPtr[i] = off
			off += uint32(relocSize * len(s.Relocs))
		}
	}
	symPtr := off
	nsyms := 0
	for _, sym := range o.Symbols {
		nsyms += 1 + len(sym.Aux)
	}

	var b bytes.Buffer
	put16 := func(v uint16) { binary.Write(&b, le, v) }
	put32 := func(v uint32) { binary.Write(&b, le, v) }

	put16(o.Machine)
	put16(uint16(len(o.Sections)))
	put32(o.Timestamp)
	put32(symPtr)
	put32(uint32(nsyms))
	put16(0)
	put16(0)

	for i, s := range o.Sections {
		var name [8]byte
		if len(s.Name) > 8 {
			copy(name[:], "/"+strconv.Itoa(int(addString(s.Name))))
		} else {
			copy(name[:], s.Name)
		}
		b.Write(name[:])
		put32(0) // VirtualSize
		put32(0) // VirtualAddress
		put32(uint32(len(s.Data)))
		if len(s.Data) > 0 {
			put32(rawPtr[i])
		} else {
			put32(0)
		}
		put32(relPtr[i])
		put32(0)
		put16(uint16(len(s.Relocs)))
		put16(0)
		put32(s.Characteristics)
	}
	for _, s := range o.Sections {
		b.Write(s.Data)
	}
	for _, s := range o.Sections {
		for _, r := range s.Relocs {
			put32(r.VirtualAddress)
			put32(r.SymbolTableIndex)
			put16(r.Type)
		}
	}
	for _, sym := range o.Symbols {
		var name [8]byte
		if len(sym.Name) > 8 {
			le.PutUint32(name[4:], addString(sym.Name))
		} else {
			copy(name[:], sym.Name)
		}
		b.Write(name[:])
		put32(sym.Value)
		put16(uint16(sym.SectionNumber))
		put16(sym.Type)
		b.WriteByte(sym.StorageClass)
		b.WriteByte(uint8(len(sym.Aux)))
		for _, aux := range sym.Aux {
			var rec [symbolSize]byte
			copy(rec[:], aux)
			b.Write(rec[:])
		}
	}
	put32(uint32(strtab.Len() + 4))
	b.Write(strtab.Bytes())
	return b.Bytes()
}

// SectionDefinitionAux encodes a section-definition auxiliary record.
func SectionDefinitionAux(length uint32, nrelocs uint16, number uint16) []byte {
	rec := make([]byte, symbolSize)
	binary.LittleEndian.PutUint32(rec[0:], length)
	binary.LittleEndian.PutUint16(rec[4:], nrelocs)
	binary.LittleEndian.PutUint16(rec[12:], number)
	return rec
}
