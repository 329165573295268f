// Package petest builds minimal PE images for tests.
package petest

import (
	"bytes"
	"encoding/binary"
)

// Section is a section table entry plus the raw bytes placed at
// PointerToRawData. When Data is shorter than SizeOfRawData the rest is
// zero-filled.
type Section struct {
	Name             string
	VirtualAddress   uint32
	VirtualSize      uint32
	SizeOfRawData    uint32
	PointerToRawData uint32
	Data             []byte
}

// Image describes the image to lay out.
type Image struct {
	Machine   uint16
	PE32Plus  bool // emit a 64-bit optional header and clear the 32-bit characteristic
	ImageBase uint64
	CheckSum  uint32
	Lfanew    uint32 // defaults to 0x80
	NumDirs   uint32 // defaults to 16
	Sections  []Section
}

// Build returns the image bytes. The file is at least large enough to hold
// every section's raw data.
func Build(img Image) []byte {
	le := binary.LittleEndian
	lfanew := img.Lfanew
	if lfanew == 0 {
		lfanew = 0x80
	}
	ndirs := img.NumDirs
	if ndirs == 0 {
		ndirs = 16
	}

	var b bytes.Buffer
	put16 := func(v uint16) { binary.Write(&b, le, v) }
	put32 := func(v uint32) { binary.Write(&b, le, v) }
	put64 := func(v uint64) { binary.Write(&b, le, v) }

	dos := make([]byte, lfanew)
	le.PutUint16(dos[0:], 0x5a4d)
	le.PutUint32(dos[0x3c:], lfanew)
	b.Write(dos)

	b.WriteString("PE\x00\x00")

	optSize := uint16(96 + 8*16)
	chars := uint16(0x0002 | 0x0100)
	if img.PE32Plus {
		optSize = 112 + 8*16
		chars = 0x0002 | 0x0020
	}
	put16(img.Machine)
	put16(uint16(len(img.Sections)))
	put32(0)
	put32(0)
	put32(0)
	put16(optSize)
	put16(chars)

	if img.PE32Plus {
		put16(0x20b)
		b.Write([]byte{14, 0})
		put32(0) // SizeOfCode
		put32(0)
		put32(0)
		put32(0) // AddressOfEntryPoint
		put32(0) // BaseOfCode
		put64(img.ImageBase)
		put32(0x1000)
		put32(0x200)
		b.Write(make([]byte, 12)) // versions
		put32(0)                  // Win32VersionValue
		put32(0)                  // SizeOfImage
		put32(0)                  // SizeOfHeaders
		put32(img.CheckSum)
		put16(0)
		put16(0)
		b.Write(make([]byte, 32)) // stack and heap sizes
		put32(0)
		put32(ndirs)
	} else {
		put16(0x10b)
		b.Write([]byte{14, 0})
		put32(0)
		put32(0)
		put32(0)
		put32(0)
		put32(0)
		put32(0) // BaseOfData
		put32(uint32(img.ImageBase))
		put32(0x1000)
		put32(0x200)
		b.Write(make([]byte, 12))
		put32(0)
		put32(0)
		put32(0)
		put32(img.CheckSum)
		put16(0)
		put16(0)
		b.Write(make([]byte, 16))
		put32(0)
		put32(ndirs)
	}
	b.Write(make([]byte, 8*16))

	for _, s := range img.Sections {
		var name [8]byte
		copy(name[:], s.Name)
		b.Write(name[:])
		put32(s.VirtualSize)
		put32(s.VirtualAddress)
		put32(s.SizeOfRawData)
		put32(s.PointerToRawData)
		put32(0)
		put32(0)
		put16(0)
		put16(0)
		put32(0x60000020)
	}

	out := b.Bytes()
	for _, s := range img.Sections {
		end := int(s.PointerToRawData) + int(s.SizeOfRawData)
		if s.PointerToRawData == 0 || s.SizeOfRawData == 0 {
			continue
		}
		if end > len(out) {
			out = append(out, make([]byte, end-len(out))...)
		}
		copy(out[s.PointerToRawData:end], s.Data)
	}
	return out
}

// CheckSumFieldOffset returns the file offset of the optional header's
// checksum field in an image produced by Build.
func CheckSumFieldOffset(img Image) int {
	lfanew := img.Lfanew
	if lfanew == 0 {
		lfanew = 0x80
	}
	return int(lfanew) + 0x58
}
