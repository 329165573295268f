// Package pe reads the headers of PE executable images and translates
// virtual addresses into file offsets.
package pe

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/edsrzf/mmap-go"

	"armpatch/internal/binfmt"
)

var (
	ErrBadDOSMagic       = errors.New("pe: not a portable executable (bad MZ magic)")
	ErrBadSignature      = errors.New("pe: invalid PE signature in NT header")
	ErrDataDirectories   = errors.New("pe: invalid number of data directories")
	ErrTruncated         = errors.New("pe: truncated image")
	ErrNoSection         = errors.New("pe: no section covers address")
	ErrDegenerateSection = errors.New("pe: address maps to an unnamed or empty section")
)

// IsDecodeError reports whether err describes a malformed image.
func IsDecodeError(err error) bool {
	return errors.Is(err, ErrBadDOSMagic) || errors.Is(err, ErrBadSignature) ||
		errors.Is(err, ErrDataDirectories) || errors.Is(err, ErrTruncated)
}

// IsTranslationError reports whether err is an address translation failure.
func IsTranslationError(err error) bool {
	return errors.Is(err, ErrNoSection) || errors.Is(err, ErrDegenerateSection)
}

// File holds the decoded headers of an image. Exactly one of
// OptionalHeader32 and OptionalHeader64 is set.
type File struct {
	DOSHeader        DOSHeader
	Signature        uint32
	FileHeader       FileHeader
	OptionalHeader32 *OptionalHeader32
	OptionalHeader64 *OptionalHeader64
	DataDirectories  [NumDirectories]DataDirectory
	Sections         []SectionHeader

	closer io.Closer
}

// Open maps the image at path read-only and decodes its headers. The
// mapping is released by Close.
func Open(path string) (*File, error) {
	fp, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("pe: open: %w", err)
	}
	defer fp.Close()

	st, err := fp.Stat()
	if err != nil {
		return nil, fmt.Errorf("pe: stat: %w", err)
	}
	if st.Size() < DOSHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTruncated, st.Size())
	}

	m, err := mmap.Map(fp, mmap.RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("pe: mmap: %w", err)
	}
	f, err := NewFile(bytes.NewReader(m))
	if err != nil {
		m.Unmap()
		return nil, err
	}
	f.closer = mapping{m}
	return f, nil
}

type mapping struct{ m mmap.MMap }

func (m mapping) Close() error { return m.m.Unmap() }

// Close releases the mapping created by Open. It is a no-op for files
// decoded with Parse or NewFile.
func (f *File) Close() error {
	if f.closer == nil {
		return nil
	}
	err := f.closer.Close()
	f.closer = nil
	return err
}

// Parse decodes the headers of an in-memory image.
func Parse(data []byte) (*File, error) {
	return NewFile(bytes.NewReader(data))
}

// NewFile decodes image headers from r: the DOS header, the NT header it
// points to, the 32- or 64-bit optional header and the section table that
// follows it.
func NewFile(r io.ReaderAt) (*File, error) {
	sr := io.NewSectionReader(r, 0, 1<<63-1)
	f := &File{}

	if err := unpack(sr, &f.DOSHeader); err != nil {
		return nil, truncated("DOS header", err)
	}
	if f.DOSHeader.Magic != DOSMagic {
		return nil, fmt.Errorf("%w: 0x%04x", ErrBadDOSMagic, f.DOSHeader.Magic)
	}

	if _, err := sr.Seek(int64(f.DOSHeader.Lfanew), io.SeekStart); err != nil {
		return nil, truncated("NT header", err)
	}
	var sig [4]byte
	if _, err := io.ReadFull(sr, sig[:]); err != nil {
		return nil, truncated("PE signature", err)
	}
	f.Signature = uint32(sig[0]) | uint32(sig[1])<<8 | uint32(sig[2])<<16 | uint32(sig[3])<<24
	if f.Signature != NTSignature {
		return nil, fmt.Errorf("%w: 0x%08x", ErrBadSignature, f.Signature)
	}

	if err := unpack(sr, &f.FileHeader); err != nil {
		return nil, truncated("file header", err)
	}

	var ndirs uint32
	if f.Is32Bit() {
		f.OptionalHeader32 = new(OptionalHeader32)
		if err := unpack(sr, f.OptionalHeader32); err != nil {
			return nil, truncated("optional header", err)
		}
		ndirs = f.OptionalHeader32.NumberOfRvaAndSizes
	} else {
		f.OptionalHeader64 = new(OptionalHeader64)
		if err := unpack(sr, f.OptionalHeader64); err != nil {
			return nil, truncated("optional header", err)
		}
		ndirs = f.OptionalHeader64.NumberOfRvaAndSizes
	}
	if ndirs != NumDirectories {
		return nil, fmt.Errorf("%w: %d", ErrDataDirectories, ndirs)
	}
	for i := range f.DataDirectories {
		if err := unpack(sr, &f.DataDirectories[i]); err != nil {
			return nil, truncated("data directory", err)
		}
	}

	f.Sections = make([]SectionHeader, f.FileHeader.NumberOfSections)
	for i := range f.Sections {
		if err := unpack(sr, &f.Sections[i]); err != nil {
			return nil, truncated(fmt.Sprintf("section header %d", i), err)
		}
	}
	return f, nil
}

func truncated(what string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrTruncated, what, err)
}

// Is32Bit reports whether the file header carries the 32-bit machine
// characteristic, which selects the PE32 optional header.
func (f *File) Is32Bit() bool {
	return f.FileHeader.Characteristics&Char32BitMachine != 0
}

// ImageBase returns the preferred load address from the optional header.
func (f *File) ImageBase() uint64 {
	if f.OptionalHeader32 != nil {
		return uint64(f.OptionalHeader32.ImageBase)
	}
	if f.OptionalHeader64 != nil {
		return f.OptionalHeader64.ImageBase
	}
	return 0
}

// CheckSum returns the checksum field of the optional header.
func (f *File) CheckSum() uint32 {
	if f.OptionalHeader32 != nil {
		return f.OptionalHeader32.CheckSum
	}
	if f.OptionalHeader64 != nil {
		return f.OptionalHeader64.CheckSum
	}
	return 0
}

// SectionName returns the NUL-trimmed name of section i.
func (f *File) SectionName(i int) string {
	return binfmt.TrimNul(f.Sections[i].Name[:])
}

// ConvertVirtualToRaw maps an absolute virtual address (image base
// included) to its offset in the file. The first section whose
// [base+VirtualAddress, base+VirtualAddress+SizeOfRawData) range contains
// va is used; an unnamed or empty match is rejected.
func (f *File) ConvertVirtualToRaw(va uint32) (uint32, error) {
	base := f.ImageBase()
	addr := uint64(va)
	for i := range f.Sections {
		h := &f.Sections[i]
		start := base + uint64(h.VirtualAddress)
		end := start + uint64(h.SizeOfRawData)
		if addr < start || addr >= end {
			continue
		}
		if f.SectionName(i) == "" || h.SizeOfRawData == 0 {
			return 0, fmt.Errorf("%w: 0x%08x in section %d", ErrDegenerateSection, va, i)
		}
		raw := uint64(h.PointerToRawData) + (addr - start)
		if raw > 0xffffffff {
			return 0, fmt.Errorf("%w: 0x%08x maps past 4 GiB", ErrDegenerateSection, va)
		}
		return uint32(raw), nil
	}
	return 0, fmt.Errorf("%w: 0x%08x", ErrNoSection, va)
}

// ConvertRawToVirtual is the inverse of ConvertVirtualToRaw.
func (f *File) ConvertRawToVirtual(raw uint32) (uint32, error) {
	base := f.ImageBase()
	for i := range f.Sections {
		h := &f.Sections[i]
		if h.SizeOfRawData == 0 || f.SectionName(i) == "" {
			continue
		}
		if raw >= h.PointerToRawData && uint64(raw) < uint64(h.PointerToRawData)+uint64(h.SizeOfRawData) {
			return uint32(base + uint64(h.VirtualAddress) + uint64(raw-h.PointerToRawData)), nil
		}
	}
	return 0, fmt.Errorf("%w: raw offset 0x%08x", ErrNoSection, raw)
}
