// Package binfmt provides bounds-checked little-endian readers for on-disk
// binary formats (COFF objects, PE images).
package binfmt

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrStreamEOF   = errors.New("stream: unexpected end of data")
	ErrOutOfBounds = errors.New("stream: window out of bounds")
)

// Stream reads little-endian values from a byte slice without ever
// indexing past its end.
type Stream struct {
	data []byte
	pos  int
	end  int
}

// NewStream creates a stream over the given data.
func NewStream(data []byte) *Stream {
	return &Stream{data: data, pos: 0, end: len(data)}
}

// NewStreamAt creates a stream starting at offset within data.
func NewStreamAt(data []byte, offset int) *Stream {
	if offset > len(data) {
		offset = len(data)
	}
	if offset < 0 {
		offset = 0
	}
	return &Stream{data: data, pos: offset, end: len(data)}
}

// Position returns the current read position.
func (s *Stream) Position() int { return s.pos }

// SetPosition sets the read position.
func (s *Stream) SetPosition(pos int) {
	if pos > s.end {
		pos = s.end
	}
	if pos < 0 {
		pos = 0
	}
	s.pos = pos
}

// Remaining returns bytes left to read.
func (s *Stream) Remaining() int { return s.end - s.pos }

// Len returns the total length of the underlying data.
func (s *Stream) Len() int { return s.end }

// ReadByte reads a single byte.
func (s *Stream) ReadByte() (byte, error) {
	if s.pos >= s.end {
		return 0, ErrStreamEOF
	}
	b := s.data[s.pos]
	s.pos++
	return b, nil
}

// ReadBytes reads n bytes into a new slice.
func (s *Stream) ReadBytes(n int) ([]byte, error) {
	if n < 0 || s.pos+n > s.end {
		return nil, ErrStreamEOF
	}
	out := make([]byte, n)
	copy(out, s.data[s.pos:s.pos+n])
	s.pos += n
	return out, nil
}

// ReadUint8 reads a uint8.
func (s *Stream) ReadUint8() (uint8, error) {
	return s.ReadByte()
}

// ReadUint16 reads a little-endian uint16.
func (s *Stream) ReadUint16() (uint16, error) {
	if s.pos+2 > s.end {
		return 0, ErrStreamEOF
	}
	v := binary.LittleEndian.Uint16(s.data[s.pos:])
	s.pos += 2
	return v, nil
}

// ReadInt16 reads a little-endian int16.
func (s *Stream) ReadInt16() (int16, error) {
	v, err := s.ReadUint16()
	return int16(v), err
}

// ReadUint32 reads a little-endian uint32.
func (s *Stream) ReadUint32() (uint32, error) {
	if s.pos+4 > s.end {
		return 0, ErrStreamEOF
	}
	v := binary.LittleEndian.Uint32(s.data[s.pos:])
	s.pos += 4
	return v, nil
}

// ReadUint64 reads a little-endian uint64.
func (s *Stream) ReadUint64() (uint64, error) {
	if s.pos+8 > s.end {
		return 0, ErrStreamEOF
	}
	v := binary.LittleEndian.Uint64(s.data[s.pos:])
	s.pos += 8
	return v, nil
}

// Skip advances the position by n bytes.
func (s *Stream) Skip(n int) error {
	if n < 0 || s.pos+n > s.end {
		return ErrStreamEOF
	}
	s.pos += n
	return nil
}

// Window returns a copy of data[off:off+n]. The range is checked in 64-bit
// arithmetic so that offsets taken straight from a file header cannot wrap.
func Window(data []byte, off, n uint64) ([]byte, error) {
	if off+n < off || off+n > uint64(len(data)) {
		return nil, fmt.Errorf("%w: [0x%x, 0x%x) in %d bytes", ErrOutOfBounds, off, off+n, len(data))
	}
	out := make([]byte, n)
	copy(out, data[off:off+n])
	return out, nil
}

// InBounds reports whether [off, off+n) lies within a buffer of size total.
func InBounds(off, n, total uint64) bool {
	return off+n >= off && off+n <= total
}

// CString returns the NUL-terminated string starting at off. A string that
// runs to the end of data without a terminator is returned as-is.
func CString(data []byte, off int) (string, error) {
	if off < 0 || off > len(data) {
		return "", fmt.Errorf("%w: string at %d in %d bytes", ErrOutOfBounds, off, len(data))
	}
	for i := off; i < len(data); i++ {
		if data[i] == 0 {
			return string(data[off:i]), nil
		}
	}
	return string(data[off:]), nil
}

// TrimNul returns b up to its first NUL byte.
func TrimNul(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
