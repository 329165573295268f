package binfmt

import (
	"errors"
	"testing"
)

func TestReadLittleEndian(t *testing.T) {
	s := NewStream([]byte{0x34, 0x12, 0x78, 0x56, 0x34, 0x12, 0xff})
	v16, err := s.ReadUint16()
	if err != nil || v16 != 0x1234 {
		t.Fatalf("ReadUint16 = 0x%x, %v", v16, err)
	}
	v32, err := s.ReadUint32()
	if err != nil || v32 != 0x12345678 {
		t.Fatalf("ReadUint32 = 0x%x, %v", v32, err)
	}
	if s.Remaining() != 1 {
		t.Errorf("Remaining = %d, want 1", s.Remaining())
	}
	if _, err := s.ReadUint16(); !errors.Is(err, ErrStreamEOF) {
		t.Errorf("short ReadUint16 err = %v, want ErrStreamEOF", err)
	}
	// Failed read must not advance.
	if s.Position() != 6 {
		t.Errorf("Position = %d, want 6", s.Position())
	}
}

func TestReadBytesCopies(t *testing.T) {
	data := []byte{1, 2, 3, 4}
	s := NewStreamAt(data, 1)
	b, err := s.ReadBytes(2)
	if err != nil {
		t.Fatal(err)
	}
	b[0] = 0xff
	if data[1] != 2 {
		t.Error("ReadBytes returned an alias of the input")
	}
	if _, err := s.ReadBytes(-1); err == nil {
		t.Error("negative length accepted")
	}
}

func TestWindow(t *testing.T) {
	data := make([]byte, 16)
	tests := []struct {
		off, n uint64
		ok     bool
	}{
		{0, 16, true},
		{8, 8, true},
		{16, 0, true},
		{8, 9, false},
		{17, 0, false},
		{^uint64(0), 2, false}, // wraps
	}
	for _, tt := range tests {
		_, err := Window(data, tt.off, tt.n)
		if (err == nil) != tt.ok {
			t.Errorf("Window(%d, %d) err = %v, want ok=%v", tt.off, tt.n, err, tt.ok)
		}
		if err != nil && !errors.Is(err, ErrOutOfBounds) {
			t.Errorf("Window(%d, %d) err = %v, want ErrOutOfBounds", tt.off, tt.n, err)
		}
	}
}

func TestCString(t *testing.T) {
	data := []byte("abc\x00def")
	got, err := CString(data, 0)
	if err != nil || got != "abc" {
		t.Errorf("CString(0) = %q, %v", got, err)
	}
	got, err = CString(data, 4)
	if err != nil || got != "def" {
		t.Errorf("CString(4) = %q, %v", got, err)
	}
	if _, err := CString(data, 9); err == nil {
		t.Error("CString past end accepted")
	}
}

func TestTrimNul(t *testing.T) {
	if got := TrimNul([]byte{'.', 't', 'e', 'x', 't', 0, 0, 0}); got != ".text" {
		t.Errorf("TrimNul = %q", got)
	}
	if got := TrimNul([]byte("ARM_AREA")); got != "ARM_AREA" {
		t.Errorf("TrimNul full = %q", got)
	}
}
