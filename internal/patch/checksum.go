package patch

import (
	"encoding/binary"
	"fmt"
)

const (
	ntHeaderPtrOffset = 0x3C // e_lfanew in the DOS header
	checksumFieldRel  = 0x58 // checksum field relative to the NT header
)

// ChecksumOffset returns the file offset of the optional header checksum
// field: the NT header pointer at 0x3C plus 0x58.
func ChecksumOffset(data []byte) (uint32, error) {
	if len(data) < ntHeaderPtrOffset+4 {
		return 0, fmt.Errorf("%w: %d bytes, no NT header pointer", ErrShortImage, len(data))
	}
	off := uint64(binary.LittleEndian.Uint32(data[ntHeaderPtrOffset:])) + checksumFieldRel
	if off+4 > uint64(len(data)) {
		return 0, fmt.Errorf("%w: checksum field at 0x%x beyond %d bytes", ErrShortImage, off, len(data))
	}
	return uint32(off), nil
}

// ComputeChecksum returns the image checksum of data as if its checksum
// field were zero. data is not modified.
//
// The file is summed as little-endian 16-bit words, folding the carry back
// into the low half after every addition. An odd trailing byte is one more
// term. The file length is added last.
func ComputeChecksum(data []byte) (uint32, error) {
	off, err := ChecksumOffset(data)
	if err != nil {
		return 0, err
	}
	at := func(i int) uint32 {
		if uint32(i) >= off && uint32(i) < off+4 {
			return 0
		}
		return uint32(data[i])
	}

	var sum uint32
	n := len(data)
	for i := 0; i+1 < n; i += 2 {
		sum += at(i) | at(i+1)<<8
		sum = fold(sum)
	}
	if n%2 != 0 {
		sum += at(n - 1)
		sum = fold(sum)
	}
	sum += uint32(n)
	return sum, nil
}

func fold(sum uint32) uint32 {
	if hi := sum >> 16; hi != 0 {
		return hi + sum&0xFFFF
	}
	return sum
}

// FixChecksum recomputes the checksum and stores it in the field. It
// returns the field's previous and new values.
func FixChecksum(data []byte) (old, sum uint32, err error) {
	off, err := ChecksumOffset(data)
	if err != nil {
		return 0, 0, err
	}
	old = binary.LittleEndian.Uint32(data[off:])
	if sum, err = ComputeChecksum(data); err != nil {
		return 0, 0, err
	}
	binary.LittleEndian.PutUint32(data[off:], sum)
	return old, sum, nil
}
