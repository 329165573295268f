// Package patch records code patches in a catalog and applies them to PE
// images, keeping the image checksum valid.
package patch

import (
	"bytes"
	"crypto/sha1"
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/apex/log"

	"armpatch/internal/catalog"
	"armpatch/internal/output"
	"armpatch/internal/pe"
)

var (
	ErrShortImage          = errors.New("patch: image too small")
	ErrPatchBounds         = errors.New("patch: patch exceeds image")
	ErrPatchLength         = errors.New("patch: original and patched lengths differ")
	ErrUnknownDefinition   = errors.New("patch: unknown patch definition")
	ErrNoMatchingVersion   = errors.New("patch: no target version matches the files")
	ErrOriginalMismatch    = errors.New("patch: original bytes do not match")
	ErrPatchedHashMismatch = errors.New("patch: patched file hash mismatch")
)

// Engine edits a patch catalog held by Store.
type Engine struct {
	Store catalog.Store
}

// Request describes one AddOrUpdatePatch call. A nil Code records no code
// patch; the file hashes and the checksum patch are still refreshed.
type Request struct {
	InputPath     string // target binary to read
	OutputPath    string // optional; patched binary is written here
	Definition    string
	Version       string
	TargetPath    string // path of the file relative to the definition root
	VirtualOrigin uint32 // absolute virtual address of Code
	Code          []byte
}

// Result reports what AddOrUpdatePatch recorded.
type Result struct {
	File        *catalog.TargetFile
	RawOffset   uint32 // file offset of Code; zero without Code
	OldChecksum uint32
	NewChecksum uint32
	Patched     []byte // image with every patch of File applied
}

// AddOrUpdatePatch records req.Code at req.VirtualOrigin for the target file,
// reapplies every patch of that file to the input binary, repairs the image
// checksum and records it as a patch too. The catalog is saved only when
// every step succeeded.
func (e *Engine) AddOrUpdatePatch(req Request) (*Result, error) {
	data, err := os.ReadFile(req.InputPath)
	if err != nil {
		return nil, fmt.Errorf("patch: read input: %w", err)
	}

	csumOff, err := ChecksumOffset(data)
	if err != nil {
		return nil, err
	}
	oldSum := binary.LittleEndian.Uint32(data[csumOff:])

	img, err := pe.Parse(data)
	if err != nil {
		return nil, err
	}
	res := &Result{OldChecksum: oldSum}
	if req.Code != nil {
		if res.RawOffset, err = img.ConvertVirtualToRaw(req.VirtualOrigin); err != nil {
			return nil, err
		}
		if !inBounds(res.RawOffset, len(req.Code), len(data)) {
			return nil, fmt.Errorf("%w: %d bytes at 0x%08X in %d-byte image",
				ErrPatchBounds, len(req.Code), res.RawOffset, len(data))
		}
	}

	cat, err := e.Store.Load()
	if err != nil {
		return nil, err
	}
	tf := cat.EnsureDefinition(req.Definition).EnsureVersion(req.Version).EnsureFile(req.TargetPath)
	tf.Path = req.TargetPath
	h := sha1.Sum(data)
	tf.HashOriginal = h[:]

	if req.Code != nil {
		end := res.RawOffset + uint32(len(req.Code))
		tf.SetPatch(res.RawOffset, data[res.RawOffset:end], req.Code)
	}

	patched := append([]byte(nil), data...)
	if err := applyPatches(patched, tf.Patches); err != nil {
		return nil, err
	}
	if _, res.NewChecksum, err = FixChecksum(patched); err != nil {
		return nil, err
	}
	tf.SetPatch(csumOff, le32(oldSum), le32(res.NewChecksum))
	h = sha1.Sum(patched)
	tf.HashPatched = h[:]

	log.WithFields(log.Fields{
		"definition": req.Definition,
		"version":    req.Version,
		"file":       req.TargetPath,
		"raw":        fmt.Sprintf("0x%08X", res.RawOffset),
		"patches":    len(tf.Patches),
		"checksum":   fmt.Sprintf("0x%08X", res.NewChecksum),
	}).Debug("patch recorded")

	if req.OutputPath != "" {
		if err := output.WriteFile(req.OutputPath, patched, 0o644); err != nil {
			return nil, err
		}
	}
	if err := e.Store.Save(cat); err != nil {
		return nil, err
	}
	res.File = tf
	res.Patched = patched
	return res, nil
}

// applyPatches overwrites data with each patch's bytes, in catalog order.
func applyPatches(data []byte, patches []*catalog.Patch) error {
	for _, p := range patches {
		if len(p.OriginalBytes) != len(p.PatchedBytes) {
			return fmt.Errorf("%w: patch at %s", ErrPatchLength, p.Address)
		}
		if !inBounds(uint32(p.Address), len(p.PatchedBytes), len(data)) {
			return fmt.Errorf("%w: patch at %s, %d bytes", ErrPatchBounds, p.Address, len(p.PatchedBytes))
		}
		copy(data[p.Address:], p.PatchedBytes)
	}
	return nil
}

// verifyOriginals checks that every patch's original bytes are present.
func verifyOriginals(data []byte, patches []*catalog.Patch) error {
	for _, p := range patches {
		if !inBounds(uint32(p.Address), len(p.OriginalBytes), len(data)) {
			return fmt.Errorf("%w: patch at %s, %d bytes", ErrPatchBounds, p.Address, len(p.OriginalBytes))
		}
		got := data[p.Address : uint64(p.Address)+uint64(len(p.OriginalBytes))]
		if !bytes.Equal(got, p.OriginalBytes) {
			return fmt.Errorf("%w: at %s found %X, want %s", ErrOriginalMismatch, p.Address, got, p.OriginalBytes)
		}
	}
	return nil
}

func inBounds(off uint32, n, size int) bool {
	return uint64(off)+uint64(n) <= uint64(size)
}

func le32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}
