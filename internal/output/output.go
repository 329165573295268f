// Package output writes armpatch results to files.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/marcinbor85/gohex"
)

// WriteFile writes data through a temporary file in the same directory and
// renames it over path, so readers never see a partial file.
func WriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("output: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("output: create temp for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("output: write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("output: close %s: %w", path, err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("output: chmod %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("output: rename %s: %w", path, err)
	}
	return nil
}

// WriteJSON writes v as indented JSON to path.
func WriteJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("output: create %s: %w", path, err)
	}
	defer f.Close()
	return EncodeJSON(f, v)
}

// EncodeJSON writes v as indented JSON to w.
func EncodeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("output: encode json: %w", err)
	}
	return nil
}

// WriteDOT writes Graphviz source to path.
func WriteDOT(path, dot string) error {
	return os.WriteFile(path, []byte(dot), 0o644)
}

// Segment is a run of bytes at an absolute address.
type Segment struct {
	Address uint32
	Data    []byte
}

// WriteIntelHex writes segments as an Intel HEX image with 32-byte records.
// Segments are emitted in address order; overlapping segments are an error.
func WriteIntelHex(w io.Writer, segments []Segment) error {
	sorted := append([]Segment(nil), segments...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Address < sorted[j].Address })

	mem := gohex.NewMemory()
	var end uint64
	for _, s := range sorted {
		if len(s.Data) == 0 {
			continue
		}
		if uint64(s.Address) < end {
			return fmt.Errorf("output: hex segment at 0x%08x overlaps previous segment", s.Address)
		}
		end = uint64(s.Address) + uint64(len(s.Data))
		if err := mem.AddBinary(s.Address, s.Data); err != nil {
			return fmt.Errorf("output: hex segment at 0x%08x: %w", s.Address, err)
		}
	}
	if err := mem.DumpIntelHex(w, 32); err != nil {
		return fmt.Errorf("output: dump hex: %w", err)
	}
	return nil
}

// ReadIntelHex parses an Intel HEX image into its data segments.
func ReadIntelHex(r io.Reader) ([]Segment, error) {
	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(r); err != nil {
		return nil, fmt.Errorf("output: parse hex: %w", err)
	}
	var out []Segment
	for _, s := range mem.GetDataSegments() {
		out = append(out, Segment{Address: s.Address, Data: s.Data})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out, nil
}
