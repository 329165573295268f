// Package catalog models the patch catalog: named patch definitions, each
// with target versions, each listing the files it changes and the byte
// patches recorded for them.
package catalog

import (
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
)

// Catalog is the root of the hierarchy.
type Catalog struct {
	XMLName     xml.Name      `xml:"PatchDefinitions" json:"-" yaml:"-"`
	Definitions []*Definition `xml:"PatchDefinition" json:"definitions" yaml:"definitions"`
}

// Definition is a named patch set.
type Definition struct {
	Name     string     `xml:"Name,attr" json:"name" yaml:"name"`
	Versions []*Version `xml:"TargetVersion" json:"versions" yaml:"versions"`
}

// Version groups the files of one target release.
type Version struct {
	Description string        `xml:"Description,attr" json:"description" yaml:"description"`
	Files       []*TargetFile `xml:"TargetFile" json:"files" yaml:"files"`
}

// TargetFile is one file to patch, addressed relative to the root of the
// definition. The hashes are SHA-1 digests of the whole file before and
// after patching.
type TargetFile struct {
	Path         string   `xml:"Path,attr" json:"path" yaml:"path"`
	HashOriginal HexBytes `xml:"HashOriginal,attr,omitempty" json:"hash_original,omitempty" yaml:"hash_original,omitempty"`
	HashPatched  HexBytes `xml:"HashPatched,attr,omitempty" json:"hash_patched,omitempty" yaml:"hash_patched,omitempty"`
	Patches      []*Patch `xml:"Patch" json:"patches" yaml:"patches"`
}

// Patch replaces len(PatchedBytes) bytes at file offset Address.
type Patch struct {
	Address       Address  `xml:"Address,attr" json:"address" yaml:"address"`
	OriginalBytes HexBytes `xml:"OriginalBytes,attr" json:"original" yaml:"original"`
	PatchedBytes  HexBytes `xml:"PatchedBytes,attr" json:"patched" yaml:"patched"`
}

// HexBytes is a byte string serialised as upper-case hex.
type HexBytes []byte

func (b HexBytes) MarshalText() ([]byte, error) {
	return []byte(strings.ToUpper(hex.EncodeToString(b))), nil
}

func (b *HexBytes) UnmarshalText(text []byte) error {
	s := strings.Join(strings.Fields(string(text)), "")
	v, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("catalog: bad hex bytes %q: %w", s, err)
	}
	*b = v
	return nil
}

func (b HexBytes) String() string {
	t, _ := b.MarshalText()
	return string(t)
}

// Address is a 32-bit file offset serialised as 0x%08X. Decimal input is
// accepted on load.
type Address uint32

func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Address) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return fmt.Errorf("catalog: bad address %q: %w", s, err)
	}
	*a = Address(v)
	return nil
}

func (a Address) String() string { return fmt.Sprintf("0x%08X", uint32(a)) }

// New returns an empty catalog.
func New() *Catalog { return &Catalog{} }

// Definition returns the definition named name, ignoring case, or nil.
func (c *Catalog) Definition(name string) *Definition {
	for _, d := range c.Definitions {
		if strings.EqualFold(d.Name, name) {
			return d
		}
	}
	return nil
}

// EnsureDefinition returns the definition named name, appending a new one
// when none matches.
func (c *Catalog) EnsureDefinition(name string) *Definition {
	if d := c.Definition(name); d != nil {
		return d
	}
	d := &Definition{Name: name}
	c.Definitions = append(c.Definitions, d)
	return d
}

// Version returns the version with the given description, ignoring case.
func (d *Definition) Version(desc string) *Version {
	for _, v := range d.Versions {
		if strings.EqualFold(v.Description, desc) {
			return v
		}
	}
	return nil
}

func (d *Definition) EnsureVersion(desc string) *Version {
	if v := d.Version(desc); v != nil {
		return v
	}
	v := &Version{Description: desc}
	d.Versions = append(d.Versions, v)
	return v
}

// File returns the target file whose path matches path. Paths compare
// case-insensitively after leading separators are dropped; inner
// separators must agree.
func (v *Version) File(path string) *TargetFile {
	for _, f := range v.Files {
		if f.Path != "" && SamePath(f.Path, path) {
			return f
		}
	}
	return nil
}

// EnsureFile returns the matching target file, appending a new one with the
// given path when none matches.
func (v *Version) EnsureFile(path string) *TargetFile {
	if f := v.File(path); f != nil {
		return f
	}
	f := &TargetFile{Path: path}
	v.Files = append(v.Files, f)
	return f
}

// SamePath reports whether two catalog paths name the same file.
func SamePath(a, b string) bool {
	return strings.EqualFold(strings.TrimLeft(a, `\/`), strings.TrimLeft(b, `\/`))
}

// PatchAt returns the patch recorded at addr, or nil.
func (f *TargetFile) PatchAt(addr uint32) *Patch {
	for _, p := range f.Patches {
		if uint32(p.Address) == addr {
			return p
		}
	}
	return nil
}

// SetPatch records a patch at addr. An existing patch at the same address
// is updated in place and keeps its position; otherwise the patch is
// appended.
func (f *TargetFile) SetPatch(addr uint32, original, patched []byte) *Patch {
	p := f.PatchAt(addr)
	if p == nil {
		p = &Patch{Address: Address(addr)}
		f.Patches = append(f.Patches, p)
	}
	p.OriginalBytes = append(HexBytes(nil), original...)
	p.PatchedBytes = append(HexBytes(nil), patched...)
	return p
}

// Validate checks the structural invariants a loaded catalog must hold.
func (c *Catalog) Validate() error {
	for _, d := range c.Definitions {
		for _, v := range d.Versions {
			for _, f := range v.Files {
				seen := make(map[Address]bool, len(f.Patches))
				for _, p := range f.Patches {
					if len(p.OriginalBytes) != len(p.PatchedBytes) {
						return fmt.Errorf("%w: %s/%s/%s: patch at %s has %d original and %d patched bytes",
							ErrMalformed, d.Name, v.Description, f.Path, p.Address, len(p.OriginalBytes), len(p.PatchedBytes))
					}
					if seen[p.Address] {
						return fmt.Errorf("%w: %s/%s/%s: duplicate patch at %s",
							ErrMalformed, d.Name, v.Description, f.Path, p.Address)
					}
					seen[p.Address] = true
				}
			}
		}
	}
	return nil
}

// Clone returns a deep copy of c.
func (c *Catalog) Clone() *Catalog {
	out := &Catalog{}
	for _, d := range c.Definitions {
		nd := &Definition{Name: d.Name}
		for _, v := range d.Versions {
			nv := &Version{Description: v.Description}
			for _, f := range v.Files {
				nf := &TargetFile{
					Path:         f.Path,
					HashOriginal: append(HexBytes(nil), f.HashOriginal...),
					HashPatched:  append(HexBytes(nil), f.HashPatched...),
				}
				for _, p := range f.Patches {
					nf.Patches = append(nf.Patches, &Patch{
						Address:       p.Address,
						OriginalBytes: append(HexBytes(nil), p.OriginalBytes...),
						PatchedBytes:  append(HexBytes(nil), p.PatchedBytes...),
					})
				}
				nv.Files = append(nv.Files, nf)
			}
			nd.Versions = append(nd.Versions, nv)
		}
		out.Definitions = append(out.Definitions, nd)
	}
	return out
}
