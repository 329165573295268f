package catalog

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func sample() *Catalog {
	c := New()
	f := c.EnsureDefinition("SecureBootHack").EnsureVersion("Lumia 950 v1").EnsureFile(`\EFI\boot\bootarm.efi`)
	f.HashOriginal = HexBytes{0x01, 0xab}
	f.HashPatched = HexBytes{0x02, 0xcd}
	f.SetPatch(0x450, []byte{0x00, 0xbf}, []byte{0x70, 0x47})
	f.SetPatch(0x158, []byte{0, 0, 0, 0}, []byte{0x64, 0, 0, 0})
	return c
}

func TestLookupCaseInsensitive(t *testing.T) {
	c := sample()
	d := c.Definition("securebootHACK")
	if d == nil {
		t.Fatal("definition not found")
	}
	v := d.Version("LUMIA 950 V1")
	if v == nil {
		t.Fatal("version not found")
	}
	for _, p := range []string{`EFI\BOOT\BOOTARM.EFI`, `\efi\boot\bootarm.efi`, `/EFI\boot\bootarm.efi`} {
		if v.File(p) == nil {
			t.Errorf("file %q not found", p)
		}
	}
	if v.File(`EFI/boot/bootarm.efi`) != nil {
		t.Error("inner separators should not be normalised")
	}
}

func TestEnsureDoesNotDuplicate(t *testing.T) {
	c := sample()
	c.EnsureDefinition("SECUREBOOTHACK").EnsureVersion("lumia 950 V1").EnsureFile(`efi\boot\bootarm.efi`)
	if len(c.Definitions) != 1 || len(c.Definitions[0].Versions) != 1 || len(c.Definitions[0].Versions[0].Files) != 1 {
		t.Fatalf("hierarchy grew: %+v", c.Definitions[0])
	}
	c.EnsureDefinition("Other")
	if len(c.Definitions) != 2 {
		t.Errorf("got %d definitions, want 2", len(c.Definitions))
	}
}

func TestSetPatchUpserts(t *testing.T) {
	f := &TargetFile{Path: "a.dll"}
	f.SetPatch(0x10, []byte{1}, []byte{2})
	f.SetPatch(0x20, []byte{3}, []byte{4})
	f.SetPatch(0x10, []byte{5, 6}, []byte{7, 8})
	if len(f.Patches) != 2 {
		t.Fatalf("got %d patches, want 2", len(f.Patches))
	}
	p := f.PatchAt(0x10)
	if p == nil || f.Patches[0] != p {
		t.Fatal("patch at 0x10 moved or missing")
	}
	if !bytes.Equal(p.OriginalBytes, []byte{5, 6}) || !bytes.Equal(p.PatchedBytes, []byte{7, 8}) {
		t.Errorf("patch = %+v", p)
	}
	if f.PatchAt(0x30) != nil {
		t.Error("unexpected patch at 0x30")
	}
}

func TestCodecRoundTrip(t *testing.T) {
	for _, format := range []Format{FormatXML, FormatYAML, FormatJSON} {
		t.Run(format.String(), func(t *testing.T) {
			data, err := Encode(sample(), format)
			if err != nil {
				t.Fatal(err)
			}
			c, err := Decode(data, format)
			if err != nil {
				t.Fatalf("decode: %v\n%s", err, data)
			}
			f := c.Definition("SecureBootHack").Version("Lumia 950 v1").File(`EFI\boot\bootarm.efi`)
			if f == nil {
				t.Fatalf("file lost:\n%s", data)
			}
			if f.Path != `\EFI\boot\bootarm.efi` {
				t.Errorf("path = %q", f.Path)
			}
			if !bytes.Equal(f.HashOriginal, []byte{0x01, 0xab}) || !bytes.Equal(f.HashPatched, []byte{0x02, 0xcd}) {
				t.Errorf("hashes = %s / %s", f.HashOriginal, f.HashPatched)
			}
			if len(f.Patches) != 2 || f.Patches[0].Address != 0x450 || f.Patches[1].Address != 0x158 {
				t.Fatalf("patches = %+v", f.Patches)
			}
			if !bytes.Equal(f.Patches[1].PatchedBytes, []byte{0x64, 0, 0, 0}) {
				t.Errorf("patched bytes = %s", f.Patches[1].PatchedBytes)
			}
		})
	}
}

func TestXMLShape(t *testing.T) {
	data, err := Encode(sample(), FormatXML)
	if err != nil {
		t.Fatal(err)
	}
	s := string(data)
	for _, want := range []string{
		`<PatchDefinitions>`,
		`<PatchDefinition Name="SecureBootHack">`,
		`<TargetVersion Description="Lumia 950 v1">`,
		`HashOriginal="01AB"`,
		`<Patch Address="0x00000450" OriginalBytes="00BF" PatchedBytes="7047">`,
	} {
		if !strings.Contains(s, want) {
			t.Errorf("missing %s in\n%s", want, s)
		}
	}
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name   string
		data   string
		format Format
	}{
		{"xml syntax", "<PatchDefinitions><PatchDefinition", FormatXML},
		{"bad hex", `<PatchDefinitions><PatchDefinition Name="x"><TargetVersion Description="v"><TargetFile Path="a"><Patch Address="0x10" OriginalBytes="ZZ" PatchedBytes="00"/></TargetFile></TargetVersion></PatchDefinition></PatchDefinitions>`, FormatXML},
		{"length mismatch", `{"definitions":[{"name":"x","versions":[{"description":"v","files":[{"path":"a","patches":[{"address":"0x10","original":"00","patched":"0000"}]}]}]}]}`, FormatJSON},
		{"duplicate address", "definitions:\n- name: x\n  versions:\n  - description: v\n    files:\n    - path: a\n      patches:\n      - {address: \"0x10\", original: \"00\", patched: \"01\"}\n      - {address: \"16\", original: \"00\", patched: \"02\"}\n", FormatYAML},
		{"yaml syntax", "definitions: [", FormatYAML},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.data), tt.format)
			if !errors.Is(err, ErrMalformed) {
				t.Fatalf("err = %v, want ErrMalformed", err)
			}
		})
	}
}

func TestFormatFor(t *testing.T) {
	tests := map[string]Format{
		"PatchDefinitions.xml": FormatXML,
		"patches.YAML":         FormatYAML,
		"patches.yml":          FormatYAML,
		"patches.json":         FormatJSON,
		"patches":              FormatXML,
	}
	for path, want := range tests {
		if got := FormatFor(path); got != want {
			t.Errorf("FormatFor(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestFileStore(t *testing.T) {
	dir := t.TempDir()
	s := FileStore{Path: filepath.Join(dir, "patches.yaml")}

	c, err := s.Load()
	if err != nil {
		t.Fatalf("missing file: %v", err)
	}
	if len(c.Definitions) != 0 {
		t.Fatal("expected empty catalog")
	}

	if err := s.Save(sample()); err != nil {
		t.Fatal(err)
	}
	c, err = s.Load()
	if err != nil {
		t.Fatal(err)
	}
	if c.Definition("securebootHack") == nil {
		t.Error("definition not persisted")
	}

	bad := FileStore{Path: filepath.Join(dir, "bad.xml")}
	if err := os.WriteFile(bad.Path, []byte("<nope"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := bad.Load(); !errors.Is(err, ErrMalformed) {
		t.Errorf("err = %v, want ErrMalformed", err)
	}
}

func TestMemoryStoreIsolation(t *testing.T) {
	m := &MemoryStore{Catalog: sample()}
	c, err := m.Load()
	if err != nil {
		t.Fatal(err)
	}
	c.EnsureDefinition("scratch")
	c.Definitions[0].Versions[0].Files[0].Patches[0].PatchedBytes[0] = 0xff
	if len(m.Catalog.Definitions) != 1 {
		t.Error("load returned shared catalog")
	}
	if m.Catalog.Definitions[0].Versions[0].Files[0].Patches[0].PatchedBytes[0] != 0x70 {
		t.Error("load shares patch bytes")
	}
	if err := m.Save(c); err != nil {
		t.Fatal(err)
	}
	if m.Saves != 1 || len(m.Catalog.Definitions) != 2 {
		t.Errorf("saves = %d, definitions = %d", m.Saves, len(m.Catalog.Definitions))
	}
}
