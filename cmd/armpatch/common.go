package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/apex/log"

	"armpatch/internal/asm"
	"armpatch/internal/catalog"
	"armpatch/internal/config"
	"armpatch/internal/disasm"
	"armpatch/internal/patch"
	"armpatch/internal/pe"
)

// parseAddr accepts decimal, 0x-prefixed hex and the other Go integer forms.
func parseAddr(s string) (uint32, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 32)
	if err != nil {
		return 0, fmt.Errorf("bad address %q: %w", s, err)
	}
	return uint32(v), nil
}

// readSource returns the contents of path, or stdin for "-".
func readSource(path string) (string, error) {
	var (
		b   []byte
		err error
	)
	if path == "-" {
		b, err = io.ReadAll(os.Stdin)
	} else {
		b, err = os.ReadFile(path)
	}
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func newCompiler(cfg *config.Config) (*asm.Compiler, error) {
	path := cfg.Toolchain
	if path == "" {
		found, err := config.FindToolchain()
		if err != nil {
			return nil, err
		}
		log.WithField("toolchain", found).Debug("found toolchain")
		path = found
	}
	tc, err := asm.ResolveToolchain(path)
	if err != nil {
		return nil, err
	}
	return &asm.Compiler{Toolchain: tc, Timeout: cfg.Timeout}, nil
}

func newEngine(cfg *config.Config) *patch.Engine {
	return &patch.Engine{Store: catalog.FileStore{Path: cfg.Catalog}}
}

// disasmMode maps an assembler mode name onto the decoder that reads its
// output.
func disasmMode(name string) (disasm.Mode, error) {
	if m, err := asm.ParseMode(name); err == nil {
		if m == asm.ModeARM {
			return disasm.ModeARM, nil
		}
		return disasm.ModeThumb, nil
	}
	return disasm.ParseMode(name)
}

// selectFiles returns the target files of a definition, limited to one
// version when version is set.
func selectFiles(cat *catalog.Catalog, definition, version string) ([]*catalog.TargetFile, error) {
	d := cat.Definition(definition)
	if d == nil {
		return nil, fmt.Errorf("%w: %q", patch.ErrUnknownDefinition, definition)
	}
	var files []*catalog.TargetFile
	for _, v := range d.Versions {
		if version != "" && !strings.EqualFold(v.Description, version) {
			continue
		}
		files = append(files, v.Files...)
	}
	if version != "" && len(files) == 0 {
		return nil, fmt.Errorf("definition %q has no files for version %q", d.Name, version)
	}
	return files, nil
}

// imageMap places patches of one catalog file at their virtual addresses
// in a reference image. Without an image, raw offsets stand in for
// addresses.
type imageMap struct {
	img  *pe.File
	path string // empty matches every file
}

func openImageMap(imagePath, targetPath string) (*imageMap, error) {
	m := &imageMap{path: targetPath}
	if imagePath == "" {
		return m, nil
	}
	img, err := pe.Open(imagePath)
	if err != nil {
		return nil, err
	}
	m.img = img
	return m, nil
}

func (m *imageMap) Close() error {
	if m.img == nil {
		return nil
	}
	return m.img.Close()
}

// addr returns the address of a patch and whether it is a virtual address.
func (m *imageMap) addr(f *catalog.TargetFile, p *catalog.Patch) (uint32, bool) {
	if m.img == nil || (m.path != "" && !catalog.SamePath(f.Path, m.path)) {
		return uint32(p.Address), false
	}
	va, err := m.img.ConvertRawToVirtual(uint32(p.Address))
	if err != nil {
		return uint32(p.Address), false
	}
	return va, true
}

// selectFile narrows a definition to a single target file. version and
// path may be empty when the definition leaves no choice.
func selectFile(cat *catalog.Catalog, definition, version, path string) (*catalog.TargetFile, error) {
	d := cat.Definition(definition)
	if d == nil {
		return nil, fmt.Errorf("%w: %q", patch.ErrUnknownDefinition, definition)
	}
	var v *catalog.Version
	switch {
	case version != "":
		if v = d.Version(version); v == nil {
			return nil, fmt.Errorf("definition %q has no version %q", d.Name, version)
		}
	case len(d.Versions) == 1:
		v = d.Versions[0]
	default:
		names := make([]string, len(d.Versions))
		for i, dv := range d.Versions {
			names[i] = strconv.Quote(dv.Description)
		}
		return nil, fmt.Errorf("definition %q has %d versions (%s); choose one with --version",
			d.Name, len(d.Versions), strings.Join(names, ", "))
	}

	switch {
	case path != "":
		if f := v.File(path); f != nil {
			return f, nil
		}
		return nil, fmt.Errorf("version %q has no file %q", v.Description, path)
	case len(v.Files) == 1:
		return v.Files[0], nil
	case len(v.Files) == 0:
		return nil, fmt.Errorf("version %q has no files", v.Description)
	}
	return nil, fmt.Errorf("version %q patches %d files; choose one with --target-path", v.Description, len(v.Files))
}
