package asm

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrToolchainMissing is returned when no assembler is configured.
var ErrToolchainMissing = errors.New("asm: ARM assembler toolchain is missing")

// Toolchain locates the assembler executable and any directories it needs
// on PATH to find its helper DLLs.
type Toolchain struct {
	Assembler string
	PathDirs  []string
}

// Visual Studio layout relative to the installation root.
var (
	vsAssembler = []string{"VC", "bin", "x86_arm", "armasm.exe"}
	vsPathDirs  = [][]string{
		{"Common7", "IDE"},
		{"Common7", "Tools"},
		{"VC", "bin"},
		{"VC", "bin", "x86_arm"},
	}
)

// ResolveToolchain accepts either the assembler executable itself or a
// Visual Studio installation root. An empty path is ErrToolchainMissing.
func ResolveToolchain(path string) (Toolchain, error) {
	if strings.TrimSpace(path) == "" {
		return Toolchain{}, ErrToolchainMissing
	}
	st, err := os.Stat(path)
	if err != nil {
		return Toolchain{}, fmt.Errorf("%w: %v", ErrToolchainMissing, err)
	}
	if !st.IsDir() {
		return Toolchain{Assembler: path}, nil
	}

	tc := Toolchain{Assembler: filepath.Join(append([]string{path}, vsAssembler...)...)}
	if _, err := os.Stat(tc.Assembler); err != nil {
		return Toolchain{}, fmt.Errorf("%w: no %s under %s", ErrToolchainMissing, filepath.Join(vsAssembler...), path)
	}
	for _, d := range vsPathDirs {
		tc.PathDirs = append(tc.PathDirs, filepath.Join(append([]string{path}, d...)...))
	}
	return tc, nil
}

// Env returns the PATH override for the assembler process, or nil.
func (tc Toolchain) Env() []string {
	if len(tc.PathDirs) == 0 {
		return nil
	}
	p := os.Getenv("PATH")
	for _, d := range tc.PathDirs {
		if p != "" {
			p += string(os.PathListSeparator)
		}
		p += d
	}
	return []string{"PATH=" + p}
}
