// Package config gathers armpatch settings from the environment.
package config

import (
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/xyproto/env/v2"

	"armpatch/internal/asm"
)

const (
	DefaultCatalog = "PatchDefinitions.xml"
	DefaultTimeout = 60 * time.Second
)

// Config holds settings shared by every command. Command-line flags
// override the values read from the environment.
type Config struct {
	Toolchain string        // assembler executable or Visual Studio root
	Catalog   string        // patch catalog document
	Timeout   time.Duration // assembler run limit; zero disables it
	Verbose   bool
}

// FromEnv reads ARMPATCH_TOOLCHAIN, ARMPATCH_CATALOG, ARMPATCH_TIMEOUT (in
// seconds) and ARMPATCH_VERBOSE.
func FromEnv() Config {
	return Config{
		Toolchain: env.Str("ARMPATCH_TOOLCHAIN"),
		Catalog:   env.Str("ARMPATCH_CATALOG", DefaultCatalog),
		Timeout:   time.Duration(env.Int("ARMPATCH_TIMEOUT", int(DefaultTimeout/time.Second))) * time.Second,
		Verbose:   env.Bool("ARMPATCH_VERBOSE"),
	}
}

// installGlobs match Visual Studio roots that ship the ARM assembler, on
// Windows and under a default Wine prefix.
var installGlobs = []string{
	`C:\Program Files (x86)\Microsoft Visual Studio *`,
	`C:\Program Files\Microsoft Visual Studio *`,
	filepath.Join(os.Getenv("HOME"), ".wine", "drive_c", "Program Files (x86)", "Microsoft Visual Studio *"),
}

// FindToolchain locates an assembler when none was configured: first
// armasm on PATH, then a Visual Studio root containing
// VC/bin/x86_arm/armasm.exe.
func FindToolchain() (string, error) {
	return findToolchain(exec.LookPath, installGlobs)
}

func findToolchain(lookPath func(string) (string, error), globs []string) (string, error) {
	for _, name := range []string{"armasm", "armasm.exe"} {
		if p, err := lookPath(name); err == nil {
			return p, nil
		}
	}
	for _, g := range globs {
		roots, _ := filepath.Glob(g)
		for _, root := range roots {
			if _, err := asm.ResolveToolchain(root); err == nil {
				return root, nil
			}
		}
	}
	return "", asm.ErrToolchainMissing
}
