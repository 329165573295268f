package asm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/apex/log"

	"armpatch/internal/coff"
)

// ErrPaddingMismatch is returned when the assembled section is shorter than
// the zero fill that was placed in front of the code.
var ErrPaddingMismatch = errors.New("asm: code section shorter than inserted padding")

// AssemblyError reports a nonzero assembler exit. Diagnostic is the cleaned
// assembler output.
type AssemblyError struct {
	ExitCode   int
	Diagnostic string
}

func (e *AssemblyError) Error() string {
	if e.Diagnostic == "" {
		return fmt.Sprintf("asm: assembler exited with code %d", e.ExitCode)
	}
	return fmt.Sprintf("asm: assembler exited with code %d:\n%s", e.ExitCode, e.Diagnostic)
}

// Compiler assembles fragments with an external armasm.
type Compiler struct {
	Toolchain Toolchain
	Runner    Runner        // defaults to ExecRunner
	TempDir   string        // defaults to os.TempDir
	Timeout   time.Duration // used by the default runner; zero waits forever
}

// Compile assembles fragment for placement at origin and returns the code
// bytes, with any inserted padding trimmed. The temporary source and object
// files are removed before returning.
func (c *Compiler) Compile(ctx context.Context, origin uint32, mode Mode, fragment string) ([]byte, error) {
	if c.Toolchain.Assembler == "" {
		return nil, ErrToolchainMissing
	}

	frag := Preprocess(fragment, origin)
	src := BuildModule(mode, frag)

	srcPath, objPath, err := c.tempFiles()
	if err != nil {
		return nil, err
	}
	defer os.Remove(srcPath)
	defer os.Remove(objPath)

	if err := os.WriteFile(srcPath, []byte(src), 0o600); err != nil {
		return nil, fmt.Errorf("asm: write source: %w", err)
	}

	logger := log.WithFields(log.Fields{
		"origin":  fmt.Sprintf("0x%08X", origin),
		"mode":    mode.String(),
		"padding": frag.Padding,
	})
	logger.Debug("assembling fragment")

	runner := c.Runner
	if runner == nil {
		runner = ExecRunner{Timeout: c.Timeout}
	}
	res, err := runner.Run(ctx, Command{
		Path: c.Toolchain.Assembler,
		Args: []string{"-g", srcPath, objPath},
		Env:  c.Toolchain.Env(),
	})
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, &AssemblyError{
			ExitCode:   res.ExitCode,
			Diagnostic: CleanDiagnostic(string(res.Output), srcPath),
		}
	}

	obj, err := coff.Open(objPath)
	if err != nil {
		return nil, err
	}
	sec, err := obj.CodeSection(AreaName)
	if err != nil {
		return nil, err
	}
	if uint64(len(sec.Data)) < uint64(frag.Padding) {
		return nil, fmt.Errorf("%w: %d bytes, padding %d", ErrPaddingMismatch, len(sec.Data), frag.Padding)
	}
	code := append([]byte(nil), sec.Data[frag.Padding:]...)
	logger.WithField("bytes", len(code)).Debug("assembled")
	return code, nil
}

// tempFiles reserves a source path and the object path next to it.
func (c *Compiler) tempFiles() (string, string, error) {
	f, err := os.CreateTemp(c.TempDir, "armpatch-*.asm")
	if err != nil {
		return "", "", fmt.Errorf("asm: temp file: %w", err)
	}
	srcPath := f.Name()
	f.Close()
	return srcPath, strings.TrimSuffix(srcPath, ".asm") + ".obj", nil
}
