package patch

import (
	"bytes"
	"crypto/sha1"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/apex/log"

	"armpatch/internal/catalog"
	"armpatch/internal/output"
)

// ApplyRequest names a definition to apply to the files under InputRoot.
// Results go to OutputRoot, or back under InputRoot when it is empty. When
// BackupRoot is set, the unpatched bytes of every file that gets patched are
// written there first.
type ApplyRequest struct {
	Definition string
	InputRoot  string
	OutputRoot string
	BackupRoot string
}

// FileStatus tells what Apply did to one file.
type FileStatus string

const (
	StatusPatched        FileStatus = "patched"
	StatusAlreadyPatched FileStatus = "already-patched"
)

// FileResult is the outcome for one target file.
type FileResult struct {
	Path   string     `json:"path"`
	Output string     `json:"output"`
	Status FileStatus `json:"status"`
	Backup string     `json:"backup,omitempty"`
}

// ApplyResult reports the version that matched and what happened per file.
type ApplyResult struct {
	Definition string       `json:"definition"`
	Version    string       `json:"version"`
	Files      []FileResult `json:"files"`
}

// Apply finds the first version of the definition whose files under
// InputRoot all hash to either their original or their patched digest,
// patches the original ones and writes every file to OutputRoot. Nothing
// is written unless every file of the version verified; backups are
// written before any output.
func (e *Engine) Apply(req ApplyRequest) (*ApplyResult, error) {
	cat, err := e.Store.Load()
	if err != nil {
		return nil, err
	}
	def := cat.Definition(req.Definition)
	if def == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDefinition, req.Definition)
	}

	var (
		version *catalog.Version
		inputs  [][]byte
	)
	for _, v := range def.Versions {
		if datas, ok := matchVersion(req.InputRoot, v); ok {
			version, inputs = v, datas
			break
		}
		log.WithField("version", v.Description).Debug("version does not match")
	}
	if version == nil {
		return nil, fmt.Errorf("%w: %q under %s", ErrNoMatchingVersion, def.Name, req.InputRoot)
	}

	outRoot := req.OutputRoot
	if outRoot == "" {
		outRoot = req.InputRoot
	}
	res := &ApplyResult{Definition: def.Name, Version: version.Description}
	outputs := make([][]byte, len(version.Files))
	for i, f := range version.Files {
		data := inputs[i]
		fr := FileResult{Path: f.Path, Output: resolve(outRoot, f.Path), Status: StatusAlreadyPatched}
		if h := sha1.Sum(data); !bytes.Equal(h[:], f.HashPatched) {
			if err := verifyOriginals(data, f.Patches); err != nil {
				return nil, fmt.Errorf("%s: %w", f.Path, err)
			}
			data = append([]byte(nil), data...)
			if err := applyPatches(data, f.Patches); err != nil {
				return nil, fmt.Errorf("%s: %w", f.Path, err)
			}
			if h := sha1.Sum(data); len(f.HashPatched) > 0 && !bytes.Equal(h[:], f.HashPatched) {
				return nil, fmt.Errorf("%w: %s: got %X, want %s", ErrPatchedHashMismatch, f.Path, h[:], f.HashPatched)
			}
			fr.Status = StatusPatched
			if req.BackupRoot != "" {
				fr.Backup = resolve(req.BackupRoot, f.Path)
			}
		}
		outputs[i] = data
		res.Files = append(res.Files, fr)
	}

	for i, fr := range res.Files {
		if fr.Backup == "" {
			continue
		}
		if err := output.WriteFile(fr.Backup, inputs[i], 0o644); err != nil {
			return nil, err
		}
	}
	for i, fr := range res.Files {
		if fr.Status == StatusAlreadyPatched && sameDir(outRoot, req.InputRoot) {
			continue
		}
		if err := output.WriteFile(fr.Output, outputs[i], 0o644); err != nil {
			return nil, err
		}
		log.WithFields(log.Fields{"file": fr.Path, "status": string(fr.Status)}).Info("applied")
	}
	return res, nil
}

// matchVersion reads every file of v and reports whether each one is in
// either its original or its patched state.
func matchVersion(root string, v *catalog.Version) ([][]byte, bool) {
	if len(v.Files) == 0 {
		return nil, false
	}
	datas := make([][]byte, 0, len(v.Files))
	for _, f := range v.Files {
		data, err := os.ReadFile(resolve(root, f.Path))
		if err != nil {
			return nil, false
		}
		h := sha1.Sum(data)
		if !bytes.Equal(h[:], f.HashOriginal) && !bytes.Equal(h[:], f.HashPatched) {
			return nil, false
		}
		datas = append(datas, data)
	}
	return datas, true
}

// resolve joins a catalog path, written with either separator and an
// optional leading one, onto root.
func resolve(root, p string) string {
	p = strings.TrimLeft(p, `\/`)
	p = strings.ReplaceAll(p, `\`, "/")
	return filepath.Join(root, filepath.FromSlash(p))
}

func sameDir(a, b string) bool {
	return filepath.Clean(a) == filepath.Clean(b)
}
