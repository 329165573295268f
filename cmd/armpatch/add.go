package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"armpatch/internal/asm"
	"armpatch/internal/config"
	"armpatch/internal/patch"
)

func newAddCmd(cfg *config.Config) *cobra.Command {
	var (
		req      patch.Request
		origin   string
		mode     string
		fragment string
		rawHex   string
	)
	cmd := &cobra.Command{
		Use:   "add [flags] <input>",
		Short: "Record a patch for a target file and refresh its checksum patch",
		Long: `add assembles a fragment (or takes literal bytes) for a virtual address in
the input image, records it in the catalog under definition, version and
target path, reapplies every patch of that file, repairs the PE checksum and
records the checksum change as a patch too. Without --asm or --bytes only the
hashes and the checksum patch are refreshed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if fragment != "" && rawHex != "" {
				return errors.New("--asm and --bytes are exclusive")
			}
			req.InputPath = args[0]
			if req.TargetPath == "" {
				req.TargetPath = filepath.Base(args[0])
			}
			if origin != "" {
				va, err := parseAddr(origin)
				if err != nil {
					return err
				}
				req.VirtualOrigin = va
			} else if fragment != "" || rawHex != "" {
				return errors.New("--origin is required with --asm or --bytes")
			}

			switch {
			case fragment != "":
				m, err := asm.ParseMode(mode)
				if err != nil {
					return err
				}
				src, err := readSource(fragment)
				if err != nil {
					return err
				}
				c, err := newCompiler(cfg)
				if err != nil {
					return err
				}
				if req.Code, err = c.Compile(context.Background(), req.VirtualOrigin, m, src); err != nil {
					return err
				}
			case rawHex != "":
				code, err := hex.DecodeString(strings.ReplaceAll(rawHex, " ", ""))
				if err != nil {
					return fmt.Errorf("bad --bytes: %w", err)
				}
				req.Code = code
			}

			res, err := newEngine(cfg).AddOrUpdatePatch(req)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if req.Code != nil {
				fmt.Fprintf(w, "patch  0x%08X -> raw 0x%08X  %X\n", req.VirtualOrigin, res.RawOffset, req.Code)
			}
			fmt.Fprintf(w, "checksum  0x%08X -> 0x%08X\n", res.OldChecksum, res.NewChecksum)
			fmt.Fprintf(w, "%s: %d patches recorded in %s\n", res.File.Path, len(res.File.Patches), cfg.Catalog)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&req.Definition, "definition", "d", "", "patch definition name (required)")
	f.StringVar(&req.Version, "version", "", "target version description (required)")
	f.StringVar(&req.TargetPath, "target-path", "", `path of the file inside the target, e.g. \EFI\boot\bootarm.efi (default: input file name)`)
	f.StringVar(&origin, "origin", "", "virtual address of the patch")
	f.StringVar(&mode, "mode", "thumb2", "code type: arm, thumb or thumb2")
	f.StringVar(&fragment, "asm", "", "assembly fragment to compile, - for stdin")
	f.StringVar(&rawHex, "bytes", "", "literal patch bytes in hex")
	f.StringVarP(&req.OutputPath, "out", "o", "", "write the patched image here")
	cmd.MarkFlagRequired("definition")
	cmd.MarkFlagRequired("version")
	return cmd
}
