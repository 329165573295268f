package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"armpatch/internal/catalog"
	"armpatch/internal/config"
	"armpatch/internal/disasm"
)

func newObjdumpCmd(cfg *config.Config) *cobra.Command {
	var (
		version    string
		mode       string
		imagePath  string
		targetPath string
		syms       map[string]string
	)
	cmd := &cobra.Command{
		Use:   "objdump [flags] <definition>",
		Short: "Disassemble the patches of a catalog definition",
		Long: `objdump lists every patch of a definition as a disassembly of the patched
bytes, annotating instructions that replaced different ones with the
original code. With --image, patches are shown at their virtual addresses
and branch targets are absolute.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dm, err := disasmMode(mode)
			if err != nil {
				return err
			}
			lookup, err := symbolLookup(syms)
			if err != nil {
				return err
			}
			cat, err := catalog.FileStore{Path: cfg.Catalog}.Load()
			if err != nil {
				return err
			}
			files, err := selectFiles(cat, args[0], version)
			if err != nil {
				return err
			}
			im, err := openImageMap(imagePath, targetPath)
			if err != nil {
				return err
			}
			defer im.Close()

			w := cmd.OutOrStdout()
			for _, f := range files {
				fmt.Fprintf(w, "%s:\n", f.Path)
				for _, p := range f.Patches {
					addr, virtual := im.addr(f, p)
					kind := "raw"
					if virtual {
						kind = "va"
					}
					fmt.Fprintf(w, "\n  patch at %s (%s 0x%08X), %d bytes\n", p.Address, kind, addr, len(p.PatchedBytes))
					opts := disasm.Options{BaseAddr: uint64(addr), Mode: dm}
					insts := disasm.Disassemble(p.PatchedBytes, opts)
					fmt.Fprint(w, disasm.Format(insts, lookup,
						disasm.OriginalAnnotator(p.OriginalBytes, opts),
						disasm.BranchAnnotator(dm, lookup)))
				}
				fmt.Fprintln(w)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&version, "version", "", "limit to one target version")
	f.StringVar(&mode, "mode", "thumb2", "code type: arm, thumb, thumb2 or arm64")
	f.StringVar(&imagePath, "image", "", "reference image for virtual addresses")
	f.StringVar(&targetPath, "target-path", "", "catalog file the image belongs to (default: every file)")
	f.StringToStringVar(&syms, "sym", nil, "name an address, e.g. --sym 0x401040=GetBootMode")
	return cmd
}

func symbolLookup(syms map[string]string) (disasm.SymbolLookup, error) {
	if len(syms) == 0 {
		return nil, nil
	}
	names := make(map[uint64]string, len(syms))
	for k, v := range syms {
		a, err := parseAddr(k)
		if err != nil {
			return nil, err
		}
		names[uint64(a)] = v
	}
	return disasm.MapLookup(names), nil
}
