package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"armpatch/internal/catalog"
	"armpatch/internal/config"
	"armpatch/internal/output"
)

func newExportCmd(cfg *config.Config) *cobra.Command {
	var (
		version    string
		out        string
		imagePath  string
		targetPath string
		original   bool
	)
	cmd := &cobra.Command{
		Use:   "export [flags] <definition>",
		Short: "Export the patches of one target file as Intel HEX",
		Long: `export writes the patched bytes of one target file as an Intel HEX image.
Records are placed at raw file offsets, or at virtual addresses when --image
is given. --version is needed when the definition has several versions and
--target-path when the version patches several files.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := catalog.FileStore{Path: cfg.Catalog}.Load()
			if err != nil {
				return err
			}
			f, err := selectFile(cat, args[0], version, targetPath)
			if err != nil {
				return err
			}
			im, err := openImageMap(imagePath, targetPath)
			if err != nil {
				return err
			}
			defer im.Close()

			var segs []output.Segment
			for _, p := range f.Patches {
				addr, _ := im.addr(f, p)
				data := p.PatchedBytes
				if original {
					data = p.OriginalBytes
				}
				segs = append(segs, output.Segment{Address: addr, Data: data})
			}

			w := cmd.OutOrStdout()
			if out != "" {
				fh, err := os.Create(out)
				if err != nil {
					return err
				}
				defer fh.Close()
				w = fh
			}
			if err := output.WriteIntelHex(w, segs); err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			return nil
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&version, "version", "", "limit to one target version")
	fl.StringVarP(&out, "out", "o", "", "write the HEX file here instead of stdout")
	fl.StringVar(&imagePath, "image", "", "reference image for virtual addresses")
	fl.StringVar(&targetPath, "target-path", "", "catalog file to export")
	fl.BoolVar(&original, "original", false, "export the original bytes instead")
	return cmd
}
