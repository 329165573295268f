package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"armpatch/internal/catalog"
	"armpatch/internal/config"
	"armpatch/internal/graph"
	"armpatch/internal/output"
)

func newGraphCmd(cfg *config.Config) *cobra.Command {
	var (
		out        string
		title      string
		mode       string
		imagePath  string
		targetPath string
		syms       map[string]string
	)
	cmd := &cobra.Command{
		Use:   "graph [flags]",
		Short: "Render the catalog as a Graphviz DOT graph",
		Long: `graph draws definitions, versions, target files and patches. With --image,
the patched code is disassembled at its virtual addresses and every call or
branch leaving a patch becomes an edge to its target.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := catalog.FileStore{Path: cfg.Catalog}.Load()
			if err != nil {
				return err
			}
			var callees graph.Callees
			if imagePath != "" {
				dm, err := disasmMode(mode)
				if err != nil {
					return err
				}
				lookup, err := symbolLookup(syms)
				if err != nil {
					return err
				}
				im, err := openImageMap(imagePath, targetPath)
				if err != nil {
					return err
				}
				defer im.Close()
				callees = graph.ImageCallees(targetPath, im.img, dm, lookup)
			}

			g := graph.Build(cat, callees)
			dot := graph.Render(g, title)
			if out == "" {
				fmt.Fprint(cmd.OutOrStdout(), dot)
				return nil
			}
			if err := output.WriteDOT(out, dot); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s (%d nodes, %d edges)\n", out, len(g.Nodes), len(g.Edges))
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&out, "out", "o", "", "write DOT here instead of stdout")
	f.StringVar(&title, "title", "patch catalog", "graph title")
	f.StringVar(&mode, "mode", "thumb2", "code type: arm, thumb, thumb2 or arm64")
	f.StringVar(&imagePath, "image", "", "reference image; adds call edges out of patches")
	f.StringVar(&targetPath, "target-path", "", "catalog file the image belongs to (default: every file)")
	f.StringToStringVar(&syms, "sym", nil, "name an address, e.g. --sym 0x401040=GetBootMode")
	return cmd
}
