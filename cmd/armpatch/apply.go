package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"armpatch/internal/config"
	"armpatch/internal/output"
	"armpatch/internal/patch"
)

func newApplyCmd(cfg *config.Config) *cobra.Command {
	var (
		req    patch.ApplyRequest
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "apply [flags] <definition>",
		Short: "Apply a catalog definition to the files under a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Definition = args[0]
			res, err := newEngine(cfg).Apply(req)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if asJSON {
				return output.EncodeJSON(w, res)
			}
			fmt.Fprintf(w, "%s: version %q\n", res.Definition, res.Version)
			for _, f := range res.Files {
				fmt.Fprintf(w, "  %-16s %s\n", f.Status, f.Output)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&req.InputRoot, "in", "i", ".", "directory holding the target files")
	f.StringVarP(&req.OutputRoot, "out", "o", "", "directory for patched files (default: patch in place)")
	f.StringVar(&req.BackupRoot, "backup", "", "copy unpatched files here before writing")
	f.BoolVar(&asJSON, "json", false, "print the result as JSON")
	return cmd
}
