package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"armpatch/internal/output"
	"armpatch/internal/patch"
)

func newChecksumCmd() *cobra.Command {
	var fix bool
	cmd := &cobra.Command{
		Use:   "checksum [--fix] <image>...",
		Short: "Verify or repair the PE checksum of images",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			bad := 0
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				off, err := patch.ChecksumOffset(data)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				old, sum, err := patch.FixChecksum(data)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				state := "ok"
				if old != sum {
					state = "mismatch"
					if fix {
						if err := output.WriteFile(path, data, 0o644); err != nil {
							return err
						}
						state = "fixed"
					} else {
						bad++
					}
				}
				fmt.Fprintf(w, "%s: field 0x%X stored 0x%08X computed 0x%08X %s\n", path, off, old, sum, state)
			}
			if bad > 0 {
				return fmt.Errorf("%d image(s) with a wrong checksum", bad)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&fix, "fix", false, "rewrite images whose checksum is wrong")
	return cmd
}
