package main

import (
	"fmt"
	"os"

	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	"github.com/spf13/cobra"

	"armpatch/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := config.FromEnv()

	root := &cobra.Command{
		Use:   "armpatch",
		Short: "Assemble ARM code fragments and patch them into PE images",
		Long: `armpatch assembles ARM, Thumb and Thumb-2 fragments with armasm, records
them in a patch catalog and applies catalog definitions to firmware images,
keeping the PE checksum valid.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			log.SetHandler(cli.New(os.Stderr))
			if cfg.Verbose {
				log.SetLevel(log.DebugLevel)
			} else {
				log.SetLevel(log.InfoLevel)
			}
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&cfg.Toolchain, "toolchain", cfg.Toolchain, "armasm executable or Visual Studio root (env ARMPATCH_TOOLCHAIN)")
	f.StringVar(&cfg.Catalog, "catalog", cfg.Catalog, "patch catalog: .xml, .yaml or .json (env ARMPATCH_CATALOG)")
	f.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "assembler time limit, 0 for none (env ARMPATCH_TIMEOUT, seconds)")
	f.BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "debug logging (env ARMPATCH_VERBOSE)")

	root.AddCommand(
		newCompileCmd(&cfg),
		newAddCmd(&cfg),
		newApplyCmd(&cfg),
		newInspectCmd(),
		newObjdumpCmd(&cfg),
		newGraphCmd(&cfg),
		newExportCmd(&cfg),
		newChecksumCmd(),
	)
	return root
}
