package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"armpatch/internal/asm"
	"armpatch/internal/config"
	"armpatch/internal/disasm"
	"armpatch/internal/output"
)

func newCompileCmd(cfg *config.Config) *cobra.Command {
	var (
		origin string
		mode   string
		out    string
		hexOut string
		list   bool
	)
	cmd := &cobra.Command{
		Use:   "compile [flags] <fragment.asm | ->",
		Short: "Assemble a fragment for a virtual address and print its bytes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			va, err := parseAddr(origin)
			if err != nil {
				return err
			}
			m, err := asm.ParseMode(mode)
			if err != nil {
				return err
			}
			src, err := readSource(args[0])
			if err != nil {
				return err
			}
			c, err := newCompiler(cfg)
			if err != nil {
				return err
			}
			code, err := c.Compile(context.Background(), va, m, src)
			if err != nil {
				return err
			}

			if out != "" {
				if err := output.WriteFile(out, code, 0o644); err != nil {
					return err
				}
			}
			if hexOut != "" {
				f, err := os.Create(hexOut)
				if err != nil {
					return err
				}
				defer f.Close()
				if err := output.WriteIntelHex(f, []output.Segment{{Address: va, Data: code}}); err != nil {
					return err
				}
			}

			w := cmd.OutOrStdout()
			if list {
				dm, _ := disasmMode(mode)
				insts := disasm.Disassemble(code, disasm.Options{BaseAddr: uint64(va), Mode: dm})
				fmt.Fprint(w, disasm.Format(insts, nil, disasm.BranchAnnotator(dm, nil)))
				return nil
			}
			fmt.Fprintf(w, "%X\n", code)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&origin, "origin", "", "virtual address the code will run at (required)")
	f.StringVar(&mode, "mode", "thumb2", "code type: arm, thumb or thumb2")
	f.StringVarP(&out, "out", "o", "", "write the raw code bytes to this file")
	f.StringVar(&hexOut, "hex", "", "write the code as Intel HEX at its origin")
	f.BoolVar(&list, "list", false, "print a disassembly listing instead of hex")
	cmd.MarkFlagRequired("origin")
	return cmd
}
