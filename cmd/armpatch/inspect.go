package main

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"armpatch/internal/coff"
	"armpatch/internal/output"
	"armpatch/internal/patch"
	"armpatch/internal/pe"
)

type sectionInfo struct {
	Name            string `json:"name"`
	VirtualAddress  uint32 `json:"virtual_address"`
	VirtualSize     uint32 `json:"virtual_size"`
	RawOffset       uint32 `json:"raw_offset"`
	RawSize         uint32 `json:"raw_size"`
	Characteristics uint32 `json:"characteristics"`
	Relocations     int    `json:"relocations,omitempty"`
}

type imageInfo struct {
	Kind             string        `json:"kind"` // "pe" or "coff"
	Machine          string        `json:"machine"`
	ImageBase        uint64        `json:"image_base,omitempty"`
	CheckSum         uint32        `json:"checksum,omitempty"`
	ComputedCheckSum uint32        `json:"computed_checksum,omitempty"`
	Sections         []sectionInfo `json:"sections"`
	Symbols          []string      `json:"symbols,omitempty"`
}

func newInspectCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "inspect [--json] <image | object>",
		Short: "Show the headers and sections of a PE image or COFF object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var info *imageInfo
			if bytes.HasPrefix(data, []byte("MZ")) {
				info, err = inspectImage(data)
			} else {
				info, err = inspectObject(data)
			}
			if err != nil {
				return err
			}
			if asJSON {
				return output.EncodeJSON(cmd.OutOrStdout(), info)
			}
			printInfo(cmd.OutOrStdout(), info)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func inspectImage(data []byte) (*imageInfo, error) {
	img, err := pe.Parse(data)
	if err != nil {
		return nil, err
	}

	info := &imageInfo{
		Kind:      "pe",
		Machine:   coff.Machine(img.FileHeader.Machine).String(),
		ImageBase: img.ImageBase(),
		CheckSum:  img.CheckSum(),
	}
	if info.ComputedCheckSum, err = patch.ComputeChecksum(data); err != nil {
		return nil, err
	}
	for i, s := range img.Sections {
		info.Sections = append(info.Sections, sectionInfo{
			Name:            img.SectionName(i),
			VirtualAddress:  s.VirtualAddress,
			VirtualSize:     s.VirtualSize,
			RawOffset:       s.PointerToRawData,
			RawSize:         s.SizeOfRawData,
			Characteristics: s.Characteristics,
		})
	}
	return info, nil
}

func inspectObject(data []byte) (*imageInfo, error) {
	obj, err := coff.Decode(data)
	if err != nil {
		return nil, err
	}
	info := &imageInfo{Kind: "coff", Machine: obj.Header.Machine.String()}
	for _, s := range obj.Sections {
		info.Sections = append(info.Sections, sectionInfo{
			Name:            s.Name,
			VirtualAddress:  s.VirtualAddress,
			VirtualSize:     s.VirtualSize,
			RawOffset:       s.PointerToRawData,
			RawSize:         s.SizeOfRawData,
			Characteristics: s.Characteristics,
			Relocations:     len(s.Relocations),
		})
	}
	for _, sym := range obj.Symbols {
		info.Symbols = append(info.Symbols, fmt.Sprintf("%-24s value=0x%08X section=%d class=%d", sym.Name, sym.Value, sym.SectionNumber, sym.StorageClass))
	}
	return info, nil
}

func printInfo(w io.Writer, info *imageInfo) {
	fmt.Fprintf(w, "%s  machine=%s\n", info.Kind, info.Machine)
	if info.Kind == "pe" {
		state := "ok"
		if info.CheckSum != info.ComputedCheckSum {
			state = "mismatch"
		}
		fmt.Fprintf(w, "image base 0x%X\n", info.ImageBase)
		fmt.Fprintf(w, "checksum   0x%08X (computed 0x%08X, %s)\n", info.CheckSum, info.ComputedCheckSum, state)
	}
	fmt.Fprintf(w, "\n%-8s %10s %10s %10s %10s %10s\n", "section", "vaddr", "vsize", "raw", "rawsize", "flags")
	for _, s := range info.Sections {
		fmt.Fprintf(w, "%-8s 0x%08X 0x%08X 0x%08X 0x%08X 0x%08X", s.Name, s.VirtualAddress, s.VirtualSize, s.RawOffset, s.RawSize, s.Characteristics)
		if s.Relocations > 0 {
			fmt.Fprintf(w, "  %d relocs", s.Relocations)
		}
		fmt.Fprintln(w)
	}
	if len(info.Symbols) > 0 {
		fmt.Fprintln(w, "\nsymbols")
		for _, s := range info.Symbols {
			fmt.Fprintf(w, "  %s\n", s)
		}
	}
}
