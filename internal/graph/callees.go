package graph

import (
	"github.com/apex/log"

	"armpatch/internal/catalog"
	"armpatch/internal/disasm"
	"armpatch/internal/pe"
)

// ImageCallees disassembles the patched bytes of the catalog file named
// path at their virtual addresses in img. An empty path matches every file.
// Patches of other files, and patches outside any section (such as the
// checksum field), report nothing.
func ImageCallees(path string, img *pe.File, mode disasm.Mode, lookup disasm.SymbolLookup) Callees {
	return func(f *catalog.TargetFile, p *catalog.Patch) []disasm.CallEdge {
		if path != "" && !catalog.SamePath(f.Path, path) {
			return nil
		}
		va, err := img.ConvertRawToVirtual(uint32(p.Address))
		if err != nil {
			log.WithField("patch", p.Address.String()).Debug("patch outside sections")
			return nil
		}
		start := uint64(va)
		insts := disasm.Disassemble(p.PatchedBytes, disasm.Options{BaseAddr: start, Mode: mode})
		return disasm.ExtractCallEdges(insts, mode, start, start+uint64(len(p.PatchedBytes)), lookup)
	}
}
