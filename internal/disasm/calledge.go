package disasm

// CallEdge is a direct control transfer out of a code region: a call, or a
// branch whose target lies outside the region.
type CallEdge struct {
	FromPC     uint64 `json:"from_pc"`
	Kind       string `json:"kind"` // "call" or "jump"
	TargetPC   uint64 `json:"target_pc"`
	TargetName string `json:"target_name,omitempty"`
}

// ExtractCallEdges collects the calls in insts and the branches that leave
// [start, end). Branches inside the region are local control flow and are
// skipped. lookup may be nil.
func ExtractCallEdges(insts []Inst, mode Mode, start, end uint64, lookup SymbolLookup) []CallEdge {
	var edges []CallEdge
	for _, inst := range insts {
		bi := Branch(inst, mode)
		if bi == nil || bi.IsRet {
			continue
		}
		kind := "call"
		if !bi.Link {
			if bi.Target >= start && bi.Target < end {
				continue
			}
			kind = "jump"
		}
		e := CallEdge{FromPC: inst.Addr, Kind: kind, TargetPC: bi.Target}
		if lookup != nil {
			if name, ok := lookup(bi.Target); ok {
				e.TargetName = name
			}
		}
		edges = append(edges, e)
	}
	return edges
}
