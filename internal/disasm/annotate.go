package disasm

import "fmt"

// Annotator returns an optional inline comment for an instruction.
// Empty string means no annotation. Receives the full Inst for access
// to both raw encoding and address.
type Annotator func(inst Inst) string

// BranchAnnotator annotates direct branches and calls with their absolute
// target, resolved through lookup when it knows the address.
func BranchAnnotator(mode Mode, lookup SymbolLookup) Annotator {
	return func(inst Inst) string {
		bi := Branch(inst, mode)
		if bi == nil {
			return ""
		}
		if bi.IsRet {
			return "return"
		}
		kind := "->"
		if bi.Link {
			kind = "call"
		}
		if lookup != nil {
			if name, ok := lookup(bi.Target); ok {
				return fmt.Sprintf("%s <%s>", kind, name)
			}
		}
		return fmt.Sprintf("%s 0x%08x", kind, bi.Target)
	}
}

// OriginalAnnotator compares each instruction with the bytes it replaced
// and annotates the ones that differ with the original disassembly.
// original must be laid out at the same base address as the patched code.
func OriginalAnnotator(original []byte, opts Options) Annotator {
	was := make(map[uint64]Inst)
	for _, in := range Disassemble(original, opts) {
		was[in.Addr] = in
	}
	return func(inst Inst) string {
		old, ok := was[inst.Addr]
		if !ok {
			return ""
		}
		if old.Size == inst.Size && old.Raw == inst.Raw {
			return ""
		}
		return "was: " + old.Text
	}
}
