package callgraph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/zboralski/lattice"

	"aotlift/internal/disasm"
	"aotlift/internal/isa"
)

// BuildCFG constructs a lattice.CFGGraph from lifted functions.
// Each FuncInfo is converted to a lattice.FuncCFG via disasm.BuildCFG
// then mapped to lattice types.
func BuildCFG(arch isa.Arch, funcs []FuncInfo) *lattice.CFGGraph {
	cg := &lattice.CFGGraph{}
	for _, f := range funcs {
		lcfg, _ := BuildFuncCFG(arch, f)
		cg.Funcs = append(cg.Funcs, lcfg)
	}
	return cg
}

// BuildFuncCFG builds a single-function lattice.FuncCFG with call sites and
// string references placed in their blocks. Returns the FuncCFG and the
// number of basic blocks (for filtering trivial functions).
func BuildFuncCFG(arch isa.Arch, f FuncInfo) (*lattice.FuncCFG, int) {
	dcfg := disasm.BuildCFG(arch, f.Name, f.Insts)
	lcfg := convertFuncCFG(&dcfg, f.CallEdges)
	injectStringRefs(lcfg, &dcfg, f.Strings)
	return lcfg, len(dcfg.Blocks)
}

// BuildSummaryCFG collapses a function into one block listing its
// distinct named callees and string references in program order.
func BuildSummaryCFG(f FuncInfo) *lattice.FuncCFG {
	type site struct {
		pc    uint64
		label string
	}
	var sites []site
	for _, e := range f.CallEdges {
		if isInterestingCallee(e.Callee) {
			sites = append(sites, site{e.FromPC, e.Callee})
		}
	}
	for pc, s := range f.Strings {
		sites = append(sites, site{pc, quoteShort(s)})
	}
	sort.SliceStable(sites, func(i, j int) bool { return sites[i].pc < sites[j].pc })

	seen := make(map[string]bool)
	var calls []lattice.CallSite
	for _, s := range sites {
		if seen[s.label] {
			continue
		}
		seen[s.label] = true
		calls = append(calls, lattice.CallSite{Offset: len(calls), Callee: s.label})
	}

	lcfg := &lattice.FuncCFG{Name: f.Name}
	if len(calls) > 0 {
		lcfg.Blocks = append(lcfg.Blocks, &lattice.BasicBlock{
			ID:    0,
			Start: 0,
			End:   1,
			Term:  true,
			Calls: calls,
		})
	}
	return lcfg
}

func quoteShort(s string) string {
	if len(s) > 50 {
		s = s[:47] + "..."
	}
	return fmt.Sprintf("%q", s)
}

// injectStringRefs adds string reference CallSite entries into the appropriate blocks.
func injectStringRefs(lcfg *lattice.FuncCFG, dcfg *disasm.FuncCFG, strRefs map[uint64]string) {
	if len(strRefs) == 0 {
		return
	}
	for bi, db := range dcfg.Blocks {
		added := false
		for idx := db.Start; idx < db.End && idx < len(dcfg.Insts); idx++ {
			if val, ok := strRefs[dcfg.Insts[idx].Addr]; ok {
				lcfg.Blocks[bi].Calls = append(lcfg.Blocks[bi].Calls, lattice.CallSite{
					Offset: idx,
					Callee: quoteShort(val),
				})
				added = true
			}
		}
		if added {
			sort.SliceStable(lcfg.Blocks[bi].Calls, func(i, j int) bool {
				return lcfg.Blocks[bi].Calls[i].Offset < lcfg.Blocks[bi].Calls[j].Offset
			})
		}
	}
}

// isInterestingCallee reports whether the callee names a real method
// rather than an unresolved address or a runtime helper.
func isInterestingCallee(name string) bool {
	switch {
	case name == "":
		return false
	case strings.HasPrefix(name, "sub_"):
		return false
	case strings.HasPrefix(name, "0x"):
		return false
	}
	return strings.Contains(name, "::")
}

// convertFuncCFG maps a disasm.FuncCFG to a lattice.FuncCFG.
// Call edges are mapped into blocks by matching instruction PCs.
func convertFuncCFG(dcfg *disasm.FuncCFG, edges []CallEdge) *lattice.FuncCFG {
	edgeByPC := make(map[uint64][]CallEdge, len(edges))
	for _, e := range edges {
		edgeByPC[e.FromPC] = append(edgeByPC[e.FromPC], e)
	}

	lcfg := &lattice.FuncCFG{Name: dcfg.Name}
	for _, db := range dcfg.Blocks {
		lb := &lattice.BasicBlock{
			ID:    db.ID,
			Start: db.Start,
			End:   db.End,
			Term:  db.IsTerm,
		}

		for _, ds := range db.Succs {
			lb.Succs = append(lb.Succs, lattice.Successor{
				BlockID: ds.BlockID,
				Cond:    ds.Cond,
			})
		}

		for idx := db.Start; idx < db.End && idx < len(dcfg.Insts); idx++ {
			for _, e := range edgeByPC[dcfg.Insts[idx].Addr] {
				lb.Calls = append(lb.Calls, lattice.CallSite{
					Offset: idx,
					Callee: e.Callee,
				})
			}
		}

		lcfg.Blocks = append(lcfg.Blocks, lb)
	}
	return lcfg
}
