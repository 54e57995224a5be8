// Package callgraph turns lifted functions into lattice call graphs and
// per-function control flow graphs.
package callgraph

import (
	"github.com/samber/lo"
	"github.com/zboralski/lattice"

	"aotlift/internal/actions"
	"aotlift/internal/analysis"
	"aotlift/internal/isa"
	"aotlift/internal/lifter"
)

// Call edge kinds.
const (
	KindDirect  = "direct"
	KindVirtual = "virtual"
	KindTail    = "tail"
	KindICall   = "icall"
	KindRuntime = "runtime" // allocation and string helpers
)

// CallEdge is one call site taken from a lifted call action.
type CallEdge struct {
	FromPC uint64 `json:"from_pc"`
	Callee string `json:"callee"`
	Kind   string `json:"kind,omitempty"`
}

func edgeKind(a analysis.Action) string {
	switch a.(type) {
	case *actions.CallManaged:
		return KindDirect
	case *actions.CallVirtual:
		return KindVirtual
	case *actions.TailCall:
		return KindTail
	case *actions.CallICall:
		return KindICall
	}
	return KindRuntime
}

// FuncInfo holds the data needed to build call graph and CFG for one function.
type FuncInfo struct {
	Name      string
	Addr      uint64
	Insts     []isa.Instruction
	CallEdges []CallEdge
	// Strings maps instruction address to the literal it references.
	Strings map[uint64]string
}

// FromResult collects call sites and string references from the action
// list of a lifted function.
func FromResult(r *lifter.Result) FuncInfo {
	fi := FuncInfo{Name: r.Name, Addr: r.Addr, Insts: r.Instructions}
	for _, a := range r.Actions {
		pc := a.Instruction().Addr
		switch v := a.(type) {
		case analysis.Calling:
			fi.CallEdges = append(fi.CallEdges, CallEdge{FromPC: pc, Callee: v.Callee(), Kind: edgeKind(a)})
		case *actions.GlobalStringLiteral:
			fi.addString(pc, v.Value)
		case *actions.UnmanagedLiteral:
			fi.addString(pc, v.Value)
		}
	}
	return fi
}

func (fi *FuncInfo) addString(pc uint64, s string) {
	if fi.Strings == nil {
		fi.Strings = make(map[uint64]string)
	}
	fi.Strings[pc] = s
}

// FromResults converts every non-nil result.
func FromResults(results []*lifter.Result) []FuncInfo {
	return lo.FilterMap(results, func(r *lifter.Result, _ int) (FuncInfo, bool) {
		if r == nil {
			return FuncInfo{}, false
		}
		return FromResult(r), true
	})
}

// BuildCallGraph constructs a lattice.Graph from lifted functions.
// Each function becomes a node. Each call edge becomes an edge.
func BuildCallGraph(funcs []FuncInfo) *lattice.Graph {
	g := &lattice.Graph{}
	for _, f := range funcs {
		g.Nodes = append(g.Nodes, f.Name)
		for _, e := range f.CallEdges {
			if e.Callee == "" {
				continue
			}
			g.Edges = append(g.Edges, lattice.Edge{
				Caller: f.Name,
				Callee: e.Callee,
			})
		}
	}
	g.Dedup()
	return g
}
