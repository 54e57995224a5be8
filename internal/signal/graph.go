package signal

import (
	"fmt"
	"sort"

	"aotlift/internal/callgraph"
	"aotlift/internal/render"
)

// ClassifiedStringRef is a string reference with its signal categories.
type ClassifiedStringRef struct {
	PC         string   `json:"pc"`
	Value      string   `json:"value"`
	Categories []string `json:"categories,omitempty"`
}

// ClassifiedCall is a call into a sensitive API.
type ClassifiedCall struct {
	PC         string   `json:"pc"`
	Callee     string   `json:"callee"`
	Categories []string `json:"categories"`
}

// SignalFunc is a function in the signal graph.
type SignalFunc struct {
	Name         string                `json:"name"`
	Owner        string                `json:"owner,omitempty"`
	PC           string                `json:"pc"`
	StringRefs   []ClassifiedStringRef `json:"string_refs,omitempty"`
	Calls        []ClassifiedCall      `json:"calls,omitempty"`
	Categories   []string              `json:"categories"`
	Severity     string                `json:"severity,omitempty"` // "high", "medium", "low"
	Role         string                `json:"role"`               // "signal", "context", ""
	IsEntryPoint bool                  `json:"is_entry_point,omitempty"`
}

// SignalEdge is an edge in the signal graph.
type SignalEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
	Kind string `json:"kind,omitempty"`
}

// SignalGraph is the complete signal graph.
type SignalGraph struct {
	Funcs []SignalFunc `json:"funcs"`
	Edges []SignalEdge `json:"edges"`
	Stats SignalStats  `json:"stats"`
}

// SignalStats holds summary statistics.
type SignalStats struct {
	TotalFuncs     int            `json:"total_funcs"`
	SignalFuncs    int            `json:"signal_funcs"`
	ContextFuncs   int            `json:"context_funcs"`
	TotalEdges     int            `json:"total_edges"`
	StringRefCount int            `json:"string_ref_count"`
	Categories     map[string]int `json:"categories"`
}

// BuildSignalGraph classifies the string literals and callees of lifted
// functions. Functions with at least one category are signal functions;
// those within k call hops of one (either direction) are context.
// entryPoints may be nil.
func BuildSignalGraph(funcs []callgraph.FuncInfo, k int, entryPoints map[string]bool) *SignalGraph {
	type funcSignal struct {
		refs       []ClassifiedStringRef
		calls      []ClassifiedCall
		categories map[string]bool
	}
	funcSignals := make(map[string]*funcSignal)
	get := func(name string) *funcSignal {
		fs, ok := funcSignals[name]
		if !ok {
			fs = &funcSignal{categories: make(map[string]bool)}
			funcSignals[name] = fs
		}
		return fs
	}

	catCounts := make(map[string]int)
	mark := func(fs *funcSignal, cats []string) {
		for _, c := range cats {
			if !fs.categories[c] {
				fs.categories[c] = true
				catCounts[c]++
			}
		}
	}

	stringRefs := 0
	for _, f := range funcs {
		pcs := make([]uint64, 0, len(f.Strings))
		for pc := range f.Strings {
			pcs = append(pcs, pc)
		}
		sort.Slice(pcs, func(i, j int) bool { return pcs[i] < pcs[j] })
		stringRefs += len(pcs)
		for _, pc := range pcs {
			cats := ClassifyString(f.Strings[pc])
			if len(cats) == 0 {
				continue
			}
			fs := get(f.Name)
			fs.refs = append(fs.refs, ClassifiedStringRef{
				PC:         fmt.Sprintf("0x%x", pc),
				Value:      f.Strings[pc],
				Categories: cats,
			})
			mark(fs, cats)
		}
		for _, e := range f.CallEdges {
			cats := ClassifyCallee(e.Callee, e.Kind)
			if len(cats) == 0 {
				continue
			}
			fs := get(f.Name)
			fs.calls = append(fs.calls, ClassifiedCall{
				PC:         fmt.Sprintf("0x%x", e.FromPC),
				Callee:     e.Callee,
				Categories: cats,
			})
			mark(fs, cats)
		}
	}

	signalSet := make(map[string]bool, len(funcSignals))
	for name := range funcSignals {
		signalSet[name] = true
	}

	// Bidirectional adjacency for context expansion.
	fwd := make(map[string][]string)
	rev := make(map[string][]string)
	for _, f := range funcs {
		for _, e := range f.CallEdges {
			if e.Callee == "" {
				continue
			}
			fwd[f.Name] = append(fwd[f.Name], e.Callee)
			rev[e.Callee] = append(rev[e.Callee], f.Name)
		}
	}

	contextSet := make(map[string]bool)
	visited := make(map[string]bool)
	type queueItem struct {
		name  string
		depth int
	}
	var queue []queueItem
	seeds := make([]string, 0, len(signalSet))
	for name := range signalSet {
		seeds = append(seeds, name)
	}
	sort.Strings(seeds)
	for _, name := range seeds {
		visited[name] = true
		queue = append(queue, queueItem{name, 0})
	}
	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]
		if item.depth >= k {
			continue
		}
		for _, next := range fwd[item.name] {
			if !visited[next] {
				visited[next] = true
				contextSet[next] = true
				queue = append(queue, queueItem{next, item.depth + 1})
			}
		}
		for _, prev := range rev[item.name] {
			if !visited[prev] {
				visited[prev] = true
				contextSet[prev] = true
				queue = append(queue, queueItem{prev, item.depth + 1})
			}
		}
	}

	allFuncs := make([]SignalFunc, 0, len(funcs))
	for _, f := range funcs {
		sf := SignalFunc{
			Name:         f.Name,
			Owner:        render.OwnerOf(f.Name),
			PC:           fmt.Sprintf("0x%x", f.Addr),
			IsEntryPoint: entryPoints[f.Name],
		}
		if signalSet[f.Name] {
			sf.Role = "signal"
		} else if contextSet[f.Name] {
			sf.Role = "context"
		}
		if fs, ok := funcSignals[f.Name]; ok {
			sf.StringRefs = fs.refs
			sf.Calls = fs.calls
			for c := range fs.categories {
				sf.Categories = append(sf.Categories, c)
			}
			sort.Strings(sf.Categories)
			sf.Severity = MaxSeverity(sf.Categories)
		}
		allFuncs = append(allFuncs, sf)
	}

	// Sort: signal, context, other. Within signal: entry points first, then
	// severity, then category count.
	roleOrd := map[string]int{"signal": 0, "context": 1, "": 2}
	sevOrd := map[string]int{"high": 0, "medium": 1, "low": 2, "": 3}
	sort.SliceStable(allFuncs, func(i, j int) bool {
		si, sj := &allFuncs[i], &allFuncs[j]
		if si.Role != sj.Role {
			return roleOrd[si.Role] < roleOrd[sj.Role]
		}
		if si.Role == "signal" && si.IsEntryPoint != sj.IsEntryPoint {
			return si.IsEntryPoint
		}
		if si.Severity != sj.Severity {
			return sevOrd[si.Severity] < sevOrd[sj.Severity]
		}
		if len(si.Categories) != len(sj.Categories) {
			return len(si.Categories) > len(sj.Categories)
		}
		return si.Name < sj.Name
	})

	var allEdges []SignalEdge
	seen := make(map[string]bool)
	for _, f := range funcs {
		for _, e := range f.CallEdges {
			if e.Callee == "" {
				continue
			}
			key := f.Name + "|" + e.Callee + "|" + e.Kind
			if seen[key] {
				continue
			}
			seen[key] = true
			allEdges = append(allEdges, SignalEdge{From: f.Name, To: e.Callee, Kind: e.Kind})
		}
	}

	return &SignalGraph{
		Funcs: allFuncs,
		Edges: allEdges,
		Stats: SignalStats{
			TotalFuncs:     len(funcs),
			SignalFuncs:    len(signalSet),
			ContextFuncs:   len(contextSet),
			TotalEdges:     len(allEdges),
			StringRefCount: stringRefs,
			Categories:     catCounts,
		},
	}
}
