package render

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"aotlift/internal/callgraph"
)

const unowned = "(unowned)"

func ownerOrUnowned(name string) string {
	if o := OwnerOf(name); o != "" {
		return o
	}
	return unowned
}

// ClassgraphDOT renders a type-level call graph where each declaring type is
// one node and edges aggregate calls between types. maxNodes limits the
// rendered types (0 = all). Calls within one type are dropped.
func ClassgraphDOT(funcs []callgraph.FuncInfo, title string, t Theme, maxNodes int) string {
	ownerMethodCount := make(map[string]int)
	for _, f := range funcs {
		ownerMethodCount[ownerOrUnowned(f.Name)]++
	}

	type classEdge struct{ from, to string }
	classCounts := make(map[classEdge]int)
	for _, f := range funcs {
		src := ownerOrUnowned(f.Name)
		for _, e := range f.CallEdges {
			if e.Callee == "" || e.Kind == callgraph.KindRuntime {
				continue
			}
			dst := ownerOrUnowned(e.Callee)
			if src == dst {
				continue
			}
			classCounts[classEdge{src, dst}]++
		}
	}

	classInvolvement := make(map[string]int)
	for ce, count := range classCounts {
		classInvolvement[ce.from] += count
		classInvolvement[ce.to] += count
	}

	type rankedClass struct {
		name        string
		involvement int
	}
	ranked := make([]rankedClass, 0, len(classInvolvement))
	for name, inv := range classInvolvement {
		ranked = append(ranked, rankedClass{name, inv})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].involvement != ranked[j].involvement {
			return ranked[i].involvement > ranked[j].involvement
		}
		return ranked[i].name < ranked[j].name
	})

	limit := len(ranked)
	if maxNodes > 0 && limit > maxNodes {
		limit = maxNodes
	}
	renderSet := make(map[string]bool, limit)
	for _, rc := range ranked[:limit] {
		renderSet[rc.name] = true
	}

	var b strings.Builder
	writeHeader(&b, "classgraph", title, t)

	maxMethods := 1
	for name := range renderSet {
		if c := ownerMethodCount[name]; c > maxMethods {
			maxMethods = c
		}
	}
	for _, rc := range ranked[:limit] {
		name := rc.name
		methods := ownerMethodCount[name]
		// Node height grows with the method count on a log scale.
		height := 0.4 + 0.3*math.Log2(float64(methods)+1)/math.Log2(float64(maxMethods)+1)
		htmlLabel := fmt.Sprintf("<<font point-size=\"10\">%s</font><br/><font point-size=\"7\" color=\"%s\">%d lifted</font>>",
			dotEscape(name), t.ExternalText, methods)
		if name == unowned {
			fmt.Fprintf(&b, "  %s [label=%s, fillcolor=%q, height=%.2f];\n", dotID(name), htmlLabel, t.StubFill, height)
		} else {
			fmt.Fprintf(&b, "  %s [label=%s, height=%.2f];\n", dotID(name), htmlLabel, height)
		}
	}
	b.WriteByte('\n')

	edges := make([]classEdge, 0, len(classCounts))
	maxEdgeCount := 1
	for ce, c := range classCounts {
		if !renderSet[ce.from] || !renderSet[ce.to] {
			continue
		}
		edges = append(edges, ce)
		if c > maxEdgeCount {
			maxEdgeCount = c
		}
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].from != edges[j].from {
			return edges[i].from < edges[j].from
		}
		return edges[i].to < edges[j].to
	})
	for _, ce := range edges {
		count := classCounts[ce]
		pw := 0.5 + 2.0*math.Log2(float64(count)+1)/math.Log2(float64(maxEdgeCount)+1)
		attrs := fmt.Sprintf("penwidth=%.1f", pw)
		if count > 1 {
			attrs += fmt.Sprintf(", label=<<font point-size=\"7\" color=\"%s\">%d</font>>", t.ExternalText, count)
		}
		fmt.Fprintf(&b, "  %s -> %s [%s];\n", dotID(ce.from), dotID(ce.to), attrs)
	}

	b.WriteString("}\n")
	return b.String()
}
