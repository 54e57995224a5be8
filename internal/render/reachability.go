package render

import (
	"fmt"
	"sort"
	"strings"

	"aotlift/internal/callgraph"
)

// FindEntryPoints returns lifted functions that no other lifted function
// calls. Unnamed functions (sub_*) are excluded.
func FindEntryPoints(funcs []callgraph.FuncInfo) []string {
	called := make(map[string]bool)
	for _, f := range funcs {
		for _, e := range f.CallEdges {
			if e.Callee != "" && e.Callee != f.Name {
				called[e.Callee] = true
			}
		}
	}

	var entries []string
	for _, f := range funcs {
		if strings.HasPrefix(f.Name, "sub_") {
			continue
		}
		if !called[f.Name] {
			entries = append(entries, f.Name)
		}
	}
	sort.Strings(entries)
	return entries
}

// ReachableSet performs BFS from entry points over call edges and returns
// every reachable callee name, lifted or not.
func ReachableSet(entryPoints []string, funcs []callgraph.FuncInfo) map[string]bool {
	adj := make(map[string][]string)
	for _, f := range funcs {
		for _, e := range f.CallEdges {
			if e.Callee != "" {
				adj[f.Name] = append(adj[f.Name], e.Callee)
			}
		}
	}

	reachable := make(map[string]bool)
	queue := make([]string, 0, len(entryPoints))
	for _, ep := range entryPoints {
		if !reachable[ep] {
			reachable[ep] = true
			queue = append(queue, ep)
		}
	}

	for len(queue) > 0 {
		fn := queue[0]
		queue = queue[1:]
		for _, target := range adj[fn] {
			if !reachable[target] {
				reachable[target] = true
				queue = append(queue, target)
			}
		}
	}
	return reachable
}

// ReachabilityDOT renders the call graph restricted to the reachable set,
// clustering methods by declaring type. Entry points get a heavy border
// and edges are colored by call kind.
func ReachabilityDOT(funcs []callgraph.FuncInfo, reachable map[string]bool, entryPoints []string, title string, t Theme) string {
	entrySet := make(map[string]bool, len(entryPoints))
	for _, ep := range entryPoints {
		entrySet[ep] = true
	}

	type edgeKey struct{ from, to, kind string }
	edgeCount := make(map[edgeKey]int)
	for _, f := range funcs {
		if !reachable[f.Name] {
			continue
		}
		for _, e := range f.CallEdges {
			if e.Callee == "" || !reachable[e.Callee] {
				continue
			}
			edgeCount[edgeKey{f.Name, e.Callee, e.Kind}]++
		}
	}

	refNodes := make(map[string]bool)
	for k := range edgeCount {
		refNodes[k.from] = true
		refNodes[k.to] = true
	}
	for _, ep := range entryPoints {
		refNodes[ep] = true
	}

	ownerFuncs := make(map[string][]string)
	var noOwner []string
	for name := range refNodes {
		if owner := OwnerOf(name); owner != "" {
			ownerFuncs[owner] = append(ownerFuncs[owner], name)
		} else {
			noOwner = append(noOwner, name)
		}
	}

	var b strings.Builder
	writeHeader(&b, "reachable", title, t)

	writeNode := func(name string) {
		id := dotID(name)
		label := truncLabel(name, 50)
		switch {
		case entrySet[name]:
			fmt.Fprintf(&b, "    %s [label=%q, penwidth=1.5, color=%q];\n", id, label, t.EntryBorder)
		case strings.HasPrefix(name, "sub_"):
			fmt.Fprintf(&b, "    %s [label=%q, fillcolor=%q];\n", id, label, t.StubFill)
		default:
			fmt.Fprintf(&b, "    %s [label=%q];\n", id, label)
		}
	}

	owners := make([]string, 0, len(ownerFuncs))
	for owner := range ownerFuncs {
		owners = append(owners, owner)
	}
	sort.Strings(owners)
	for _, owner := range owners {
		names := ownerFuncs[owner]
		if len(names) < 2 {
			noOwner = append(noOwner, names...)
			continue
		}
		sort.Strings(names)
		fmt.Fprintf(&b, "  subgraph %s {\n", "cluster_"+dotID(owner))
		fmt.Fprintf(&b, "    label=<<font point-size=\"8\" color=\"%s\">%s</font>>;\n",
			t.ClusterLabel, dotEscape(owner))
		fmt.Fprintf(&b, "    style=dotted; color=%q; penwidth=0.3;\n", t.ClusterBorder)
		for _, name := range names {
			writeNode(name)
		}
		b.WriteString("  }\n")
	}
	sort.Strings(noOwner)
	for _, name := range noOwner {
		b.WriteString("  ")
		writeNode(name)
	}
	b.WriteByte('\n')

	keys := make([]edgeKey, 0, len(edgeCount))
	for k := range edgeCount {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].from != keys[j].from {
			return keys[i].from < keys[j].from
		}
		if keys[i].to != keys[j].to {
			return keys[i].to < keys[j].to
		}
		return keys[i].kind < keys[j].kind
	})
	for _, k := range keys {
		attrs := fmt.Sprintf("color=%q, style=%s", t.EdgeColor(k.kind), edgeStyle(k.kind))
		if n := edgeCount[k]; n > 1 {
			attrs += fmt.Sprintf(", penwidth=%.1f", 0.5+float64(n)*0.1)
		}
		fmt.Fprintf(&b, "  %s -> %s [%s];\n", dotID(k.from), dotID(k.to), attrs)
	}

	b.WriteString("}\n")
	return b.String()
}
