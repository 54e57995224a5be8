package signal

import (
	"testing"

	"aotlift/internal/callgraph"
)

func TestBuildSignalGraph(t *testing.T) {
	funcs := []callgraph.FuncInfo{
		{Name: "Game.App::Main", Addr: 0x1000, CallEdges: []callgraph.CallEdge{
			{FromPC: 0x1004, Callee: "Game.Net::Fetch", Kind: callgraph.KindDirect},
		}},
		{Name: "Game.Net::Fetch", Addr: 0x2000,
			CallEdges: []callgraph.CallEdge{
				{FromPC: 0x2008, Callee: "System.Net.WebClient::DownloadString", Kind: callgraph.KindVirtual},
				{FromPC: 0x200c, Callee: "System.Net.WebClient::DownloadString", Kind: callgraph.KindVirtual},
			},
			Strings: map[uint64]string{
				0x2004: "https://example.com/api",
				0x2010: "Index out of range",
			},
		},
		{Name: "Game.Util::Clamp", Addr: 0x3000},
	}

	g := BuildSignalGraph(funcs, 1, map[string]bool{"Game.App::Main": true})

	if g.Stats.SignalFuncs != 1 || g.Stats.ContextFuncs != 2 {
		t.Errorf("stats = %+v", g.Stats)
	}
	if g.Stats.StringRefCount != 2 {
		t.Errorf("string refs = %d", g.Stats.StringRefCount)
	}
	if g.Stats.TotalEdges != 2 {
		t.Errorf("edges = %+v", g.Edges)
	}

	first := g.Funcs[0]
	if first.Name != "Game.Net::Fetch" || first.Role != "signal" {
		t.Fatalf("first = %+v", first)
	}
	if first.Owner != "Game.Net" || first.PC != "0x2000" {
		t.Errorf("identity = %s %s", first.Owner, first.PC)
	}
	if len(first.StringRefs) != 1 || first.StringRefs[0].PC != "0x2004" {
		t.Errorf("string refs = %+v", first.StringRefs)
	}
	if len(first.Calls) != 2 {
		t.Errorf("calls = %+v", first.Calls)
	}
	if len(first.Categories) != 2 || first.Categories[0] != CatNet || first.Categories[1] != CatURL {
		t.Errorf("categories = %v", first.Categories)
	}
	if first.Severity != SeverityMedium {
		t.Errorf("severity = %s", first.Severity)
	}

	if g.Funcs[1].Name != "Game.App::Main" || g.Funcs[1].Role != "context" {
		t.Errorf("second = %+v", g.Funcs[1])
	}
	if last := g.Funcs[2]; last.Name != "Game.Util::Clamp" || last.Role != "" {
		t.Errorf("last = %+v", last)
	}
}
