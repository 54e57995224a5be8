package render

import (
	"reflect"
	"strings"
	"testing"

	"aotlift/internal/callgraph"
)

func sampleFuncs() []callgraph.FuncInfo {
	return []callgraph.FuncInfo{
		{Name: "Game.App::Main", CallEdges: []callgraph.CallEdge{
			{FromPC: 0x10, Callee: "Game.Player::Tick", Kind: callgraph.KindDirect},
			{FromPC: 0x14, Callee: "Game.Player::Tick", Kind: callgraph.KindDirect},
			{FromPC: 0x18, Callee: "object_new", Kind: callgraph.KindRuntime},
		}},
		{Name: "Game.Player::Tick", CallEdges: []callgraph.CallEdge{
			{FromPC: 0x20, Callee: "Game.Player::Heal", Kind: callgraph.KindVirtual},
		}},
		{Name: "Game.Player::Heal"},
		{Name: "Game.Orphan::Run", CallEdges: []callgraph.CallEdge{
			{FromPC: 0x30, Callee: "Game.Orphan::Run", Kind: callgraph.KindTail},
		}},
		{Name: "sub_4000"},
	}
}

func TestFindEntryPoints(t *testing.T) {
	got := FindEntryPoints(sampleFuncs())
	want := []string{"Game.App::Main", "Game.Orphan::Run"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("entries = %v, want %v", got, want)
	}
}

func TestReachableSet(t *testing.T) {
	r := ReachableSet([]string{"Game.App::Main"}, sampleFuncs())
	for _, name := range []string{"Game.App::Main", "Game.Player::Tick", "Game.Player::Heal", "object_new"} {
		if !r[name] {
			t.Errorf("%s not reachable", name)
		}
	}
	if r["Game.Orphan::Run"] || r["sub_4000"] {
		t.Errorf("unexpected reachable set %v", r)
	}
}

func TestReachabilityDOT(t *testing.T) {
	funcs := sampleFuncs()
	entries := FindEntryPoints(funcs)
	dot := ReachabilityDOT(funcs, ReachableSet(entries, funcs), entries, "test", NASA)

	if !strings.HasPrefix(dot, "digraph reachable {") {
		t.Errorf("bad header: %.40s", dot)
	}
	if !strings.Contains(dot, "cluster_"+dotID("Game.Player")) {
		t.Error("methods of Game.Player should be clustered")
	}
	tick, heal := dotID("Game.Player::Tick"), dotID("Game.Player::Heal")
	if !strings.Contains(dot, tick+" -> "+heal+" [color=\""+NASA.EdgeVirtual+"\", style=dotted]") {
		t.Errorf("virtual edge missing:\n%s", dot)
	}
	if !strings.Contains(dot, "penwidth=0.7") {
		t.Error("repeated call should thicken the edge")
	}
	if dot != ReachabilityDOT(funcs, ReachableSet(entries, funcs), entries, "test", NASA) {
		t.Error("output not deterministic")
	}
}

func TestClassgraphDOT(t *testing.T) {
	dot := ClassgraphDOT(sampleFuncs(), "classes", NASA, 0)
	app, player := dotID("Game.App"), dotID("Game.Player")
	if !strings.Contains(dot, app+" -> "+player) {
		t.Errorf("missing inter-class edge:\n%s", dot)
	}
	if strings.Contains(dot, player+" -> "+player) {
		t.Error("intra-class calls must be dropped")
	}
	if strings.Contains(dot, dotID("object_new")) || strings.Contains(dot, dotID(unowned)) {
		t.Error("runtime helpers must not appear")
	}
	if !strings.Contains(dot, "2 lifted") {
		t.Errorf("Game.Player should count 2 lifted methods:\n%s", dot)
	}
}

func TestOwnerOf(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Game.Player::Heal", "Game.Player"},
		{"List<T>::Add<Int32>", "List<T>"},
		{"sub_1000", ""},
		{"::x", ""},
	}
	for _, tt := range tests {
		if got := OwnerOf(tt.in); got != tt.want {
			t.Errorf("OwnerOf(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
