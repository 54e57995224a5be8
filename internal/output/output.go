// Package output writes aotlift analysis results to files.
package output

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/samber/lo"
	"github.com/zboralski/lattice"
	"github.com/zboralski/lattice/render"

	"aotlift/internal/analysis"
	"aotlift/internal/batch"
	"aotlift/internal/disasm"
	"aotlift/internal/il"
	"aotlift/internal/isa"
	"aotlift/internal/lifter"
	"aotlift/internal/signal"
)

// ResultRecord is one line of results.jsonl.
type ResultRecord struct {
	Name         string         `json:"name"`
	Addr         uint64         `json:"addr"`
	Outcome      lifter.Outcome `json:"outcome"`
	Error        string         `json:"error,omitempty"`
	Instructions int            `json:"instructions"`
	Actions      int            `json:"actions"`
	Unrecognized []uint64       `json:"unrecognized,omitempty"`
	Callees      []string       `json:"callees,omitempty"`
	// Managed counts synthesized IL instructions; ManagedSkipped counts
	// actions with no managed form. Tainted is set when emission aborted.
	Managed        int    `json:"managed"`
	ManagedSkipped int    `json:"managed_skipped,omitempty"`
	Tainted        string `json:"tainted,omitempty"`
}

// Record summarizes r for JSONL output.
func Record(r *lifter.Result) ResultRecord {
	rec := ResultRecord{
		Name:         r.Name,
		Addr:         r.Addr,
		Outcome:      r.Outcome,
		Instructions: len(r.Instructions),
		Actions:      len(r.Actions),
		Unrecognized: lo.Map(r.Unrecognized, func(in isa.Instruction, _ int) uint64 { return in.Addr }),
	}
	if r.Err != nil {
		rec.Error = r.Err.Error()
	}
	rec.Callees = lo.Uniq(lo.FilterMap(r.Actions, func(a analysis.Action, _ int) (string, bool) {
		c, ok := a.(analysis.Calling)
		if !ok || c.Callee() == "" {
			return "", false
		}
		return c.Callee(), true
	}))
	body, skipped, err := r.Managed()
	rec.Managed, rec.ManagedSkipped = len(body), skipped
	if err != nil {
		rec.Tainted = err.Error()
	}
	return rec
}

// WriteResultsJSONL writes one record per non-nil result to results.jsonl.
func WriteResultsJSONL(dir string, results []*lifter.Result) error {
	path := filepath.Join(dir, "results.jsonl")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("output: create %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, r := range results {
		if r == nil {
			continue
		}
		if err := enc.Encode(Record(r)); err != nil {
			return fmt.Errorf("output: encode %s: %w", r.Name, err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("output: flush %s: %w", path, err)
	}
	return nil
}

// WritePseudocode writes the rendered action list of r to
// pseudo/<name>.txt. Names of the form "Type::Method" are grouped in a
// directory per type.
func WritePseudocode(dir, name string, r *lifter.Result) error {
	path := filepath.Join(dir, "pseudo", FileName(name)+".txt")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("output: mkdir pseudo: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "// %s @ 0x%x (%s)\n", r.Name, r.Addr, r.Outcome)
	if r.Err != nil {
		fmt.Fprintf(&b, "// error: %v\n", r.Err)
	}
	b.WriteString(r.Pseudocode())
	return os.WriteFile(path, []byte(b.String()), 0644)
}

// WriteIL writes the managed body synthesized from r to il/<name>.txt.
// A tainted function gets the error in place of a body.
func WriteIL(dir, name string, r *lifter.Result) error {
	path := filepath.Join(dir, "il", FileName(name)+".txt")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("output: mkdir il: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "// %s @ 0x%x (%s)\n", r.Name, r.Addr, r.Outcome)
	body, skipped, err := r.Managed()
	if skipped > 0 {
		fmt.Fprintf(&b, "// %d actions without managed form\n", skipped)
	}
	if err != nil {
		fmt.Fprintf(&b, "// tainted: %v\n", err)
	} else {
		b.WriteString(il.Format(body))
	}
	return os.WriteFile(path, []byte(b.String()), 0644)
}

// WriteSummaryJSON writes the aggregate counters of a run to summary.json.
func WriteSummaryJSON(dir string, stats batch.Stats) error {
	return writeJSON(filepath.Join(dir, "summary.json"), stats)
}

// WriteSignalJSON writes the signal graph to signal.json.
func WriteSignalJSON(dir string, g *signal.SignalGraph) error {
	return writeJSON(filepath.Join(dir, "signal.json"), g)
}

// WriteDOT writes pre-rendered DOT text to path.
func WriteDOT(path, dot string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("output: mkdir %s: %w", filepath.Dir(path), err)
	}
	return os.WriteFile(path, []byte(dot), 0644)
}

// WriteCallGraphDOT renders g to callgraph.dot.
func WriteCallGraphDOT(dir string, g *lattice.Graph, title string) error {
	return WriteDOT(filepath.Join(dir, "callgraph.dot"), render.DOT(g, title))
}

// WriteCFGDOT renders cfg to cfg/<name>.dot.
func WriteCFGDOT(dir, name string, cfg *lattice.CFGGraph) error {
	return WriteDOT(filepath.Join(dir, "cfg", FileName(name)+".dot"), render.DOTCFG(cfg, name))
}

// WriteASM writes a disassembly listing to asm/<name>.txt.
func WriteASM(dir, name string, insts []isa.Instruction, lookup disasm.SymbolLookup, annotators ...disasm.Annotator) error {
	path := filepath.Join(dir, "asm", FileName(name)+".txt")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("output: mkdir asm: %w", err)
	}

	text := disasm.Format(insts, lookup, annotators...)
	return os.WriteFile(path, []byte(text), 0644)
}

// FileName maps a function name to a relative path. "Ns.Type::Method"
// becomes "Ns.Type/Method"; characters unsafe in file names become '_'.
func FileName(name string) string {
	owner, method, ok := strings.Cut(name, "::")
	if !ok {
		return sanitize(name)
	}
	return filepath.Join(sanitize(owner), sanitize(method))
}

func sanitize(s string) string {
	if s == "" {
		return "_"
	}
	var b strings.Builder
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			b.WriteRune(c)
		case c == '.' || c == '_' || c == '-':
			b.WriteRune(c)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	if out == "." || out == ".." {
		return "_"
	}
	return out
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("output: create %s: %w", path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("output: encode %s: %w", path, err)
	}
	return nil
}
