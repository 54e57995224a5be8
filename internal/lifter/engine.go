// Package lifter walks the decoded instructions of one function, keeps the
// abstract machine state current and turns recognized instruction patterns
// into an ordered list of actions.
package lifter

import (
	"context"
	"fmt"
	"strings"

	"github.com/apex/log"
	"github.com/pkg/errors"

	"aotlift/internal/analysis"
	"aotlift/internal/fields"
	"aotlift/internal/il"
	"aotlift/internal/isa"
	"aotlift/internal/metadata"
)

var (
	// ErrUnrecognized aborts a strict analysis at the first instruction no
	// rule handles.
	ErrUnrecognized = errors.New("lifter: no rule matches instruction")
	// ErrStepLimit aborts an analysis that ran past Options.MaxSteps.
	ErrStepLimit = errors.New("lifter: step limit reached")
	// ErrEmpty is reported for a function without instructions.
	ErrEmpty = errors.New("lifter: function has no instructions")
)

// Mode selects how unrecognized instructions are treated.
type Mode int

const (
	// BestEffort skips unrecognized instructions and reports Partial.
	BestEffort Mode = iota
	// Strict aborts the function at the first unrecognized instruction.
	Strict
)

func (m Mode) String() string {
	if m == Strict {
		return "strict"
	}
	return "best-effort"
}

// ParseMode maps a config spelling to a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "", "best-effort", "besteffort", "lenient":
		return BestEffort, nil
	case "strict":
		return Strict, nil
	}
	return BestEffort, fmt.Errorf("lifter: unknown mode %q", s)
}

const (
	defaultMaxSteps     = 1 << 20
	defaultMaxExpansion = 0x1000
)

// Options tune an Engine.
type Options struct {
	Mode Mode
	// MaxSteps bounds the number of instructions processed per function,
	// expansions included. 0 selects the default.
	MaxSteps int
	// MaxExpansion is how many bytes past its assumed end a function may
	// grow to reach a forward branch target. 0 selects the default.
	MaxExpansion uint64
	Logger       log.Interface
}

func (o Options) withDefaults() Options {
	if o.MaxSteps <= 0 {
		o.MaxSteps = defaultMaxSteps
	}
	if o.MaxExpansion == 0 {
		o.MaxExpansion = defaultMaxExpansion
	}
	if o.Logger == nil {
		o.Logger = log.Log
	}
	return o
}

// Function is one unit of work.
type Function struct {
	Name         string
	Addr         uint64
	Method       *metadata.Method // nil for functions without metadata
	Instructions []isa.Instruction
	Source       analysis.InstructionSource
}

// Outcome is the per-function result class.
type Outcome int

const (
	Full Outcome = iota
	Partial
	Aborted
)

func (o Outcome) String() string {
	switch o {
	case Full:
		return "full"
	case Partial:
		return "partial"
	case Aborted:
		return "aborted"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// MarshalText renders the outcome by name in JSON output.
func (o Outcome) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

// AnalysisError is an unexpected failure while processing one instruction.
type AnalysisError struct {
	Func string
	Addr uint64
	Rule string
	Err  error
}

func (e *AnalysisError) Error() string {
	if e.Rule == "" {
		return fmt.Sprintf("lifter: %s at 0x%x: %v", e.Func, e.Addr, e.Err)
	}
	return fmt.Sprintf("lifter: %s at 0x%x (%s): %v", e.Func, e.Addr, e.Rule, e.Err)
}

func (e *AnalysisError) Unwrap() error { return e.Err }

// Result is the outcome of analyzing one function.
type Result struct {
	Name   string
	Addr   uint64
	Method *metadata.Method

	Actions      []analysis.Action
	Params       []*analysis.Local
	Locals       []*analysis.Local
	Instructions []isa.Instruction
	Unrecognized []isa.Instruction

	Outcome Outcome
	Err     error
}

// Pseudocode renders the action list.
func (r *Result) Pseudocode() string { return analysis.Render(r.Actions) }

// Managed synthesizes the managed body of the function.
func (r *Result) Managed() ([]il.Instruction, int, error) {
	return analysis.EmitManaged(r.Actions, r.Params)
}

// Engine lifts functions of one architecture against one metadata index.
// It holds no per-function state, so one Engine may analyze many functions
// concurrently.
type Engine struct {
	arch   Architecture
	index  *metadata.Index
	fields *fields.Resolver
	opts   Options
}

// New returns an Engine. idx must be frozen.
func New(arch Architecture, idx *metadata.Index, opts Options) *Engine {
	return &Engine{
		arch:   arch,
		index:  idx,
		fields: fields.New(idx.PointerSize()),
		opts:   opts.withDefaults(),
	}
}

// Architecture returns the engine's target description.
func (e *Engine) Architecture() Architecture { return e.arch }

// Analyze lifts fn. It never panics; failures are reported through the
// Result's Outcome and Err.
func (e *Engine) Analyze(ctx context.Context, fn *Function) *Result {
	res := &Result{Name: fn.Name, Addr: fn.Addr, Method: fn.Method}
	if res.Name == "" {
		res.Name = functionName(fn)
	}
	logger := e.opts.Logger.WithFields(log.Fields{"func": res.Name, "addr": fmt.Sprintf("0x%x", fn.Addr)})

	if err := ctx.Err(); err != nil {
		res.Outcome, res.Err = Aborted, err
		return res
	}
	if len(fn.Instructions) == 0 {
		res.Outcome, res.Err = Aborted, errors.WithStack(ErrEmpty)
		return res
	}

	s := analysis.NewState(analysis.Config{
		Arch:         e.arch.Arch(),
		Index:        e.index,
		Method:       fn.Method,
		Name:         res.Name,
		Instructions: fn.Instructions,
		Source:       fn.Source,
	})
	e.arch.Convention().Seed(s)
	prepass(s, e.arch)

	err := e.run(s, res)

	res.Actions = s.Actions()
	res.Params = s.Params()
	res.Locals = s.Locals()
	res.Instructions = s.Instructions()
	switch {
	case err != nil:
		res.Outcome, res.Err = Aborted, err
		logger.WithError(err).Warn("analysis aborted")
	case len(res.Unrecognized) > 0:
		res.Outcome = Partial
		logger.WithField("unrecognized", len(res.Unrecognized)).Debug("partially lifted")
	default:
		res.Outcome = Full
		logger.WithField("actions", len(res.Actions)).Debug("lifted")
	}
	return res
}

func functionName(fn *Function) string {
	if fn.Method != nil {
		return fn.Method.QualifiedName()
	}
	return fmt.Sprintf("sub_%x", fn.Addr)
}

func (e *Engine) run(s *analysis.State, res *Result) error {
	for i := 0; i < len(s.Instructions()); i++ {
		in := s.Instructions()[i]
		if i >= e.opts.MaxSteps {
			return &AnalysisError{Func: res.Name, Addr: in.Addr, Err: errors.WithStack(ErrStepLimit)}
		}
		rule, matched, err := e.step(s, in)
		if err != nil {
			return &AnalysisError{Func: res.Name, Addr: in.Addr, Rule: rule, Err: err}
		}
		if matched {
			continue
		}
		if e.opts.Mode == Strict {
			return &AnalysisError{Func: res.Name, Addr: in.Addr, Err: errors.Wrapf(ErrUnrecognized, "%s", in)}
		}
		res.Unrecognized = append(res.Unrecognized, in)
	}
	return nil
}

// step processes one instruction: the control-flow pass, then the first
// matching rule. Panics inside rules are converted to errors.
func (e *Engine) step(s *analysis.State, in isa.Instruction) (rule string, matched bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic: %v", r)
		}
	}()
	s.Cursor = in
	controlFlow(s, in)

	f := newFacts(e, s, in)
	r, ok := e.arch.Rules().Lookup(f)
	// The division idiom only completes on the instruction right after
	// its multiply.
	if !ok || (r.Name != ruleDivideStart && r.Name != ruleDivideFinish) {
		s.Division = nil
	}
	if !ok {
		e.clobber(f)
		return "", false, nil
	}
	if err := r.Build(f); err != nil {
		return r.Name, true, errors.Wrapf(err, "rule %s", r.Name)
	}
	return r.Name, true, nil
}

// clobber records the effect of an instruction no rule understood: a
// written register becomes Unresolved and a call kills the volatile set.
func (e *Engine) clobber(f *Facts) {
	if isa.IsCall(f.Mnemonic) {
		afterCall(f, nil)
		f.Bind(e.arch.ReturnRegister(), analysis.Unresolved{At: f.In.Addr})
		return
	}
	if len(f.Ops) > 0 && f.isReg(0) && writesFirst(e.arch.Arch(), f.Mnemonic) {
		f.Bind(f.reg(0), analysis.Unresolved{At: f.In.Addr})
		// Register pair loads write both.
		if strings.HasPrefix(f.Mnemonic, "ldp") || strings.HasPrefix(f.Mnemonic, "ldnp") {
			f.Bind(f.reg(1), analysis.Unresolved{At: f.In.Addr})
		}
	}
}

// writesFirst reports whether the first operand of mnemonic is written.
func writesFirst(arch isa.Arch, mnemonic string) bool {
	if isa.IsBranch(mnemonic) || isa.IsCall(mnemonic) || isa.IsReturn(mnemonic) {
		return false
	}
	switch mnemonic {
	case "cmp", "test", "cmn", "tst", "fcmp", "ucomiss", "ucomisd", "comiss", "comisd", "push", "bt":
		return false
	}
	if !arch.IsX86() && strings.HasPrefix(mnemonic, "st") {
		return false
	}
	return true
}
