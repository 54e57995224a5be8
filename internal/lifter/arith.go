package lifter

import (
	"math"

	"aotlift/internal/actions"
	"aotlift/internal/analysis"
	"aotlift/internal/metadata"
)

// arithSymbols maps arithmetic mnemonics of both architectures to the
// operator they render as.
var arithSymbols = map[string]string{
	"add": "+", "adds": "+",
	"sub": "-", "subs": "-",
	"imul": "*", "mul": "*",
	"sdiv": "/", "udiv": "/",
	"and": "&", "ands": "&",
	"or": "|", "orr": "|",
	"xor": "^", "eor": "^",
}

// adjustable reports whether op can absorb "+= n" without losing track of
// what it is.
func adjustable(op analysis.Operand) bool {
	switch v := op.(type) {
	case *analysis.Local, analysis.StackPointer:
		return true
	case *analysis.Constant:
		_, ok := literalInt(v)
		return ok
	}
	return false
}

func literalInt(c *analysis.Constant) (int64, bool) {
	if c == nil || c.Provenance != analysis.ProvLiteral {
		return 0, false
	}
	return c.Int()
}

// adjustConstant lowers "dst = src + n". In place on a local it is an
// increment; literals fold and stack addresses move.
func adjustConstant(f *Facts, dst string, src analysis.Operand, n int64, inPlace bool) {
	switch v := src.(type) {
	case *analysis.Local:
		if inPlace {
			if n < 0 {
				f.Emit(actions.NewSubtractConstant(f.In, v, -n))
			} else {
				f.Emit(actions.NewAddConstant(f.In, v, n))
			}
			if dst != "" {
				f.Bind(dst, v)
			}
			return
		}
		op, amount := "+", n
		if n < 0 {
			op, amount = "-", -n
		}
		dest := f.local(v.Type)
		f.Emit(actions.NewRegisterArithmetic(f.In, op, v, analysis.Literal(v.Type, amount), dest))
		f.Bind(dst, dest)
	case *analysis.Constant:
		x, _ := literalInt(v)
		c := analysis.Literal(v.Type, x+n)
		c.MaybeNotConstant = v.MaybeNotConstant
		f.Bind(dst, c)
	case analysis.StackPointer:
		f.Bind(dst, analysis.StackPointer{Offset: v.Offset + n})
	}
}

// arithmetic lowers "dst = left sym right" into a fresh local.
func arithmetic(f *Facts, dst, sym string, left, right analysis.Operand, size int) {
	t := analysis.TypeOf(left)
	if t == nil || !(t.IsPrimitive() || t.IsEnum()) {
		t = literalType(size, f.ptr())
	}
	dest := f.local(t)
	f.Emit(actions.NewRegisterArithmetic(f.In, sym, left, right, dest))
	f.Bind(dst, dest)
}

// shiftConstant lowers "dst = src << n" or ">> n". Literal sources fold.
func shiftConstant(f *Facts, dst string, src analysis.Operand, n int64, left bool, size int) {
	if c, ok := src.(*analysis.Constant); ok {
		if x, ok := literalInt(c); ok && n >= 0 && n < 64 {
			if left {
				x <<= uint(n)
			} else {
				x >>= uint(n)
			}
			f.Bind(dst, analysis.Literal(c.Type, x))
			return
		}
	}
	t := analysis.TypeOf(src)
	if t == nil || !t.IsIntegral() {
		t = literalType(size, f.ptr())
	}
	dest := f.local(t)
	f.Emit(actions.NewShiftConstant(f.In, src, n, left, dest))
	f.Bind(dst, dest)
}

// magicDivisor recovers d from the magic number m and post-shift s of the
// signed division idiom: m ~ 2^(32+s) / d.
func magicDivisor(magic, shift int64) int64 {
	if magic == 0 {
		return 0
	}
	return int64(math.Round(math.Ldexp(1, int(32+shift)) / float64(magic)))
}

// Rule names of the two halves of the signed division idiom.
const (
	ruleDivideStart  = "magic-divide-start"
	ruleDivideFinish = "divide-by-constant"
)

// startDivision records the multiply half of the division idiom.
func startDivision(f *Facts, dividend analysis.Operand, magic int64) {
	f.State.Division = &analysis.PendingDivision{Magic: magic, Dividend: dividend, At: f.In.Addr}
	f.Emit(actions.NewMagicDivideStart(f.In, dividend, magic))
}

// finishDivision completes the idiom on the shift of the high half.
func finishDivision(f *Facts, dst string, shift int64) {
	div := f.State.Division
	f.State.Division = nil
	dest := f.local(metadata.Int32)
	f.Emit(actions.NewDivideByConstant(f.In, div.Dividend, magicDivisor(div.Magic, shift), dest))
	f.Bind(dst, dest)
}
