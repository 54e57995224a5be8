// Package il models the managed instruction stream that lifted actions can
// emit. It is deliberately small: an opcode plus one optional operand.
package il

import (
	"fmt"
	"strings"
)

// OpCode is a managed stack-machine opcode.
type OpCode int

const (
	Nop OpCode = iota
	Ldarg
	Ldloc
	Ldloca
	Stloc
	LdcI4
	LdcI8
	LdcR4
	LdcR8
	Ldstr
	Ldnull
	Ldfld
	Stfld
	Ldsfld
	Stsfld
	Ldlen
	Ldelem
	Stelem
	Newobj
	Newarr
	Initobj
	Call
	Callvirt
	Ret
	Box
	UnboxAny
	Isinst
	Castclass
	Throw
	Add
	Sub
	Mul
	Div
	Shl
	Shr
	Br
	Brtrue
	Brfalse
	Ceq
	Ldtoken
	Pop
)

var opNames = [...]string{
	Nop: "nop", Ldarg: "ldarg", Ldloc: "ldloc", Ldloca: "ldloca", Stloc: "stloc",
	LdcI4: "ldc.i4", LdcI8: "ldc.i8", LdcR4: "ldc.r4", LdcR8: "ldc.r8",
	Ldstr: "ldstr", Ldnull: "ldnull", Ldfld: "ldfld", Stfld: "stfld",
	Ldsfld: "ldsfld", Stsfld: "stsfld", Ldlen: "ldlen", Ldelem: "ldelem",
	Stelem: "stelem", Newobj: "newobj", Newarr: "newarr", Initobj: "initobj",
	Call: "call", Callvirt: "callvirt", Ret: "ret", Box: "box",
	UnboxAny: "unbox.any", Isinst: "isinst", Castclass: "castclass",
	Throw: "throw", Add: "add", Sub: "sub", Mul: "mul", Div: "div",
	Shl: "shl", Shr: "shr", Br: "br", Brtrue: "brtrue", Brfalse: "brfalse",
	Ceq: "ceq", Ldtoken: "ldtoken", Pop: "pop",
}

func (o OpCode) String() string {
	if int(o) < len(opNames) && opNames[o] != "" {
		return opNames[o]
	}
	return fmt.Sprintf("op(%d)", int(o))
}

// Instruction is one managed instruction. Operand is nil, an integer or float
// literal, a string, a local/argument index, or a metadata object.
type Instruction struct {
	Op      OpCode
	Operand any
}

func (i Instruction) String() string {
	if i.Operand == nil {
		return i.Op.String()
	}
	if s, ok := i.Operand.(string); ok && i.Op == Ldstr {
		return fmt.Sprintf("%s %q", i.Op, s)
	}
	return fmt.Sprintf("%s %v", i.Op, i.Operand)
}

// I is shorthand for building an Instruction.
func I(op OpCode, operand ...any) Instruction {
	if len(operand) == 0 {
		return Instruction{Op: op}
	}
	return Instruction{Op: op, Operand: operand[0]}
}

// Format renders a body one instruction per line with IL_xxxx labels.
func Format(body []Instruction) string {
	var b strings.Builder
	for n, in := range body {
		fmt.Fprintf(&b, "IL_%04x: %s\n", n, in)
	}
	return b.String()
}
