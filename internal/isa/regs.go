package isa

import (
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// regCacheSize bounds the shared normalization table. The register space is
// small; the bound only protects against garbage operand text.
const regCacheSize = 4096

type regKey struct {
	arch Arch
	name string
}

// regTable memoizes Normalize across concurrent function analyses. lru.Cache
// is safe for concurrent use and PeekOrAdd gives insert-or-get semantics.
var regTable = mustRegTable()

func mustRegTable() *lru.Cache[regKey, string] {
	c, err := lru.New[regKey, string](regCacheSize)
	if err != nil {
		panic(fmt.Sprintf("isa: register table: %v", err))
	}
	return c
}

// Normalize maps a register spelling to the canonical full-width name used as
// the AnalysisState key ("eax" -> "rax" on x86-64, "w3" -> "x3", "d1" -> "v1").
func Normalize(arch Arch, name string) string {
	if name == "" {
		return ""
	}
	key := regKey{arch, name}
	if v, ok := regTable.Get(key); ok {
		return v
	}
	v := normalize(arch, strings.ToLower(name))
	if prev, ok, _ := regTable.PeekOrAdd(key, v); ok {
		return prev
	}
	return v
}

var x86Families = map[string][4]string{
	// 64, 32, 16, 8
	"a":  {"rax", "eax", "ax", "al"},
	"b":  {"rbx", "ebx", "bx", "bl"},
	"c":  {"rcx", "ecx", "cx", "cl"},
	"d":  {"rdx", "edx", "dx", "dl"},
	"si": {"rsi", "esi", "si", "sil"},
	"di": {"rdi", "edi", "di", "dil"},
	"bp": {"rbp", "ebp", "bp", "bpl"},
	"sp": {"rsp", "esp", "sp", "spl"},
}

var x86Alias = buildX86Alias()

func buildX86Alias() map[string]string {
	m := make(map[string]string)
	for _, fam := range x86Families {
		for _, n := range fam {
			m[n] = fam[0]
		}
	}
	m["ah"], m["bh"], m["ch"], m["dh"] = "rax", "rbx", "rcx", "rdx"
	for i := 8; i <= 15; i++ {
		full := fmt.Sprintf("r%d", i)
		for _, suf := range []string{"", "d", "w", "b", "l"} {
			m[full+suf] = full
		}
	}
	return m
}

func normalize(arch Arch, n string) string {
	switch arch {
	case X86_64:
		if full, ok := x86Alias[n]; ok {
			return full
		}
		return x86Vector(n)
	case X86_32:
		if full, ok := x86Alias[n]; ok {
			// 32-bit code keys on the e-register.
			if strings.HasPrefix(full, "r") && !isDigits(full[1:]) {
				return "e" + full[1:]
			}
			return full
		}
		return x86Vector(n)
	case ARM64:
		return arm64Reg(n)
	case ARMv7:
		return armReg(n)
	}
	return n
}

// x86Vector folds ymm/zmm onto xmm.
func x86Vector(n string) string {
	if strings.HasPrefix(n, "ymm") || strings.HasPrefix(n, "zmm") {
		return "xmm" + n[3:]
	}
	return n
}

func arm64Reg(n string) string {
	switch n {
	case "wzr", "xzr":
		return "xzr"
	case "wsp", "sp":
		return "sp"
	case "fp":
		return "x29"
	case "lr":
		return "x30"
	}
	if len(n) >= 2 && isDigits(n[1:]) {
		switch n[0] {
		case 'w', 'x':
			return "x" + n[1:]
		case 'b', 'h', 's', 'd', 'q', 'v':
			return "v" + n[1:]
		}
	}
	return n
}

func armReg(n string) string {
	switch n {
	case "fp":
		return "r11"
	case "ip":
		return "r12"
	case "sp":
		return "r13"
	case "lr":
		return "r14"
	case "pc":
		return "r15"
	}
	return n
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// StackPointer returns the canonical stack pointer register for arch.
func StackPointer(arch Arch) string {
	switch arch {
	case X86_64:
		return "rsp"
	case X86_32:
		return "esp"
	case ARM64:
		return "sp"
	case ARMv7:
		return "r13"
	}
	return ""
}

// FramePointer returns the canonical frame pointer register for arch.
func FramePointer(arch Arch) string {
	switch arch {
	case X86_64:
		return "rbp"
	case X86_32:
		return "ebp"
	case ARM64:
		return "x29"
	case ARMv7:
		return "r11"
	}
	return ""
}

// IsZeroRegister reports whether reg always reads as zero.
func IsZeroRegister(reg string) bool { return reg == "xzr" }

// IsVector reports whether reg is a floating point / vector register.
func IsVector(reg string) bool {
	if strings.HasPrefix(reg, "xmm") {
		return true
	}
	if len(reg) > 1 && isDigits(reg[1:]) {
		switch reg[0] {
		case 'v', 's', 'd':
			return true
		}
	}
	return false
}
