package lifter

import (
	"fmt"

	"github.com/samber/lo"

	"aotlift/internal/callconv"
	"aotlift/internal/isa"
)

// Architecture supplies everything the engine needs to know about one
// target: register naming, the calling convention and the rule table.
type Architecture interface {
	Arch() isa.Arch
	Normalize(reg string) string
	Convention() callconv.Convention
	Rules() *RuleTable
	ReturnRegister() string
	FloatReturnRegister() string
	// VolatileRegisters are clobbered by every call.
	VolatileRegisters() []string
	// ArgumentRegisters are the integer argument registers in order.
	ArgumentRegisters() []string
}

// ForArch returns the Architecture for arch.
func ForArch(arch isa.Arch) (Architecture, error) {
	conv, err := callconv.ForArch(arch)
	if err != nil {
		return nil, err
	}
	switch arch {
	case isa.X86_32, isa.X86_64:
		return &x86{arch: arch, conv: conv, rules: x86Rules()}, nil
	case isa.ARM64, isa.ARMv7:
		return &arm{arch: arch, conv: conv, rules: armRules(arch)}, nil
	}
	return nil, fmt.Errorf("lifter: no rule table for %s", arch)
}

type x86 struct {
	arch  isa.Arch
	conv  callconv.Convention
	rules *RuleTable
}

func (a *x86) Arch() isa.Arch                  { return a.arch }
func (a *x86) Normalize(reg string) string     { return isa.Normalize(a.arch, reg) }
func (a *x86) Convention() callconv.Convention { return a.conv }
func (a *x86) Rules() *RuleTable               { return a.rules }
func (a *x86) FloatReturnRegister() string     { return "xmm0" }

func (a *x86) ReturnRegister() string {
	if a.arch == isa.X86_32 {
		return "eax"
	}
	return "rax"
}

func (a *x86) VolatileRegisters() []string {
	if a.arch == isa.X86_32 {
		return []string{"eax", "ecx", "edx", "xmm0", "xmm1", "xmm2", "xmm3", "xmm4", "xmm5", "xmm6", "xmm7"}
	}
	return []string{"rax", "rcx", "rdx", "r8", "r9", "r10", "r11", "xmm0", "xmm1", "xmm2", "xmm3", "xmm4", "xmm5"}
}

func (a *x86) ArgumentRegisters() []string { return intRegisters(a.conv) }

type arm struct {
	arch  isa.Arch
	conv  callconv.Convention
	rules *RuleTable
}

func (a *arm) Arch() isa.Arch                  { return a.arch }
func (a *arm) Normalize(reg string) string     { return isa.Normalize(a.arch, reg) }
func (a *arm) Convention() callconv.Convention { return a.conv }
func (a *arm) Rules() *RuleTable               { return a.rules }
func (a *arm) ArgumentRegisters() []string     { return intRegisters(a.conv) }

func (a *arm) ReturnRegister() string {
	if a.arch == isa.ARMv7 {
		return "r0"
	}
	return "x0"
}

func (a *arm) FloatReturnRegister() string {
	if a.arch == isa.ARMv7 {
		return "s0"
	}
	return "v0"
}

func (a *arm) VolatileRegisters() []string {
	if a.arch == isa.ARMv7 {
		return armv7Volatile
	}
	return arm64Volatile
}

var arm64Volatile = func() []string {
	var out []string
	for i := 0; i <= 18; i++ {
		out = append(out, fmt.Sprintf("x%d", i))
	}
	for i := 0; i <= 7; i++ {
		out = append(out, fmt.Sprintf("v%d", i))
	}
	for i := 16; i <= 31; i++ {
		out = append(out, fmt.Sprintf("v%d", i))
	}
	return out
}()

var armv7Volatile = func() []string {
	out := []string{"r0", "r1", "r2", "r3", "r12", "r14"}
	for i := 0; i <= 15; i++ {
		out = append(out, fmt.Sprintf("s%d", i))
	}
	for i := 0; i <= 7; i++ {
		out = append(out, fmt.Sprintf("d%d", i))
	}
	return out
}()

func intRegisters(c callconv.Convention) []string {
	return lo.Filter(c.ArgumentRegisters(), func(r string, _ int) bool { return !isa.IsVector(r) })
}
