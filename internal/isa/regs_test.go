package isa

import (
	"sync"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		arch Arch
		in   string
		want string
	}{
		{X86_64, "eax", "rax"},
		{X86_64, "AL", "rax"},
		{X86_64, "r8d", "r8"},
		{X86_64, "ymm3", "xmm3"},
		{X86_32, "eax", "eax"},
		{X86_32, "cx", "ecx"},
		{X86_32, "rsp", "esp"},
		{ARM64, "w3", "x3"},
		{ARM64, "wzr", "xzr"},
		{ARM64, "d1", "v1"},
		{ARM64, "s0", "v0"},
		{ARM64, "fp", "x29"},
		{ARMv7, "lr", "r14"},
		{ARMv7, "s2", "s2"},
	}
	for _, tc := range tests {
		if got := Normalize(tc.arch, tc.in); got != tc.want {
			t.Errorf("Normalize(%v, %q) = %q, want %q", tc.arch, tc.in, got, tc.want)
		}
	}
}

func TestNormalizeConcurrent(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				if got := Normalize(X86_64, "ecx"); got != "rcx" {
					t.Errorf("Normalize(ecx) = %q", got)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestInstructionClasses(t *testing.T) {
	if !IsConditionalJump("jne") || !IsConditionalJump("b.eq") || !IsConditionalJump("cbz") {
		t.Error("conditional jumps not detected")
	}
	if IsConditionalJump("jmp") || IsConditionalJump("b") {
		t.Error("unconditional jump classified as conditional")
	}
	if !IsCall("bl") || !IsCall("call") {
		t.Error("calls not detected")
	}
}

func TestTarget(t *testing.T) {
	in := Instruction{Addr: 0x1000, Mnemonic: "jmp", Operands: []Operand{Imm(0x1040)}}
	got, ok := in.Target()
	if !ok || got != 0x1040 {
		t.Errorf("Target() = 0x%x, %v", got, ok)
	}
	in = Instruction{Mnemonic: "call", Operands: []Operand{Reg("rax")}}
	if _, ok := in.Target(); ok {
		t.Error("register call has no immediate target")
	}
}

func TestParseArch(t *testing.T) {
	for in, want := range map[string]Arch{"amd64": X86_64, "i386": X86_32, "aarch64": ARM64, "armv7": ARMv7} {
		got, err := ParseArch(in)
		if err != nil || got != want {
			t.Errorf("ParseArch(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseArch("mips"); err == nil {
		t.Error("expected error for mips")
	}
}
