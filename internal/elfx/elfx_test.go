package elfx

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"aotlift/internal/isa"
)

// selfELF opens the running test binary, which is a real ELF of the host
// machine with a full symbol table.
func selfELF(t *testing.T) *File {
	t.Helper()
	if runtime.GOOS != "linux" {
		t.Skip("test binary is not ELF on " + runtime.GOOS)
	}
	path, err := os.Executable()
	if err != nil {
		t.Skipf("executable: %v", err)
	}
	ef, err := Open(path)
	if errors.Is(err, ErrUnsupported) {
		t.Skipf("host machine: %v", err)
	}
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ef.Close() })
	return ef
}

func TestOpenValid(t *testing.T) {
	ef := selfELF(t)
	if ef.FileSize() == 0 {
		t.Error("file size is 0")
	}
	want := map[string]isa.Arch{"amd64": isa.X86_64, "386": isa.X86_32, "arm64": isa.ARM64, "arm": isa.ARMv7}[runtime.GOARCH]
	if ef.Arch() != want {
		t.Errorf("arch = %s, want %s", ef.Arch(), want)
	}
}

func TestOpenRejectsNonELF(t *testing.T) {
	// Create a temp file with garbage data.
	tmp := filepath.Join(t.TempDir(), "notelf")
	if err := os.WriteFile(tmp, []byte("not an ELF file at all"), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := Open(tmp)
	if !errors.Is(err, ErrNotELF) {
		t.Fatalf("err = %v, want ErrNotELF", err)
	}
}

func TestSymbolLookup(t *testing.T) {
	ef := selfELF(t)

	va, size, err := ef.Symbol("runtime.main")
	if err != nil {
		t.Fatal(err)
	}
	if va == 0 {
		t.Error("VA is 0")
	}
	if size == 0 {
		t.Error("size is 0")
	}
}

func TestSymbolNotFound(t *testing.T) {
	ef := selfELF(t)

	_, _, err := ef.Symbol("_kNonExistentSymbol")
	if !errors.Is(err, ErrNoSymbol) {
		t.Fatalf("err = %v, want ErrNoSymbol", err)
	}
}

func TestSymbolsSorted(t *testing.T) {
	ef := selfELF(t)

	syms := ef.Symbols()
	if len(syms) == 0 {
		t.Fatal("no function symbols")
	}
	for i := 1; i < len(syms); i++ {
		if syms[i].Addr <= syms[i-1].Addr {
			t.Fatalf("symbols not strictly ordered at %d: 0x%x after 0x%x", i, syms[i].Addr, syms[i-1].Addr)
		}
	}
}

func TestFunctionBytes(t *testing.T) {
	ef := selfELF(t)

	addr, data, err := ef.FunctionBytes("runtime.main")
	if err != nil {
		t.Fatal(err)
	}
	_, size, _ := ef.Symbol("runtime.main")
	if uint64(len(data)) != size {
		t.Errorf("len = %d, want %d", len(data), size)
	}
	again, err := ef.ReadAt(addr, 4)
	if err != nil {
		t.Fatal(err)
	}
	for i := range again {
		if again[i] != data[i] {
			t.Fatalf("ReadAt disagrees with FunctionBytes at %d", i)
		}
	}
}

func TestVAToFileOffsetInvalid(t *testing.T) {
	ef := selfELF(t)

	_, err := ef.VAToFileOffset(0xDEADBEEFDEADBEEF)
	if !errors.Is(err, ErrNoSegment) {
		t.Fatalf("err = %v, want ErrNoSegment", err)
	}
	if _, err := ef.ReadAt(0xDEADBEEFDEADBEEF, 4); err == nil {
		t.Fatal("expected error for invalid VA")
	}
}

func TestLoadSegments(t *testing.T) {
	ef := selfELF(t)

	segs := ef.LoadSegments()
	if len(segs) == 0 {
		t.Fatal("no PT_LOAD segments")
	}
	for _, s := range segs {
		if s.Filesz == 0 && s.Memsz == 0 {
			t.Error("segment with zero size")
		}
	}
}

func FuzzELFOpen(f *testing.F) {
	// Seed with a valid ELF header prefix and garbage.
	f.Add([]byte("\x7fELF\x02\x01\x01\x00\x00\x00\x00\x00\x00\x00\x00\x00"))
	f.Add([]byte("not an elf at all"))
	f.Add([]byte{})

	f.Fuzz(func(t *testing.T, data []byte) {
		tmp := filepath.Join(t.TempDir(), "fuzz.so")
		if err := os.WriteFile(tmp, data, 0644); err != nil {
			t.Fatal(err)
		}
		ef, err := Open(tmp)
		if err != nil {
			return // expected
		}
		// If it opens, exercise the API.
		ef.FileSize()
		ef.LoadSegments()
		ef.Symbols()
		ef.Symbol("main")
		ef.ReadAt(0, 16)
		ef.Close()
	})
}
