package symbolizer

import (
	"debug/elf"
	"strings"
	"testing"

	"goprofile/internal/kallsyms"
)

func TestCleanNameIsIdempotent(t *testing.T) {
	inputs := []string{
		"runtime.main",
		"main.main.func1",
		"pkg/sub.Name",
		"runtime·throw",
		"0xdeadbeef",
		"main.init",
		"main.Foo[main.Bar].Method",
	}
	for _, in := range inputs {
		once := cleanName(in)
		twice := cleanName(once)
		if once != twice {
			t.Errorf("cleanName not idempotent for %q: once=%q twice=%q", in, once, twice)
		}
	}
}

func TestCleanNameReplacements(t *testing.T) {
	tt := []struct{ in, want string }{
		{"runtime.main", "main"},
		{"main.main", "main::main"},
		{"pkg/sub.Func", "pkg::sub.Func"},
		// Every main.-prefixed segment must be rewritten, not just the
		// first -- a generic instantiation's dictionary argument is
		// itself a second main.-prefixed name in the same string.
		{"main.Foo[main.Bar].Method", "main::Foo[main::Bar].Method"},
	}
	for _, tc := range tt {
		if got := cleanName(tc.in); got != tc.want {
			t.Errorf("cleanName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestResolveKernelRangeConsultsKallsymsOnly(t *testing.T) {
	table, err := kallsyms.Load(strings.NewReader("ffffffff81000000 T sys_read\n"))
	if err != nil {
		t.Fatalf("kallsyms.Load: %v", err)
	}
	r := New(table, nil, nil, nil, 0)

	got := r.Resolve(0xFFFFFFFF81000010)
	if got != "sys_read" {
		t.Fatalf("Resolve(kernel pc) = %q, want sys_read", got)
	}

	got = r.Resolve(0x401000)
	if !strings.HasPrefix(got, "[unknown:") {
		t.Fatalf("Resolve(user pc with no tables loaded) = %q, want unknown sentinel", got)
	}
}

func TestResolveFlatFallbackWithinDistance(t *testing.T) {
	flat := []elf.Symbol{
		{Name: "fibNaive", Value: 0x401120},
		{Name: "main", Value: 0x40115a},
	}
	r := New(nil, nil, nil, flat, 0)

	got := r.Resolve(0x401130)
	if !strings.HasPrefix(got, "fibNaive") {
		t.Fatalf("Resolve = %q, want fibNaive+offset", got)
	}

	got = r.Resolve(0x500000)
	if !strings.HasPrefix(got, "[unknown:") {
		t.Fatalf("Resolve(far pc) = %q, want unknown sentinel", got)
	}
}
