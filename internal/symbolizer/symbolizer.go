// Package symbolizer implements the unified PC->symbol resolution core:
// a debug-line table, a managed function table, a kernel symbol table,
// and a flat ELF symbol fallback, merged with the priority order debug-
// line > managed function table > nearest cached symbol > hex fallback.
// Kernel addresses are resolved only against the kernel symbol table.
package symbolizer

import (
	"debug/elf"
	"fmt"
	"sort"
	"strings"

	"goprofile/internal/dwarfline"
	"goprofile/internal/kallsyms"
	"goprofile/internal/pclntab"
)

// flatDistance is the maximum distance from a flat symbol-table entry
// that still attributes a PC to it, matching the teacher's own
// addr2func fallback tolerance for imprecise samples.
const flatDistance = 64 * 1024

// Resolver holds every table built once at construction from the target
// executable and the kernel symbol table, and answers PC lookups for the
// remainder of the profiling run.
type Resolver struct {
	kernel   *kallsyms.Table
	lines    *dwarfline.LineTable
	funcs    *pclntab.Table
	flat     []elf.Symbol
	biasAddr uint64
}

// New constructs a Resolver. kernelTable may be nil when /proc/kallsyms
// couldn't be read (non-fatal, per spec.md §4.A/§7); lineTable and
// funcTable may likewise be nil when their sections are absent or
// malformed. flat is the sorted fallback symbol list, typically read
// from the target's ELF .symtab.
func New(kernelTable *kallsyms.Table, lineTable *dwarfline.LineTable, funcTable *pclntab.Table, flat []elf.Symbol, bias uint64) *Resolver {
	sorted := append([]elf.Symbol(nil), flat...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Value < sorted[j].Value })
	return &Resolver{
		kernel:   kernelTable,
		lines:    lineTable,
		funcs:    funcTable,
		flat:     sorted,
		biasAddr: bias,
	}
}

// Resolve implements the priority order of spec.md §4.F: kernel range
// first for kernel PCs, then debug-line, then the managed function
// table, then the flat symbol fallback, then a hex sentinel.
func (r *Resolver) Resolve(pc uint64) string {
	if pc >= kallsyms.KernelBase {
		if r.kernel != nil {
			if sym, ok := r.kernel.Resolve(pc); ok {
				return sym.Name
			}
		}
		return unknown(pc)
	}

	// Every other table was built from the on-disk binary, so it only
	// knows linked addresses; subtract the load bias once here to bring
	// the runtime PC back into that address space, per the "apply bias
	// exactly once" invariant.
	linkedPC := pc - r.biasAddr

	if r.lines != nil {
		if line, ok := r.lines.Lookup(linkedPC); ok {
			return formatDebugLine(line)
		}
	}

	if r.funcs != nil {
		if sym, ok := r.funcs.Symbolize(linkedPC); ok {
			name := cleanName(sym.Name)
			if sym.File != "" && sym.Line > 0 {
				return fmt.Sprintf("%s %s:%d", name, sym.File, sym.Line)
			}
			return name
		}
	}

	if sym, ok := r.flatLookup(linkedPC); ok {
		name := cleanName(sym.Name)
		offset := linkedPC - sym.Value
		if offset != 0 {
			return fmt.Sprintf("%s+0x%x", name, offset)
		}
		return name
	}

	return unknown(pc)
}

// flatLookup binary-searches the sorted flat symbol list for the
// greatest entry whose address is <= pc, within flatDistance.
func (r *Resolver) flatLookup(pc uint64) (elf.Symbol, bool) {
	if len(r.flat) == 0 {
		return elf.Symbol{}, false
	}
	i := sort.Search(len(r.flat), func(i int) bool { return r.flat[i].Value > pc })
	if i == 0 {
		return elf.Symbol{}, false
	}
	sym := r.flat[i-1]
	if pc-sym.Value >= flatDistance {
		return elf.Symbol{}, false
	}
	return sym, true
}

func formatDebugLine(l dwarfline.Line) string {
	fn := l.Function
	if fn == "" {
		fn = anonymousOrStem(l.File)
	}
	return fmt.Sprintf("%s %s:%d", fn, l.File, l.Line)
}

func anonymousOrStem(file string) string {
	if file == "" {
		return "<anonymous_function>"
	}
	stem := file
	if i := strings.LastIndexByte(stem, '/'); i >= 0 {
		stem = stem[i+1:]
	}
	if i := strings.LastIndexByte(stem, '.'); i >= 0 {
		stem = stem[:i]
	}
	return stem + ".func"
}

// cleanName applies the canonical replacement table in order: strip a
// "runtime." prefix, rewrite "main." to "main::", rewrite ".func" to
// "::func", rewrite the middle-dot separator to "::", rewrite path
// separators to "::". If the result still looks like a raw hex address,
// rewrite it to the unknown sentinel form instead.
func cleanName(name string) string {
	name = strings.TrimPrefix(name, "runtime.")
	name = strings.ReplaceAll(name, "main.", "main::")
	name = strings.ReplaceAll(name, ".func", "::func")
	name = strings.ReplaceAll(name, "·", "::")
	name = strings.ReplaceAll(name, "/", "::")
	if strings.HasPrefix(name, "0x") {
		return fmt.Sprintf("[unknown:%s]", name)
	}
	return name
}

func unknown(pc uint64) string {
	return fmt.Sprintf("[unknown:0x%x]", pc)
}
