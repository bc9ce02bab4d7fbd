// Package kallsyms loads the OS-exported kernel symbol table
// (/proc/kallsyms) and resolves addresses sampled from in-kernel stack
// frames against it.
package kallsyms

import (
	"bufio"
	"io"
	"sort"
	"strconv"
)

// KernelBase is the lowest address treated as kernel space on 64-bit
// commodity x86-64/arm64 Linux. PCs at or above this threshold are
// routed to this table instead of the managed function table.
const KernelBase = 0xFFFFFFFF80000000

// maxResolveDistance caps how far past a symbol's address a PC may fall
// and still be attributed to it.
const maxResolveDistance = 64 * 1024

// functionKinds are the /proc/kallsyms type letters kept: global and
// local text (T/t), and global and local weak text (W/w).
var functionKinds = map[byte]bool{'T': true, 't': true, 'W': true, 'w': true}

// Symbol is one kept record from the kernel symbol table.
type Symbol struct {
	Addr uint64
	Kind byte
	Name string
}

// Table is a sorted, range-queryable kernel symbol table.
type Table struct {
	symbols []Symbol
}

// Load parses /proc/kallsyms-shaped input, keeping only function-kind
// entries. Malformed lines are skipped, not fatal.
func Load(r io.Reader) (*Table, error) {
	var syms []Symbol

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		fields := splitFields(line)
		if len(fields) < 3 {
			continue
		}
		addr, err := strconv.ParseUint(fields[0], 16, 64)
		if err != nil {
			continue
		}
		kindField := fields[1]
		if len(kindField) != 1 {
			continue
		}
		kind := kindField[0]
		if !functionKinds[kind] {
			continue
		}
		syms = append(syms, Symbol{Addr: addr, Kind: kind, Name: fields[2]})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	sort.Slice(syms, func(i, j int) bool { return syms[i].Addr < syms[j].Addr })
	return &Table{symbols: syms}, nil
}

func splitFields(line string) []string {
	var fields []string
	start := -1
	for i, r := range line {
		if r == ' ' || r == '\t' {
			if start >= 0 {
				fields = append(fields, line[start:i])
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		fields = append(fields, line[start:])
	}
	return fields
}

// Resolve returns the entry with the greatest address <= addr, provided
// the distance is within the 64KiB cap; otherwise it reports no match.
func (t *Table) Resolve(addr uint64) (Symbol, bool) {
	if len(t.symbols) == 0 {
		return Symbol{}, false
	}
	i := sort.Search(len(t.symbols), func(i int) bool {
		return t.symbols[i].Addr > addr
	})
	if i == 0 {
		return Symbol{}, false
	}
	sym := t.symbols[i-1]
	if addr-sym.Addr >= maxResolveDistance {
		return Symbol{}, false
	}
	return sym, true
}

// Len reports the number of retained symbols.
func (t *Table) Len() int { return len(t.symbols) }
