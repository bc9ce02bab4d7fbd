// Package dwarfline reads the compilation-unit/line-program/subprogram
// entries of a target binary's debug information and builds an
// address-to-source map, following the cross-linking design note: the
// address map is built first with no function names, then a second
// pass over subprogram ranges back-fills the function for each address
// already recorded, rather than threading back-pointers through the
// first pass.
package dwarfline

import (
	"debug/dwarf"
	"sort"
)

// Line is one resolved debug-line record.
type Line struct {
	Addr     uint64
	File     string
	Line     int
	Column   int
	Function string // empty until back-filled by the second pass
}

// LineTable is a sorted, address-queryable line table.
type LineTable struct {
	lines []Line
}

type funcRange struct {
	name          string
	lowPC, highPC uint64
}

// Parse walks every compilation unit's line program, then every
// subprogram's PC range, producing a LineTable. A compilation unit
// without a readable line program, or a subprogram without a usable
// name or PC range, is skipped individually; an error from the entry
// reader itself ends the walk and is returned. d itself must already
// have been opened successfully by the caller (e.g. via
// (*elf.File).DWARF()).
func Parse(d *dwarf.Data) (*LineTable, error) {
	t := &LineTable{}
	var funcs []funcRange

	r := d.Reader()
	for {
		entry, err := r.Next()
		if err != nil {
			return nil, err
		}
		if entry == nil {
			break
		}

		switch entry.Tag {
		case dwarf.TagCompileUnit:
			lr, err := d.LineReader(entry)
			if err != nil || lr == nil {
				continue
			}
			var le dwarf.LineEntry
			for {
				if err := lr.Next(&le); err != nil {
					break
				}
				if le.EndSequence {
					continue
				}
				t.lines = append(t.lines, Line{
					Addr:   le.Address,
					File:   fileName(le.File),
					Line:   le.Line,
					Column: le.Column,
				})
			}

		case dwarf.TagSubprogram:
			if frs, ok := subprogramRanges(d, entry); ok {
				funcs = append(funcs, frs...)
			}
		}
	}

	sort.Slice(t.lines, func(i, j int) bool { return t.lines[i].Addr < t.lines[j].Addr })

	t.backfill(funcs)

	return t, nil
}

// backfill is the second pass: it writes each subprogram's name into
// every recorded line whose address falls inside one of its ranges.
func (t *LineTable) backfill(funcs []funcRange) {
	for i := range t.lines {
		addr := t.lines[i].Addr
		for _, fr := range funcs {
			if addr >= fr.lowPC && addr < fr.highPC {
				t.lines[i].Function = fr.name
				break
			}
		}
	}
}

func fileName(f *dwarf.LineFile) string {
	if f == nil {
		return ""
	}
	return f.Name
}

// subprogramRanges returns every PC range a subprogram entry covers: the
// single low_pc/high_pc range most entries carry, or, for a subprogram
// split across non-contiguous code (common for split or inlined
// functions), every segment named by a DW_AT_ranges list.
func subprogramRanges(d *dwarf.Data, e *dwarf.Entry) ([]funcRange, bool) {
	name, _ := e.Val(dwarf.AttrName).(string)
	if name == "" {
		return nil, false
	}
	if fr, ok := lowHighRange(e, name); ok {
		return []funcRange{fr}, true
	}
	// No direct low_pc/high_pc pair -- fall back to the entry's ranges
	// list, which d.Ranges resolves to absolute [low, high) pairs for
	// both the DWARF2-4 DW_AT_ranges form and the DWARF5 rnglists form.
	ranges, err := d.Ranges(e)
	if err != nil || len(ranges) == 0 {
		return nil, false
	}
	frs := make([]funcRange, 0, len(ranges))
	for _, rg := range ranges {
		if rg[1] <= rg[0] {
			continue
		}
		frs = append(frs, funcRange{name: name, lowPC: rg[0], highPC: rg[1]})
	}
	if len(frs) == 0 {
		return nil, false
	}
	return frs, true
}

func lowHighRange(e *dwarf.Entry, name string) (funcRange, bool) {
	lowPC, ok := e.Val(dwarf.AttrLowpc).(uint64)
	if !ok {
		return funcRange{}, false
	}
	// DW_AT_high_pc decodes as uint64 when the producer used an address
	// form (an absolute address), but as int64 when it used a constant
	// form -- the common case, since most DWARF4+ producers encode
	// high_pc as a length offset from low_pc rather than a second
	// absolute address.
	var highPC uint64
	switch v := e.Val(dwarf.AttrHighpc).(type) {
	case uint64:
		highPC = v
	case int64:
		highPC = lowPC + uint64(v)
	default:
		return funcRange{}, false
	}
	return funcRange{name: name, lowPC: lowPC, highPC: highPC}, true
}

// Lookup returns the exact match at addr, or else the greatest-address
// entry <= addr (no distance cap: callers treat a stale hit as
// acceptable since this source already outranks the heuristic
// fallbacks in the resolver's priority order).
func (t *LineTable) Lookup(addr uint64) (Line, bool) {
	if len(t.lines) == 0 {
		return Line{}, false
	}
	i := sort.Search(len(t.lines), func(i int) bool { return t.lines[i].Addr > addr })
	if i == 0 {
		return Line{}, false
	}
	return t.lines[i-1], true
}

// Len reports the number of recorded line entries.
func (t *LineTable) Len() int { return len(t.lines) }
