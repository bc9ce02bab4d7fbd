package dwarfline

import (
	"debug/dwarf"
	"testing"
)

func TestSubprogramRangeAbsoluteHighPC(t *testing.T) {
	e := &dwarf.Entry{
		Tag: dwarf.TagSubprogram,
		Field: []dwarf.Field{
			{Attr: dwarf.AttrName, Val: "main.main"},
			{Attr: dwarf.AttrLowpc, Val: uint64(0x401000)},
			{Attr: dwarf.AttrHighpc, Val: uint64(0x401200)},
		},
	}
	frs, ok := subprogramRanges(&dwarf.Data{}, e)
	if !ok {
		t.Fatal("subprogramRanges should succeed")
	}
	if len(frs) != 1 || frs[0].name != "main.main" || frs[0].lowPC != 0x401000 || frs[0].highPC != 0x401200 {
		t.Fatalf("got %+v", frs)
	}
}

func TestSubprogramRangeOffsetHighPC(t *testing.T) {
	// debug/dwarf decodes DW_AT_high_pc as int64, not uint64, when the
	// producer used a constant form (DW_FORM_data4/8) to store it as a
	// length offset from low_pc rather than a second absolute address --
	// the common case for DWARF4+ output from gcc/clang.
	e := &dwarf.Entry{
		Tag: dwarf.TagSubprogram,
		Field: []dwarf.Field{
			{Attr: dwarf.AttrName, Val: "main.helper"},
			{Attr: dwarf.AttrLowpc, Val: uint64(0x401200)},
			{Attr: dwarf.AttrHighpc, Val: int64(0x40)}, // length, not absolute
		},
	}
	frs, ok := subprogramRanges(&dwarf.Data{}, e)
	if !ok {
		t.Fatal("subprogramRanges should succeed")
	}
	if len(frs) != 1 || frs[0].highPC != 0x401240 {
		t.Fatalf("highPC = 0x%x, want 0x401240 (low_pc + length)", frs[0].highPC)
	}
}

func TestSubprogramRangeMissingFieldsRejected(t *testing.T) {
	e := &dwarf.Entry{Tag: dwarf.TagSubprogram}
	if _, ok := subprogramRanges(&dwarf.Data{}, e); ok {
		t.Fatal("subprogramRanges should reject an entry with no name/range")
	}
}

func TestSubprogramRangeNoLowHighRejectedWithoutRanges(t *testing.T) {
	// A subprogram with a name but neither a low_pc/high_pc pair nor a
	// DW_AT_ranges attribute (so d.Ranges returns nil, nil) must be
	// rejected rather than back-filling a bogus zero-width range.
	e := &dwarf.Entry{
		Tag:   dwarf.TagSubprogram,
		Field: []dwarf.Field{{Attr: dwarf.AttrName, Val: "main.abstract"}},
	}
	if _, ok := subprogramRanges(&dwarf.Data{}, e); ok {
		t.Fatal("subprogramRanges should reject a name-only entry with no PC info")
	}
}

func TestLookupGreatestAddressLE(t *testing.T) {
	tbl := &LineTable{lines: []Line{
		{Addr: 0x1000, File: "a.go", Line: 1},
		{Addr: 0x2000, File: "a.go", Line: 2},
		{Addr: 0x3000, File: "b.go", Line: 3},
	}}

	tt := []struct {
		addr     uint64
		wantLine int
		wantOK   bool
	}{
		{0x1000, 1, true},
		{0x1500, 1, true},
		{0x2000, 2, true},
		{0x3500, 3, true},
		{0x0FFF, 0, false},
	}
	for _, tc := range tt {
		l, ok := tbl.Lookup(tc.addr)
		if ok != tc.wantOK {
			t.Errorf("Lookup(0x%x) ok = %v, want %v", tc.addr, ok, tc.wantOK)
			continue
		}
		if ok && l.Line != tc.wantLine {
			t.Errorf("Lookup(0x%x).Line = %d, want %d", tc.addr, l.Line, tc.wantLine)
		}
	}
}

func TestBackfillAssignsFunctionByRange(t *testing.T) {
	tbl := &LineTable{lines: []Line{
		{Addr: 0x401000, File: "main.go", Line: 10},
		{Addr: 0x401100, File: "main.go", Line: 11},
	}}
	funcs := []funcRange{{name: "main.main", lowPC: 0x401000, highPC: 0x401200}}

	tbl.backfill(funcs)

	for _, l := range tbl.lines {
		if l.Function != "main.main" {
			t.Fatalf("line at 0x%x got function %q, want main.main", l.Addr, l.Function)
		}
	}
}
