// Package pclntab parses the Go runtime's in-binary function table
// ("gopclntab"), the section symtab.go in the Go runtime writes at link
// time. Four on-wire layouts have shipped over the years; this package
// normalizes all of them behind a single Table and Symbolize.
//
// See http://golang.org/s/go12symtab for the Go 1.2 version this format
// descends from.
package pclntab

import (
	"encoding/binary"
	"errors"
	"sort"
)

// Magic identifies the on-wire layout of a gopclntab section.
type Magic uint32

// Known gopclntab magic numbers, oldest first.
const (
	MagicV1_2  Magic = 0xfffffffb
	MagicV1_16 Magic = 0xfffffffa
	MagicV1_18 Magic = 0xfffffff0
	MagicV1_20 Magic = 0xfffffff1
)

// Version is the detected gopclntab layout version.
type Version int

// Known layout versions, in the order they shipped.
const (
	VersionUnknown Version = iota
	Version1_2
	Version1_16
	Version1_18
	Version1_20
)

func versionForMagic(m Magic) Version {
	switch m {
	case MagicV1_2:
		return Version1_2
	case MagicV1_16:
		return Version1_16
	case MagicV1_18:
		return Version1_18
	case MagicV1_20:
		return Version1_20
	default:
		return VersionUnknown
	}
}

// ErrNotParsed is returned when the section header is malformed or an
// offset it contains is out of range. The caller should fall through to
// a lower-priority symbol source; it must not abort the whole load.
var ErrNotParsed = errors.New("pclntab: not parsed")

// Symbol is the result of resolving a PC against the function table.
type Symbol struct {
	Name string
	File string
	Line int
}

// layout isolates the wire differences between the legacy (v1.2, v1.16)
// and offset-based (v1.18, v1.20) function lookup tables, so Table.Symbolize
// branches on version exactly once, at construction, instead of scattering
// conditionals through the resolution path.
type layout interface {
	// funcMapEntrySize is the byte width of one functab lookup entry.
	funcMapEntrySize() int
	// funcMapEntry reads the i-th lookup entry: the function's start PC
	// (already absolute) and the byte offset of its function record
	// within funcdata.
	funcMapEntry(functab []byte, i int) (startPC uint64, funcOff uint64, ok bool)
	// funcEntryPC reads the function record's leading PC field at
	// funcOff and returns the absolute start PC plus the offset of the
	// fixed-size record that follows it.
	funcEntryPC(funcdata []byte, funcOff uint64) (pc uint64, recOff uint64, ok bool)
}

type legacyLayout struct {
	ptrSize uint8
}

func (l legacyLayout) funcMapEntrySize() int { return 2 * int(l.ptrSize) }

func (l legacyLayout) funcMapEntry(functab []byte, i int) (uint64, uint64, bool) {
	off := i * l.funcMapEntrySize()
	w := int(l.ptrSize)
	if off+2*w > len(functab) {
		return 0, 0, false
	}
	pc, ok := readUint(functab[off:off+w], l.ptrSize)
	if !ok {
		return 0, 0, false
	}
	funcOff, ok := readUint(functab[off+w:off+2*w], l.ptrSize)
	if !ok {
		return 0, 0, false
	}
	return pc, funcOff, true
}

func (l legacyLayout) funcEntryPC(funcdata []byte, funcOff uint64) (uint64, uint64, bool) {
	w := int(l.ptrSize)
	start := int(funcOff)
	if start < 0 || start+w > len(funcdata) {
		return 0, 0, false
	}
	pc, ok := readUint(funcdata[start:start+w], l.ptrSize)
	if !ok {
		return 0, 0, false
	}
	return pc, funcOff + uint64(w), true
}

type offsetLayout struct {
	textStart uint64
}

func (offsetLayout) funcMapEntrySize() int { return 8 }

func (l offsetLayout) funcMapEntry(functab []byte, i int) (uint64, uint64, bool) {
	off := i * 8
	if off+8 > len(functab) {
		return 0, 0, false
	}
	pcOff := binary.LittleEndian.Uint32(functab[off : off+4])
	funcOff := binary.LittleEndian.Uint32(functab[off+4 : off+8])
	return l.textStart + uint64(pcOff), uint64(funcOff), true
}

func (l offsetLayout) funcEntryPC(funcdata []byte, funcOff uint64) (uint64, uint64, bool) {
	start := int(funcOff)
	if start < 0 || start+4 > len(funcdata) {
		return 0, 0, false
	}
	pcOff := binary.LittleEndian.Uint32(funcdata[start : start+4])
	return l.textStart + uint64(pcOff), funcOff + 4, true
}

// funcRecord is the version-independent tail of a function record, read
// as plain little-endian fields -- never an unsafe cast over a packed
// struct, since alignment of the mapped section isn't guaranteed.
type funcRecord struct {
	nameOff   int32
	argsSize  int32
	frameSize int32
	pcspOff   int32
	pcfileOff int32
	pclnOff   int32
	nfuncdata int32
	npcdata   int32
}

const funcRecordSize = 32

func readFuncRecord(data []byte, off uint64) (funcRecord, bool) {
	start := int(off)
	if start < 0 || start+funcRecordSize > len(data) {
		return funcRecord{}, false
	}
	b := data[start : start+funcRecordSize]
	return funcRecord{
		nameOff:   int32(binary.LittleEndian.Uint32(b[0:4])),
		argsSize:  int32(binary.LittleEndian.Uint32(b[4:8])),
		frameSize: int32(binary.LittleEndian.Uint32(b[8:12])),
		pcspOff:   int32(binary.LittleEndian.Uint32(b[12:16])),
		pcfileOff: int32(binary.LittleEndian.Uint32(b[16:20])),
		pclnOff:   int32(binary.LittleEndian.Uint32(b[20:24])),
		nfuncdata: int32(binary.LittleEndian.Uint32(b[24:28])),
		npcdata:   int32(binary.LittleEndian.Uint32(b[28:32])),
	}, true
}

// Table is a parsed gopclntab section, ready to symbolize absolute PCs.
type Table struct {
	version   Version
	quantum   uint8
	ptrSize   uint8
	textStart uint64
	numFuncs  int

	funcnametab []byte
	filetab     []byte
	cutab       []byte
	pctab       []byte
	functab     []byte
	funcdata    []byte

	layout layout
}

// Version reports the detected on-wire layout.
func (t *Table) Version() Version { return t.version }

// NumFuncs reports the number of functions in the lookup table.
func (t *Table) NumFuncs() int { return t.numFuncs }

// Parse parses a gopclntab section. It never panics on malformed input;
// callers should treat a non-nil error as "skip this subsystem", per the
// failure semantics in the resolver core.
func Parse(data []byte) (*Table, error) {
	if len(data) < 8 {
		return nil, ErrNotParsed
	}
	magic := Magic(binary.LittleEndian.Uint32(data[0:4]))
	version := versionForMagic(magic)
	if version == VersionUnknown {
		return nil, ErrNotParsed
	}
	if data[4] != 0 || data[5] != 0 {
		return nil, ErrNotParsed
	}
	quantum := data[6]
	ptrSize := data[7]
	if ptrSize != 4 && ptrSize != 8 {
		return nil, ErrNotParsed
	}

	numFuncs64, ok := readUint(sliceOrEmpty(data, 8, 8+int(ptrSize)), ptrSize)
	if !ok || numFuncs64 > uint64(len(data)) {
		return nil, ErrNotParsed
	}
	numFuncs := int(numFuncs64)

	t := &Table{
		version:  version,
		quantum:  quantum,
		ptrSize:  ptrSize,
		numFuncs: numFuncs,
	}

	switch version {
	case Version1_2:
		if err := t.parseV1_2(data); err != nil {
			return nil, err
		}
	case Version1_16:
		if err := t.parseV1_16(data); err != nil {
			return nil, err
		}
	case Version1_18, Version1_20:
		if err := t.parseV1_18(data); err != nil {
			return nil, err
		}
	default:
		return nil, ErrNotParsed
	}

	return t, nil
}

// parseV1_2 implements the Go 1.2 layout. The real format stores
// funcoff/pcfile/pcln offsets relative to the pclntab section itself
// rather than to dedicated sub-tables, so funcnametab/pctab/funcdata are
// re-sliced views of the same backing array (a free operation in Go,
// unlike a byte-for-byte clone) instead of separate copies. Only the
// file table gets a derived offset, per the header field that follows
// the function lookup table. See DESIGN.md for why this departs from a
// straight port of the reference implementation's clone-everything
// fallback.
func (t *Table) parseV1_2(data []byte) error {
	hdrSize := 8 + int(t.ptrSize)
	entrySize := 2 * int(t.ptrSize)
	functabEnd := hdrSize + t.numFuncs*entrySize
	if functabEnd+4 > len(data) {
		return ErrNotParsed
	}
	filetabOffset := int(binary.LittleEndian.Uint32(data[functabEnd : functabEnd+4]))
	if filetabOffset <= 0 || filetabOffset+4 > len(data) {
		return ErrNotParsed
	}
	numSourceFiles := binary.LittleEndian.Uint32(data[filetabOffset : filetabOffset+4])
	if numSourceFiles == 0 {
		return ErrNotParsed
	}

	t.functab = data[hdrSize:functabEnd]
	t.cutab = data[filetabOffset:]
	// name/file/pctab offsets are pclntab-relative in this layout.
	t.funcnametab = data
	t.pctab = data
	t.filetab = data
	t.funcdata = data
	t.layout = legacyLayout{ptrSize: t.ptrSize}
	return nil
}

// header116 offsets, read as plain little-endian uintptr-width fields
// immediately after the common header.
type header116Offsets struct {
	nfiles         uint64
	funcnameOffset uint64
	cuOffset       uint64
	filetabOffset  uint64
	pctabOffset    uint64
	pclnOffset     uint64
}

func readHeader116(data []byte, ptrSize uint8) (header116Offsets, bool) {
	w := int(ptrSize)
	base := 8 + w // past magic/pad/quantum/ptrsize/numFuncs
	need := base + 6*w
	if need > len(data) {
		return header116Offsets{}, false
	}
	fields := make([]uint64, 6)
	for i := 0; i < 6; i++ {
		v, ok := readUint(data[base+i*w:base+(i+1)*w], ptrSize)
		if !ok {
			return header116Offsets{}, false
		}
		fields[i] = v
	}
	return header116Offsets{
		nfiles:         fields[0],
		funcnameOffset: fields[1],
		cuOffset:       fields[2],
		filetabOffset:  fields[3],
		pctabOffset:    fields[4],
		pclnOffset:     fields[5],
	}, true
}

func (t *Table) parseV1_16(data []byte) error {
	h, ok := readHeader116(data, t.ptrSize)
	if !ok {
		return ErrNotParsed
	}
	if !withinBounds(data, h.funcnameOffset) || !withinBounds(data, h.cuOffset) ||
		!withinBounds(data, h.filetabOffset) || !withinBounds(data, h.pctabOffset) ||
		!withinBounds(data, h.pclnOffset) {
		return ErrNotParsed
	}
	t.funcnametab = data[h.funcnameOffset:]
	t.cutab = data[h.cuOffset:]
	t.filetab = data[h.filetabOffset:]
	t.pctab = data[h.pctabOffset:]
	t.functab = data[h.pclnOffset:]
	// funcOff values stored in functab entries are offsets from the start
	// of the whole gopclntab section, not from pclnOffset -- funcdata
	// must index the same base as parseV1_2's re-sliced view.
	t.funcdata = data
	t.layout = legacyLayout{ptrSize: t.ptrSize}
	return nil
}

func (t *Table) parseV1_18(data []byte) error {
	w := int(t.ptrSize)
	base := 8 + w
	need := base + 7*w
	if need > len(data) {
		return ErrNotParsed
	}
	fields := make([]uint64, 7)
	for i := 0; i < 7; i++ {
		v, ok := readUint(data[base+i*w:base+(i+1)*w], t.ptrSize)
		if !ok {
			return ErrNotParsed
		}
		fields[i] = v
	}
	// fields: nfiles, textStart, funcnameOffset, cuOffset, filetabOffset, pctabOffset, pclnOffset
	textStart := fields[1]
	funcnameOffset := fields[2]
	cuOffset := fields[3]
	filetabOffset := fields[4]
	pctabOffset := fields[5]
	pclnOffset := fields[6]

	if !withinBounds(data, funcnameOffset) || !withinBounds(data, cuOffset) ||
		!withinBounds(data, filetabOffset) || !withinBounds(data, pctabOffset) ||
		!withinBounds(data, pclnOffset) {
		return ErrNotParsed
	}

	t.textStart = textStart
	t.funcnametab = data[funcnameOffset:]
	t.cutab = data[cuOffset:]
	t.filetab = data[filetabOffset:]
	t.pctab = data[pctabOffset:]
	t.functab = data[pclnOffset:]
	// funcOff values stored in functab entries are offsets from the start
	// of the whole gopclntab section, not from pclnOffset -- funcdata
	// must index the same base as parseV1_2's re-sliced view.
	t.funcdata = data
	t.layout = offsetLayout{textStart: textStart}
	return nil
}

func withinBounds(data []byte, off uint64) bool {
	return off <= uint64(len(data))
}

func sliceOrEmpty(data []byte, lo, hi int) []byte {
	if lo > len(data) || hi > len(data) || lo > hi {
		return nil
	}
	return data[lo:hi]
}

func readUint(b []byte, width uint8) (uint64, bool) {
	switch width {
	case 4:
		if len(b) < 4 {
			return 0, false
		}
		return uint64(binary.LittleEndian.Uint32(b)), true
	case 8:
		if len(b) < 8 {
			return 0, false
		}
		return binary.LittleEndian.Uint64(b), true
	default:
		return 0, false
	}
}

func readCString(data []byte, off int) string {
	if off < 0 || off >= len(data) {
		return ""
	}
	end := off
	for end < len(data) && data[end] != 0 {
		end++
	}
	return string(data[off:end])
}

func readInt32At(data []byte, off int) (int32, bool) {
	if off < 0 || off+4 > len(data) {
		return 0, false
	}
	return int32(binary.LittleEndian.Uint32(data[off : off+4])), true
}

// Symbolize resolves an absolute program counter to a function, file and
// line, per the algorithm in the resolution core. It returns ok=false on
// any parse miss; the caller falls through to the next priority tier.
func (t *Table) Symbolize(pc uint64) (Symbol, bool) {
	if t.numFuncs == 0 || t.layout == nil {
		return Symbol{}, false
	}

	i := sort.Search(t.numFuncs, func(i int) bool {
		startPC, _, ok := t.layout.funcMapEntry(t.functab, i)
		if !ok {
			return true
		}
		return startPC > pc
	})
	if i == 0 {
		return Symbol{}, false
	}
	idx := i - 1
	mapPC, funcOff, ok := t.layout.funcMapEntry(t.functab, idx)
	if !ok {
		return Symbol{}, false
	}
	funcPC, recOff, ok := t.layout.funcEntryPC(t.funcdata, funcOff)
	if !ok || funcPC != mapPC {
		return Symbol{}, false
	}
	// pc must fall strictly before the next function's start (or, at the
	// tail, within tailWindow of this one) -- a larger gap marks a PC
	// outside the managed code, which must not be misattributed to the
	// last-seen function.
	if pc >= t.upperBound(idx, funcPC) {
		return Symbol{}, false
	}
	rec, ok := readFuncRecord(t.funcdata, recOff)
	if !ok {
		return Symbol{}, false
	}
	name := readCString(t.funcnametab, int(rec.nameOff))
	if name == "" {
		return Symbol{}, false
	}

	sym := Symbol{Name: name}

	if rec.pcfileOff != 0 {
		if fileIdx, ok := t.evalLane(rec.pcfileOff, funcPC, pc); ok {
			if t.version == Version1_16 || t.version == Version1_18 || t.version == Version1_20 {
				fileIdx += rec.npcdata
			}
			if off, ok := readInt32At(t.cutab, int(fileIdx)*4); ok {
				sym.File = readCString(t.filetab, int(off))
			}
		}
	}
	if rec.pclnOff != 0 {
		if line, ok := t.evalLane(rec.pclnOff, funcPC, pc); ok {
			sym.Line = int(line)
		}
	}

	return sym, true
}

// tailWindow bounds how far past the last function's start a PC may
// still be attributed to it, per spec.md §3's managed-code boundary
// invariant: entry_pc[i] <= PC < next.entry_pc, or entry_pc + 64KiB at
// the tail where there is no next entry to bound against.
const tailWindow = 64 * 1024

// upperBound returns the exclusive PC boundary past which idx's function
// record must not be matched: the next function's start PC, or
// funcPC+tailWindow when idx is the last entry in the table.
func (t *Table) upperBound(idx int, funcPC uint64) uint64 {
	if idx+1 < t.numFuncs {
		if nextPC, _, ok := t.layout.funcMapEntry(t.functab, idx+1); ok {
			return nextPC
		}
	}
	return funcPC + tailWindow
}

func (t *Table) evalLane(off int32, startPC, pc uint64) (int32, bool) {
	if off < 0 || int(off) >= len(t.pctab) {
		return 0, false
	}
	lane := newDeltaLane(t.pctab[off:], startPC, t.quantum)
	return lane.valueAt(pc)
}
