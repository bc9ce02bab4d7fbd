// Package resolverbuild builds a symbolizer.Resolver for a target PID,
// shared by every command that needs one: cmd/goprofile builds it once
// before attaching a profiling session, cmd/resolveaddr builds it once
// to answer a single address lookup.
package resolverbuild

import (
	"debug/elf"
	"fmt"
	"os"
	"runtime"

	"github.com/google/pprof/profile"

	"goprofile/internal/dwarfline"
	"goprofile/internal/kallsyms"
	"goprofile/internal/logging"
	"goprofile/internal/pclntab"
	"goprofile/internal/procmaps"
	"goprofile/internal/runtimeinfo"
	"goprofile/internal/symbolizer"
)

// Build constructs a Resolver for pid's executable: every table is built
// once from the target executable, which is opened with debug/elf and
// read whole into memory with os.ReadFile (it is not memory-mapped), and
// held read-only for the rest of the run.
// Missing or malformed sections degrade the resolver rather than
// failing the build, per spec.md §7; log carries the warnings. The
// second return value is pid's process mappings converted to pprof's own
// interchange type, for callers that export a pprof-format profile.
func Build(pid int, log *logging.Logger) (*symbolizer.Resolver, []*profile.Mapping, error) {
	exePath := fmt.Sprintf("/proc/%d/exe", pid)
	f, err := elf.Open(exePath)
	if err != nil {
		return nil, nil, fmt.Errorf("open target executable: %w", err)
	}
	defer f.Close()

	data, err := os.ReadFile(exePath)
	if err != nil {
		return nil, nil, fmt.Errorf("read target executable: %w", err)
	}

	quantum := pclntab.QuantumForArch(runtime.GOARCH)
	desc, ok := runtimeinfo.Detect(data, quantum, 8, 0)
	if !ok {
		log.Warn("could not detect Go runtime version for pid %d, using defaults (%s)", pid, desc.Version)
	}

	mappings, err := procmaps.ReadPID(pid)
	if err != nil {
		log.Warn("failed to read process maps for pid %d: %v", pid, err)
	}
	bias := procmaps.LoadBias(mappings, exePath, 0)

	var kernelTable *kallsyms.Table
	if kf, err := os.Open("/proc/kallsyms"); err != nil {
		log.Warn("failed to open /proc/kallsyms: %v", err)
	} else {
		defer kf.Close()
		if kernelTable, err = kallsyms.Load(kf); err != nil {
			log.Warn("failed to parse /proc/kallsyms: %v", err)
		}
	}

	var lineTable *dwarfline.LineTable
	if d, err := f.DWARF(); err != nil {
		log.Warn("no usable debug info for pid %d: %v", pid, err)
	} else if lt, err := dwarfline.Parse(d); err != nil {
		log.Warn("failed to parse debug-line sections for pid %d: %v", pid, err)
	} else {
		lineTable = lt
	}

	funcTable := loadFuncTable(f, quantum, log, pid)

	flat, err := f.Symbols()
	if err != nil {
		log.Warn("failed to read symbol table for pid %d: %v", pid, err)
	}

	return symbolizer.New(kernelTable, lineTable, funcTable, flat, bias), procmaps.ToProfileMappings(mappings), nil
}

// loadFuncTable reads and parses .gopclntab the normal way, falling back
// to a signature scan over every read-only data section when the named
// section is absent -- stripped from the section table but still present
// in .rodata -- per spec.md §4.D's signature-scan recovery path.
func loadFuncTable(f *elf.File, quantum uint8, log *logging.Logger, pid int) *pclntab.Table {
	if sec := f.Section(".gopclntab"); sec != nil {
		raw, err := sec.Data()
		if err != nil {
			log.Warn("failed to read .gopclntab for pid %d: %v", pid, err)
			return nil
		}
		pt, err := pclntab.Parse(raw)
		if err != nil {
			log.Warn("failed to parse .gopclntab for pid %d: %v", pid, err)
			return nil
		}
		return pt
	}

	for _, sec := range f.Sections {
		if sec.Flags&(elf.SHF_EXECINSTR|elf.SHF_WRITE) != 0 || sec.Type != elf.SHT_PROGBITS {
			continue
		}
		raw, err := sec.Data()
		if err != nil || len(raw) == 0 {
			continue
		}
		found, ok := pclntab.SearchSignature(raw, quantum)
		if !ok {
			continue
		}
		pt, err := pclntab.Parse(found)
		if err != nil {
			continue
		}
		log.Warn("recovered gopclntab via signature scan in section %q for pid %d", sec.Name, pid)
		return pt
	}

	log.Warn("no .gopclntab section and no signature-scan match for pid %d", pid)
	return nil
}
