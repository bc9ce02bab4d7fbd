// Package runtimeinfo detects the Go runtime version embedded in a
// target binary and the per-version offsets derived from it.
package runtimeinfo

import (
	"bytes"
	"debug/buildinfo"
	"fmt"
	"io"
	"regexp"
	"strconv"
)

// Descriptor is a fixed record derived from the target binary at
// construction time.
type Descriptor struct {
	Version      string
	Quantum      uint8
	PtrSize      uint8
	TextStart    uint64
	GoroutineTLS GoroutineOffsets
}

// GoroutineOffsets are per-version struct offsets for the current
// goroutine descriptor. They are exposed for downstream consumers but
// are not used by the symbol-resolution core itself.
type GoroutineOffsets struct {
	CurrentG  int64
	StackLow  int64
	StackHigh int64
}

// defaultOffsets is the newest known offset table, used whenever the
// detected (or assumed) version has no dedicated entry.
var defaultOffsets = GoroutineOffsets{CurrentG: 0x18, StackLow: 0x0, StackHigh: 0x8}

// perVersionOffsets holds the small set of versions with a dedicated
// goroutine-descriptor entry (1.16's entry currently equals
// defaultOffsets); every other version uses defaultOffsets.
var perVersionOffsets = map[string]GoroutineOffsets{
	"1.2":  {CurrentG: 0x20, StackLow: 0x0, StackHigh: 0x8},
	"1.16": {CurrentG: 0x18, StackLow: 0x0, StackHigh: 0x8},
}

var versionPattern = regexp.MustCompile(`\bv(1)\.(\d+)(?:\.(\d+))?\b`)

// Detect scans data for a version token, falling back to the build-info
// section, and returns a populated Descriptor. It never fails on an
// unrecognized or missing version: absent a match, it defaults to the
// newest known minor and logs via the returned ok=false so the caller
// can warn without treating this as fatal.
func Detect(data []byte, quantum, ptrSize uint8, textStart uint64) (Descriptor, bool) {
	version, ok := scanVersionToken(data)
	if !ok {
		version, ok = readBuildInfoVersion(data)
	}
	if !ok {
		version = newestKnownVersion()
	}

	offsets, hasOffsets := perVersionOffsets[minorOnly(version)]
	if !hasOffsets {
		offsets = defaultOffsets
	}

	return Descriptor{
		Version:      version,
		Quantum:      quantum,
		PtrSize:      ptrSize,
		TextStart:    textStart,
		GoroutineTLS: offsets,
	}, ok
}

// scanVersionToken looks for the first `v1.<minor>[.<patch>]` token in
// data and validates that minor/patch parse as integers.
func scanVersionToken(data []byte) (string, bool) {
	loc := versionPattern.FindSubmatch(data)
	if loc == nil {
		return "", false
	}
	major := string(loc[1])
	minorStr := string(loc[2])
	if _, err := strconv.Atoi(minorStr); err != nil {
		return "", false
	}
	version := major + "." + minorStr
	if len(loc[3]) > 0 {
		patchStr := string(loc[3])
		if _, err := strconv.Atoi(patchStr); err != nil {
			return version, true
		}
		version += "." + patchStr
	}
	return version, true
}

// readBuildInfoVersion consults the .go.buildinfo section, skipping its
// 16-byte magic/preamble, via the stdlib build-info reader.
func readBuildInfoVersion(data []byte) (string, bool) {
	if len(data) < 16 {
		return "", false
	}
	info, err := buildinfo.Read(bytes.NewReader(data))
	if err != nil {
		return "", false
	}
	v := info.GoVersion
	if len(v) > 2 && v[:2] == "go" {
		v = v[2:]
	}
	return v, v != ""
}

func newestKnownVersion() string { return "1.20" }

// minorOnly strips a patch component, e.g. "1.20.3" -> "1.20", since
// the goroutine-offset tables are keyed by minor version only.
func minorOnly(version string) string {
	dots := 0
	for i, r := range version {
		if r == '.' {
			dots++
			if dots == 2 {
				return version[:i]
			}
		}
	}
	return version
}

// ReadAt reads the whole content of r into memory for version
// detection, mirroring the teacher's pattern of operating on a fully
// buffered view of the target binary rather than streaming it.
func ReadAt(r io.ReaderAt, size int64) ([]byte, error) {
	buf := make([]byte, size)
	if _, err := r.ReadAt(buf, 0); err != nil && err != io.EOF {
		return nil, fmt.Errorf("runtimeinfo: read binary: %w", err)
	}
	return buf, nil
}
