package procmaps

import (
	"strings"
	"testing"
)

const sampleMaps = `` +
	"00400000-00401000 r--p 00000000 08:01 123456 /usr/bin/target\n" +
	"00401000-00452000 r-xp 00001000 08:01 123456 /usr/bin/target\n" +
	"00452000-00460000 rw-p 00052000 08:01 123456 /usr/bin/target\n" +
	"7f0000000000-7f0000021000 rw-p 00000000 00:00 0 [heap]\n" +
	"7fff00000000-7fff00022000 rw-p 00000000 00:00 0 [stack]\n"

func TestReadParsesPermsAndPath(t *testing.T) {
	mappings, err := Read(strings.NewReader(sampleMaps))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(mappings) != 5 {
		t.Fatalf("len(mappings) = %d, want 5", len(mappings))
	}

	exe := mappings[1]
	if !exe.Readable() || !exe.Executable() {
		exeWant := "r-xp"
		t.Fatalf("mappings[1].Perms = %q, want readable+executable like %q", exe.Perms, exeWant)
	}
	if exe.Path != "/usr/bin/target" {
		t.Fatalf("mappings[1].Path = %q, want /usr/bin/target", exe.Path)
	}

	heap := mappings[3]
	if heap.Executable() {
		t.Fatal("[heap] mapping should not be executable")
	}
}

func TestLoadBiasSelectsFirstMatchOnly(t *testing.T) {
	mappings, err := Read(strings.NewReader(sampleMaps))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	bias := LoadBias(mappings, "/usr/bin/target", 0xdeadbeef)
	if bias != 0x00401000 {
		t.Fatalf("LoadBias = 0x%x, want 0x401000", bias)
	}
}

func TestLoadBiasRejectsNonExecutableOnlyMatch(t *testing.T) {
	const maps = "00400000-00401000 rw-p 00000000 08:01 1 /usr/bin/target\n"
	mappings, err := Read(strings.NewReader(maps))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	const fallback = 0xdead
	bias := LoadBias(mappings, "/usr/bin/target", fallback)
	if bias != fallback {
		t.Fatalf("LoadBias = 0x%x, want fallback 0x%x (an rw-p mapping without execute must not match)", bias, fallback)
	}
}

func TestLoadBiasFallsBackWhenNoMatch(t *testing.T) {
	mappings, err := Read(strings.NewReader(sampleMaps))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	bias := LoadBias(mappings, "/usr/bin/other", 0x1234)
	if bias != 0x1234 {
		t.Fatalf("LoadBias = 0x%x, want fallback 0x1234", bias)
	}
}

func TestMappingForAddr(t *testing.T) {
	mappings, err := Read(strings.NewReader(sampleMaps))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	m, ok := MappingForAddr(mappings, 0x00401500)
	if !ok {
		t.Fatal("MappingForAddr missed a known address")
	}
	if m.Path != "/usr/bin/target" {
		t.Fatalf("MappingForAddr path = %q, want /usr/bin/target", m.Path)
	}

	if _, ok := MappingForAddr(mappings, 0xffffffffff); ok {
		t.Fatal("MappingForAddr matched an address outside every mapping")
	}
}
