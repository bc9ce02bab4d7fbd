package runtimeinfo

import "testing"

func TestDetectFindsVersionToken(t *testing.T) {
	data := []byte("some preamble bytes v1.18.4 trailing junk")
	desc, ok := Detect(data, 1, 8, 0x401000)
	if !ok {
		t.Fatal("Detect should report a found version")
	}
	if desc.Version != "1.18.4" {
		t.Fatalf("Version = %q, want 1.18.4", desc.Version)
	}
	if desc.Quantum != 1 || desc.PtrSize != 8 || desc.TextStart != 0x401000 {
		t.Fatalf("Descriptor fields not passed through: %+v", desc)
	}
}

func TestDetectRejectsMalformedToken(t *testing.T) {
	data := []byte("v1.x.y is not a real version")
	_, ok := Detect(data, 1, 8, 0)
	if ok {
		t.Fatal("Detect should not accept a malformed version token")
	}
}

func TestDetectDefaultsOnMiss(t *testing.T) {
	data := []byte("no version information here at all")
	desc, ok := Detect(data, 1, 8, 0)
	if ok {
		t.Fatal("Detect should report miss when nothing recognizable is present")
	}
	if desc.Version == "" {
		t.Fatal("Detect should still populate a default version on miss")
	}
}

func TestMinorOnlyStripsPatch(t *testing.T) {
	tt := []struct{ in, want string }{
		{"1.20.3", "1.20"},
		{"1.20", "1.20"},
		{"1.2", "1.2"},
	}
	for _, tc := range tt {
		if got := minorOnly(tc.in); got != tc.want {
			t.Errorf("minorOnly(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
