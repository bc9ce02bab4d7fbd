package aggregator

import (
	"bytes"
	"testing"

	"goprofile/internal/bpf"
)

func TestFoldStackJoinsFramesInOrder(t *testing.T) {
	resolve := func(pc uint64) string {
		switch pc {
		case 1:
			return "A"
		case 2:
			return "B"
		case 3:
			return "C"
		default:
			return "?"
		}
	}
	got := foldStack([]uint64{1, 2, 3}, resolve)
	if got != "A;B;C" {
		t.Fatalf("foldStack = %q, want A;B;C", got)
	}
}

func TestTracedFramesStopsAtZero(t *testing.T) {
	stack := []uint64{1, 2, 3, 0, 0, 0}
	got := tracedFrames(stack)
	if len(got) != 3 {
		t.Fatalf("tracedFrames len = %d, want 3", len(got))
	}
}

func TestWriteFoldedSumsDuplicateStacksRegardlessOfOrder(t *testing.T) {
	resolve := func(pc uint64) string {
		return map[uint64]string{0xa: "A", 0xb: "B", 0xc: "C"}[pc]
	}

	order1 := []Stack{
		{pcs: []uint64{0xa, 0xb}, count: 3},
		{pcs: []uint64{0xa, 0xc}, count: 5},
	}
	order2 := []Stack{
		{pcs: []uint64{0xa, 0xc}, count: 5},
		{pcs: []uint64{0xa, 0xb}, count: 3},
	}

	var buf1, buf2 bytes.Buffer
	if err := WriteFolded(&buf1, order1, resolve); err != nil {
		t.Fatalf("WriteFolded: %v", err)
	}
	if err := WriteFolded(&buf2, order2, resolve); err != nil {
		t.Fatalf("WriteFolded: %v", err)
	}

	if buf1.String() != buf2.String() {
		t.Fatalf("WriteFolded not commutative in key order:\n%q\nvs\n%q", buf1.String(), buf2.String())
	}

	want := "A;B 3\nA;C 5\n"
	if buf1.String() != want {
		t.Fatalf("WriteFolded = %q, want %q", buf1.String(), want)
	}
}

func TestWriteFoldedSumsIdenticalStackStrings(t *testing.T) {
	resolve := func(pc uint64) string { return "A" }
	stacks := []Stack{
		{pcs: []uint64{1}, count: 2},
		{pcs: []uint64{2}, count: 4}, // resolves to the same folded string "A"
	}

	var buf bytes.Buffer
	if err := WriteFolded(&buf, stacks, resolve); err != nil {
		t.Fatalf("WriteFolded: %v", err)
	}
	if got, want := buf.String(), "A 6\n"; got != want {
		t.Fatalf("WriteFolded = %q, want %q", got, want)
	}
}

func TestAccumulatorMergeReplacesCountKeepsFirstFrames(t *testing.T) {
	acc := NewAccumulator()
	key := bpf.ProfileKey{PID: 1, UserStackID: 10, KernelStackID: -1}

	acc.Merge([]Stack{{Key: key, pcs: []uint64{0xa, 0xb}, count: 3}})
	acc.Merge([]Stack{{Key: key, pcs: []uint64{0xc, 0xd}, count: 7}})

	snap := acc.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("Snapshot len = %d, want 1", len(snap))
	}
	got := snap[0]
	if got.count != 7 {
		t.Fatalf("count = %d, want 7 (later snapshot's cumulative count)", got.count)
	}
	if len(got.pcs) != 2 || got.pcs[0] != 0xa || got.pcs[1] != 0xb {
		t.Fatalf("pcs = %v, want first-seen frames [0xa 0xb]", got.pcs)
	}
}

func TestAccumulatorMergeKeepsDistinctKeysSeparate(t *testing.T) {
	acc := NewAccumulator()
	k1 := bpf.ProfileKey{PID: 1, UserStackID: 1, KernelStackID: -1}
	k2 := bpf.ProfileKey{PID: 2, UserStackID: 2, KernelStackID: -1}

	acc.Merge([]Stack{
		{Key: k1, pcs: []uint64{0x1}, count: 1},
		{Key: k2, pcs: []uint64{0x2}, count: 2},
	})

	snap := acc.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("Snapshot len = %d, want 2", len(snap))
	}
}
