package pclntab

// deltaLane walks a delta-compressed PC->value program: a stream of
// unsigned-LEB128 pairs (delta_value, delta_pc). delta_value is
// zig-zag decoded and added to a running val; delta_pc is multiplied by
// the instruction-alignment quantum and added to a running pc_end. The
// program terminates at a zero opening byte.
type deltaLane struct {
	data    []byte
	pos     int
	quantum uint8

	val   int32
	pcEnd uint64
}

// newDeltaLane creates a lane rooted at a function's start PC and
// performs the mandatory first step, matching the reference resolver's
// construction-time step.
func newDeltaLane(data []byte, startPC uint64, quantum uint8) *deltaLane {
	l := &deltaLane{
		data:    data,
		quantum: quantum,
		val:     -1,
		pcEnd:   startPC,
	}
	l.step()
	return l
}

// step executes one line of the program. It returns false when the
// program is exhausted or truncated.
func (l *deltaLane) step() bool {
	if l.pos >= len(l.data) || l.data[l.pos] == 0 {
		return false
	}

	dv, n := readUvarint(l.data[l.pos:])
	if n <= 0 {
		return false
	}
	l.pos += n

	var delta int32
	if dv&1 != 0 {
		delta = int32(^(dv >> 1))
	} else {
		delta = int32(dv >> 1)
	}
	l.val += delta

	dpc, n2 := readUvarint(l.data[l.pos:])
	if n2 <= 0 {
		return false
	}
	l.pos += n2
	l.pcEnd += uint64(dpc) * uint64(l.quantum)

	return true
}

// valueAt steps the program until pc < pc_end and returns the current
// value. A deterministic (lane_offset, start_pc, pc) triple always
// yields the same result.
func (l *deltaLane) valueAt(pc uint64) (int32, bool) {
	for pc >= l.pcEnd {
		if !l.step() {
			return 0, false
		}
	}
	return l.val, true
}

// readUvarint reads an unsigned LEB128 value from b, returning the value
// and the number of bytes consumed, or n<=0 if b is exhausted before a
// terminating byte (high bit clear) is seen.
func readUvarint(b []byte) (uint32, int) {
	var v uint32
	var shift uint
	for i := 0; i < len(b); i++ {
		c := b[i]
		v |= uint32(c&0x7f) << shift
		if c&0x80 == 0 {
			return v, i + 1
		}
		shift += 7
		if shift >= 32 {
			return 0, 0
		}
	}
	return 0, 0
}
