//go:build linux

// Package bpf loads the kernel sampling program and attaches it to every
// online CPU, generalizing the PerfEventOpen/ioctl loop the teacher's
// profiler3 command runs inline in main().
package bpf

import (
	"fmt"
	"io"
	"runtime"
	"unsafe"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"golang.org/x/sys/unix"
)

//go:generate go run github.com/cilium/ebpf/cmd/bpf2go -cflags "-O2 -g -Wall" -target bpfel GoProfile ../../bpf/goprofile.bpf.c -- -I../../bpf/headers

// StackDepth is the maximum number of frames kept per stack id, matching
// MAX_STACK_DEPTH in bpf/goprofile.bpf.c.
const StackDepth = 127

// SampleKind distinguishes the two aggregation sources.
type SampleKind uint8

const (
	SampleOnCPU  SampleKind = 1
	SampleOffCPU SampleKind = 2
)

// ProfileKey matches struct profile_key_t in bpf/goprofile.bpf.c
// byte-for-byte: 16 bytes, no implicit padding gaps.
type ProfileKey struct {
	PID           uint32
	UserStackID   int32
	KernelStackID int32
	Kind          SampleKind
	_pad          [3]byte
}

// Session owns the loaded BPF object and its per-CPU perf event file
// descriptors for the lifetime of one profiling run.
type Session struct {
	objs       GoProfileObjects
	perfFDs    []int
	tracepoint io.Closer
}

// Attach loads the compiled BPF object, sets the target PID filter (0
// profiles every non-idle process), and opens one CPU-clock perf event
// per online CPU sampling at freqHz. When offCPU is true the
// sched_switch tracepoint is also attached.
func Attach(pid int, freqHz int, offCPU bool) (*Session, error) {
	if err := unix.Setrlimit(unix.RLIMIT_MEMLOCK, &unix.Rlimit{
		Cur: unix.RLIM_INFINITY,
		Max: unix.RLIM_INFINITY,
	}); err != nil {
		return nil, fmt.Errorf("bpf: raise RLIMIT_MEMLOCK: %w", err)
	}

	objs := GoProfileObjects{}
	if err := LoadGoProfileObjects(&objs, nil); err != nil {
		return nil, fmt.Errorf("bpf: load program and maps: %w", err)
	}

	var zero uint32
	target := uint32(pid)
	if err := objs.GoProfileMaps.TargetPid.Update(&zero, &target, 0); err != nil {
		objs.Close()
		return nil, fmt.Errorf("bpf: set target pid: %w", err)
	}

	s := &Session{objs: objs}

	for cpu := 0; cpu < runtime.NumCPU(); cpu++ {
		fd, err := unix.PerfEventOpen(
			&unix.PerfEventAttr{
				Type:   unix.PERF_TYPE_SOFTWARE,
				Config: unix.PERF_COUNT_SW_CPU_CLOCK,
				Size:   uint32(unsafe.Sizeof(unix.PerfEventAttr{})),
				Sample: uint64(freqHz),
				Bits:   unix.PerfBitDisabled | unix.PerfBitFreq,
			},
			-1,
			cpu,
			-1,
			unix.PERF_FLAG_FD_CLOEXEC,
		)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("bpf: open perf event on cpu %d: %w", cpu, err)
		}
		s.perfFDs = append(s.perfFDs, fd)

		if err := unix.IoctlSetInt(fd, unix.PERF_EVENT_IOC_SET_BPF, objs.GoProfilePrograms.DoSample.FD()); err != nil {
			s.Close()
			return nil, fmt.Errorf("bpf: attach program to perf event on cpu %d: %w", cpu, err)
		}
		if err := unix.IoctlSetInt(fd, unix.PERF_EVENT_IOC_ENABLE, 0); err != nil {
			s.Close()
			return nil, fmt.Errorf("bpf: enable perf event on cpu %d: %w", cpu, err)
		}
	}

	if offCPU {
		tp, err := link.Tracepoint("sched", "sched_switch", objs.GoProfilePrograms.SchedSwitch, nil)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("bpf: attach sched_switch tracepoint: %w", err)
		}
		s.tracepoint = tp
	}

	return s, nil
}

// Close disables every perf event, detaches the tracepoint if attached,
// and releases the loaded BPF object.
func (s *Session) Close() error {
	for _, fd := range s.perfFDs {
		_ = unix.IoctlSetInt(fd, unix.PERF_EVENT_IOC_DISABLE, 0)
		_ = unix.Close(fd)
	}
	if s.tracepoint != nil {
		_ = s.tracepoint.Close()
	}
	return s.objs.Close()
}

// Counts returns the aggregation map handle for draining.
func (s *Session) Counts() *ebpf.Map { return s.objs.GoProfileMaps.Counts }

// StackTraces returns the stack-trace map handle for draining.
func (s *Session) StackTraces() *ebpf.Map { return s.objs.GoProfileMaps.StackTraces }
