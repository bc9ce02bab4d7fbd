//go:build linux

/*
Program goprofile is a whole-system CPU profiler for Go programs.

It attaches in-kernel sampling probes to a target process, aggregates
stack identifiers in kernel-side maps, and in user space resolves the
collected program counters against the target binary's symbol and
debug-line tables to produce a folded-stack file that drives a
flame-graph renderer.
*/
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"goprofile/internal/aggregator"
	"goprofile/internal/bpf"
	"goprofile/internal/flamegraph"
	"goprofile/internal/logging"
	"goprofile/internal/procdiscovery"
	"goprofile/internal/resolverbuild"
)

func main() {
	// By default an exit code is set to indicate a configuration failure
	// since that's checked first.
	exitCode := 1
	defer func() { os.Exit(exitCode) }()

	pid := flag.Int("pid", 0, "PID whose stack traces should be collected")
	processName := flag.String("process-name", "", "name of the process to profile, resolved via pgrep")
	duration := flag.Duration("duration", 5*time.Second, "profiling duration")
	frequency := flag.Int("frequency", 99, "sampling frequency in Hz")
	offCPU := flag.Bool("off-cpu", false, "also account for off-CPU time via the sched_switch tracepoint")
	output := flag.String("output", "flamegraph.svg", "flame graph output path")
	exportFolded := flag.String("export-folded", "", "also write the intermediate folded-stack file to this path")
	exportPerfScript := flag.String("export-perf-script", "", "also write a perf-script-compatible dump to this path")
	exportPprof := flag.String("export-pprof", "", "also write a pprof-format profile to this path")
	renderer := flag.String("renderer", "flamegraph.pl", "flamegraph.pl-compatible renderer on $PATH")
	verbose := flag.Bool("verbose", false, "enable debug logging")

	title := flag.String("title", "", "flame graph title")
	subtitle := flag.String("subtitle", "", "flame graph subtitle")
	colors := flag.String("colors", flamegraph.DefaultColors, "flame graph color scheme")
	bgcolors := flag.String("bgcolors", "", "flame graph background colors")
	width := flag.Int("width", 0, "flame graph width")
	height := flag.Int("height", 0, "flame graph height")
	fonttype := flag.String("fonttype", "", "flame graph font")
	fontsize := flag.Int("fontsize", 0, "flame graph font size")
	inverted := flag.Bool("inverted", false, "invert the flame graph (icicle layout)")
	flamechart := flag.Bool("flamechart", false, "render as a flame chart")
	hash := flag.Bool("hash", false, "color by function name hash")
	random := flag.Bool("random", false, "color randomly")
	flag.Parse()

	log := logging.New(*verbose)

	targetPID, err := resolveTargetPID(*pid, *processName)
	if err != nil {
		log.Warn("%v", err)
		return
	}

	exitCode = 2 // past configuration; failures now are attachment/runtime.

	resolver, mappings, err := resolverbuild.Build(targetPID, log)
	if err != nil {
		log.Warn("failed to build symbol resolver: %v", err)
		return
	}

	session, err := bpf.Attach(targetPID, *frequency, *offCPU)
	if err != nil {
		log.Warn("failed to attach sampling probes: %v", err)
		return
	}
	defer session.Close()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	acc := aggregator.NewAccumulator()
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		aggregator.RunDrainLoop(stop, session.Counts(), session.StackTraces(), acc, aggregator.DrainInterval,
			func(key bpf.ProfileKey, err error) {
				log.Debug("drain: skipping key %+v: %v", key, err)
			},
			func(err error) {
				log.Debug("drain: skipping tick: %v", err)
			},
		)
	}()

	log.Info("profiling pid %d for %v", targetPID, *duration)
	select {
	case <-sig:
	case <-time.After(*duration):
	}

	// Cancel the drain task synchronously before taking the final
	// snapshot, per spec.md §5, so the last drain it performs on its way
	// out is guaranteed to have completed.
	close(stop)
	<-done

	stacks := acc.Snapshot()

	foldedPath := *exportFolded
	cleanupFolded := false
	if foldedPath == "" {
		foldedPath = "stacks.folded"
		cleanupFolded = true
	}

	f, err := os.Create(foldedPath)
	if err != nil {
		log.Warn("failed to create folded-stack file: %v", err)
		return
	}
	if err := aggregator.WriteFolded(f, stacks, resolver.Resolve); err != nil {
		f.Close()
		log.Warn("failed to write folded-stack file: %v", err)
		return
	}
	f.Close()
	if cleanupFolded {
		defer os.Remove(foldedPath)
	}

	if *exportPerfScript != "" {
		pf, err := os.Create(*exportPerfScript)
		if err != nil {
			log.Warn("failed to create perf-script file: %v", err)
			return
		}
		if err := aggregator.WritePerfScript(pf, stacks, resolver.Resolve, *processName); err != nil {
			pf.Close()
			log.Warn("failed to write perf-script file: %v", err)
			return
		}
		pf.Close()
	}

	if *exportPprof != "" {
		ppf, err := os.Create(*exportPprof)
		if err != nil {
			log.Warn("failed to create pprof file: %v", err)
			return
		}
		periodNanos := int64(time.Second) / int64(*frequency)
		if err := aggregator.WritePprof(ppf, stacks, mappings, resolver.Resolve, periodNanos, int64(*duration)); err != nil {
			ppf.Close()
			log.Warn("failed to write pprof file: %v", err)
			return
		}
		ppf.Close()
	}

	if err := flamegraph.Render(*renderer, foldedPath, *output, flamegraph.Options{
		Title: *title, Subtitle: *subtitle, Colors: *colors, BGColors: *bgcolors,
		Width: *width, Height: *height, FontType: *fonttype, FontSize: *fontsize,
		Inverted: *inverted, Flamechart: *flamechart, Hash: *hash, Random: *random,
	}); err != nil {
		log.Warn("failed to render flame graph: %v", err)
		return
	}

	exitCode = 0
}

// resolveTargetPID honors --pid or resolves --process-name via pgrep,
// requiring exactly one of the two, per spec.md §6.
func resolveTargetPID(pid int, processName string) (int, error) {
	if pid != 0 && processName != "" {
		return 0, fmt.Errorf("specify either -pid or -process-name, not both")
	}
	if pid != 0 {
		return pid, nil
	}
	if processName != "" {
		return procdiscovery.FindByName(processName)
	}
	return 0, fmt.Errorf("one of -pid or -process-name is required")
}
