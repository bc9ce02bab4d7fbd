/*
Program resolveaddr resolves a single runtime program counter sampled
from a running process against that process's full symbol picture:
kernel range, debug-line, managed function table and flat ELF fallback,
in the same priority order cmd/goprofile uses for every frame it folds.

Unlike a raw offline ELF lookup, the caller gives a live PID instead of
a manual memory-start/file-offset pair: the load bias is read straight
from /proc/<pid>/maps, the same path cmd/goprofile takes before
attaching a profiling session.
*/
package main

import (
	"flag"
	"fmt"
	"os"

	"goprofile/internal/logging"
	"goprofile/internal/resolverbuild"
)

func main() {
	pid := flag.Int("pid", 0, "PID owning the sampled address")
	addr := flag.Uint64("addr", 0, "sampled runtime address to resolve")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	if *pid == 0 {
		fmt.Fprintln(os.Stderr, "resolveaddr: -pid is required")
		os.Exit(1)
	}

	log := logging.New(*verbose)
	resolver, _, err := resolverbuild.Build(*pid, log)
	if err != nil {
		log.Fatal("failed to build symbol resolver for pid %d: %v", *pid, err)
	}

	fmt.Println(resolver.Resolve(*addr))
}
