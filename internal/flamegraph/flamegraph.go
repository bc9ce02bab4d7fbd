// Package flamegraph invokes an external flamegraph.pl-compatible
// renderer on a folded-stack file, an out-of-scope external collaborator
// per spec.md §1: this package never reimplements SVG rendering, only
// shells out to whatever renderer is on $PATH.
package flamegraph

import (
	"fmt"
	"os"
	"os/exec"
)

// Options mirrors the pass-through renderer flags in spec.md §6.
type Options struct {
	Title      string
	Subtitle   string
	Colors     string
	BGColors   string
	Width      int
	Height     int
	FontType   string
	FontSize   int
	Inverted   bool
	Flamechart bool
	Hash       bool
	Random     bool
}

// DefaultColors is the default color scheme, per spec.md §6.
const DefaultColors = "kernel_user"

// Render shells out to flamegraph.pl (or any script of that name on
// $PATH) reading foldedPath and writing an SVG to outputPath.
func Render(rendererPath, foldedPath, outputPath string, opts Options) error {
	args := []string{foldedPath}
	if opts.Title != "" {
		args = append(args, "--title", opts.Title)
	}
	if opts.Subtitle != "" {
		args = append(args, "--subtitle", opts.Subtitle)
	}
	colors := opts.Colors
	if colors == "" {
		colors = DefaultColors
	}
	args = append(args, "--colors", colors)
	if opts.BGColors != "" {
		args = append(args, "--bgcolors", opts.BGColors)
	}
	if opts.Width > 0 {
		args = append(args, "--width", fmt.Sprint(opts.Width))
	}
	if opts.Height > 0 {
		args = append(args, "--height", fmt.Sprint(opts.Height))
	}
	if opts.FontType != "" {
		args = append(args, "--fonttype", opts.FontType)
	}
	if opts.FontSize > 0 {
		args = append(args, "--fontsize", fmt.Sprint(opts.FontSize))
	}
	if opts.Inverted {
		args = append(args, "--inverted")
	}
	if opts.Flamechart {
		args = append(args, "--flamechart")
	}
	if opts.Hash {
		args = append(args, "--hash")
	}
	if opts.Random {
		args = append(args, "--random")
	}

	out, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("flamegraph: create %s: %w", outputPath, err)
	}
	defer out.Close()

	cmd := exec.Command(rendererPath, args...)
	cmd.Stdout = out
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("flamegraph: run %s: %w", rendererPath, err)
	}
	return nil
}
