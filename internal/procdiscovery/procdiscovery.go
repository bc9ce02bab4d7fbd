// Package procdiscovery finds a running process by name, an external
// collaborator per spec.md §1, kept to a single pgrep-style shell-out
// rather than reimplementing process enumeration.
package procdiscovery

import (
	"bytes"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// FindByName returns the PID of the first process whose command name
// matches name, via pgrep. It returns an error if none is found; when
// several processes match, the first PID pgrep prints is returned.
func FindByName(name string) (int, error) {
	cmd := exec.Command("pgrep", "-x", name)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("procdiscovery: pgrep %q: %w", name, err)
	}

	lines := strings.Fields(out.String())
	if len(lines) == 0 {
		return 0, fmt.Errorf("procdiscovery: no process named %q", name)
	}

	pid, err := strconv.Atoi(lines[0])
	if err != nil {
		return 0, fmt.Errorf("procdiscovery: parse pgrep output: %w", err)
	}
	return pid, nil
}
