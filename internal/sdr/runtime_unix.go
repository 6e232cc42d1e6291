//go:build !windows

package sdr

import (
	"os/exec"
)

// FindRuntime locates an SDR command-line tool on the PATH.
func FindRuntime(runtime string) (string, error) {
	return exec.LookPath(runtime)
}
