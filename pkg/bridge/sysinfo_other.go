//go:build !linux
// +build !linux

package bridge

import (
	"os"
	"runtime"
)

// ProbeSystem reports CPU information only; memory is unknown off Linux.
func ProbeSystem() (SystemSummary, error) {
	host, _ := os.Hostname()
	return SystemSummary{
		CPUCores: runtime.NumCPU(),
		Hostname: host,
	}, nil
}
