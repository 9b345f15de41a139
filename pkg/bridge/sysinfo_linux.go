//go:build linux
// +build linux

package bridge

import (
	"runtime"

	"golang.org/x/sys/unix"

	"github.com/nixblitz/installer-engine/pkg/errors"
)

// ProbeSystem reads memory and CPU information from the kernel.
func ProbeSystem() (SystemSummary, error) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return SystemSummary{}, errors.Wrap(err, "sysinfo failed")
	}

	unit := uint64(info.Unit)
	if unit == 0 {
		unit = 1
	}

	summary := SystemSummary{
		TotalMemoryMB: uint64(info.Totalram) * unit / 1024 / 1024,
		TotalSwapMB:   uint64(info.Totalswap) * unit / 1024 / 1024,
		CPUCores:      runtime.NumCPU(),
	}

	var uts unix.Utsname
	if err := unix.Uname(&uts); err == nil {
		summary.Hostname = unix.ByteSliceToString(uts.Nodename[:])
		summary.KernelVersion = unix.ByteSliceToString(uts.Release[:])
	}

	return summary, nil
}
