//go:build linux

package cpu

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

func physicalCores() int {
	f, err := os.Open("/proc/cpuinfo")
	if err != nil {
		return 0
	}
	defer f.Close()
	return parseCPUInfo(f)
}

// PinCurrentThread restricts the calling OS thread to cores.
// The caller must hold runtime.LockOSThread.
func PinCurrentThread(cores []int) error {
	if len(cores) == 0 {
		return nil
	}

	var mask unix.CPUSet
	mask.Zero()
	for _, c := range cores {
		if c < 0 {
			return fmt.Errorf("cpu: core %d out of range", c)
		}
		mask.Set(c)
	}
	// 0 = current thread
	if err := unix.SchedSetaffinity(0, &mask); err != nil {
		return fmt.Errorf("cpu: sched_setaffinity %v: %w", cores, err)
	}
	return nil
}
