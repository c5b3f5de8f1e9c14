//go:build windows

package cpu

import (
	"fmt"
	"syscall"
)

var (
	kernel32              = syscall.NewLazyDLL("kernel32.dll")
	setThreadAffinityMask = kernel32.NewProc("SetThreadAffinityMask")
	getCurrentThread      = kernel32.NewProc("GetCurrentThread")
)

func physicalCores() int { return 0 }

// PinCurrentThread restricts the calling OS thread to cores.
// The caller must hold runtime.LockOSThread.
func PinCurrentThread(cores []int) error {
	if len(cores) == 0 {
		return nil
	}

	var mask uintptr
	for _, c := range cores {
		if c < 0 || c >= 64 {
			return fmt.Errorf("cpu: core %d out of range", c)
		}
		mask |= 1 << uint(c)
	}

	handle, _, _ := getCurrentThread.Call()
	prev, _, err := setThreadAffinityMask.Call(handle, mask)
	if prev == 0 {
		return fmt.Errorf("cpu: SetThreadAffinityMask %v: %w", cores, err)
	}
	return nil
}
