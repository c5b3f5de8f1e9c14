//go:build darwin

package cpu

import "golang.org/x/sys/unix"

func physicalCores() int {
	n, err := unix.SysctlUint32("hw.physicalcpu")
	if err != nil {
		return 0
	}
	return int(n)
}

// PinCurrentThread is not available on macOS; the kernel only accepts
// affinity hints, which Go threads cannot express reliably.
func PinCurrentThread(cores []int) error {
	if len(cores) == 0 {
		return nil
	}
	return ErrUnsupported
}
