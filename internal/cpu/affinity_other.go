//go:build !linux && !darwin && !windows

package cpu

func physicalCores() int { return 0 }

// PinCurrentThread is not supported on this platform.
func PinCurrentThread(cores []int) error {
	if len(cores) == 0 {
		return nil
	}
	return ErrUnsupported
}
