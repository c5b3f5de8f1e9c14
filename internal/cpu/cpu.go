// Package cpu reports processor topology and pins OS threads to cores.
//
// Pinning is best-effort. Platforms without thread affinity support return
// ErrUnsupported, and callers treat every pinning error as non-fatal.
package cpu

import (
	"bufio"
	"errors"
	"io"
	"runtime"
	"strings"
)

// ErrUnsupported is returned where thread affinity is not available.
var ErrUnsupported = errors.New("cpu: thread affinity not supported on this platform")

// Info describes the processor layout.
type Info struct {
	Logical  int
	Physical int
}

// Topology returns the logical and physical core counts. Physical falls back
// to Logical when it cannot be determined.
func Topology() Info {
	logical := runtime.NumCPU()
	physical := physicalCores()
	if physical <= 0 || physical > logical {
		physical = logical
	}
	return Info{Logical: logical, Physical: physical}
}

// parseCPUInfo counts distinct (physical id, core id) pairs in a
// /proc/cpuinfo listing. It returns 0 if the listing carries no core ids.
func parseCPUInfo(r io.Reader) int {
	cores := make(map[[2]string]struct{})
	var physID, coreID string

	flush := func() {
		if coreID != "" {
			cores[[2]string{physID, coreID}] = struct{}{}
		}
		physID, coreID = "", ""
	}

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "physical id":
			physID = strings.TrimSpace(value)
		case "core id":
			coreID = strings.TrimSpace(value)
		}
	}
	flush()
	return len(cores)
}
