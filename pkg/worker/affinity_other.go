//go:build !linux

package worker

import (
	"errors"
	"runtime"
)

var errAffinityUnsupported = errors.New("core affinity not supported on " + runtime.GOOS)

func pin(cpu int) (restore func() error, err error) {
	return nil, errAffinityUnsupported
}

// CoreIDs lists the logical CPUs this process may run on, in ascending order
func CoreIDs() ([]int, error) {
	ids := make([]int, runtime.NumCPU())
	for i := range ids {
		ids[i] = i
	}
	return ids, nil
}
