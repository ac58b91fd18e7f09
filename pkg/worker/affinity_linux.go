//go:build linux

package worker

import (
	"golang.org/x/sys/unix"
)

// pin binds the calling OS thread to a single logical CPU. The returned
// func puts the thread's previous mask back.
func pin(cpu int) (restore func() error, err error) {
	var prev unix.CPUSet
	if err := unix.SchedGetaffinity(0, &prev); err != nil {
		return nil, err
	}

	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return nil, err
	}
	return func() error {
		return unix.SchedSetaffinity(0, &prev)
	}, nil
}

// CoreIDs lists the logical CPUs this process may run on, in ascending
// order. It reads the mask of the process's main thread, not of the
// calling thread.
func CoreIDs() ([]int, error) {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(unix.Getpid(), &set); err != nil {
		return nil, err
	}

	count := set.Count()
	ids := make([]int, 0, count)
	for cpu := 0; len(ids) < count; cpu++ {
		if set.IsSet(cpu) {
			ids = append(ids, cpu)
		}
	}
	return ids, nil
}
