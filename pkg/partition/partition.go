// Package partition splits the 64-bit nonce space between pool members,
// their devices and the cores of each device.
//
// The layout must match the pool's verification bit for bit:
//
//	member_size = MaxUint64 / max(members, 1)
//	device_size = member_size / devices
//	left        = member_size*member_id + device_id*device_size
//	per_core    = device_size / cores
//	start[n]    = left + n*per_core
//
// All products and sums saturate at MaxUint64.
package partition

import (
	"errors"
	"math"

	gmath "github.com/ethereum/go-ethereum/common/math"

	"github.com/screa/pow-round-miner/pkg/types"
)

// Errors
var (
	ErrTooManyDevices = errors.New("device id exceeds device count")
	ErrCoreOutOfRange = errors.New("core index outside assignment")
)

// ComputeAssignments returns one starting nonce per core
func ComputeAssignments(member types.MemberContext, cores uint8) ([]uint64, error) {
	if member.DeviceID > member.NumDevices {
		return nil, ErrTooManyDevices
	}

	left, deviceSize := deviceBounds(member)
	assignments := make([]uint64, cores)
	if cores == 0 {
		return assignments, nil
	}

	perCore := deviceSize / uint64(cores)
	for n := range assignments {
		assignments[n] = satAdd(left, satMul(uint64(n), perCore))
	}
	return assignments, nil
}

// Range returns the nominal [start, end) sub-range of one core. Workers
// scan past end when a round outlives its range; Range is informational.
func Range(member types.MemberContext, cores uint8, core int) (start, end uint64, err error) {
	assignments, err := ComputeAssignments(member, cores)
	if err != nil {
		return 0, 0, err
	}
	if core < 0 || core >= len(assignments) {
		return 0, 0, ErrCoreOutOfRange
	}

	start = assignments[core]
	if core+1 < len(assignments) {
		return start, assignments[core+1], nil
	}
	left, deviceSize := deviceBounds(member)
	return start, satAdd(left, deviceSize), nil
}

// deviceBounds returns the left bound and size of the device's slice
func deviceBounds(member types.MemberContext) (left, size uint64) {
	members := uint64(member.NumTotalMembers)
	if members == 0 {
		members = 1
	}
	devices := uint64(member.NumDevices)
	if devices == 0 {
		devices = 1
	}

	memberSize := math.MaxUint64 / members
	size = memberSize / devices
	left = satAdd(satMul(memberSize, uint64(member.MemberID)), satMul(uint64(member.DeviceID), size))
	return left, size
}

func satAdd(a, b uint64) uint64 {
	sum, overflow := gmath.SafeAdd(a, b)
	if overflow {
		return math.MaxUint64
	}
	return sum
}

func satMul(a, b uint64) uint64 {
	product, overflow := gmath.SafeMul(a, b)
	if overflow {
		return math.MaxUint64
	}
	return product
}
