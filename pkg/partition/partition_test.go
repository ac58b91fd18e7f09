package partition

import (
	"errors"
	"math"
	"testing"

	"github.com/screa/pow-round-miner/pkg/types"
)

func TestComputeAssignmentsSingleMember(t *testing.T) {
	member := types.MemberContext{MemberID: 0, NumTotalMembers: 1, NumDevices: 1, DeviceID: 0}

	got, err := ComputeAssignments(member, 4)
	if err != nil {
		t.Fatalf("ComputeAssignments() error = %v", err)
	}

	quarter := uint64(math.MaxUint64) / 4
	want := []uint64{0, quarter, 2 * quarter, 3 * quarter}
	if len(got) != len(want) {
		t.Fatalf("got %d assignments, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("assignment[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestComputeAssignmentsDisjoint(t *testing.T) {
	tests := []struct {
		name   string
		member types.MemberContext
		cores  uint8
	}{
		{name: "second of three members", member: types.MemberContext{MemberID: 1, NumTotalMembers: 3, NumDevices: 1}, cores: 8},
		{name: "device two of four", member: types.MemberContext{MemberID: 7, NumTotalMembers: 100, NumDevices: 4, DeviceID: 2}, cores: 16},
		{name: "single core", member: types.MemberContext{MemberID: 0, NumTotalMembers: 1, NumDevices: 1}, cores: 1},
		{name: "max cores", member: types.MemberContext{MemberID: 999, NumTotalMembers: 1000, NumDevices: 8, DeviceID: 7}, cores: 255},
		{name: "zero members treated as one", member: types.MemberContext{NumTotalMembers: 0, NumDevices: 2, DeviceID: 1}, cores: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ComputeAssignments(tt.member, tt.cores)
			if err != nil {
				t.Fatalf("ComputeAssignments() error = %v", err)
			}
			if len(got) != int(tt.cores) {
				t.Fatalf("got %d assignments, want %d", len(got), tt.cores)
			}

			left, _ := deviceBounds(tt.member)
			for i, start := range got {
				if start < left {
					t.Errorf("assignment[%d] = %d below left bound %d", i, start, left)
				}
				if i > 0 && start <= got[i-1] {
					t.Errorf("assignment[%d] = %d not above assignment[%d] = %d", i, start, i-1, got[i-1])
				}
			}
		})
	}
}

func TestComputeAssignmentsNoOverlapAcrossMembers(t *testing.T) {
	const members = 5
	const devices = 3
	const cores = 6

	type span struct{ start, end uint64 }
	var spans []span
	for m := uint32(0); m < members; m++ {
		for d := uint8(0); d < devices; d++ {
			member := types.MemberContext{MemberID: m, NumTotalMembers: members, NumDevices: devices, DeviceID: d}
			for c := 0; c < cores; c++ {
				start, end, err := Range(member, cores, c)
				if err != nil {
					t.Fatalf("Range() error = %v", err)
				}
				spans = append(spans, span{start, end})
			}
		}
	}

	for i := 1; i < len(spans); i++ {
		if spans[i].start < spans[i-1].end {
			t.Fatalf("span %d [%d,%d) overlaps span %d [%d,%d)",
				i, spans[i].start, spans[i].end, i-1, spans[i-1].start, spans[i-1].end)
		}
	}
}

func TestComputeAssignmentsDeterministic(t *testing.T) {
	member := types.MemberContext{MemberID: 42, NumTotalMembers: 64, NumDevices: 2, DeviceID: 1}

	a, err := ComputeAssignments(member, 12)
	if err != nil {
		t.Fatal(err)
	}
	b, err := ComputeAssignments(member, 12)
	if err != nil {
		t.Fatal(err)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("assignment[%d] differs between calls: %d vs %d", i, a[i], b[i])
		}
	}
}

func TestComputeAssignmentsTooManyDevices(t *testing.T) {
	tests := []struct {
		name    string
		member  types.MemberContext
		wantErr error
	}{
		{name: "device above count", member: types.MemberContext{NumTotalMembers: 1, NumDevices: 2, DeviceID: 3}, wantErr: ErrTooManyDevices},
		{name: "no devices, device one", member: types.MemberContext{NumTotalMembers: 1, NumDevices: 0, DeviceID: 1}, wantErr: ErrTooManyDevices},
		{name: "device equal to count", member: types.MemberContext{NumTotalMembers: 1, NumDevices: 2, DeviceID: 2}, wantErr: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ComputeAssignments(tt.member, 4)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ComputeAssignments() error = %v, want %v", err, tt.wantErr)
			}
			if err != nil && got != nil {
				t.Errorf("expected no assignments on error, got %v", got)
			}
		})
	}
}

func TestComputeAssignmentsSaturates(t *testing.T) {
	// member id far beyond the member count pushes the left bound past MaxUint64
	member := types.MemberContext{MemberID: math.MaxUint32, NumTotalMembers: 2, NumDevices: 1}

	got, err := ComputeAssignments(member, 3)
	if err != nil {
		t.Fatalf("ComputeAssignments() error = %v", err)
	}
	for i, start := range got {
		if start != math.MaxUint64 {
			t.Errorf("assignment[%d] = %d, want saturated MaxUint64", i, start)
		}
	}
}

func TestComputeAssignmentsZeroCores(t *testing.T) {
	got, err := ComputeAssignments(types.MemberContext{NumTotalMembers: 1, NumDevices: 1}, 0)
	if err != nil {
		t.Fatalf("ComputeAssignments() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d assignments, want none", len(got))
	}
}

func TestRangeOutOfBounds(t *testing.T) {
	member := types.MemberContext{NumTotalMembers: 1, NumDevices: 1}
	for _, core := range []int{-1, 4} {
		if _, _, err := Range(member, 4, core); !errors.Is(err, ErrCoreOutOfRange) {
			t.Errorf("Range(core=%d) error = %v, want ErrCoreOutOfRange", core, err)
		}
	}

	start, end, err := Range(member, 4, 3)
	if err != nil {
		t.Fatal(err)
	}
	if start != 3*(uint64(math.MaxUint64)/4) || end != math.MaxUint64 {
		t.Errorf("Range(core=3) = [%d,%d)", start, end)
	}
}
