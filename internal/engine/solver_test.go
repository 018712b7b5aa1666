package engine

import (
	"errors"
	"strings"
	"testing"

	"github.com/san-kum/gravsim/internal/device"
)

func TestLookupSolver(t *testing.T) {
	tests := []struct {
		name    string
		model   Model
		entry   string
		wantErr bool
	}{
		{"euler", UnitMass, "take_step_euler", false},
		{"rk2", MassWeighted, "take_step_rk2", false},
		{"", 0, "", true},
		{"verlet", 0, "", true},
		{"EULER", 0, "", true},
		{strings.Repeat("a", MaxSolverName), 0, "", true},
		{strings.Repeat("a", MaxSolverName+1), 0, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := LookupSolver(tt.name)
			if tt.wantErr {
				if !errors.Is(err, ErrKernelResolution) {
					t.Fatalf("expected ErrKernelResolution, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if s.Model != tt.model {
				t.Errorf("expected model %s, got %s", tt.model, s.Model)
			}
			if s.EntryPoint() != tt.entry {
				t.Errorf("expected entry point %s, got %s", tt.entry, s.EntryPoint())
			}
		})
	}
}

func TestMaxSolverName(t *testing.T) {
	if MaxSolverName != 20 {
		t.Errorf("expected 20, got %d", MaxSolverName)
	}
}

func TestAllocateAlignment(t *testing.T) {
	tests := []struct {
		requested int
		group     int
		expected  int
		kind      Kind
	}{
		{1000, 256, 768, ""},
		{256, 256, 256, ""},
		{257, 256, 256, ""},
		{65536, 256, 65536, ""},
		{65536 + 256, 256, 0, KindCapacityExceeded},
		{255, 256, 0, KindAllocation},
		{0, 256, 0, KindAllocation},
		{-4, 256, 0, KindAllocation},
		{10, 3, 9, ""},
	}

	for _, tt := range tests {
		st, err := Initialize(device.NewHostBackend(device.WithWorkGroupSize(tt.group)), "euler", 1e-3,
			WithLogger(quietLogger()))
		if err != nil {
			t.Fatalf("initialize: %v", err)
		}

		n, err := st.Allocate(tt.requested)
		if n != tt.expected {
			t.Errorf("Allocate(%d) with G=%d: expected %d, got %d", tt.requested, tt.group, tt.expected, n)
		}
		if tt.kind == "" && err != nil {
			t.Errorf("Allocate(%d): unexpected error %v", tt.requested, err)
		}
		if tt.kind != "" {
			if kind, _ := KindOf(err); kind != tt.kind {
				t.Errorf("Allocate(%d): expected %s, got %v", tt.requested, tt.kind, err)
			}
		}
		st.Teardown()
	}
}

func TestQuantity(t *testing.T) {
	tests := []struct {
		in     string
		q      Quantity
		stride int
	}{
		{"mass", Mass, 1},
		{"Position", Position, 2},
		{"VELOCITY", Velocity, 2},
	}
	for _, tt := range tests {
		q, err := ParseQuantity(tt.in)
		if err != nil {
			t.Fatalf("ParseQuantity(%q): %v", tt.in, err)
		}
		if q != tt.q || q.Stride() != tt.stride {
			t.Errorf("ParseQuantity(%q) = %s stride %d", tt.in, q, q.Stride())
		}
	}

	if _, err := ParseQuantity("spin"); !errors.Is(err, ErrInvalidQuantity) {
		t.Errorf("expected ErrInvalidQuantity, got %v", err)
	}
	if Quantity(-1).Valid() || numQuantities.Valid() {
		t.Error("out-of-range quantities must be invalid")
	}
}

func TestErrorMatching(t *testing.T) {
	err := newError("advance", KindLaunchFailed, device.ErrLaunch)

	if !errors.Is(err, ErrLaunchFailed) || !errors.Is(err, device.ErrLaunch) {
		t.Errorf("expected both sentinels to match %v", err)
	}
	if errors.Is(err, ErrMapFailure) {
		t.Error("unrelated sentinel matched")
	}
	want := "advance: engine: kernel launch failed: device: kernel launch failed"
	if err.Error() != want {
		t.Errorf("expected %q, got %q", want, err.Error())
	}
	if got := newError("allocate", KindNotAllocated, nil).Error(); got != "allocate: engine: buffers not allocated" {
		t.Errorf("unexpected message %q", got)
	}
}
