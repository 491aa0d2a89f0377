package gesture

import (
	"math"
	"testing"
	"time"

	"github.com/emberwall/emberwall/internal/physics"
)

func TestThrow(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		p0, p1 Point
		dt     time.Duration
		want   Velocity
	}{
		{
			name: "horizontal drag over one second",
			p0:   Point{X: 10, Y: 10},
			p1:   Point{X: 20, Y: 10},
			dt:   time.Second,
			want: Velocity{VX: 50, VY: 0},
		},
		{
			name: "diagonal flick",
			p0:   Point{X: 50, Y: 50},
			p1:   Point{X: 54, Y: 47},
			dt:   250 * time.Millisecond,
			want: Velocity{VX: 80, VY: -60},
		},
		{
			name: "displacement under threshold is a tap",
			p0:   Point{X: 50, Y: 50},
			p1:   Point{X: 51, Y: 50.5},
			dt:   100 * time.Millisecond,
			want: Velocity{},
		},
		{
			name: "zero duration",
			p0:   Point{X: 10, Y: 10},
			p1:   Point{X: 60, Y: 60},
			dt:   0,
			want: Velocity{},
		},
		{
			name: "negative duration",
			p0:   Point{X: 10, Y: 10},
			p1:   Point{X: 60, Y: 60},
			dt:   -time.Second,
			want: Velocity{},
		},
		{
			name: "identical points",
			p0:   Point{X: 33, Y: 44},
			p1:   Point{X: 33, Y: 44},
			dt:   time.Second,
			want: Velocity{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Throw(tt.p0, t0, tt.p1, t0.Add(tt.dt))
			if got != tt.want {
				t.Errorf("Throw() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestThrow_ClampsToMaxSpeed(t *testing.T) {
	t0 := time.Now()
	// 90pct drag in 50ms would be 9000 pct/s before clamping.
	got := Throw(Point{X: 5, Y: 50}, t0, Point{X: 95, Y: 50}, t0.Add(50*time.Millisecond))

	if math.Abs(got.VX-physics.MaxSpeed) > 1e-9 || got.VY != 0 {
		t.Errorf("Throw() = %+v, want clamped to (%v, 0)", got, physics.MaxSpeed)
	}
}

func TestThrow_NeverNaN(t *testing.T) {
	t0 := time.Now()
	cases := [][2]Point{
		{{X: 0, Y: 0}, {X: 0, Y: 0}},
		{{X: 100, Y: 100}, {X: 100, Y: 100}},
	}
	for _, c := range cases {
		for _, dt := range []time.Duration{0, time.Nanosecond, time.Second} {
			v := Throw(c[0], t0, c[1], t0.Add(dt))
			if math.IsNaN(v.VX) || math.IsNaN(v.VY) || math.IsInf(v.VX, 0) || math.IsInf(v.VY, 0) {
				t.Errorf("Throw(%+v -> %+v over %v) = %+v, want finite", c[0], c[1], dt, v)
			}
		}
	}
}

func TestVelocity_IsZero(t *testing.T) {
	if !(Velocity{}).IsZero() {
		t.Error("zero velocity should report IsZero")
	}
	if (Velocity{VX: 0.1}).IsZero() {
		t.Error("non-zero velocity should not report IsZero")
	}
}
