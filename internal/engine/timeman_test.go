package engine

import (
	"testing"
	"time"

	"github.com/hailam/chesssearch/internal/board"
)

func TestTimeManagerBudget(t *testing.T) {
	tests := []struct {
		name   string
		limits Limits
		ply    int
	}{
		{"sudden death", Limits{Time: [2]time.Duration{60 * time.Second, 60 * time.Second}}, 40},
		{"increment", Limits{Time: [2]time.Duration{10 * time.Second, 5 * time.Second}, Inc: [2]time.Duration{time.Second, time.Second}}, 20},
		{"moves to go", Limits{Time: [2]time.Duration{30 * time.Second, 30 * time.Second}, MovesToGo: 5}, 60},
		{"opening", Limits{Time: [2]time.Duration{3 * time.Minute, 3 * time.Minute}}, 2},
		{"nearly flagged", Limits{Time: [2]time.Duration{40 * time.Millisecond, time.Minute}}, 80},
	}

	for _, tc := range tests {
		var tm TimeManager
		tm.Init(&tc.limits, board.White, tc.ply, 30*time.Millisecond)

		if tm.Optimum() <= 0 || tm.Maximum() <= 0 {
			t.Errorf("%s: optimum %v, maximum %v", tc.name, tm.Optimum(), tm.Maximum())
		}
		if tm.Optimum() > tm.Maximum() {
			t.Errorf("%s: optimum %v above maximum %v", tc.name, tm.Optimum(), tm.Maximum())
		}
		if left := tc.limits.Time[board.White]; left > time.Second && tm.Maximum() >= left {
			t.Errorf("%s: maximum %v uses the whole clock %v", tc.name, tm.Maximum(), left)
		}
	}
}

func TestTimeManagerMovesToGo(t *testing.T) {
	limits := Limits{Time: [2]time.Duration{30 * time.Second, 30 * time.Second}, MovesToGo: 1}
	var tm TimeManager
	tm.Init(&limits, board.Black, 61, 0)

	// With one move left the whole remaining clock but a margin is usable.
	if tm.Optimum() < 20*time.Second {
		t.Errorf("optimum %v for the last move before the control", tm.Optimum())
	}
	if tm.Maximum() > 30*time.Second*95/100 {
		t.Errorf("maximum %v leaves no margin", tm.Maximum())
	}
}

func TestTimeManagerOffWithOtherLimits(t *testing.T) {
	clock := [2]time.Duration{time.Minute, time.Minute}
	for _, limits := range []Limits{
		{Time: clock, Depth: 5},
		{Time: clock, Nodes: 1000},
		{Time: clock, MoveTime: time.Second},
		{Time: clock, Mate: 3},
		{Time: clock, Infinite: true},
	} {
		if limits.useTimeManagement() {
			t.Errorf("%+v: clock still drives the search", limits)
		}
		var tm TimeManager
		tm.Init(&limits, board.White, 10, 0)
		if tm.Optimum() != 0 || tm.Maximum() != 0 {
			t.Errorf("%+v: budget %v/%v, want none", limits, tm.Optimum(), tm.Maximum())
		}
	}
	if !(&Limits{Time: clock}).useTimeManagement() {
		t.Error("clock-only limits not time managed")
	}
}
