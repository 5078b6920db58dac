package engine

import (
	"time"

	"github.com/hailam/chesssearch/internal/board"
)

// Limits constrain one search. Zero values mean no limit.
type Limits struct {
	Time      [2]time.Duration // remaining clock per color
	Inc       [2]time.Duration // increment per move per color
	MovesToGo int              // moves to the next time control, 0 for sudden death
	MoveTime  time.Duration    // fixed time for this move
	Depth     int
	Nodes     uint64
	Mate      int // search for a mate in this many moves
	Infinite  bool

	// SearchMoves restricts the root to these moves.
	SearchMoves []board.Move

	// History holds the Zobrist keys of the game positions before the
	// searched one, oldest first, for repetition detection.
	History []uint64
}

// useTimeManagement reports whether the clock drives the search length.
func (l *Limits) useTimeManagement() bool {
	return !(l.Mate != 0 || l.MoveTime != 0 || l.Depth != 0 || l.Nodes != 0 || l.Infinite)
}

// TimeManager allocates thinking time for one move.
type TimeManager struct {
	optimum time.Duration
	maximum time.Duration
	start   time.Time
}

// Init computes the time budget. ply is the game ply of the root position
// and overhead is subtracted from the clock for communication lag.
func (tm *TimeManager) Init(limits *Limits, us board.Color, ply int, overhead time.Duration) {
	tm.start = time.Now()
	if !limits.useTimeManagement() {
		tm.optimum, tm.maximum = 0, 0
		return
	}

	left := max(limits.Time[us]-overhead, 0)
	inc := limits.Inc[us]

	mtg := limits.MovesToGo
	if mtg == 0 {
		mtg = clamp(50-ply/4, 10, 50)
	}

	tm.optimum = left/time.Duration(mtg) + inc*9/10
	if ply < 8 {
		tm.optimum = tm.optimum * 85 / 100
	}

	tm.maximum = min(tm.optimum*5, left*8/10)
	tm.maximum = min(tm.maximum, left*95/100)

	tm.optimum = max(tm.optimum, 10*time.Millisecond)
	tm.maximum = max(tm.maximum, 50*time.Millisecond)
	tm.optimum = min(tm.optimum, tm.maximum)
}

// Elapsed returns the time since Init.
func (tm *TimeManager) Elapsed() time.Duration {
	return time.Since(tm.start)
}

func (tm *TimeManager) Optimum() time.Duration { return tm.optimum }
func (tm *TimeManager) Maximum() time.Duration { return tm.maximum }
