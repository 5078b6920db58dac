// Package tablebase answers win/draw/loss queries for positions with few
// pieces. Probers work on FEN strings so they stay independent of the
// engine's board representation.
package tablebase

import (
	"context"
	"errors"
)

// WDL is a game-theoretic result for the side to move, counting the
// fifty-move rule: cursed wins and blessed losses are wins and losses that
// the rule turns into draws.
type WDL int

const (
	WDLLoss        WDL = -2
	WDLBlessedLoss WDL = -1
	WDLDraw        WDL = 0
	WDLCursedWin   WDL = 1
	WDLWin         WDL = 2
)

func (w WDL) String() string {
	switch w {
	case WDLLoss:
		return "loss"
	case WDLBlessedLoss:
		return "blessed-loss"
	case WDLDraw:
		return "draw"
	case WDLCursedWin:
		return "cursed-win"
	case WDLWin:
		return "win"
	}
	return "unknown"
}

// ErrNotFound is returned when a position is outside the tablebase.
var ErrNotFound = errors.New("tablebase: position not found")

// RootResult is the tablebase's best move at the root, in UCI notation.
type RootResult struct {
	Move string
	WDL  WDL
	DTZ  int
}

// Prober looks positions up by FEN.
type Prober interface {
	// ProbeWDL returns the result for the side to move, or ErrNotFound.
	ProbeWDL(ctx context.Context, fen string) (WDL, error)

	// ProbeRoot returns the best move for the side to move, or ErrNotFound.
	ProbeRoot(ctx context.Context, fen string) (RootResult, error)

	// MaxPieces is the largest piece count, kings included, the prober covers.
	MaxPieces() int

	Available() bool
}

// NoopProber finds nothing. It stands in when no tablebase is configured.
type NoopProber struct{}

func (NoopProber) ProbeWDL(context.Context, string) (WDL, error) {
	return WDLDraw, ErrNotFound
}

func (NoopProber) ProbeRoot(context.Context, string) (RootResult, error) {
	return RootResult{}, ErrNotFound
}

func (NoopProber) MaxPieces() int  { return 0 }
func (NoopProber) Available() bool { return false }
