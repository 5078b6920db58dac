// Package engine implements the search core: a principal-variation /
// scout alpha-beta search with Lazy SMP helpers sharing one lockless
// transposition table and one set of move-ordering statistics.
package engine

import (
	"golang.org/x/exp/constraints"
)

// Value is a search score in internal units, relative to the side to move.
type Value int32

const (
	ValueZero     Value = 0
	ValueDraw     Value = 0
	ValueKnownWin Value = 10000
	ValueMate     Value = 32000
	ValueInfinite Value = 32001
	ValueNone     Value = 32002

	ValueMateInMaxPly  = ValueMate - 2*MaxPly
	ValueMatedInMaxPly = -ValueMate + 2*MaxPly
)

// Material values in internal units, midgame and endgame.
const (
	PawnValueMg   Value = 188
	PawnValueEg   Value = 248
	KnightValueMg Value = 753
	KnightValueEg Value = 832
	BishopValueMg Value = 826
	BishopValueEg Value = 897
	RookValueMg   Value = 1285
	RookValueEg   Value = 1371
	QueenValueMg  Value = 2513
	QueenValueEg  Value = 2650
)

// PieceValueMg and PieceValueEg are indexed by board.PieceType.
var (
	PieceValueMg = [7]Value{PawnValueMg, KnightValueMg, BishopValueMg, RookValueMg, QueenValueMg, 0, 0}
	PieceValueEg = [7]Value{PawnValueEg, KnightValueEg, BishopValueEg, RookValueEg, QueenValueEg, 0, 0}
)

// Tempo is the bonus for having the move.
const Tempo Value = 20

// Depth is a remaining search depth in plies.
type Depth int

const (
	OnePly Depth = 1

	DepthQSChecks     Depth = 0
	DepthQSNoChecks   Depth = -1
	DepthQSRecaptures Depth = -5
	DepthNone         Depth = -6

	MaxPly = 128
)

// Bound tells how a stored score relates to the true value.
type Bound uint8

const (
	BoundNone  Bound = 0
	BoundUpper Bound = 1
	BoundLower Bound = 2
	BoundExact Bound = BoundUpper | BoundLower
)

func (b Bound) String() string {
	switch b {
	case BoundUpper:
		return "upper"
	case BoundLower:
		return "lower"
	case BoundExact:
		return "exact"
	}
	return "none"
}

// MateIn is the score of giving mate in ply half-moves.
func MateIn(ply int) Value { return ValueMate - Value(ply) }

// MatedIn is the score of being mated in ply half-moves.
func MatedIn(ply int) Value { return -ValueMate + Value(ply) }

// IsMateScore reports whether v claims a forced mate for either side.
func IsMateScore(v Value) bool {
	return v >= ValueMateInMaxPly || v <= ValueMatedInMaxPly
}

// valueToTT converts a root-relative mate score into a score relative to
// the current node before it is stored.
func valueToTT(v Value, ply int) Value {
	debugAssert(v != ValueNone, "valueToTT on ValueNone")
	switch {
	case v >= ValueMateInMaxPly:
		return v + Value(ply)
	case v <= ValueMatedInMaxPly:
		return v - Value(ply)
	}
	return v
}

// valueFromTT is the inverse of valueToTT.
func valueFromTT(v Value, ply int) Value {
	switch {
	case v == ValueNone:
		return ValueNone
	case v >= ValueMateInMaxPly:
		return v - Value(ply)
	case v <= ValueMatedInMaxPly:
		return v + Value(ply)
	}
	return v
}

type signed interface {
	constraints.Signed | constraints.Float
}

func abs[T signed](x T) T {
	if x < 0 {
		return -x
	}
	return x
}

func clamp[T constraints.Ordered](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
