package engine

import (
	"slices"

	"github.com/samber/lo"

	"github.com/hailam/chesssearch/internal/board"
)

// RootMove is one legal move at the root with the line that backs its
// score. PV[0] is the move itself.
type RootMove struct {
	Score         Value
	PreviousScore Value
	PV            []board.Move
	SelDepth      int
	TBRank        int
}

func (rm *RootMove) Move() board.Move { return rm.PV[0] }

// RootMoves is ordered best first after every completed search of a PV
// line.
type RootMoves []RootMove

// newRootMoves lists the legal moves of pos, restricted to searchMoves
// when that is non-empty.
func newRootMoves(pos *board.Position, searchMoves []board.Move) RootMoves {
	legal := pos.GenerateLegalMoves().Slice()
	if len(searchMoves) > 0 {
		legal = lo.Filter(legal, func(m board.Move, _ int) bool {
			return slices.Contains(searchMoves, m)
		})
	}
	return lo.Map(legal, func(m board.Move, _ int) RootMove {
		return RootMove{
			Score:         -ValueInfinite,
			PreviousScore: -ValueInfinite,
			PV:            []board.Move{m},
		}
	})
}

func (rms RootMoves) clone() RootMoves {
	out := make(RootMoves, len(rms))
	for i, rm := range rms {
		out[i] = rm
		out[i].PV = slices.Clone(rm.PV)
	}
	return out
}

// find returns the root move starting with m, or nil.
func (rms RootMoves) find(m board.Move) *RootMove {
	i := lo.IndexOf(rms.moves(), m)
	if i < 0 {
		return nil
	}
	return &rms[i]
}

// indexFrom returns the index of m in rms[from:], or -1.
func (rms RootMoves) indexFrom(from int, m board.Move) int {
	for i := from; i < len(rms); i++ {
		if rms[i].PV[0] == m {
			return i
		}
	}
	return -1
}

func (rms RootMoves) moves() []board.Move {
	return lo.Map(rms, func(rm RootMove, _ int) board.Move { return rm.PV[0] })
}

// sortStable orders rms[from:to] by descending score, keeping the
// relative order of equal moves.
func (rms RootMoves) sortStable(from, to int) {
	slices.SortStableFunc(rms[from:to], func(a, b RootMove) int {
		return int(b.Score - a.Score)
	})
}

// savePrevious copies every score into PreviousScore before a new
// iteration.
func (rms RootMoves) savePrevious() {
	for i := range rms {
		rms[i].PreviousScore = rms[i].Score
	}
}

// setLine records a searched line for m.
func (rm *RootMove) setLine(m board.Move, child []board.Move) {
	rm.PV = append(rm.PV[:0], m)
	rm.PV = append(rm.PV, child...)
}
