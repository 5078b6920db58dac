package engine

import (
	"sync/atomic"

	"github.com/hailam/chesssearch/internal/board"
)

// Statistics are shared by every worker and updated without locks. A lost
// or doubled update only perturbs move ordering.

const (
	historyBonusLimit = 324
	historyDivisor    = 324
	counterDivisor    = 936
)

// gravity moves v toward 32*bonus*divisor/|bonus|, keeping every entry
// inside ±32*divisor.
func gravity(e *atomic.Int32, bonus Value, divisor int32) {
	if abs(bonus) >= historyBonusLimit {
		return
	}
	b := int32(bonus)
	v := e.Load()
	v -= v * abs(b) / divisor
	v += b * 32
	e.Store(v)
}

// PieceToHistory is indexed by moved piece and destination square.
type PieceToHistory [12][64]atomic.Int32

func (h *PieceToHistory) Get(pc board.Piece, to board.Square) Value {
	return Value(h[pc][to].Load())
}

func (h *PieceToHistory) Update(pc board.Piece, to board.Square, bonus Value) {
	gravity(&h[pc][to], bonus, historyDivisor)
}

// ContinuationHistory scores a reply by piece and destination. One exists
// for every (piece, square) of the move it follows.
type ContinuationHistory [12][64]atomic.Int32

func (h *ContinuationHistory) Get(pc board.Piece, to board.Square) Value {
	return Value(h[pc][to].Load())
}

func (h *ContinuationHistory) Update(pc board.Piece, to board.Square, bonus Value) {
	gravity(&h[pc][to], bonus, counterDivisor)
}

// FromToHistory is indexed by side, origin and destination.
type FromToHistory [2][64][64]atomic.Int32

func (h *FromToHistory) Get(c board.Color, m board.Move) Value {
	return Value(h[c][m.From()][m.To()].Load())
}

func (h *FromToHistory) Update(c board.Color, m board.Move, bonus Value) {
	gravity(&h[c][m.From()][m.To()], bonus, historyDivisor)
}

// CounterMoveTable remembers the quiet refutation of a (piece, square).
type CounterMoveTable [12][64]atomic.Uint32

func (t *CounterMoveTable) Get(pc board.Piece, sq board.Square) board.Move {
	return board.Move(t[pc][sq].Load())
}

func (t *CounterMoveTable) Set(pc board.Piece, sq board.Square, m board.Move) {
	t[pc][sq].Store(uint32(m))
}

// Histories bundles the shared ordering statistics.
type Histories struct {
	History            PieceToHistory
	FromTo             FromToHistory
	CounterMoveHistory [12][64]ContinuationHistory
	CounterMoves       CounterMoveTable
}

func NewHistories() *Histories {
	return &Histories{}
}

// Continuation returns the table for replies to pc landing on sq.
func (h *Histories) Continuation(pc board.Piece, sq board.Square) *ContinuationHistory {
	return &h.CounterMoveHistory[pc][sq]
}

// Clear zeroes every table.
func (h *Histories) Clear() {
	h.each(func(e *atomic.Int32) { e.Store(0) })
	for pc := range h.CounterMoves {
		for sq := range h.CounterMoves[pc] {
			h.CounterMoves[pc][sq].Store(0)
		}
	}
}

// Age halves every score. Counter moves are kept.
func (h *Histories) Age() {
	h.each(func(e *atomic.Int32) { e.Store(e.Load() / 2) })
}

func (h *Histories) each(f func(*atomic.Int32)) {
	for pc := range h.History {
		for sq := range h.History[pc] {
			f(&h.History[pc][sq])
		}
	}
	for c := range h.FromTo {
		for from := range h.FromTo[c] {
			for to := range h.FromTo[c][from] {
				f(&h.FromTo[c][from][to])
			}
		}
	}
	for pc := range h.CounterMoveHistory {
		for sq := range h.CounterMoveHistory[pc] {
			t := &h.CounterMoveHistory[pc][sq]
			for pc2 := range t {
				for sq2 := range t[pc2] {
					f(&t[pc2][sq2])
				}
			}
		}
	}
}
