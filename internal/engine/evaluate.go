package engine

import (
	"github.com/hailam/chesssearch/internal/board"
)

// Evaluator scores a position from the side to move's point of view. An
// instance is owned by one worker and need not be safe for concurrent use.
type Evaluator interface {
	Evaluate(pos *board.Position) Value
}

// EvaluatorFactory builds one Evaluator per worker.
type EvaluatorFactory func() Evaluator

// score packs a midgame and an endgame term.
type score struct{ mg, eg Value }

func (s *score) add(o score) { s.mg += o.mg; s.eg += o.eg }
func (s *score) sub(o score) { s.mg -= o.mg; s.eg -= o.eg }
func (s *score) addN(o score, n int) {
	s.mg += o.mg * Value(n)
	s.eg += o.eg * Value(n)
}

// Piece-square bonuses for White, a1 first. Black mirrors them.
var (
	pawnPSQ = [64]int8{
		0, 0, 0, 0, 0, 0, 0, 0,
		-6, 2, 4, -18, -18, 4, 2, -6,
		-4, -2, 6, 8, 8, 6, -2, -4,
		-2, 0, 10, 24, 24, 10, 0, -2,
		4, 6, 12, 26, 26, 12, 6, 4,
		12, 14, 22, 30, 30, 22, 14, 12,
		40, 40, 40, 40, 40, 40, 40, 40,
		0, 0, 0, 0, 0, 0, 0, 0,
	}
	knightPSQ = [64]int8{
		-60, -36, -26, -24, -24, -26, -36, -60,
		-34, -18, 0, 6, 6, 0, -18, -34,
		-24, 6, 12, 16, 16, 12, 6, -24,
		-22, 4, 18, 24, 24, 18, 4, -22,
		-22, 6, 18, 26, 26, 18, 6, -22,
		-24, 2, 14, 18, 18, 14, 2, -24,
		-36, -18, 0, 2, 2, 0, -18, -36,
		-60, -40, -28, -24, -24, -28, -40, -60,
	}
	bishopPSQ = [64]int8{
		-20, -8, -12, -8, -8, -12, -8, -20,
		-8, 10, 2, 4, 4, 2, 10, -8,
		-6, 6, 8, 8, 8, 8, 6, -6,
		-6, 4, 10, 14, 14, 10, 4, -6,
		-6, 6, 8, 14, 14, 8, 6, -6,
		-6, 2, 6, 8, 8, 6, 2, -6,
		-10, 0, 0, 0, 0, 0, 0, -10,
		-20, -10, -10, -10, -10, -10, -10, -20,
	}
	rookPSQ = [64]int8{
		-4, -2, 2, 8, 8, 2, -2, -4,
		-10, -4, 0, 2, 2, 0, -4, -10,
		-10, -4, 0, 0, 0, 0, -4, -10,
		-8, -2, 0, 0, 0, 0, -2, -8,
		-6, 0, 0, 2, 2, 0, 0, -6,
		-4, 2, 4, 4, 4, 4, 2, -4,
		10, 16, 16, 16, 16, 16, 16, 10,
		0, 0, 2, 4, 4, 2, 0, 0,
	}
	queenPSQ = [64]int8{
		-16, -10, -8, -2, -2, -8, -10, -16,
		-10, 0, 4, 2, 2, 0, 0, -10,
		-8, 2, 4, 4, 4, 4, 2, -8,
		-4, 0, 4, 6, 6, 4, 0, -4,
		-2, 0, 4, 6, 6, 4, 0, -2,
		-8, 2, 4, 4, 4, 4, 2, -8,
		-10, 0, 2, 2, 2, 2, 0, -10,
		-16, -10, -8, -4, -4, -8, -10, -16,
	}
	kingMgPSQ = [64]int8{
		24, 36, 12, -4, 0, 8, 36, 24,
		18, 18, -4, -10, -10, -4, 18, 18,
		-12, -20, -24, -28, -28, -24, -20, -12,
		-24, -32, -36, -44, -44, -36, -32, -24,
		-32, -40, -40, -50, -50, -40, -40, -32,
		-32, -40, -40, -50, -50, -40, -40, -32,
		-32, -40, -40, -50, -50, -40, -40, -32,
		-32, -40, -40, -50, -50, -40, -40, -32,
	}
	kingEgPSQ = [64]int8{
		-50, -34, -28, -24, -24, -28, -34, -50,
		-30, -18, -8, -2, -2, -8, -18, -30,
		-26, -6, 14, 22, 22, 14, -6, -26,
		-22, -2, 24, 34, 34, 24, -2, -22,
		-22, -2, 24, 34, 34, 24, -2, -22,
		-26, -6, 14, 22, 22, 14, -6, -26,
		-30, -18, -8, -2, -2, -8, -18, -30,
		-50, -34, -28, -24, -24, -28, -34, -50,
	}
)

// psq[piece][sq] is material plus placement, signed for the piece's color.
var psq [12][64]score

func init() {
	tables := [6]*[64]int8{&pawnPSQ, &knightPSQ, &bishopPSQ, &rookPSQ, &queenPSQ, &kingMgPSQ}
	for pt := board.Pawn; pt <= board.King; pt++ {
		for sq := board.A1; sq <= board.H8; sq++ {
			mg := PieceValueMg[pt] + 2*Value(tables[pt][sq])
			eg := PieceValueEg[pt] + 2*Value(tables[pt][sq])
			if pt == board.King {
				eg = 2 * Value(kingEgPSQ[sq])
			}
			psq[board.NewPiece(pt, board.White)][sq] = score{mg, eg}
			psq[board.NewPiece(pt, board.Black)][sq.Mirror()] = score{-mg, -eg}
		}
	}
}

var (
	doubledPenalty  = score{22, 48}
	isolatedPenalty = score{18, 22}
	bishopPairBonus = score{90, 110}
	passedBonus     = [8]score{{}, {10, 20}, {14, 26}, {30, 50}, {70, 100}, {120, 180}, {200, 280}, {}}
	freePasserBonus = score{0, 60}

	mobilityWeight = [6]score{{}, {8, 8}, {10, 10}, {4, 8}, {2, 4}, {}}
)

// phaseMax is the game phase with all pieces on the board.
const phaseMax = 24

var phaseWeight = [6]int{0, 1, 1, 2, 4, 0}

// ClassicalEvaluator is a tapered hand-written evaluation with a pawn
// structure cache.
type ClassicalEvaluator struct {
	pawns *PawnTable
}

// NewClassicalEvaluator returns an evaluator with its own pawn table.
func NewClassicalEvaluator() *ClassicalEvaluator {
	return &ClassicalEvaluator{pawns: NewPawnTable(256)}
}

// Evaluate implements Evaluator.
func (e *ClassicalEvaluator) Evaluate(pos *board.Position) Value {
	var s score
	phase := 0

	for sq := board.A1; sq <= board.H8; sq++ {
		if pc := pos.PieceAt(sq); pc != board.NoPiece {
			s.add(psq[pc][sq])
			phase += phaseWeight[pc.Type()]
		}
	}

	pe := e.pawnStructure(pos)
	s.add(score{Value(pe.mg), Value(pe.eg)})

	for _, c := range [2]board.Color{board.White, board.Black} {
		var side score
		if pos.Pieces[c][board.Bishop].MoreThanOne() {
			side.add(bishopPairBonus)
		}
		side.add(mobility(pos, c))

		// A passer whose path is empty gains in the endgame.
		for b := pe.passed[c]; b != 0; {
			sq := b.PopLSB()
			stop := sq + 8
			if c == board.Black {
				stop = sq - 8
			}
			if pos.IsEmpty(stop) {
				side.add(freePasserBonus)
			}
		}

		if c == board.White {
			s.add(side)
		} else {
			s.sub(side)
		}
	}

	phase = min(phase, phaseMax)
	v := (s.mg*Value(phase) + s.eg*Value(phaseMax-phase)) / phaseMax
	if pos.SideToMove == board.Black {
		v = -v
	}
	return v + Tempo
}

func mobility(pos *board.Position, c board.Color) score {
	var s score
	area := ^pos.Occupied[c]
	occ := pos.AllOccupied
	for pt := board.Knight; pt <= board.Queen; pt++ {
		for b := pos.Pieces[c][pt]; b != 0; {
			sq := b.PopLSB()
			n := (board.AttacksFrom(pt, sq, occ) & area).PopCount()
			s.addN(mobilityWeight[pt], n-4)
		}
	}
	return s
}

// pawnStructure returns the cached pawn terms, computing them on a miss.
func (e *ClassicalEvaluator) pawnStructure(pos *board.Position) *pawnEntry {
	pe, ok := e.pawns.probe(pos.PawnKey)
	if ok {
		return pe
	}

	var s score
	pe.passed = [2]board.Bitboard{}
	for _, c := range [2]board.Color{board.White, board.Black} {
		var side score
		ours := pos.Pieces[c][board.Pawn]
		theirs := pos.Pieces[c.Other()][board.Pawn]
		for b := ours; b != 0; {
			sq := b.PopLSB()
			f := sq.File()
			if (ours & board.FileMask[f]).MoreThanOne() {
				side.sub(doubledPenalty)
			}
			if ours&adjacentFiles(f) == 0 {
				side.sub(isolatedPenalty)
			}
			if theirs&passedSpan(c, sq) == 0 && ours&forwardFile(c, sq) == 0 {
				side.add(passedBonus[sq.RelativeRank(c)])
				pe.passed[c] |= board.SquareBB(sq)
			}
		}
		if c == board.White {
			s.add(side)
		} else {
			s.sub(side)
		}
	}

	pe.key = pos.PawnKey
	pe.mg, pe.eg = int16(s.mg), int16(s.eg)
	return pe
}

func adjacentFiles(f int) board.Bitboard {
	var b board.Bitboard
	if f > 0 {
		b |= board.FileMask[f-1]
	}
	if f < 7 {
		b |= board.FileMask[f+1]
	}
	return b
}

// forwardRanks returns the ranks strictly in front of sq from c's side.
func forwardRanks(c board.Color, sq board.Square) board.Bitboard {
	var b board.Bitboard
	if c == board.White {
		for r := sq.Rank() + 1; r < 8; r++ {
			b |= board.RankMask[r]
		}
	} else {
		for r := sq.Rank() - 1; r >= 0; r-- {
			b |= board.RankMask[r]
		}
	}
	return b
}

func forwardFile(c board.Color, sq board.Square) board.Bitboard {
	return forwardRanks(c, sq) & board.FileMask[sq.File()]
}

// passedSpan is the set of squares enemy pawns must avoid for a pawn on
// sq to be passed.
func passedSpan(c board.Color, sq board.Square) board.Bitboard {
	f := sq.File()
	return forwardRanks(c, sq) & (board.FileMask[f] | adjacentFiles(f))
}
