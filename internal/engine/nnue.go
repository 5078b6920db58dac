package engine

import (
	"fmt"

	"github.com/hailam/chessplay/sfnnue"
	"github.com/hailam/chessplay/sfnnue/features"

	"github.com/hailam/chesssearch/internal/board"
)

// nnuePiece maps board pieces to the network's piece encoding.
var nnuePiece = [12]int{1, 2, 3, 4, 5, 6, 9, 10, 11, 12, 13, 14}

// smallNetThreshold is the material imbalance, in internal units, above
// which the cheaper small network is trusted.
const smallNetThreshold = 962

// LoadNetworks reads the big and small network files.
func LoadNetworks(bigFile, smallFile string) (*sfnnue.Networks, error) {
	nets, err := sfnnue.LoadNetworks(bigFile, smallFile)
	if err != nil {
		return nil, fmt.Errorf("load nnue networks: %w", err)
	}
	return nets, nil
}

// NNUEEvaluator evaluates with Stockfish networks. Accumulators are
// rebuilt from scratch on every call, so the evaluator needs no hooks into
// make and unmake. Without networks it falls back to the classical
// evaluation.
type NNUEEvaluator struct {
	nets     *sfnnue.Networks
	big      *sfnnue.Accumulator
	small    *sfnnue.Accumulator
	indices  []int
	fallback *ClassicalEvaluator
}

// NewNNUEEvaluator creates an evaluator sharing nets read-only with other
// workers. nets may be nil.
func NewNNUEEvaluator(nets *sfnnue.Networks) *NNUEEvaluator {
	e := &NNUEEvaluator{
		nets:     nets,
		indices:  make([]int, 0, features.MaxActiveDimensions),
		fallback: NewClassicalEvaluator(),
	}
	if nets != nil && nets.Big != nil && nets.Small != nil {
		e.big = sfnnue.NewAccumulator(nets.Big.FeatureTransformer.HalfDimensions)
		e.small = sfnnue.NewAccumulator(nets.Small.FeatureTransformer.HalfDimensions)
	} else {
		e.nets = nil
	}
	return e
}

// Evaluate implements Evaluator.
func (e *NNUEEvaluator) Evaluate(pos *board.Position) Value {
	if e.nets == nil {
		return e.fallback.Evaluate(pos)
	}

	stm := int(pos.SideToMove)
	pieces := pos.PieceCount()

	simple := simpleEval(pos)
	net, acc := e.nets.Big, e.big
	if abs(simple) > smallNetThreshold {
		net, acc = e.nets.Small, e.small
	}

	for perspective := 0; perspective < 2; perspective++ {
		e.refresh(net, acc, pos, perspective)
	}
	psqt, positional := net.Evaluate(acc.Accumulation, acc.PSQTAccumulation, stm, pieces)

	v := Value(psqt + positional)
	// Damp toward a draw as the fifty-move counter grows.
	v -= v * Value(pos.HalfMoveClock) / 212
	return clamp(v, ValueMatedInMaxPly+1, ValueMateInMaxPly-1)
}

func (e *NNUEEvaluator) refresh(net *sfnnue.Network, acc *sfnnue.Accumulator, pos *board.Position, perspective int) {
	ksq := int(pos.KingSquare[perspective])
	e.indices = e.indices[:0]
	for b := pos.AllOccupied; b != 0; {
		sq := b.PopLSB()
		pc := nnuePiece[pos.PieceAt(sq)]
		e.indices = append(e.indices, features.MakeIndex(perspective, int(sq), pc, ksq))
	}
	net.FeatureTransformer.ComputeAccumulator(e.indices, acc.Accumulation[perspective], acc.PSQTAccumulation[perspective])
	acc.Computed[perspective] = true
	acc.KingSq[perspective] = ksq
}

// simpleEval is the material balance for the side to move.
func simpleEval(pos *board.Position) Value {
	us, them := pos.SideToMove, pos.SideToMove.Other()
	pawns := Value(pos.Pieces[us][board.Pawn].PopCount() - pos.Pieces[them][board.Pawn].PopCount())
	var npm Value
	for pt := board.Knight; pt <= board.Queen; pt++ {
		n := pos.Pieces[us][pt].PopCount() - pos.Pieces[them][pt].PopCount()
		npm += Value(n) * PieceValueMg[pt]
	}
	return pawns*PawnValueMg + npm
}
