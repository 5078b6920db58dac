package engine

import "github.com/hailam/chesssearch/internal/board"

// stackOffset is the index of the root frame. The frames below it are
// sentinels so that a node can always look four plies back.
const stackOffset = 5

// stackSize leaves room for two frames beyond the deepest searched ply.
const stackSize = MaxPly + 7

// frame is the per-ply search state.
type frame struct {
	ply          int
	pv           []board.Move
	currentMove  board.Move
	excludedMove board.Move
	killers      [2]board.Move
	staticEval   Value
	moveCount    int
	counterMoves *ContinuationHistory

	// skipEarlyPruning is set while a null move verification, IID or
	// singular search runs on this frame.
	skipEarlyPruning bool

	// captured is the piece taken by currentMove, NoPiece for quiet and
	// null moves.
	captured           board.Piece
	undo               board.UndoInfo
	nullUndo           board.NullMoveUndo
	savedPliesFromNull int

	pvBuf [MaxPly + 1]board.Move
}

// updatePV sets f's line to m followed by child's line.
func (f *frame) updatePV(m board.Move, child []board.Move) {
	f.pv = append(f.pvBuf[:0], m)
	f.pv = append(f.pv, child...)
}

func (w *Worker) resetStack() {
	for i := range w.stack {
		f := &w.stack[i]
		f.ply = 0
		f.pv = nil
		f.currentMove = board.NoMove
		f.excludedMove = board.NoMove
		f.killers = [2]board.Move{}
		f.staticEval = ValueZero
		f.moveCount = 0
		f.counterMoves = nil
		f.skipEarlyPruning = false
		f.captured = board.NoPiece
	}
}
