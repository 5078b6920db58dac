package engine

import (
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/hailam/chesssearch/internal/board"
)

// Worker is one search thread. It owns a private copy of the position and
// a private stack; the transposition table, the ordering statistics and
// the stop flag are shared through the engine.
type Worker struct {
	id     int
	engine *Engine
	eval   Evaluator
	logger zerolog.Logger

	pos   *board.Position
	stack [stackSize]frame

	rootMoves      RootMoves
	pvIdx          int
	rootDepth      Depth
	completedDepth Depth
	selDepth       int

	nodes  atomic.Uint64
	tbHits atomic.Uint64

	// callsCnt counts nodes since the last time check. Any worker may
	// reset every other worker's count through resetCalls.
	callsCnt   int
	resetCalls atomic.Bool

	// bestMoveChanges is only maintained by the main worker.
	bestMoveChanges float64

	// keys holds the position keys of the game and the current path, the
	// last one being the current position.
	keys          []uint64
	pliesFromNull int
}

func newWorker(id int, e *Engine, eval Evaluator) *Worker {
	return &Worker{
		id:     id,
		engine: e,
		eval:   eval,
		logger: e.logger.With().Int("worker", id).Logger(),
		keys:   make([]uint64, 0, 512),
	}
}

func (w *Worker) isMain() bool { return w.id == 0 }

// Nodes returns the number of positions this worker has entered.
func (w *Worker) Nodes() uint64 { return w.nodes.Load() }

// TBHits returns the number of successful tablebase probes.
func (w *Worker) TBHits() uint64 { return w.tbHits.Load() }

// prepare copies the root position and the game history into the worker.
func (w *Worker) prepare(pos *board.Position, history []uint64, rootMoves RootMoves) {
	w.pos = pos.Copy()
	w.rootMoves = rootMoves.clone()
	w.pvIdx = 0
	w.rootDepth = 0
	w.completedDepth = 0
	w.selDepth = 0
	w.nodes.Store(0)
	w.tbHits.Store(0)
	w.callsCnt = 0
	w.resetCalls.Store(false)
	w.bestMoveChanges = 0

	w.keys = append(w.keys[:0], history...)
	w.keys = append(w.keys, pos.Hash)
	w.pliesFromNull = min(pos.HalfMoveClock, len(history))

	w.resetStack()
}

// doMove plays m from frame sp and records what the reply needs to know
// about it.
func (w *Worker) doMove(sp int, m board.Move) {
	st := &w.stack[sp]
	w.nodes.Add(1)
	st.savedPliesFromNull = w.pliesFromNull
	st.undo = w.pos.MakeMove(m)
	st.captured = st.undo.Captured
	w.keys = append(w.keys, w.pos.Hash)
	w.pliesFromNull++
}

func (w *Worker) undoMove(sp int, m board.Move) {
	st := &w.stack[sp]
	w.pos.UnmakeMove(m, st.undo)
	w.keys = w.keys[:len(w.keys)-1]
	w.pliesFromNull = st.savedPliesFromNull
}

func (w *Worker) doNullMove(sp int) {
	st := &w.stack[sp]
	w.nodes.Add(1)
	st.savedPliesFromNull = w.pliesFromNull
	st.nullUndo = w.pos.MakeNullMove()
	st.captured = board.NoPiece
	w.keys = append(w.keys, w.pos.Hash)
	w.pliesFromNull = 0
}

func (w *Worker) undoNullMove(sp int) {
	st := &w.stack[sp]
	w.pos.UnmakeNullMove(st.nullUndo)
	w.keys = w.keys[:len(w.keys)-1]
	w.pliesFromNull = st.savedPliesFromNull
}

// isDraw reports a fifty-move draw, insufficient material or a
// repetition. A position repeated once inside the search tree already
// counts; one repeated from the game history must occur twice.
func (w *Worker) isDraw(ply int) bool {
	pos := w.pos
	if pos.HalfMoveClock > 99 && (!pos.InCheck() || pos.HasLegalMoves()) {
		return true
	}
	if pos.IsInsufficientMaterial() {
		return true
	}

	end := min(pos.HalfMoveClock, w.pliesFromNull)
	n := len(w.keys)
	cnt := 0
	for i := 4; i <= end && i < n; i += 2 {
		if w.keys[n-1-i] != pos.Hash {
			continue
		}
		cnt++
		if ply > i {
			cnt++
		}
		if cnt >= 2 {
			return true
		}
	}
	return false
}

// pollTime is called on every node. Every callsLimit nodes the calling
// worker restarts all counters and checks the limits.
func (w *Worker) pollTime() {
	if w.resetCalls.Load() {
		w.resetCalls.Store(false)
		w.callsCnt = 0
	}
	w.callsCnt++
	if w.callsCnt <= w.engine.callsLimit {
		return
	}
	for _, other := range w.engine.workers {
		other.resetCalls.Store(true)
	}
	w.engine.checkTime()
}

// evaluate returns the static evaluation for the side to move.
func (w *Worker) evaluate() Value {
	return w.eval.Evaluate(w.pos)
}

// updateStats rewards the quiet move m that produced a cutoff at frame sp
// and penalizes the quiets tried before it.
func (w *Worker) updateStats(sp int, m board.Move, quiets []board.Move, bonus Value) {
	st := &w.stack[sp]
	if st.killers[0] != m {
		st.killers[1] = st.killers[0]
		st.killers[0] = m
	}

	pos, h := w.pos, w.engine.hist
	us := pos.SideToMove
	pc := pos.MovedPiece(m)

	h.FromTo.Update(us, m, bonus)
	h.History.Update(pc, m.To(), bonus)
	w.updateContinuation(sp, pc, m.To(), bonus)

	if prev := &w.stack[sp-1]; prev.counterMoves != nil {
		prevSq := prev.currentMove.To()
		h.CounterMoves.Set(pos.PieceAt(prevSq), prevSq, m)
	}

	for _, q := range quiets {
		qpc := pos.MovedPiece(q)
		h.FromTo.Update(us, q, -bonus)
		h.History.Update(qpc, q.To(), -bonus)
		w.updateContinuation(sp, qpc, q.To(), -bonus)
	}
}

// updateContinuation updates the continuation tables of the moves one,
// two and four plies before frame sp.
func (w *Worker) updateContinuation(sp int, pc board.Piece, to board.Square, bonus Value) {
	for _, back := range [...]int{1, 2, 4} {
		if cm := w.stack[sp-back].counterMoves; cm != nil {
			cm.Update(pc, to, bonus)
		}
	}
}

// penalizePrevious lowers the continuation scores of the move that led to
// frame sp, typically a quiet TT move that got refuted.
func (w *Worker) penalizePrevious(sp int, penalty Value) {
	prev := &w.stack[sp-1]
	if !prev.currentMove.IsOK() {
		return
	}
	prevSq := prev.currentMove.To()
	w.updateContinuation(sp-1, w.pos.PieceAt(prevSq), prevSq, -penalty)
}

func (w *Worker) elapsed() time.Duration { return w.engine.tm.Elapsed() }
