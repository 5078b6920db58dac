package engine

import (
	"testing"

	"github.com/hailam/chesssearch/internal/board"
)

// afterE4 is the position after 1.e4; the frame below the node under test
// is set up as if e2e4 had just been searched.
const afterE4 = "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq - 0 1"

var (
	whitePawn   = board.NewPiece(board.Pawn, board.White)
	blackPawn   = board.NewPiece(board.Pawn, board.Black)
	blackKnight = board.NewPiece(board.Knight, board.Black)
)

// playedE4 marks stack[stackOffset] as the quiet move e2e4 and gives the
// frame before it a continuation table, returned as older. The node under
// test runs at stackOffset+1.
func playedE4(e *Engine, w *Worker) (prevCont, older *ContinuationHistory) {
	prev := &w.stack[stackOffset]
	prev.ply = 1
	prev.currentMove = board.NewMove(board.E2, board.E4)
	prev.counterMoves = e.hist.Continuation(whitePawn, board.E4)
	prev.captured = board.NoPiece
	older = e.hist.Continuation(blackPawn, board.D5)
	w.stack[stackOffset-1].counterMoves = older
	return prev.counterMoves, older
}

func TestUpdateStatsQuietCutoff(t *testing.T) {
	e, w := newSearchWorker(t, DefaultOptions(), afterE4, Limits{Depth: 4})
	cont, _ := playedE4(e, w)
	sp := stackOffset + 1

	nf6 := board.NewMove(board.G8, board.F6)
	nc6 := board.NewMove(board.B8, board.C6)
	a6 := board.NewMove(board.A7, board.A6)
	w.updateStats(sp, nf6, []board.Move{nc6, a6}, statBonus(4))

	h := e.hist
	if v := h.History.Get(blackKnight, board.F6); v <= 0 {
		t.Errorf("history of the cutoff move = %d", v)
	}
	if v := h.FromTo.Get(board.Black, nf6); v <= 0 {
		t.Errorf("from-to history of the cutoff move = %d", v)
	}
	if v := cont.Get(blackKnight, board.F6); v <= 0 {
		t.Errorf("continuation of the cutoff move = %d", v)
	}
	if m := h.CounterMoves.Get(whitePawn, board.E4); m != nf6 {
		t.Errorf("counter move of e4 = %v, want %v", m, nf6)
	}
	if v := h.History.Get(blackKnight, board.C6); v >= 0 {
		t.Errorf("history of an earlier quiet = %d", v)
	}
	if v := h.History.Get(blackPawn, board.A6); v >= 0 {
		t.Errorf("history of an earlier quiet = %d", v)
	}
	if v := cont.Get(blackKnight, board.C6); v >= 0 {
		t.Errorf("continuation of an earlier quiet = %d", v)
	}
	if v := h.FromTo.Get(board.Black, a6); v >= 0 {
		t.Errorf("from-to history of an earlier quiet = %d", v)
	}

	st := &w.stack[sp]
	if st.killers != [2]board.Move{nf6, board.NoMove} {
		t.Errorf("killers = %v", st.killers)
	}
	e5 := board.NewMove(board.E7, board.E5)
	w.updateStats(sp, e5, nil, statBonus(4))
	w.updateStats(sp, e5, nil, statBonus(4))
	if st.killers != [2]board.Move{e5, nf6} {
		t.Errorf("killers = %v, want [%v %v]", st.killers, e5, nf6)
	}
}

func TestPenalizePrevious(t *testing.T) {
	e, w := newSearchWorker(t, DefaultOptions(), afterE4, Limits{Depth: 4})
	_, older := playedE4(e, w)
	sp := stackOffset + 1

	// A refuted quiet move loses continuation score.
	w.penalizePrevious(sp, refutationPenalty(4))
	if v := older.Get(whitePawn, board.E4); v >= 0 {
		t.Errorf("refuted move scored %d", v)
	}

	// A negative penalty is the fail-low bonus.
	for i := 0; i < 3; i++ {
		w.penalizePrevious(sp, -statBonus(4))
	}
	if v := older.Get(whitePawn, board.E4); v <= 0 {
		t.Errorf("move causing a fail low scored %d", v)
	}

	// A null move has nothing to score.
	before := older.Get(whitePawn, board.E4)
	w.stack[stackOffset].currentMove = board.NullMove
	w.penalizePrevious(sp, refutationPenalty(4))
	if v := older.Get(whitePawn, board.E4); v != before {
		t.Errorf("null move changed score %d to %d", before, v)
	}
}

func TestTTCutoffUpdatesStats(t *testing.T) {
	e, w := newSearchWorker(t, DefaultOptions(), afterE4, Limits{Depth: 8})
	_, older := playedE4(e, w)
	w.stack[stackOffset].moveCount = 1
	sp := stackOffset + 1

	nf6 := board.NewMove(board.G8, board.F6)
	key := w.pos.Hash
	_, _, slot := e.tt.Probe(key)
	e.tt.Save(slot, key, 500, BoundLower, 10, nf6, ValueNone)

	if v := w.search(nonPVNode, sp, 99, 100, 5, true); v != 500 {
		t.Fatalf("search returned %d, want the stored 500", v)
	}
	h := e.hist
	if v := h.History.Get(blackKnight, board.F6); v <= 0 {
		t.Errorf("history of the TT move = %d", v)
	}
	if k := w.stack[sp].killers[0]; k != nf6 {
		t.Errorf("killer = %v, want %v", k, nf6)
	}
	if m := h.CounterMoves.Get(whitePawn, board.E4); m != nf6 {
		t.Errorf("counter move of e4 = %v", m)
	}
	if v := older.Get(blackKnight, board.F6); v <= 0 {
		t.Errorf("continuation two plies back = %d", v)
	}
	// e2e4 was the first move tried at its node and got refuted.
	if v := older.Get(whitePawn, board.E4); v >= 0 {
		t.Errorf("refuted e2e4 scored %d", v)
	}
}

func TestFailLowRewardsPreviousMove(t *testing.T) {
	e, w := newSearchWorker(t, DefaultOptions(), afterE4, Limits{Depth: 8})
	_, older := playedE4(e, w)
	sp := stackOffset + 1

	// Every black move fails low against a two pawn margin.
	if v := w.search(nonPVNode, sp, 2000, 2001, 4, false); v > 2000 {
		t.Fatalf("search returned %d, want a fail low", v)
	}
	if v := older.Get(whitePawn, board.E4); v <= 0 {
		t.Errorf("e2e4 scored %d after the reply failed low", v)
	}
}

func TestSearchClearsKillersTwoPliesAhead(t *testing.T) {
	_, w := newSearchWorker(t, DefaultOptions(), board.StartFEN, Limits{Depth: 4})
	w.stack[stackOffset].ply = 1
	sp := stackOffset + 1
	stale := [2]board.Move{board.NewMove(board.A2, board.A3), board.NewMove(board.H2, board.H3)}
	w.stack[sp+2].killers = stale
	w.stack[sp].killers = stale

	w.search(nonPVNode, sp, -1, 0, 1, false)
	if k := w.stack[sp+2].killers; k != [2]board.Move{} {
		t.Errorf("killers two plies ahead = %v", k)
	}
	// The node's own killers belong to its siblings.
	if k := w.stack[sp].killers; k[0] == board.NoMove {
		t.Errorf("own killers cleared: %v", k)
	}
}

func TestNullMoveMateIsClamped(t *testing.T) {
	// After a pass every black move allows Re8 mate.
	const fen = "7k/1p3ppp/8/8/8/8/8/4R1K1 w - - 0 1"
	e, w := newSearchWorker(t, DefaultOptions(), fen, Limits{Depth: 8})
	w.stack[stackOffset].ply = 1

	// A shallow entry lifts the static eval to beta so that only the mate
	// fails high below the null move.
	const beta = Value(1500)
	key := w.pos.Hash
	_, _, slot := e.tt.Probe(key)
	e.tt.Save(slot, key, beta, BoundLower, 1, board.NoMove, beta)

	v := w.search(nonPVNode, stackOffset+1, beta-1, beta, 6, true)
	if v != beta {
		t.Errorf("null move search returned %d, want beta %d", v, beta)
	}
	if w.stack[stackOffset+1].currentMove != board.NullMove {
		t.Error("node settled without the null move")
	}
}
