package engine

import (
	"context"
	"fmt"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/notnil/chess"

	"github.com/hailam/chesssearch/internal/board"
)

// newSearchWorker prepares an engine for fen the way Search does and
// returns its main worker, ready for direct search calls at stackOffset.
func newSearchWorker(t *testing.T, opts Options, fen string, limits Limits) (*Engine, *Worker) {
	t.Helper()
	pos, err := board.ParseFEN(fen)
	if err != nil {
		t.Fatalf("ParseFEN(%q): %v", fen, err)
	}
	e := New(opts)
	e.setup(pos, limits)
	e.ctx = context.Background()
	w := e.workers[0]
	w.prepare(pos, limits.History, newRootMoves(pos, nil))
	return e, w
}

func searchFEN(t *testing.T, opts Options, fen string, limits Limits) Result {
	t.Helper()
	pos, err := board.ParseFEN(fen)
	if err != nil {
		t.Fatalf("ParseFEN(%q): %v", fen, err)
	}
	res, err := New(opts).Search(context.Background(), pos, limits)
	if err != nil {
		t.Fatalf("Search(%q): %v", fen, err)
	}
	return res
}

// replayPV plays pv on an independent move generator, failing on the
// first illegal move.
func replayPV(t *testing.T, fen string, pv []board.Move) *chess.Game {
	t.Helper()
	fenOpt, err := chess.FEN(fen)
	if err != nil {
		t.Fatalf("chess.FEN(%q): %v", fen, err)
	}
	game := chess.NewGame(fenOpt, chess.UseNotation(chess.UCINotation{}))
	for i, m := range pv {
		if err := game.MoveStr(m.String()); err != nil {
			t.Fatalf("%s: PV move %d (%v) rejected: %v", fen, i+1, m, err)
		}
	}
	return game
}

func TestForcedMoveScoutSearch(t *testing.T) {
	// White is in check and Rc1 is the only legal move.
	const fen = "7k/6pp/8/8/8/8/2R3PP/r6K w - - 0 1"

	for _, k := range []Value{-300, 0, 300} {
		_, w := newSearchWorker(t, DefaultOptions(), fen, Limits{Depth: 1})
		if n := len(w.rootMoves); n != 1 {
			t.Fatalf("%d legal moves, want 1", n)
		}
		forced := w.rootMoves[0].Move()

		got := w.search(nonPVNode, stackOffset, k, k+1, OnePly, false)
		if mc := w.stack[stackOffset].moveCount; mc != 1 {
			t.Errorf("window %d: move count %d, want 1", k, mc)
		}

		// The same leaf search after the forced move, on a fresh table.
		_, ref := newSearchWorker(t, DefaultOptions(), fen, Limits{Depth: 1})
		st := &ref.stack[stackOffset]
		st.ply = 1
		st.currentMove = forced
		ref.doMove(stackOffset, forced)
		want := -ref.qsearch(nonPVNode, ref.pos.InCheck(), stackOffset+1, -(k + 1), -k, 0)

		if got != want {
			t.Errorf("window (%d, %d): search = %d, forced continuation = %d", k, k+1, got, want)
		}
	}
}

func TestMateScores(t *testing.T) {
	tests := []struct {
		name  string
		fen   string
		depth int
		want  Value
		best  string
	}{
		{"mate in one", "6k1/5ppp/8/8/8/8/8/R5K1 w - - 0 1", 4, MateIn(2), "a1a8"},
		{"mate in two", "7k/8/8/8/8/8/R7/1R4K1 w - - 0 1", 6, MateIn(4), ""},
		{"mated after a forced move", "7k/8/8/8/8/r7/1r6/7K w - - 0 1", 4, MatedIn(3), "h1g1"},
		{"mated in two", "8/6k1/R7/8/8/8/8/1R4K1 b - - 0 1", 9, MatedIn(5), ""},
	}

	for _, tc := range tests {
		res := searchFEN(t, DefaultOptions(), tc.fen, Limits{Depth: tc.depth})
		if res.Score != tc.want {
			t.Errorf("%s: score = %d, want %d", tc.name, res.Score, tc.want)
		}
		if tc.best != "" && res.BestMove.String() != tc.best {
			t.Errorf("%s: best move = %v, want %s", tc.name, res.BestMove, tc.best)
		}

		// The PV is exactly the forcing line and ends in mate.
		plies := int(ValueMate - abs(tc.want) - 1)
		if len(res.PV) != plies {
			t.Errorf("%s: PV %v has %d moves, want %d", tc.name, res.PV, len(res.PV), plies)
			continue
		}
		if game := replayPV(t, tc.fen, res.PV); game.Method() != chess.Checkmate {
			t.Errorf("%s: PV %v does not end in mate (%v)", tc.name, res.PV, game.Method())
		}
	}
}

func TestMateDistanceBounds(t *testing.T) {
	const fen = "6k1/5ppp/8/8/8/8/8/R5K1 w - - 0 1"

	for ply := 1; ply <= 6; ply++ {
		_, w := newSearchWorker(t, DefaultOptions(), fen, Limits{Depth: 3})
		sp := stackOffset + ply - 1
		w.stack[sp-1].ply = ply - 1

		v := w.search(pvNode, sp, -ValueInfinite, ValueInfinite, 3, false)
		if v > MateIn(ply+1) || v < MatedIn(ply) {
			t.Errorf("ply %d: score %d outside [%d, %d]", ply, v, MatedIn(ply), MateIn(ply+1))
		}
		if v != MateIn(ply+1) {
			t.Errorf("ply %d: score %d, want mate at %d", ply, v, MateIn(ply+1))
		}
	}
}

func TestStalemateReturnsDrawValue(t *testing.T) {
	const fen = "7k/5Q2/6K1/8/8/8/8/8 b - - 0 1"
	opts := DefaultOptions()
	opts.Contempt = 50

	windows := [][2]Value{
		{-ValueInfinite, ValueInfinite},
		{-5000, -4000},
		{300, 400},
		{-1, 1},
	}
	for _, win := range windows {
		e, w := newSearchWorker(t, opts, fen, Limits{Depth: 3})
		w.stack[stackOffset].ply = 1
		v := w.search(pvNode, stackOffset+1, win[0], win[1], 3, false)
		if want := e.drawValue[board.Black]; v != want {
			t.Errorf("window %v: score %d, want draw value %d", win, v, want)
		}
	}

	res := searchFEN(t, opts, fen, Limits{Depth: 3})
	if res.BestMove != board.NoMove || res.Score != ValueDraw {
		t.Errorf("stalemated root: best %v score %d", res.BestMove, res.Score)
	}

	res = searchFEN(t, opts, "R5k1/5ppp/8/8/8/8/8/6K1 b - - 0 1", Limits{Depth: 3})
	if res.BestMove != board.NoMove || res.Score != -ValueMate {
		t.Errorf("checkmated root: best %v score %d", res.BestMove, res.Score)
	}
}

func TestContemptSkewsDraws(t *testing.T) {
	opts := DefaultOptions()
	opts.Contempt = 20
	e, _ := newSearchWorker(t, opts, "8/8/8/4k3/8/8/8/4K3 w - - 0 1", Limits{Depth: 1})
	if e.drawValue[board.White] >= 0 || e.drawValue[board.Black] != -e.drawValue[board.White] {
		t.Errorf("draw values %v", e.drawValue)
	}

	res := searchFEN(t, DefaultOptions(), "8/8/8/4k3/8/8/8/4K3 w - - 0 1", Limits{Depth: 4})
	if res.Score != ValueDraw {
		t.Errorf("bare kings: score %d, want draw", res.Score)
	}
}

func TestRepetitionDraw(t *testing.T) {
	pos := board.NewPosition()
	var history []uint64
	for _, s := range []string{"g1f3", "g8f6", "f3g1", "f6g8"} {
		m, err := board.ParseMove(s, pos)
		if err != nil {
			t.Fatalf("ParseMove(%q): %v", s, err)
		}
		history = append(history, pos.Hash)
		pos.MakeMove(m)
	}

	e := New(DefaultOptions())
	w := e.workers[0]
	w.prepare(pos, history, newRootMoves(pos, nil))

	// Repeated once from the game: not yet a draw at the root...
	if w.isDraw(1) {
		t.Error("single repetition of a game position scored as draw")
	}
	// ...but a repetition within the searched line is.
	if !w.isDraw(5) {
		t.Error("repetition inside the search not scored as draw")
	}

	// Without the game history there is nothing to repeat.
	w.prepare(pos, nil, newRootMoves(pos, nil))
	if w.isDraw(5) {
		t.Error("draw without history")
	}
}

func TestAbortedSearchWritesNothing(t *testing.T) {
	const fen = "r3k2r/p1ppqpb1/bn2pnp1/3PN3/1p2P3/2N2Q1p/PPPBBPPP/R3K2R w KQkq - 0 1"
	e, w := newSearchWorker(t, DefaultOptions(), fen, Limits{Depth: 5})

	// Warm the tables, then raise the stop flag.
	w.search(pvNode, stackOffset, -ValueInfinite, ValueInfinite, 4, false)
	ttBefore := e.tt.Snapshot()
	pc := board.NewPiece(board.Knight, board.White)
	histBefore := e.hist.History.Get(pc, board.F3)
	e.stop.Store(true)

	w.stack[stackOffset].ply = 1
	if v := w.search(pvNode, stackOffset+1, -ValueInfinite, ValueInfinite, 5, false); v != e.drawValue[w.pos.SideToMove] {
		t.Errorf("aborted node returned %d", v)
	}
	if v := w.qsearch(nonPVNode, w.pos.InCheck(), stackOffset+1, -1, 0, 0); v != ValueZero {
		t.Errorf("aborted leaf returned %d", v)
	}

	if !slices.Equal(ttBefore.Words, e.tt.Snapshot().Words) {
		t.Error("transposition table written after stop")
	}
	if e.hist.History.Get(pc, board.F3) != histBefore {
		t.Error("history written after stop")
	}
}

// stoppingEvaluator raises the stop flag on its n-th call, the way a
// timer firing inside the tree would, and records the shared tables as
// they were at that moment.
type stoppingEvaluator struct {
	*ClassicalEvaluator
	engine *Engine
	n      int
	calls  int

	stopped bool
	ttWords []uint64
	hist    []int32
}

func (ev *stoppingEvaluator) Evaluate(pos *board.Position) Value {
	v := ev.ClassicalEvaluator.Evaluate(pos)
	ev.calls++
	if ev.calls == ev.n {
		ev.engine.stop.Store(true)
		ev.stopped = true
		ev.ttWords = ev.engine.tt.Snapshot().Words
		ev.hist = historyValues(ev.engine.hist)
	}
	return v
}

// historyValues flattens every statistics table, counter moves included.
func historyValues(h *Histories) []int32 {
	var vals []int32
	h.each(func(e *atomic.Int32) { vals = append(vals, e.Load()) })
	for pc := range h.CounterMoves {
		for sq := range h.CounterMoves[pc] {
			vals = append(vals, int32(h.CounterMoves[pc][sq].Load()))
		}
	}
	return vals
}

func newStoppingWorker(t *testing.T, fen string, n int) (*Engine, *Worker, *stoppingEvaluator) {
	t.Helper()
	ev := &stoppingEvaluator{ClassicalEvaluator: NewClassicalEvaluator(), n: n}
	opts := DefaultOptions()
	opts.HashMB = 1
	opts.NewEvaluator = func() Evaluator { return ev }
	e, w := newSearchWorker(t, opts, fen, Limits{Depth: 8})
	ev.engine = e
	return e, w, ev
}

func checkNothingWrittenAfterStop(t *testing.T, name string, e *Engine, ev *stoppingEvaluator) {
	t.Helper()
	if !slices.Equal(ev.ttWords, e.tt.Snapshot().Words) {
		t.Errorf("%s: transposition table written after stop", name)
	}
	if !slices.Equal(ev.hist, historyValues(e.hist)) {
		t.Errorf("%s: statistics written after stop", name)
	}
}

func TestStopInsideLeafSearch(t *testing.T) {
	// White is a queen down: the stand pat fails low and exd5 is searched.
	const fen = "4k3/8/8/3q4/4P3/8/8/4K3 w - - 0 1"
	for n := 1; n <= 2; n++ {
		e, w, ev := newStoppingWorker(t, fen, n)
		v := w.qsearch(nonPVNode, false, stackOffset, -1, 0, 0)
		if !ev.stopped {
			t.Fatalf("n=%d: leaf search made %d evaluations", n, ev.calls)
		}
		if v != ValueZero {
			t.Errorf("n=%d: stopped leaf returned %d", n, v)
		}
		checkNothingWrittenAfterStop(t, fmt.Sprintf("n=%d", n), e, ev)
	}

	// An aborted PV leaf leaves no line for its parent to copy.
	e, w := newSearchWorker(t, DefaultOptions(), fen, Limits{Depth: 1})
	st := &w.stack[stackOffset]
	st.pv = append(st.pvBuf[:0], board.NewMove(board.E4, board.D5))
	e.stop.Store(true)
	w.qsearch(pvNode, false, stackOffset, -ValueInfinite, ValueInfinite, 0)
	if len(st.pv) != 0 {
		t.Errorf("aborted PV leaf kept line %v", st.pv)
	}
}

func TestStopInsideSearchTree(t *testing.T) {
	const fen = "r3k2r/p1ppqpb1/bn2pnp1/3PN3/1p2P3/2N2Q1p/PPPBBPPP/R3K2R w KQkq - 0 1"
	for _, n := range []int{50, 200, 500, 1000} {
		e, w, ev := newStoppingWorker(t, fen, n)
		w.search(pvNode, stackOffset, -ValueInfinite, ValueInfinite, 6, false)
		if !ev.stopped {
			t.Fatalf("n=%d: depth 6 made only %d evaluations", n, ev.calls)
		}
		checkNothingWrittenAfterStop(t, fmt.Sprintf("n=%d", n), e, ev)
	}
}

func TestSearchAgesStatistics(t *testing.T) {
	e := New(DefaultOptions())
	pc := board.NewPiece(board.Rook, board.White)
	m := board.NewMove(board.A1, board.A8)
	e.hist.History.Update(pc, board.A8, 100)
	e.hist.CounterMoves.Set(pc, board.A8, m)
	before := e.hist.History.Get(pc, board.A8)

	// The stalemated root returns before any worker updates the tables.
	pos, err := board.ParseFEN("7k/5Q2/6K1/8/8/8/8/8 b - - 0 1")
	if err != nil {
		t.Fatalf("ParseFEN: %v", err)
	}
	if _, err := e.Search(context.Background(), pos, Limits{Depth: 2}); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if got := e.hist.History.Get(pc, board.A8); got != before/2 {
		t.Errorf("history after a search = %d, want %d", got, before/2)
	}
	if e.hist.CounterMoves.Get(pc, board.A8) != m {
		t.Error("search dropped a counter move")
	}
}

func TestFailHighIsNotExact(t *testing.T) {
	const fen = "r1bqkbnr/pppp1ppp/2n5/4p3/4P3/5N2/PPPP1PPP/RNBQKB1R w KQkq - 2 3"
	pos, err := board.ParseFEN(fen)
	if err != nil {
		t.Fatalf("ParseFEN: %v", err)
	}

	for _, win := range [][2]Value{{-1000, -999}, {1500, 1501}} {
		e, w := newSearchWorker(t, DefaultOptions(), fen, Limits{Depth: 6})
		w.stack[stackOffset].ply = 1
		v := w.search(nonPVNode, stackOffset+1, win[0], win[1], 5, false)

		if win[0] < 0 && v < win[1] {
			t.Errorf("window %v: expected a fail high, got %d", win, v)
		}
		if win[0] > 0 && v > win[0] {
			t.Errorf("window %v: expected a fail low, got %d", win, v)
		}
		if tte, hit, _ := e.tt.Probe(pos.Hash); hit && tte.Bound == BoundExact {
			t.Errorf("window %v: scout result %d stored as exact", win, v)
		}
	}
}

func TestSearchDeterministic(t *testing.T) {
	fens := []string{
		board.StartFEN,
		"r3k2r/p1ppqpb1/bn2pnp1/3PN3/1p2P3/2N2Q1p/PPPBBPPP/R3K2R w KQkq - 0 1",
		"8/2p5/3p4/KP5r/1R3p1k/8/4P1P1/8 w - - 0 1",
	}
	depth := 7
	if testing.Short() {
		depth = 5
	}

	for _, fen := range fens {
		a := searchFEN(t, DefaultOptions(), fen, Limits{Depth: depth})
		b := searchFEN(t, DefaultOptions(), fen, Limits{Depth: depth})
		if a.BestMove != b.BestMove || a.Score != b.Score || a.Nodes != b.Nodes || !slices.Equal(a.PV, b.PV) {
			t.Errorf("%s: runs differ: %v %d %d %v / %v %d %d %v", fen,
				a.BestMove, a.Score, a.Nodes, a.PV, b.BestMove, b.Score, b.Nodes, b.PV)
		}
		if a.Depth != depth {
			t.Errorf("%s: completed depth %d, want %d", fen, a.Depth, depth)
		}
		replayPV(t, fen, a.PV)
	}
}

func TestSearchScoreRange(t *testing.T) {
	fens := []string{
		board.StartFEN,
		"r3k2r/Pppp1ppp/1b3nbN/nP6/BBP1P3/q4N2/Pp1P2PP/R2Q1RK1 w kq - 0 1",
		"8/8/8/8/8/8/6k1/4K2R w K - 0 1",
		"2r3k1/1q1nbppp/r3p3/3pP3/pPpP4/P1Q2N2/2RN1PPP/2R4K b - b3 0 23",
	}
	for _, fen := range fens {
		e := New(DefaultOptions())
		var events int
		e.OnProgress = func(p Progress) {
			if p.Kind != ProgressIteration {
				return
			}
			events++
			if p.Score <= -ValueInfinite || p.Score >= ValueInfinite {
				t.Errorf("%s: depth %d score %d out of range", fen, p.Depth, p.Score)
			}
			if len(p.PV) == 0 {
				t.Errorf("%s: depth %d reported an empty PV", fen, p.Depth)
			}
		}
		pos, err := board.ParseFEN(fen)
		if err != nil {
			t.Fatalf("ParseFEN(%q): %v", fen, err)
		}
		res, err := e.Search(context.Background(), pos, Limits{Depth: 6})
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if events == 0 {
			t.Errorf("%s: no progress reported", fen)
		}
		if res.Score <= -ValueInfinite || res.Score >= ValueInfinite {
			t.Errorf("%s: score %d out of range", fen, res.Score)
		}
		replayPV(t, fen, res.PV)
	}
}

func TestMultiPV(t *testing.T) {
	opts := DefaultOptions()
	opts.MultiPV = 3
	res := searchFEN(t, opts, board.StartFEN, Limits{Depth: 5})

	if len(res.Lines) != 3 {
		t.Fatalf("got %d lines, want 3", len(res.Lines))
	}
	seen := make(map[board.Move]bool)
	for i, line := range res.Lines {
		if seen[line.PV[0]] {
			t.Errorf("line %d repeats move %v", i+1, line.PV[0])
		}
		seen[line.PV[0]] = true
		if i > 0 && line.Score > res.Lines[i-1].Score {
			t.Errorf("line %d scores %d above line %d (%d)", i+1, line.Score, i, res.Lines[i-1].Score)
		}
		replayPV(t, board.StartFEN, line.PV)
	}
	if res.BestMove != res.Lines[0].PV[0] {
		t.Errorf("best move %v is not the first line", res.BestMove)
	}

	for i, r := range res.Lines {
		t.Logf("  PV %d: %v (score: %d, depth: %d)", i+1, r.PV, r.Score, r.Depth)
	}
}

func TestSearchMovesRestriction(t *testing.T) {
	pos := board.NewPosition()
	only := []board.Move{board.NewMove(board.A2, board.A3), board.NewMove(board.H2, board.H3)}
	res, err := New(DefaultOptions()).Search(context.Background(), pos, Limits{Depth: 4, SearchMoves: only})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if !slices.Contains(only, res.BestMove) {
		t.Errorf("best move %v outside the searched moves", res.BestMove)
	}
}

func TestSearchLimits(t *testing.T) {
	t.Run("mate", func(t *testing.T) {
		res := searchFEN(t, DefaultOptions(), "7k/8/8/8/8/8/R7/1R4K1 w - - 0 1", Limits{Mate: 2})
		if res.Score != MateIn(4) {
			t.Errorf("score = %d, want %d", res.Score, MateIn(4))
		}
	})

	t.Run("nodes", func(t *testing.T) {
		res := searchFEN(t, DefaultOptions(), board.StartFEN, Limits{Nodes: 20000})
		if res.Nodes < 20000 || res.Nodes > 100000 {
			t.Errorf("searched %d nodes for a limit of 20000", res.Nodes)
		}
		if res.BestMove == board.NoMove {
			t.Error("no best move")
		}
	})

	t.Run("movetime", func(t *testing.T) {
		start := time.Now()
		res := searchFEN(t, DefaultOptions(), board.StartFEN, Limits{MoveTime: 200 * time.Millisecond})
		if elapsed := time.Since(start); elapsed > 2*time.Second {
			t.Errorf("200ms search took %v", elapsed)
		}
		if res.BestMove == board.NoMove {
			t.Error("no best move")
		}
	})

	t.Run("clock", func(t *testing.T) {
		start := time.Now()
		limits := Limits{Time: [2]time.Duration{2 * time.Second, 2 * time.Second}}
		res := searchFEN(t, DefaultOptions(), board.StartFEN, limits)
		if elapsed := time.Since(start); elapsed > 2*time.Second {
			t.Errorf("search on a 2s clock took %v", elapsed)
		}
		if res.BestMove == board.NoMove {
			t.Error("no best move")
		}
	})
}

func TestStopInfiniteSearch(t *testing.T) {
	e := New(DefaultOptions())
	pos := board.NewPosition()

	done := make(chan Result, 1)
	go func() {
		res, err := e.Search(context.Background(), pos, Limits{Infinite: true})
		if err != nil {
			t.Errorf("Search: %v", err)
		}
		done <- res
	}()

	time.Sleep(100 * time.Millisecond)
	e.Stop()

	select {
	case res := <-done:
		if res.BestMove == board.NoMove {
			t.Error("stopped search has no best move")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("infinite search ignored Stop")
	}
}

func TestContextCancelsSearch(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	res, err := New(DefaultOptions()).Search(ctx, board.NewPosition(), Limits{Infinite: true})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("cancelled search took %v", elapsed)
	}
	if res.BestMove == board.NoMove {
		t.Error("no best move")
	}
}

func TestLazySMP(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping multi-threaded search in short mode")
	}
	opts := DefaultOptions()
	opts.Threads = 4
	opts.HashMB = 32

	const fen = "r3k2r/p1ppqpb1/bn2pnp1/3PN3/1p2P3/2N2Q1p/PPPBBPPP/R3K2R w KQkq - 0 1"
	res := searchFEN(t, opts, fen, Limits{Depth: 9})
	if res.Depth != 9 {
		t.Errorf("completed depth %d, want 9", res.Depth)
	}
	replayPV(t, fen, res.PV)
	t.Logf("best %v score %d nodes %d", res.BestMove, res.Score, res.Nodes)

	// Mates are still found exactly with helpers sharing the table.
	res = searchFEN(t, opts, "7k/8/8/8/8/8/R7/1R4K1 w - - 0 1", Limits{Depth: 8})
	if res.Score != MateIn(4) {
		t.Errorf("mate in two with helpers: score %d", res.Score)
	}
}

func TestSearchRejectsInvalidPosition(t *testing.T) {
	// Black is in check with white to move.
	pos, err := board.ParseFEN("4k3/4R3/8/8/8/8/8/4K3 w - - 0 1")
	if err != nil {
		t.Fatalf("ParseFEN: %v", err)
	}
	if _, err := New(DefaultOptions()).Search(context.Background(), pos, Limits{Depth: 1}); err == nil {
		t.Error("search of an illegal position succeeded")
	}
}
