package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/hailam/chesssearch/internal/board"
	"github.com/hailam/chesssearch/internal/storage"
	"github.com/hailam/chesssearch/internal/tablebase"
)

// currMoveDelay is how long the main worker searches before it reports
// the root move it is working on.
const currMoveDelay = 3 * time.Second

// ProgressKind distinguishes progress events.
type ProgressKind uint8

const (
	// ProgressIteration reports a searched line.
	ProgressIteration ProgressKind = iota
	// ProgressCurrMove reports the root move being searched.
	ProgressCurrMove
)

// Progress is sent to Engine.OnProgress from the main worker's goroutine.
type Progress struct {
	Kind     ProgressKind
	Depth    int
	SelDepth int
	MultiPV  int // 1-based line index
	Score    Value
	Bound    Bound // BoundExact unless the line failed its aspiration window
	Nodes    uint64
	NPS      uint64
	TBHits   uint64
	HashFull int
	Elapsed  time.Duration
	PV       []board.Move

	CurrMove       board.Move
	CurrMoveNumber int
}

// Line is one principal variation of a finished search.
type Line struct {
	Score    Value
	Depth    int
	SelDepth int
	PV       []board.Move
}

// Result is the outcome of Engine.Search.
type Result struct {
	BestMove   board.Move
	PonderMove board.Move
	Score      Value
	Depth      int
	SelDepth   int
	Nodes      uint64
	TBHits     uint64
	Elapsed    time.Duration
	PV         []board.Move
	Lines      []Line
}

// SnapshotStore persists transposition table snapshots.
type SnapshotStore interface {
	Save(ctx context.Context, snap storage.Snapshot) error
	Load(ctx context.Context, clusters int) (storage.Snapshot, error)
}

// Engine runs Lazy SMP searches: every worker searches the same root and
// they cooperate only through the shared transposition table and
// statistics. An Engine runs one search at a time.
type Engine struct {
	opts   Options
	logger zerolog.Logger
	tt     *TranspositionTable
	hist   *Histories
	prober tablebase.Prober

	workers []*Worker

	// OnProgress, if set, receives progress events during Search.
	OnProgress func(Progress)

	searchMu sync.Mutex

	stopMu sync.Mutex
	cancel context.CancelFunc

	// Fixed for the duration of one search.
	ctx        context.Context
	limits     Limits
	tm         TimeManager
	drawValue  [2]Value
	tb         tbConfig
	callsLimit int
	gamePly    int

	stop      atomic.Bool
	mainDepth atomic.Int32

	// Main worker time management state.
	failedLow     bool
	previousScore Value
}

// New creates an engine. Missing options take their defaults.
func New(opts Options) *Engine {
	opts = opts.normalize()
	e := &Engine{
		opts:          opts,
		logger:        opts.Logger,
		tt:            NewTranspositionTable(opts.HashMB),
		hist:          NewHistories(),
		prober:        opts.Prober,
		previousScore: ValueInfinite,
	}
	e.workers = make([]*Worker, opts.Threads)
	for i := range e.workers {
		e.workers[i] = newWorker(i, e, opts.NewEvaluator())
	}
	e.logger.Debug().
		Int("threads", opts.Threads).
		Str("hash", humanize.IBytes(uint64(opts.HashMB)<<20)).
		Int("clusters", e.tt.Clusters()).
		Msg("engine-created")
	return e
}

// Options returns the normalized options the engine runs with.
func (e *Engine) Options() Options { return e.opts }

// Stop ends a running search. Search returns the best move found so far.
func (e *Engine) Stop() {
	e.stop.Store(true)
	e.stopMu.Lock()
	if e.cancel != nil {
		e.cancel()
	}
	e.stopMu.Unlock()
}

// Clear forgets everything learned in previous searches.
func (e *Engine) Clear() {
	e.searchMu.Lock()
	defer e.searchMu.Unlock()
	e.tt.Clear()
	e.hist.Clear()
	e.previousScore = ValueInfinite
}

// Resize reallocates the transposition table, dropping its content.
func (e *Engine) Resize(hashMB int) {
	e.searchMu.Lock()
	defer e.searchMu.Unlock()
	e.tt.Resize(max(hashMB, 1))
	e.opts.HashMB = hashMB
	e.logger.Debug().Str("hash", humanize.IBytes(uint64(hashMB)<<20)).Msg("hash-resized")
}

// HashFull returns the permille of the table written by the last search.
func (e *Engine) HashFull() int { return e.tt.HashFull() }

// SaveSnapshot writes the transposition table to store.
func (e *Engine) SaveSnapshot(ctx context.Context, store SnapshotStore) error {
	e.searchMu.Lock()
	defer e.searchMu.Unlock()
	snap := e.tt.Snapshot()
	err := store.Save(ctx, storage.Snapshot{
		Generation: snap.Generation,
		Clusters:   snap.Clusters,
		Words:      snap.Words,
	})
	if err != nil {
		return fmt.Errorf("save table snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot restores the transposition table from store. The stored
// table must have the current size.
func (e *Engine) LoadSnapshot(ctx context.Context, store SnapshotStore) error {
	e.searchMu.Lock()
	defer e.searchMu.Unlock()
	snap, err := store.Load(ctx, e.tt.Clusters())
	if err != nil {
		return fmt.Errorf("load table snapshot: %w", err)
	}
	err = e.tt.Restore(TTSnapshot{
		Generation: snap.Generation,
		Clusters:   snap.Clusters,
		Words:      snap.Words,
	})
	if err != nil {
		return fmt.Errorf("restore table snapshot: %w", err)
	}
	return nil
}

// Search looks for the best move in pos within limits. It returns when a
// limit is reached, ctx is done or Stop is called.
func (e *Engine) Search(ctx context.Context, pos *board.Position, limits Limits) (Result, error) {
	if err := pos.Validate(); err != nil {
		return Result{}, fmt.Errorf("invalid position: %w", err)
	}

	e.searchMu.Lock()
	defer e.searchMu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.stopMu.Lock()
	e.cancel = cancel
	e.stopMu.Unlock()
	defer func() {
		e.stopMu.Lock()
		e.cancel = nil
		e.stopMu.Unlock()
	}()

	e.setup(pos, limits)

	rootMoves := newRootMoves(pos, limits.SearchMoves)
	if len(rootMoves) == 0 {
		score := ValueDraw
		if pos.InCheck() {
			score = -ValueMate
		}
		e.logger.Info().Int("score", int(score)).Msg("no-legal-moves")
		return Result{Score: score}, nil
	}
	rootMoves = e.probeRoot(ctx, pos, rootMoves)

	for _, w := range e.workers {
		w.prepare(pos, limits.History, rootMoves)
	}

	e.logger.Info().
		Str("fen", pos.ToFEN()).
		Int("threads", len(e.workers)).
		Int("root-moves", len(rootMoves)).
		Dur("optimum", e.tm.Optimum()).
		Dur("maximum", e.tm.Maximum()).
		Msg("search-start")

	g, gctx := errgroup.WithContext(ctx)
	e.ctx = gctx
	for _, w := range e.workers {
		g.Go(func() error { return e.runWorker(w) })
	}
	err := g.Wait()

	best := e.bestWorker()
	res := e.result(best)
	e.previousScore = best.rootMoves[0].Score

	e.logger.Info().
		Str("bestmove", res.BestMove.String()).
		Int("score", int(res.Score)).
		Int("depth", res.Depth).
		Str("nodes", humanize.Comma(int64(res.Nodes))).
		Dur("elapsed", res.Elapsed).
		Int("worker", best.id).
		Msg("search-done")

	if err != nil {
		return res, fmt.Errorf("search: %w", err)
	}
	return res, nil
}

// setup fixes the per-search state shared by all workers.
func (e *Engine) setup(pos *board.Position, limits Limits) {
	us := pos.SideToMove
	e.limits = limits
	e.gamePly = 2*(pos.FullMoveNumber-1) + int(us)
	e.tm.Init(&e.limits, us, e.gamePly, e.opts.MoveOverhead)
	e.stop.Store(false)
	e.mainDepth.Store(0)
	e.callsLimit = 4096
	if limits.Nodes > 0 {
		e.callsLimit = clamp(int(limits.Nodes/1024), 1, 4096)
	}
	e.tt.NewSearch()
	// Statistics of earlier searches carry over at half weight.
	e.hist.Age()

	contempt := Value(e.opts.Contempt) * PawnValueEg / 100
	e.drawValue[us] = ValueDraw - contempt
	e.drawValue[us.Other()] = ValueDraw + contempt

	e.tb = newTBConfig(e.prober, &e.opts)
}

// runWorker runs one worker's iterative deepening. A panic inside the
// search stops the other workers and is returned as an error.
func (e *Engine) runWorker(w *Worker) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e.stop.Store(true)
			err = fmt.Errorf("worker %d: %v", w.id, r)
		}
	}()

	w.iterate()

	if w.isMain() {
		// An infinite search keeps its result until it is stopped.
		if e.limits.Infinite && !e.stop.Load() {
			<-e.ctx.Done()
		}
		e.stop.Store(true)
	}
	return nil
}

// checkTime raises the stop flag once a limit is exceeded.
func (e *Engine) checkTime() {
	if e.ctx.Err() != nil {
		e.stop.Store(true)
		return
	}
	l := &e.limits
	elapsed := e.tm.Elapsed()
	if (l.useTimeManagement() && elapsed > e.tm.Maximum()-10*time.Millisecond) ||
		(l.MoveTime > 0 && elapsed >= l.MoveTime) ||
		(l.Nodes > 0 && e.nodes() >= l.Nodes) {
		e.stop.Store(true)
	}
}

func (e *Engine) nodes() uint64 {
	var n uint64
	for _, w := range e.workers {
		n += w.Nodes()
	}
	return n
}

func (e *Engine) tbHits() uint64 {
	var n uint64
	for _, w := range e.workers {
		n += w.TBHits()
	}
	return n
}

// skipRows tell helper workers which iterations to skip, so that helpers
// spread over neighbouring depths. Row i of length 2n is the pattern of n
// zeros followed by n ones rotated left by i.
var skipRows [][]bool

func init() {
	for n := 1; n <= 4; n++ {
		for rot := 0; rot < 2*n; rot++ {
			row := make([]bool, 2*n)
			for i := range row {
				row[i] = (i+rot)%(2*n) >= n
			}
			skipRows = append(skipRows, row)
		}
	}
}

// iterate is the iterative deepening loop of one worker.
func (w *Worker) iterate() {
	e := w.engine
	limits := &e.limits
	multiPV := min(e.opts.MultiPV, len(w.rootMoves))
	root := stackOffset

	bestValue := -ValueInfinite
	alpha, beta, delta := -ValueInfinite, ValueInfinite, -ValueInfinite

	if w.isMain() {
		e.failedLow = false
	}

	for {
		w.rootDepth++
		if w.isMain() {
			e.mainDepth.Store(int32(w.rootDepth))
		}
		if w.rootDepth >= MaxPly || e.stop.Load() ||
			(limits.Depth > 0 && int(e.mainDepth.Load()) > limits.Depth) {
			break
		}

		if !w.isMain() {
			row := skipRows[(w.id-1)%len(skipRows)]
			if row[(int(w.rootDepth)+e.gamePly)%len(row)] {
				continue
			}
		}

		if w.isMain() {
			w.bestMoveChanges *= 0.505
			e.failedLow = false
		}

		w.rootMoves.savePrevious()

		for w.pvIdx = 0; w.pvIdx < multiPV && !e.stop.Load(); w.pvIdx++ {
			if w.rootDepth >= 5 {
				prevScore := w.rootMoves[w.pvIdx].PreviousScore
				delta = 18
				alpha = max(prevScore-delta, -ValueInfinite)
				beta = min(prevScore+delta, ValueInfinite)
			}

			for {
				w.selDepth = 0
				bestValue = w.search(pvNode, root, alpha, beta, w.rootDepth, false)

				// Unsearched moves keep -ValueInfinite, so a stable sort
				// moves only the new PV up.
				w.rootMoves.sortStable(w.pvIdx, len(w.rootMoves))

				if e.stop.Load() {
					break
				}

				if w.isMain() && multiPV == 1 && (bestValue <= alpha || bestValue >= beta) &&
					w.elapsed() > currMoveDelay {
					e.emitIteration(w, multiPV, alpha, beta)
				}

				if bestValue <= alpha {
					beta = (alpha + beta) / 2
					alpha = max(bestValue-delta, -ValueInfinite)
					if w.isMain() {
						e.failedLow = true
					}
				} else if bestValue >= beta {
					alpha = (alpha + beta) / 2
					beta = min(bestValue+delta, ValueInfinite)
				} else {
					break
				}
				delta += delta/4 + 5

				debugAssert(alpha >= -ValueInfinite && beta <= ValueInfinite, "iterate: window out of range")
			}

			w.rootMoves.sortStable(0, w.pvIdx+1)

			if w.isMain() && (e.stop.Load() || w.pvIdx+1 == multiPV || w.elapsed() > currMoveDelay) {
				e.emitIteration(w, multiPV, alpha, beta)
			}
		}

		if !e.stop.Load() {
			w.completedDepth = w.rootDepth
		}

		if !w.isMain() {
			continue
		}

		w.logger.Debug().
			Int("depth", int(w.rootDepth)).
			Int("score", int(w.rootMoves[0].Score)).
			Str("best", w.rootMoves[0].Move().String()).
			Float64("best-move-changes", w.bestMoveChanges).
			Msg("iteration-done")

		if limits.Mate > 0 && bestValue >= ValueMateInMaxPly && ValueMate-bestValue <= Value(2*limits.Mate) {
			e.stop.Store(true)
		}

		if limits.useTimeManagement() && !e.stop.Load() {
			failed := 0
			if e.failedLow {
				failed = 1
			}
			improvingFactor := clamp(357+119*failed-6*int(bestValue-e.previousScore), 229, 715)
			unstable := 1 + w.bestMoveChanges
			budget := float64(e.tm.Optimum()) * unstable * float64(improvingFactor) / 628
			if len(w.rootMoves) == 1 || float64(w.elapsed()) > budget {
				e.stop.Store(true)
			}
		}
	}
}

// bestWorker picks the worker whose result is reported. With a single
// line and no depth limit, a helper that completed a deeper iteration
// with a better score wins.
func (e *Engine) bestWorker() *Worker {
	best := e.workers[0]
	if e.opts.MultiPV != 1 || e.limits.Depth != 0 {
		return best
	}
	for _, w := range e.workers[1:] {
		if w.completedDepth > best.completedDepth && w.rootMoves[0].Score > best.rootMoves[0].Score {
			best = w
		}
	}
	return best
}

func (e *Engine) result(w *Worker) Result {
	multiPV := min(e.opts.MultiPV, len(w.rootMoves))
	lines := make([]Line, 0, multiPV)
	for i := 0; i < multiPV; i++ {
		rm := &w.rootMoves[i]
		lines = append(lines, Line{
			Score:    e.reportedScore(rm.Score),
			Depth:    int(w.completedDepth),
			SelDepth: rm.SelDepth,
			PV:       append([]board.Move(nil), rm.PV...),
		})
	}

	top := lines[0]
	res := Result{
		BestMove: top.PV[0],
		Score:    top.Score,
		Depth:    top.Depth,
		SelDepth: top.SelDepth,
		Nodes:    e.nodes(),
		TBHits:   e.tbHits(),
		Elapsed:  e.tm.Elapsed(),
		PV:       top.PV,
		Lines:    lines,
	}
	if len(top.PV) > 1 {
		res.PonderMove = top.PV[1]
	}
	return res
}

// reportedScore replaces a non-mate score by the tablebase score when the
// root was found in the tablebase.
func (e *Engine) reportedScore(v Value) Value {
	if e.tb.rootInTB && abs(v) < ValueMate-MaxPly {
		return e.tb.score
	}
	return v
}

// emitIteration reports every line of the current iteration. Lines not
// yet searched at this depth report the previous one.
func (e *Engine) emitIteration(w *Worker, multiPV int, alpha, beta Value) {
	if e.OnProgress == nil {
		return
	}
	elapsed := w.elapsed()
	nodes := e.nodes()
	nps := uint64(0)
	if ms := elapsed.Milliseconds(); ms > 0 {
		nps = nodes * 1000 / uint64(ms)
	}
	hashFull := e.tt.HashFull()
	tbHits := e.tbHits()

	for i := 0; i < multiPV; i++ {
		rm := &w.rootMoves[i]
		updated := i <= w.pvIdx && rm.Score != -ValueInfinite
		if w.rootDepth == 1 && !updated {
			continue
		}
		depth, v := int(w.rootDepth), rm.Score
		if !updated {
			depth, v = depth-1, rm.PreviousScore
		}

		bound := BoundExact
		if i == w.pvIdx {
			if v >= beta {
				bound = BoundLower
			} else if v <= alpha {
				bound = BoundUpper
			}
		}

		e.OnProgress(Progress{
			Kind:     ProgressIteration,
			Depth:    depth,
			SelDepth: rm.SelDepth,
			MultiPV:  i + 1,
			Score:    e.reportedScore(v),
			Bound:    bound,
			Nodes:    nodes,
			NPS:      nps,
			TBHits:   tbHits,
			HashFull: hashFull,
			Elapsed:  elapsed,
			PV:       append([]board.Move(nil), rm.PV...),
		})
	}
}

func (e *Engine) emitCurrMove(depth int, m board.Move, number int) {
	if e.OnProgress == nil {
		return
	}
	e.OnProgress(Progress{
		Kind:           ProgressCurrMove,
		Depth:          depth,
		CurrMove:       m,
		CurrMoveNumber: number,
		Elapsed:        e.tm.Elapsed(),
	})
}
