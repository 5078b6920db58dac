package engine

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/hailam/chesssearch/internal/board"
	"github.com/hailam/chesssearch/internal/tablebase"
)

// fakeProber answers every probe with fixed results and counts calls.
type fakeProber struct {
	maxPieces int
	wdl       tablebase.WDL
	root      *tablebase.RootResult
	wdlCalls  atomic.Int64
}

func (p *fakeProber) ProbeWDL(context.Context, string) (tablebase.WDL, error) {
	p.wdlCalls.Add(1)
	return p.wdl, nil
}

func (p *fakeProber) ProbeRoot(context.Context, string) (tablebase.RootResult, error) {
	if p.root == nil {
		return tablebase.RootResult{}, tablebase.ErrNotFound
	}
	return *p.root, nil
}

func (p *fakeProber) MaxPieces() int  { return p.maxPieces }
func (p *fakeProber) Available() bool { return true }

func TestWDLToValue(t *testing.T) {
	tests := []struct {
		wdl       tablebase.WDL
		ply       int
		useRule50 bool
		want      Value
	}{
		{tablebase.WDLWin, 0, true, ValueMate - MaxPly},
		{tablebase.WDLWin, 7, true, ValueMate - MaxPly - 7},
		{tablebase.WDLLoss, 7, true, -ValueMate + MaxPly + 7},
		{tablebase.WDLDraw, 3, true, ValueDraw},
		{tablebase.WDLCursedWin, 3, true, ValueDraw + 2},
		{tablebase.WDLBlessedLoss, 3, true, ValueDraw - 2},
		{tablebase.WDLCursedWin, 3, false, ValueMate - MaxPly - 3},
		{tablebase.WDLBlessedLoss, 3, false, -ValueMate + MaxPly + 3},
	}
	for _, tc := range tests {
		if got := wdlToValue(tc.wdl, tc.ply, tc.useRule50); got != tc.want {
			t.Errorf("wdlToValue(%v, %d, %v) = %d, want %d", tc.wdl, tc.ply, tc.useRule50, got, tc.want)
		}
	}
}

func TestTBConfigCardinality(t *testing.T) {
	opts := DefaultOptions()
	opts.SyzygyProbeLimit = 6

	if cfg := newTBConfig(tablebase.NoopProber{}, &opts); cfg.cardinality != 0 {
		t.Errorf("unavailable prober: cardinality = %d, want 0", cfg.cardinality)
	}
	if cfg := newTBConfig(&fakeProber{maxPieces: 5}, &opts); cfg.cardinality != 5 {
		t.Errorf("5-piece prober: cardinality = %d, want 5", cfg.cardinality)
	}
	opts.SyzygyProbeLimit = 4
	if cfg := newTBConfig(&fakeProber{maxPieces: 7}, &opts); cfg.cardinality != 4 {
		t.Errorf("limited probing: cardinality = %d, want 4", cfg.cardinality)
	}
}

func TestSearchUsesRootTablebaseMove(t *testing.T) {
	// KR vs K: the tablebase picks a quiet rook move the search would not
	// necessarily prefer.
	prober := &fakeProber{
		maxPieces: 5,
		root:      &tablebase.RootResult{Move: "a1a7", WDL: tablebase.WDLWin, DTZ: 15},
	}
	opts := DefaultOptions()
	opts.Prober = prober
	e := New(opts)

	pos, err := board.ParseFEN("8/8/4k3/8/8/8/8/R3K3 w - - 0 1")
	if err != nil {
		t.Fatalf("ParseFEN: %v", err)
	}
	res, err := e.Search(context.Background(), pos, Limits{Depth: 6})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if got := res.BestMove.String(); got != "a1a7" {
		t.Errorf("best move = %s, want tablebase move a1a7", got)
	}
	if want := ValueMate - MaxPly; res.Score != want {
		t.Errorf("score = %d, want tablebase win %d", res.Score, want)
	}
	if n := prober.wdlCalls.Load(); n != 0 {
		t.Errorf("%d in-tree probes after a root hit, want none", n)
	}
}

func TestSearchProbesAfterCaptures(t *testing.T) {
	// After Qxd2 only three pieces are left and the tablebase is asked.
	prober := &fakeProber{maxPieces: 3, wdl: tablebase.WDLDraw}
	opts := DefaultOptions()
	opts.Prober = prober
	e := New(opts)

	pos, err := board.ParseFEN("4k3/8/8/8/8/8/3q4/3QK3 w - - 0 1")
	if err != nil {
		t.Fatalf("ParseFEN: %v", err)
	}
	res, err := e.Search(context.Background(), pos, Limits{Depth: 4})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.TBHits == 0 || prober.wdlCalls.Load() == 0 {
		t.Errorf("no tablebase hits (result %d, prober %d)", res.TBHits, prober.wdlCalls.Load())
	}
	t.Logf("best %v score %d tbhits %d", res.BestMove, res.Score, res.TBHits)
}
