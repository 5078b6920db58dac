package engine

import (
	"context"
	"errors"

	"github.com/hailam/chesssearch/internal/board"
	"github.com/hailam/chesssearch/internal/tablebase"
)

// tbConfig fixes the tablebase settings for one search.
type tbConfig struct {
	cardinality int
	probeDepth  Depth
	useRule50   bool

	rootInTB bool
	score    Value
}

// newTBConfig limits the probe cardinality to what prober covers.
func newTBConfig(prober tablebase.Prober, opts *Options) tbConfig {
	cfg := tbConfig{
		probeDepth: Depth(opts.SyzygyProbeDepth),
		useRule50:  opts.Syzygy50MoveRule,
	}
	if prober != nil && prober.Available() {
		cfg.cardinality = min(opts.SyzygyProbeLimit, prober.MaxPieces())
	}
	return cfg
}

// wdlToValue maps a result for the side to move at ply. With the
// fifty-move rule honored, cursed wins and blessed losses score just off
// a draw.
func wdlToValue(wdl tablebase.WDL, ply int, useRule50 bool) Value {
	drawScore := 0
	if useRule50 {
		drawScore = 1
	}
	v := int(wdl)
	switch {
	case v < -drawScore:
		return -ValueMate + MaxPly + Value(ply)
	case v > drawScore:
		return ValueMate - MaxPly - Value(ply)
	}
	return ValueDraw + Value(2*v*drawScore)
}

// canProbe reports whether the current node qualifies for a probe.
func (w *Worker) canProbe(depth Depth) bool {
	cfg := &w.engine.tb
	if cfg.cardinality == 0 {
		return false
	}
	pos := w.pos
	pieces := pos.PieceCount()
	return pieces <= cfg.cardinality &&
		(pieces < cfg.cardinality || depth >= cfg.probeDepth) &&
		pos.HalfMoveClock == 0 &&
		pos.CastlingRights == 0
}

// probeWDL asks the prober about the current position. Only found
// results count as hits.
func (w *Worker) probeWDL() (tablebase.WDL, bool) {
	wdl, err := w.engine.prober.ProbeWDL(w.engine.ctx, w.pos.ToFEN())
	if err != nil {
		return tablebase.WDLDraw, false
	}
	w.tbHits.Add(1)
	return wdl, true
}

// probeRoot narrows rootMoves to the tablebase's choice when the root
// itself is covered. Probing inside the tree is then switched off.
func (e *Engine) probeRoot(ctx context.Context, pos *board.Position, rootMoves RootMoves) RootMoves {
	cfg := &e.tb
	if cfg.cardinality == 0 || pos.PieceCount() > cfg.cardinality || pos.CastlingRights != 0 {
		return rootMoves
	}

	res, err := e.prober.ProbeRoot(ctx, pos.ToFEN())
	if err != nil {
		if !errors.Is(err, tablebase.ErrNotFound) {
			e.logger.Debug().Err(err).Msg("root-probe-failed")
		}
		return rootMoves
	}
	m, err := board.ParseMove(res.Move, pos)
	if err != nil {
		e.logger.Warn().Err(err).Str("move", res.Move).Msg("root-probe-bad-move")
		return rootMoves
	}
	rm := rootMoves.find(m)
	if rm == nil {
		return rootMoves
	}

	cfg.rootInTB = true
	cfg.score = wdlToValue(res.WDL, 0, cfg.useRule50)
	cfg.cardinality = 0

	kept := *rm
	kept.TBRank = int(res.WDL)
	e.logger.Debug().Str("move", res.Move).Stringer("wdl", res.WDL).Int("dtz", res.DTZ).Msg("root-in-tablebase")
	return RootMoves{kept}
}
