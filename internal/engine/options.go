package engine

import (
	"runtime"
	"time"

	"github.com/rs/zerolog"

	"github.com/hailam/chesssearch/internal/tablebase"
)

// Options configure an Engine. Zero fields are replaced by the defaults
// in New.
type Options struct {
	Threads  int
	HashMB   int
	MultiPV  int
	Contempt int // centipawns; positive avoids draws

	SyzygyProbeLimit int  // largest piece count probed inside the tree
	SyzygyProbeDepth int  // minimum depth for probes at the limit
	Syzygy50MoveRule bool // score cursed wins and blessed losses as near draws

	MoveOverhead time.Duration

	Logger zerolog.Logger

	// NewEvaluator creates one evaluator per worker. Nil selects the
	// classical evaluator.
	NewEvaluator EvaluatorFactory

	// Prober answers tablebase queries. Nil disables probing.
	Prober tablebase.Prober
}

// DefaultOptions returns single-threaded settings with a 16 MB table.
func DefaultOptions() Options {
	return Options{
		Threads:          1,
		HashMB:           16,
		MultiPV:          1,
		SyzygyProbeLimit: 6,
		SyzygyProbeDepth: 1,
		Syzygy50MoveRule: true,
		MoveOverhead:     30 * time.Millisecond,
		Logger:           zerolog.Nop(),
	}
}

// normalize fills in defaults and clamps out-of-range values.
func (o Options) normalize() Options {
	def := DefaultOptions()
	if o.Threads <= 0 {
		o.Threads = def.Threads
	}
	o.Threads = min(o.Threads, 4*runtime.NumCPU(), 512)
	if o.HashMB <= 0 {
		o.HashMB = def.HashMB
	}
	if o.MultiPV <= 0 {
		o.MultiPV = def.MultiPV
	}
	o.Contempt = clamp(o.Contempt, -100, 100)
	o.SyzygyProbeLimit = clamp(o.SyzygyProbeLimit, 0, 7)
	o.SyzygyProbeDepth = max(o.SyzygyProbeDepth, 1)
	o.MoveOverhead = max(o.MoveOverhead, 0)
	if o.NewEvaluator == nil {
		o.NewEvaluator = func() Evaluator { return NewClassicalEvaluator() }
	}
	if o.Prober == nil {
		o.Prober = tablebase.NoopProber{}
	}
	return o
}
