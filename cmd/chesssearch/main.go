// Command chesssearch searches a chess position and prints the best line.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/profile"
	"github.com/rs/zerolog"

	"github.com/hailam/chesssearch/internal/board"
	"github.com/hailam/chesssearch/internal/engine"
	"github.com/hailam/chesssearch/internal/storage"
	"github.com/hailam/chesssearch/internal/tablebase"
)

// benchFENs is the fixed position list searched by -bench.
var benchFENs = []string{
	board.StartFEN,
	"r3k2r/p1ppqpb1/bn2pnp1/3PN3/1p2P3/2N2Q1p/PPPBBPPP/R3K2R w KQkq - 0 10",
	"8/2p5/3p4/KP5r/1R3p1k/8/4P1P1/8 w - - 0 11",
	"4rrk1/pp1n3p/3q2pQ/2p1pb2/2PP4/2P3N1/P2B2PP/4RRK1 b - - 7 19",
	"rq3rk1/ppp2ppp/1bnpb3/3N2B1/3NP3/7P/PPPQ1PP1/2KR3R w - - 7 14",
	"r1bq1r1k/1pp1n1pp/1p1p4/4p2Q/4Pp2/1BNP4/PPP2PPP/3R1RK1 w - - 2 14",
	"r3r1k1/2p2ppp/p1p1bn2/8/1q2P3/2NPQN2/PPP3PP/R4RK1 b - - 2 15",
	"6k1/6p1/6Pp/ppp5/3pn2P/1P3K2/1PP2P2/3N4 b - - 0 1",
	"3b4/5kp1/1p1p1p1p/pP1PpP1P/P1P1P3/3KN3/8/8 w - - 0 1",
	"8/8/8/8/5kp1/P7/8/1K1N4 w - - 0 1",
}

type config struct {
	fen           string
	depth         int
	moveTime      time.Duration
	nodes         uint64
	threads       int
	hashMB        int
	multiPV       int
	contempt      int
	nnueBig       string
	nnueSmall     string
	lichessTB     bool
	snapshot      bool
	snapshotReset bool
	profile       string
	logLevel      string
	bench         bool
	fetchNNUE     bool
}

func parseFlags() config {
	var c config
	flag.StringVar(&c.fen, "fen", board.StartFEN, "position to search")
	flag.IntVar(&c.depth, "depth", 0, "search depth limit in plies")
	flag.DurationVar(&c.moveTime, "movetime", 0, "fixed search time, e.g. 5s")
	flag.Uint64Var(&c.nodes, "nodes", 0, "node limit")
	flag.IntVar(&c.threads, "threads", 1, "search threads")
	flag.IntVar(&c.hashMB, "hash", 64, "transposition table size in MB")
	flag.IntVar(&c.multiPV, "multipv", 1, "number of lines to search")
	flag.IntVar(&c.contempt, "contempt", 0, "draw contempt in centipawns")
	flag.StringVar(&c.nnueBig, "nnue-big", "", "big NNUE network file (bare names are looked up in the data directory)")
	flag.StringVar(&c.nnueSmall, "nnue-small", "", "small NNUE network file")
	flag.BoolVar(&c.lichessTB, "lichess-tb", false, "probe the Lichess tablebase server")
	flag.BoolVar(&c.snapshot, "snapshot", false, "load the hash table before searching and save it after")
	flag.BoolVar(&c.snapshotReset, "snapshot-reset", false, "delete the stored hash table before searching")
	flag.StringVar(&c.profile, "profile", "", "write a cpu or mem profile to the current directory")
	flag.StringVar(&c.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flag.BoolVar(&c.bench, "bench", false, "search the bench positions and report total nodes")
	flag.BoolVar(&c.fetchNNUE, "fetch-nnue", false, "download the default NNUE networks into the data directory")
	flag.Parse()
	return c
}

func main() {
	cfg := parseFlags()

	level, err := zerolog.ParseLevel(cfg.logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bad -log-level: %v\n", err)
		os.Exit(2)
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).With().Timestamp().Logger()

	switch cfg.profile {
	case "":
	case "cpu":
		defer profile.Start(profile.CPUProfile, profile.ProfilePath("."), profile.Quiet).Stop()
	case "mem":
		defer profile.Start(profile.MemProfile, profile.ProfilePath("."), profile.Quiet).Stop()
	default:
		logger.Fatal().Str("profile", cfg.profile).Msg("unknown-profile-mode")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error().Err(err).Msg("chesssearch-failed")
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config, logger zerolog.Logger) error {
	opts := engine.DefaultOptions()
	opts.Threads = cfg.threads
	opts.HashMB = cfg.hashMB
	opts.MultiPV = cfg.multiPV
	opts.Contempt = cfg.contempt
	opts.Logger = logger

	if cfg.fetchNNUE {
		if err := fetchNetworks(ctx, logger); err != nil {
			return err
		}
	}

	factory, err := evaluatorFactory(cfg, logger)
	if err != nil {
		return err
	}
	opts.NewEvaluator = factory

	if cfg.lichessTB {
		prober, err := tablebase.NewCachedLichessProber(logger)
		if err != nil {
			return err
		}
		defer func() {
			logger.Debug().Float64("hit-ratio", prober.HitRatio()).Msg("tablebase-cache")
			prober.Close()
		}()
		opts.Prober = prober
	}

	if cfg.bench {
		return bench(ctx, opts, cfg.depth, logger)
	}

	pos, err := board.ParseFEN(cfg.fen)
	if err != nil {
		return err
	}

	eng := engine.New(opts)
	eng.OnProgress = func(p engine.Progress) {
		if p.Kind != engine.ProgressIteration {
			return
		}
		logger.Debug().
			Int("depth", p.Depth).
			Int("seldepth", p.SelDepth).
			Int("multipv", p.MultiPV).
			Str("score", formatScore(p.Score)).
			Str("nodes", humanize.Comma(int64(p.Nodes))).
			Str("pv", formatPV(p.PV)).
			Msg("iteration")
	}

	var store *storage.SnapshotStore
	if cfg.snapshot || cfg.snapshotReset {
		store, err = storage.OpenDefault(logger)
		if err != nil {
			return err
		}
		defer store.Close()
	}
	if cfg.snapshotReset {
		if err := store.Delete(); err != nil {
			return err
		}
		logger.Info().Msg("snapshot-deleted")
	} else if cfg.snapshot {
		switch err := eng.LoadSnapshot(ctx, store); {
		case err == nil:
			logger.Info().Int("hashfull", eng.HashFull()).Msg("snapshot-loaded")
		case errors.Is(err, storage.ErrNoSnapshot), errors.Is(err, storage.ErrSnapshotMismatch):
			logger.Info().Err(err).Msg("snapshot-skipped")
		default:
			return err
		}
	}

	limits := engine.Limits{
		Depth:    cfg.depth,
		MoveTime: cfg.moveTime,
		Nodes:    cfg.nodes,
	}
	if limits.Depth == 0 && limits.MoveTime == 0 && limits.Nodes == 0 {
		limits.Infinite = true
		logger.Info().Msg("no limit given, searching until interrupted")
	}

	res, err := eng.Search(ctx, pos, limits)
	if err != nil {
		return err
	}
	printResult(res)

	if cfg.snapshot {
		if err := eng.SaveSnapshot(context.Background(), store); err != nil {
			return err
		}
		logger.Info().Int("hashfull", eng.HashFull()).Msg("snapshot-saved")
	}
	return nil
}

// evaluatorFactory loads the networks named by the flags, or the default
// networks when both are present in the data directory. Without networks
// the classical evaluator is used.
func evaluatorFactory(cfg config, logger zerolog.Logger) (engine.EvaluatorFactory, error) {
	big, small := cfg.nnueBig, cfg.nnueSmall
	explicit := big != "" || small != ""
	if big == "" {
		big = storage.DefaultNetworks[1].Name
	}
	if small == "" {
		small = storage.DefaultNetworks[0].Name
	}

	dir, err := storage.NNUEDir()
	if err != nil {
		return nil, err
	}
	big, small = resolveNet(dir, big), resolveNet(dir, small)
	if !explicit && (!fileExists(big) || !fileExists(small)) {
		logger.Debug().Str("dir", dir).Msg("nnue-not-found, using classical evaluation")
		return nil, nil
	}

	nets, err := engine.LoadNetworks(big, small)
	if err != nil {
		return nil, err
	}
	logger.Info().Str("big", filepath.Base(big)).Str("small", filepath.Base(small)).Msg("nnue-loaded")
	return func() engine.Evaluator { return engine.NewNNUEEvaluator(nets) }, nil
}

func fetchNetworks(ctx context.Context, logger zerolog.Logger) error {
	dir, err := storage.NNUEDir()
	if err != nil {
		return err
	}
	lastPct := int64(-10)
	f := &storage.NetworkFetcher{
		Logger: logger,
		OnProgress: func(p storage.FetchProgress) {
			pct := p.BytesReceived * 100 / max(p.TotalBytes, 1)
			if pct/10 == lastPct/10 {
				return
			}
			lastPct = pct
			logger.Info().
				Str("file", p.File).
				Str("received", humanize.IBytes(uint64(p.BytesReceived))).
				Int64("percent", pct).
				Msgf("downloading %d/%d", p.FileNo, p.TotalFiles)
		},
	}
	return f.Fetch(ctx, dir, storage.DefaultNetworks)
}

// resolveNet looks bare file names up in dir.
func resolveNet(dir, name string) string {
	if filepath.Base(name) == name && !fileExists(name) {
		return filepath.Join(dir, name)
	}
	return name
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func bench(ctx context.Context, opts engine.Options, depth int, logger zerolog.Logger) error {
	if depth <= 0 {
		depth = 10
	}
	opts.MultiPV = 1
	eng := engine.New(opts)

	var total uint64
	start := time.Now()
	for i, fen := range benchFENs {
		pos, err := board.ParseFEN(fen)
		if err != nil {
			return err
		}
		res, err := eng.Search(ctx, pos, engine.Limits{Depth: depth})
		if err != nil {
			return err
		}
		total += res.Nodes
		logger.Info().
			Int("position", i+1).
			Str("bestmove", res.BestMove.String()).
			Str("score", formatScore(res.Score)).
			Str("nodes", humanize.Comma(int64(res.Nodes))).
			Msg("bench")
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	elapsed := time.Since(start)
	nps := uint64(float64(total) / max(elapsed.Seconds(), 0.001))
	fmt.Printf("Total time (ms) : %d\n", elapsed.Milliseconds())
	fmt.Printf("Nodes searched  : %d\n", total)
	fmt.Printf("Nodes/second    : %s\n", humanize.Comma(int64(nps)))
	return nil
}

func printResult(res engine.Result) {
	if res.BestMove == board.NoMove {
		fmt.Printf("no legal moves, score %s\n", formatScore(res.Score))
		return
	}
	for i, line := range res.Lines {
		fmt.Printf("%d. depth %d score %s pv %s\n", i+1, line.Depth, formatScore(line.Score), formatPV(line.PV))
	}
	nps := uint64(float64(res.Nodes) / max(res.Elapsed.Seconds(), 0.001))
	fmt.Printf("nodes %s (%s/s) in %v\n", humanize.Comma(int64(res.Nodes)), humanize.SIWithDigits(float64(nps), 1, "n"), res.Elapsed.Round(time.Millisecond))
	fmt.Printf("bestmove %v", res.BestMove)
	if res.PonderMove != board.NoMove {
		fmt.Printf(" ponder %v", res.PonderMove)
	}
	fmt.Println()
}

func formatScore(v engine.Value) string {
	if engine.IsMateScore(v) {
		if v > 0 {
			return fmt.Sprintf("mate %d", (engine.ValueMate-v+1)/2)
		}
		return fmt.Sprintf("mate -%d", (engine.ValueMate+v)/2)
	}
	return fmt.Sprintf("cp %d", int(v)*100/int(engine.PawnValueEg))
}

func formatPV(pv []board.Move) string {
	parts := make([]string, len(pv))
	for i, m := range pv {
		parts[i] = m.String()
	}
	return strings.Join(parts, " ")
}
