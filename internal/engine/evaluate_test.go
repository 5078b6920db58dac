package engine

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/hailam/chesssearch/internal/board"
	"github.com/hailam/chesssearch/internal/storage"
)

var evalFENs = []string{
	board.StartFEN,
	"r3k2r/p1ppqpb1/bn2pnp1/3PN3/1p2P3/2N2Q1p/PPPBBPPP/R3K2R w KQkq - 0 1",
	"8/2p5/3p4/KP5r/1R3p1k/8/4P1P1/8 w - - 0 1",
	"r1bqkbnr/pppp1ppp/2n5/4p3/4P3/5N2/PPPP1PPP/RNBQKB1R b KQkq - 3 2",
	"4k3/1P6/8/8/8/8/6p1/4K3 w - - 0 40",
}

// flipFEN mirrors a position vertically and swaps the colors.
func flipFEN(fen string) string {
	f := strings.Fields(fen)
	ranks := strings.Split(f[0], "/")
	for i, j := 0, len(ranks)-1; i < j; i, j = i+1, j-1 {
		ranks[i], ranks[j] = ranks[j], ranks[i]
	}
	f[0] = swapCase(strings.Join(ranks, "/"))
	if f[1] == "w" {
		f[1] = "b"
	} else {
		f[1] = "w"
	}
	if f[2] != "-" {
		f[2] = swapCase(f[2])
	}
	if f[3] != "-" {
		rank := byte('3')
		if f[3][1] == '3' {
			rank = '6'
		}
		f[3] = f[3][:1] + string(rank)
	}
	return strings.Join(f, " ")
}

func swapCase(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z':
			return r - 'A' + 'a'
		}
		return r
	}, s)
}

func TestEvaluateColorSymmetry(t *testing.T) {
	ev := NewClassicalEvaluator()
	for _, fen := range evalFENs {
		pos, err := board.ParseFEN(fen)
		if err != nil {
			t.Fatalf("ParseFEN(%q): %v", fen, err)
		}
		flipped, err := board.ParseFEN(flipFEN(fen))
		if err != nil {
			t.Fatalf("ParseFEN(%q): %v", flipFEN(fen), err)
		}
		if a, b := ev.Evaluate(pos), ev.Evaluate(flipped); a != b {
			t.Errorf("%s: eval %d, mirrored %d", fen, a, b)
		}
	}
}

func TestEvaluateMaterial(t *testing.T) {
	ev := NewClassicalEvaluator()
	up, err := board.ParseFEN("4k3/8/8/8/8/8/8/3QK3 w - - 0 1")
	if err != nil {
		t.Fatalf("ParseFEN: %v", err)
	}
	if v := ev.Evaluate(up); v < QueenValueEg/2 {
		t.Errorf("queen up: eval %d", v)
	}
	down, err := board.ParseFEN("4k3/8/8/8/8/8/8/3QK3 b - - 0 1")
	if err != nil {
		t.Fatalf("ParseFEN: %v", err)
	}
	if v := ev.Evaluate(down); v > -QueenValueEg/2 {
		t.Errorf("queen down: eval %d", v)
	}
}

func TestPawnTableCaches(t *testing.T) {
	pos, err := board.ParseFEN(evalFENs[4])
	if err != nil {
		t.Fatalf("ParseFEN: %v", err)
	}
	ev := NewClassicalEvaluator()
	if _, hit := ev.pawns.probe(pos.PawnKey); hit {
		t.Fatal("hit in an empty pawn table")
	}
	first := ev.Evaluate(pos)
	pe, hit := ev.pawns.probe(pos.PawnKey)
	if !hit {
		t.Fatal("pawn structure not cached")
	}
	if pe.passed[board.White] == 0 {
		t.Error("b7 pawn not marked passed")
	}
	if again := ev.Evaluate(pos); again != first {
		t.Errorf("cached eval %d differs from %d", again, first)
	}

	ev.pawns.Clear()
	if _, hit := ev.pawns.probe(pos.PawnKey); hit {
		t.Error("hit after Clear")
	}
}

func TestNNUEFallsBackToClassical(t *testing.T) {
	nn := NewNNUEEvaluator(nil)
	cl := NewClassicalEvaluator()
	for _, fen := range evalFENs {
		pos, err := board.ParseFEN(fen)
		if err != nil {
			t.Fatalf("ParseFEN(%q): %v", fen, err)
		}
		if a, b := nn.Evaluate(pos), cl.Evaluate(pos); a != b {
			t.Errorf("%s: fallback eval %d, classical %d", fen, a, b)
		}
	}
}

func TestLoadNetworksMissingFiles(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadNetworks(filepath.Join(dir, "big.nnue"), filepath.Join(dir, "small.nnue"))
	if err == nil {
		t.Fatal("loading missing networks succeeded")
	}
	if !strings.Contains(err.Error(), "load nnue networks") {
		t.Errorf("error %q lacks context", err)
	}
}

func TestEngineSnapshotRoundTrip(t *testing.T) {
	store, err := storage.Open(t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	opts := DefaultOptions()
	opts.HashMB = 1
	e := New(opts)
	if _, err := e.Search(ctx, board.NewPosition(), Limits{Depth: 6}); err != nil {
		t.Fatalf("Search: %v", err)
	}
	full := e.HashFull()
	if full == 0 {
		t.Fatal("search left the table empty")
	}
	if err := e.SaveSnapshot(ctx, store); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	restored := New(opts)
	if err := restored.LoadSnapshot(ctx, store); err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if got := restored.HashFull(); got != full {
		t.Errorf("HashFull after load = %d, want %d", got, full)
	}

	opts.HashMB = 2
	if err := New(opts).LoadSnapshot(ctx, store); err == nil {
		t.Error("snapshot loaded into a table of another size")
	}
}
