package tablebase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DefaultLichessURL is the public Lichess tablebase endpoint.
const DefaultLichessURL = "https://tablebase.lichess.ovh/standard"

// LichessProber queries the Lichess tablebase over HTTP. It needs network
// access and is rate limited, so it is normally wrapped in a CachedProber.
type LichessProber struct {
	client    *http.Client
	baseURL   string
	maxPieces int
	logger    zerolog.Logger
}

// LichessOption customizes a LichessProber.
type LichessOption func(*LichessProber)

// WithBaseURL points the prober at another server.
func WithBaseURL(u string) LichessOption {
	return func(lp *LichessProber) { lp.baseURL = u }
}

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) LichessOption {
	return func(lp *LichessProber) { lp.client = c }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) LichessOption {
	return func(lp *LichessProber) { lp.logger = l }
}

// NewLichessProber creates a prober for up to seven pieces.
func NewLichessProber(opts ...LichessOption) *LichessProber {
	lp := &LichessProber{
		client:    &http.Client{Timeout: 5 * time.Second},
		baseURL:   DefaultLichessURL,
		maxPieces: 7,
		logger:    zerolog.Nop(),
	}
	for _, o := range opts {
		o(lp)
	}
	return lp
}

type lichessMove struct {
	UCI      string `json:"uci"`
	Category string `json:"category"`
	DTZ      *int   `json:"dtz"`
}

type lichessResponse struct {
	Category string        `json:"category"`
	DTZ      *int          `json:"dtz"`
	Moves    []lichessMove `json:"moves"`
}

func (lp *LichessProber) query(ctx context.Context, fen string) (*lichessResponse, error) {
	if countPieces(fen) > lp.maxPieces {
		return nil, ErrNotFound
	}

	u := lp.baseURL + "?fen=" + url.QueryEscape(fen)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build tablebase request: %w", err)
	}
	resp, err := lp.client.Do(req)
	if err != nil {
		lp.logger.Debug().Err(err).Str("fen", fen).Msg("tablebase-request-failed")
		return nil, fmt.Errorf("query lichess tablebase: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		lp.logger.Debug().Int("status", resp.StatusCode).Str("fen", fen).Msg("tablebase-bad-status")
		return nil, fmt.Errorf("query lichess tablebase: status %d", resp.StatusCode)
	}

	var r lichessResponse
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, fmt.Errorf("decode lichess tablebase response: %w", err)
	}
	return &r, nil
}

// ProbeWDL implements Prober.
func (lp *LichessProber) ProbeWDL(ctx context.Context, fen string) (WDL, error) {
	r, err := lp.query(ctx, fen)
	if err != nil {
		return WDLDraw, err
	}
	wdl, ok := categoryToWDL(r.Category)
	if !ok {
		return WDLDraw, ErrNotFound
	}
	return wdl, nil
}

// ProbeRoot implements Prober. Lichess lists moves best first from the
// mover's point of view.
func (lp *LichessProber) ProbeRoot(ctx context.Context, fen string) (RootResult, error) {
	r, err := lp.query(ctx, fen)
	if err != nil {
		return RootResult{}, err
	}
	if len(r.Moves) == 0 {
		return RootResult{}, ErrNotFound
	}
	wdl, ok := categoryToWDL(r.Category)
	if !ok {
		return RootResult{}, ErrNotFound
	}
	best := r.Moves[0]
	res := RootResult{Move: best.UCI, WDL: wdl}
	if best.DTZ != nil {
		res.DTZ = *best.DTZ
	}
	return res, nil
}

func (lp *LichessProber) MaxPieces() int { return lp.maxPieces }

func (lp *LichessProber) Available() bool { return true }

// categoryToWDL maps a Lichess category, given for the side to move.
func categoryToWDL(category string) (WDL, bool) {
	switch category {
	case "win":
		return WDLWin, true
	case "cursed-win", "maybe-win":
		return WDLCursedWin, true
	case "draw":
		return WDLDraw, true
	case "blessed-loss", "maybe-loss":
		return WDLBlessedLoss, true
	case "loss":
		return WDLLoss, true
	}
	return WDLDraw, false
}

// countPieces counts the pieces in a FEN's placement field.
func countPieces(fen string) int {
	placement, _, _ := strings.Cut(fen, " ")
	n := 0
	for _, ch := range placement {
		if strings.ContainsRune("pnbrqkPNBRQK", ch) {
			n++
		}
	}
	return n
}
