package tablebase

import (
	"context"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/ristretto/v2"
	"github.com/rs/zerolog"
)

type cachedWDL struct {
	wdl   WDL
	found bool
}

// CachedProber wraps another prober with a bounded cache of WDL results
// keyed by the FEN's hash. Misses are cached too, so positions outside the
// tablebase are asked once. Transport errors are not cached.
type CachedProber struct {
	inner  Prober
	cache  *ristretto.Cache[uint64, cachedWDL]
	logger zerolog.Logger
}

// NewCachedProber caches up to maxEntries results from inner.
func NewCachedProber(inner Prober, maxEntries int64, logger zerolog.Logger) (*CachedProber, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[uint64, cachedWDL]{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
		Metrics:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("create tablebase cache: %w", err)
	}
	return &CachedProber{inner: inner, cache: cache, logger: logger}, nil
}

// NewCachedLichessProber is a Lichess prober behind a 100k entry cache.
func NewCachedLichessProber(logger zerolog.Logger) (*CachedProber, error) {
	return NewCachedProber(NewLichessProber(WithLogger(logger)), 100_000, logger)
}

func cacheKey(fen string) uint64 { return xxhash.Sum64String(fen) }

// ProbeWDL implements Prober.
func (cp *CachedProber) ProbeWDL(ctx context.Context, fen string) (WDL, error) {
	key := cacheKey(fen)
	if v, ok := cp.cache.Get(key); ok {
		if !v.found {
			return WDLDraw, ErrNotFound
		}
		return v.wdl, nil
	}

	wdl, err := cp.inner.ProbeWDL(ctx, fen)
	switch {
	case err == nil:
		cp.cache.Set(key, cachedWDL{wdl: wdl, found: true}, 1)
	case errors.Is(err, ErrNotFound):
		cp.cache.Set(key, cachedWDL{}, 1)
	default:
		cp.logger.Debug().Err(err).Msg("tablebase-probe-failed")
	}
	return wdl, err
}

// ProbeRoot implements Prober. Root probes are rare and not cached.
func (cp *CachedProber) ProbeRoot(ctx context.Context, fen string) (RootResult, error) {
	return cp.inner.ProbeRoot(ctx, fen)
}

func (cp *CachedProber) MaxPieces() int { return cp.inner.MaxPieces() }

func (cp *CachedProber) Available() bool { return cp.inner.Available() }

// HitRatio returns the fraction of lookups served from the cache.
func (cp *CachedProber) HitRatio() float64 {
	return cp.cache.Metrics.Ratio()
}

// Wait blocks until buffered cache writes are applied.
func (cp *CachedProber) Wait() { cp.cache.Wait() }

// Clear drops every cached result.
func (cp *CachedProber) Clear() { cp.cache.Clear() }

// Close releases the cache's goroutines.
func (cp *CachedProber) Close() { cp.cache.Close() }
