// Package walker pages through provider results for one (city, query variant)
// pair, deduplicating against a job-scoped set and stopping early when the
// budget is met, the provider runs dry, or the page ceiling is reached.
package walker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/places-search/internal/search"
	"github.com/JakeFAU/places-search/internal/telemetry"
)

const (
	defaultPageSize       = 20
	defaultMaxPages       = 10
	defaultEmptyPageLimit = 2
)

// Config controls pagination.
type Config struct {
	PageSize       int
	MaxPages       int
	EmptyPageLimit int
	PageDelay      time.Duration
}

// Stats describes how one walk ended.
type Stats struct {
	Pages   int
	Aborted bool
	Err     error
}

// Seen is the dedup arena for one orchestrator run. It is not safe for
// concurrent use and must never be shared across jobs.
type Seen struct {
	keys map[string]struct{}
}

// NewSeen returns an empty dedup set.
func NewSeen() *Seen {
	return &Seen{keys: make(map[string]struct{})}
}

// Add records key and reports whether it was new.
func (s *Seen) Add(key string) bool {
	if _, ok := s.keys[key]; ok {
		return false
	}
	s.keys[key] = struct{}{}
	return true
}

// Len returns the number of distinct keys recorded.
func (s *Seen) Len() int {
	return len(s.keys)
}

// Walker fetches successive pages from a provider.
type Walker struct {
	provider search.Provider
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Walker, filling zero config values with defaults.
func New(provider search.Provider, cfg Config, logger *zap.Logger) *Walker {
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaultMaxPages
	}
	if cfg.EmptyPageLimit <= 0 {
		cfg.EmptyPageLimit = defaultEmptyPageLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Walker{provider: provider, cfg: cfg, logger: logger}
}

// SearchText builds the provider query for a variant and city.
func SearchText(variant, city string) string {
	return variant + " in " + city
}

// Walk collects up to budget new places for variant in city. Request errors
// end the walk and are reported in Stats; the places gathered so far are kept.
// onPage, when set, receives the running found count after every page.
func (w *Walker) Walk(
	ctx context.Context,
	variant string,
	city string,
	budget int,
	seen *Seen,
	onPage func(found int),
) ([]search.Place, int, Stats) {
	var (
		places      []search.Place
		found       int
		emptyStreak int
		stats       Stats
	)
	if budget <= 0 {
		return nil, 0, stats
	}
	text := SearchText(variant, city)
	logger := w.logger.With(zap.String("search_text", text))

	for page := 1; page <= w.cfg.MaxPages; page++ {
		if page > 1 && w.cfg.PageDelay > 0 {
			if err := sleep(ctx, w.cfg.PageDelay); err != nil {
				stats.Aborted = true
				stats.Err = err
				break
			}
		}

		resp, err := w.provider.Search(ctx, search.PageRequest{
			SearchText: text,
			PageSize:   w.cfg.PageSize,
			PageNumber: page,
		})
		stats.Pages++
		if err != nil {
			logger.Warn("provider page failed; skipping rest of pair",
				zap.Int("page", page),
				zap.Error(err),
			)
			stats.Aborted = true
			stats.Err = fmt.Errorf("page %d: %w", page, err)
			break
		}

		added := 0
		for _, raw := range resp.Places {
			if found >= budget {
				break
			}
			place := raw.ToPlace()
			if !seen.Add(place.DedupKey()) {
				continue
			}
			places = append(places, place)
			found++
			added++
		}
		telemetry.ObservePlacesFound(added)
		logger.Debug("provider page consumed",
			zap.Int("page", page),
			zap.Int("raw", len(resp.Places)),
			zap.Int("new", added),
			zap.Int("found", found),
		)
		if onPage != nil {
			onPage(found)
		}

		if found >= budget {
			break
		}
		if added == 0 {
			emptyStreak++
			if emptyStreak >= w.cfg.EmptyPageLimit {
				break
			}
		} else {
			emptyStreak = 0
		}
	}
	return places, found, stats
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("page delay: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
