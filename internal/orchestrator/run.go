package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/places-search/internal/geo"
	"github.com/JakeFAU/places-search/internal/progress"
	"github.com/JakeFAU/places-search/internal/search"
	"github.com/JakeFAU/places-search/internal/walker"
)

// run holds the mutable state of one orchestrator invocation.
type run struct {
	o        *Orchestrator
	job      search.Job
	logger   *zap.Logger
	started  time.Time
	progress search.Progress
}

func (r *run) execute(ctx context.Context) (results []search.Place, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("recovered panic during job run", zap.Any("panic", rec), zap.Stack("stack"))
			results = nil
			err = fmt.Errorf("%w: %v", ErrPanic, rec)
		}
	}()

	scope := geo.Classify(r.job.LocationScope)
	cities := scope.Cities
	variants := []string{r.job.Query}
	resultCap := r.job.ResultCap
	cityBudget := CityBudget(scope.Type, resultCap, len(cities), r.o.cfg.MinCityBudget)
	seen := walker.NewSeen()

	r.progress.TotalCities = len(cities)
	r.logger.Debug("scope resolved",
		zap.String("scope", string(scope.Type)),
		zap.Int("cities", len(cities)),
		zap.Int("city_budget", cityBudget),
	)

	total := 0
	for i, city := range cities {
		if total >= resultCap {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("run interrupted: %w", err)
		}
		if err := r.write(ctx, city, i, total); err != nil {
			return nil, err
		}

		cityFound := 0
		for _, variant := range variants {
			if total >= resultCap {
				break
			}
			remaining := min(cityBudget-cityFound, resultCap-total)
			if remaining <= 0 {
				break
			}

			base := total
			reported := total
			var writeErr error
			onPage := func(found int) {
				now := base + found
				if writeErr != nil || now-reported < r.o.cfg.ProgressEvery {
					return
				}
				reported = now
				writeErr = r.write(ctx, city, i, now)
			}

			places, found, stats := r.o.pager.Walk(ctx, variant, city, remaining, seen, onPage)
			if writeErr != nil {
				return nil, writeErr
			}
			if stats.Err != nil && ctx.Err() != nil {
				return nil, fmt.Errorf("run interrupted: %w", ctx.Err())
			}
			results = append(results, places...)
			total += found
			cityFound += found
		}

		if err := r.write(ctx, city, i+1, total); err != nil {
			return nil, err
		}
	}

	if len(results) > resultCap {
		results = results[:resultCap]
	}
	for i := range results {
		results[i].Position = i + 1
	}
	return results, nil
}

// write persists a progress snapshot and mirrors it to the progress hub.
func (r *run) write(ctx context.Context, city string, cityIndex, found int) error {
	next := r.progress
	next.CurrentCity = city
	next.CityIndex = cityIndex
	next.CurrentResultCount = found
	next.Percentage = Percentage(r.progress.Percentage, cityIndex, next.TotalCities, found, next.TargetResultCount)
	if err := r.o.store.UpdateProgress(ctx, r.job.ID, next); err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	r.progress = next
	r.o.emit(r.job, progress.StageJobProgress, next, r.o.clock.Now(), 0, "")
	return nil
}
