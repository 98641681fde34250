package search

import (
	"context"
	"time"

	"deepresearch/internal/logging"
	"deepresearch/internal/metrics"
	"deepresearch/internal/ratelimit"
)

// Engine is the two-phase contract every adapter implements. GetPreviews
// is the cheap pass; GetFullContent upgrades selected previews and must
// only receive previews the same engine produced in the same run.
type Engine interface {
	Name() string
	GetPreviews(ctx context.Context, query string) ([]Result, error)
	GetFullContent(ctx context.Context, previews []Result) ([]Result, error)
}

// PreRanked marks engines whose previews already carry strong ranking
// (local index, external retrievers). The runner skips the LLM relevance
// filter for them.
type PreRanked interface {
	PreRanked() bool
}

const (
	maxAttempts = 3

	defaultPreviewTimeout = 15 * time.Second
	defaultFullTimeout    = 30 * time.Second
)

// Runner composes the two phases with the relevance filter, tracker-paced
// retries, and the metrics hook. One runner serves a whole run; engines
// hold no run-scoped state.
type Runner struct {
	Tracker *ratelimit.Tracker
	Filter  *Filter
	Metrics metrics.Sink
	Cache   *Cache

	// SnippetsOnly bypasses GetFullContent and returns filtered previews.
	SnippetsOnly bool
	// ResearchID tags metrics rows for this run.
	ResearchID string

	PreviewTimeout time.Duration
	FullTimeout    time.Duration
}

// Run executes the full contract for one engine and query. Failures never
// surface as errors: the result set is empty and a failed metric is
// recorded. The returned error is non-nil only on context cancellation.
func (r *Runner) Run(ctx context.Context, eng Engine, query string) ([]Result, error) {
	start := time.Now()

	results, runErr := r.run(ctx, eng, query)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if r.Metrics != nil {
		rec := metrics.SearchRecord{
			Engine:      eng.Name(),
			Query:       query,
			ResultCount: len(results),
			LatencyMS:   time.Since(start).Milliseconds(),
			Success:     runErr == nil,
			ResearchID:  r.ResearchID,
		}
		if runErr != nil {
			rec.Error = runErr.Error()
		}
		r.Metrics.RecordSearch(rec)
	}

	if runErr != nil {
		logging.Engine("%s search failed for %q: %v", eng.Name(), query, runErr)
		return nil, nil
	}
	return results, nil
}

func (r *Runner) run(ctx context.Context, eng Engine, query string) ([]Result, error) {
	if r.Cache != nil {
		if cached, ok := r.Cache.Get(eng.Name(), query); ok {
			logging.EngineDebug("%s cache hit for %q", eng.Name(), query)
			return cached, nil
		}
	}

	previews, err := r.previewsWithRetry(ctx, eng, query)
	if err != nil {
		return nil, err
	}
	if len(previews) == 0 {
		return nil, nil
	}

	filtered := previews
	if !r.preRanked(eng) && r.Filter != nil {
		filtered = r.Filter.ForRelevance(ctx, query, previews)
	}
	if len(filtered) == 0 {
		return nil, nil
	}

	results := filtered
	if !r.SnippetsOnly {
		fullCtx, cancel := context.WithTimeout(ctx, r.fullTimeout())
		results, err = eng.GetFullContent(fullCtx, filtered)
		cancel()
		if err != nil {
			// Full-content failure degrades to the previews we have.
			logging.Engine("%s full content failed, returning previews: %v", eng.Name(), err)
			results = filtered
		}
	}

	if r.Cache != nil {
		r.Cache.Put(eng.Name(), query, results)
	}
	return results, nil
}

// previewsWithRetry runs the preview phase under the tracker: sleep the
// learned wait before each attempt, retry only on rate-limit signals, and
// record every outcome.
func (r *Runner) previewsWithRetry(ctx context.Context, eng Engine, query string) ([]Result, error) {
	name := eng.Name()

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		wait := time.Duration(0)
		if r.Tracker != nil {
			wait = r.Tracker.WaitTime(name)
		}
		if wait > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		prevCtx, cancel := context.WithTimeout(ctx, r.previewTimeout())
		previews, err := eng.GetPreviews(prevCtx, query)
		cancel()

		if r.Tracker != nil {
			r.Tracker.RecordOutcome(name, wait, err == nil, attempt, Classify(err))
		}

		if err == nil {
			return previews, nil
		}
		lastErr = err
		if !IsRateLimited(err) {
			return nil, err
		}
		logging.EngineDebug("%s rate limited on attempt %d", name, attempt+1)
	}
	return nil, lastErr
}

func (r *Runner) preRanked(eng Engine) bool {
	pr, ok := eng.(PreRanked)
	return ok && pr.PreRanked()
}

func (r *Runner) previewTimeout() time.Duration {
	if r.PreviewTimeout > 0 {
		return r.PreviewTimeout
	}
	return defaultPreviewTimeout
}

func (r *Runner) fullTimeout() time.Duration {
	if r.FullTimeout > 0 {
		return r.FullTimeout
	}
	return defaultFullTimeout
}
