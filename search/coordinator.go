package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	xerrors "github.com/sweetpotato0/deepresearch/errors"
	"github.com/sweetpotato0/deepresearch/pkg/logging"
	"github.com/sweetpotato0/deepresearch/quality"
)

// Coordinator executes query batches against the configured provider chain.
// It is stateless across invocations and safe for concurrent use.
type Coordinator struct {
	providers []Provider
	fallback  Provider
	scorer    *quality.Scorer

	maxAttempts       int
	backoffBase       time.Duration
	resultLimit       int
	minSources        int
	bestEffortTimeout time.Duration

	floorScore float64
	floorTier  quality.Tier
	hasFloor   bool

	logger *slog.Logger
}

// CoordinatorOption customises a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithFallback sets the terminal offline provider used when every networked
// provider fails for a query.
func WithFallback(p Provider) CoordinatorOption {
	return func(c *Coordinator) { c.fallback = p }
}

// WithScorer overrides the quality scorer.
func WithScorer(s *quality.Scorer) CoordinatorOption {
	return func(c *Coordinator) {
		if s != nil {
			c.scorer = s
		}
	}
}

// WithMaxAttempts sets how many times a transient provider failure is retried.
func WithMaxAttempts(n int) CoordinatorOption {
	return func(c *Coordinator) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithBackoffBase sets the first retry delay; it doubles each attempt.
func WithBackoffBase(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if d > 0 {
			c.backoffBase = d
		}
	}
}

// WithResultLimit caps how many results each provider call may return.
func WithResultLimit(n int) CoordinatorOption {
	return func(c *Coordinator) {
		if n > 0 {
			c.resultLimit = n
		}
	}
}

// WithMinSources sets the best-effort acceptance threshold.
func WithMinSources(n int) CoordinatorOption {
	return func(c *Coordinator) {
		if n > 0 {
			c.minSources = n
		}
	}
}

// WithBestEffortTimeout sets the best-effort deadline.
func WithBestEffortTimeout(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if d > 0 {
			c.bestEffortTimeout = d
		}
	}
}

// WithFloorScore drops sources scoring below the given composite score.
func WithFloorScore(score float64) CoordinatorOption {
	return func(c *Coordinator) {
		if score > 0 {
			c.floorScore = score
			c.hasFloor = true
		}
	}
}

// WithFloorTier drops sources below the given credibility tier.
func WithFloorTier(tier quality.Tier) CoordinatorOption {
	return func(c *Coordinator) {
		if tier == quality.TierHigh || tier == quality.TierMedium {
			c.floorTier = tier
			c.hasFloor = true
		}
	}
}

// NewCoordinator creates a coordinator over the given providers, in priority
// order.
func NewCoordinator(providers []Provider, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		providers:         providers,
		scorer:            quality.NewScorer(),
		maxAttempts:       3,
		backoffBase:       500 * time.Millisecond,
		resultLimit:       5,
		minSources:        3,
		bestEffortTimeout: 20 * time.Second,
		logger:            logging.WithComponent("search_coordinator"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// tagged pins a raw result to its discovery position so that merged output is
// deterministic regardless of goroutine completion order.
type tagged struct {
	result RawResult
	query  int
	prov   int
	idx    int
}

type callResult struct {
	query   int
	prov    int
	results []RawResult
	err     error
}

// Execute runs the batch under the given strategy and returns the ranked,
// deduplicated evidence set. Provider failures degrade to warnings, never
// errors: a query whose whole chain fails falls back to the offline provider.
// Cancellation keeps whatever was collected up to that point.
func (c *Coordinator) Execute(ctx context.Context, queries []string, question string, strategy Strategy) (Output, error) {
	if len(queries) == 0 {
		return Output{}, &xerrors.ValidationError{Field: "queries", Message: "at least one query is required"}
	}
	if len(c.providers) == 0 && c.fallback == nil {
		return Output{}, &xerrors.ValidationError{Field: "providers", Message: "no search providers configured"}
	}

	var (
		collected []tagged
		warnings  []Warning
	)
	switch strategy {
	case StrategyParallel:
		collected, warnings = c.collectParallel(ctx, queries, 0)
	case StrategyBestEffort:
		collected, warnings = c.collectParallel(ctx, queries, c.minSources)
	default:
		collected, warnings = c.collectSequential(ctx, queries)
	}

	out := c.assemble(question, collected)
	out.Warnings = append(warnings, out.Warnings...)
	c.logger.Info("search batch completed",
		"strategy", string(strategy),
		"queries", len(queries),
		"sources", len(out.Sources),
		"filtered", len(out.Filtered),
		"warnings", len(out.Warnings),
	)
	return out, nil
}

// collectSequential tries providers in priority order per query, stopping at
// the first success. A provider that fails permanently is benched for the
// remainder of the batch.
func (c *Coordinator) collectSequential(ctx context.Context, queries []string) ([]tagged, []Warning) {
	var (
		collected []tagged
		warnings  []Warning
	)
	benched := make(map[string]bool)

	for qi, query := range queries {
		if ctx.Err() != nil {
			warnings = append(warnings, Warning{Component: "coordinator", Message: fmt.Sprintf("batch interrupted before query %d: %v", qi+1, ctx.Err())})
			break
		}
		satisfied := false
		for pi, p := range c.providers {
			if benched[p.Name()] {
				continue
			}
			results, err := c.callWithRetry(ctx, p, query)
			if err != nil {
				warnings = append(warnings, Warning{Component: p.Name(), Message: fmt.Sprintf("query %q failed: %v", query, err)})
				if !xerrors.IsTransient(err) && ctx.Err() == nil {
					benched[p.Name()] = true
					c.logger.Warn("provider benched for batch", "provider", p.Name(), "error", err)
				}
				continue
			}
			collected = appendTagged(collected, results, qi, pi)
			satisfied = true
			break
		}
		if !satisfied {
			fb, w := c.runFallback(ctx, query, qi)
			collected = append(collected, fb...)
			warnings = append(warnings, w...)
		}
	}
	return collected, warnings
}

// collectParallel launches every (query, provider) pair concurrently. When
// minSources > 0 the collection stops early once that many distinct URLs have
// been gathered or the best-effort deadline elapses.
func (c *Coordinator) collectParallel(ctx context.Context, queries []string, minSources int) ([]tagged, []Warning) {
	callCtx := ctx
	cancel := context.CancelFunc(func() {})
	if minSources > 0 {
		callCtx, cancel = context.WithTimeout(ctx, c.bestEffortTimeout)
	}
	defer cancel()

	total := len(queries) * len(c.providers)
	ch := make(chan callResult, total)
	var wg sync.WaitGroup
	for qi, query := range queries {
		for pi, p := range c.providers {
			wg.Add(1)
			go func(qi, pi int, p Provider, query string) {
				defer wg.Done()
				results, err := c.callWithRetry(callCtx, p, query)
				ch <- callResult{query: qi, prov: pi, results: results, err: err}
			}(qi, pi, p, query)
		}
	}
	go func() {
		wg.Wait()
		close(ch)
	}()

	var (
		collected []tagged
		warnings  []Warning
	)
	succeeded := make(map[int]bool)
	seen := make(map[string]bool)
	received := 0

drain:
	for received < total {
		select {
		case res, ok := <-ch:
			if !ok {
				break drain
			}
			received++
			if res.err != nil {
				warnings = append(warnings, Warning{Component: c.providers[res.prov].Name(), Message: fmt.Sprintf("query %q failed: %v", queries[res.query], res.err)})
				continue
			}
			succeeded[res.query] = true
			collected = appendTagged(collected, res.results, res.query, res.prov)
			for _, r := range res.results {
				seen[CanonicalURL(r.URL)] = true
			}
			if minSources > 0 && len(seen) >= minSources {
				warnings = append(warnings, Warning{Component: "coordinator", Message: fmt.Sprintf("best-effort threshold reached with %d sources, abandoning %d outstanding calls", len(seen), total-received)})
				cancel()
				break drain
			}
		case <-callCtx.Done():
			warnings = append(warnings, Warning{Component: "coordinator", Message: fmt.Sprintf("search window closed: %v; keeping %d collected results", callCtx.Err(), len(collected))})
			break drain
		}
	}

	// Queries no networked provider answered degrade to the offline fallback,
	// unless the whole session was cancelled.
	if ctx.Err() == nil {
		for qi, query := range queries {
			if succeeded[qi] {
				continue
			}
			fb, w := c.runFallback(ctx, query, qi)
			collected = append(collected, fb...)
			warnings = append(warnings, w...)
		}
	}

	// Completion order is nondeterministic; discovery order is not.
	sort.SliceStable(collected, func(i, j int) bool {
		a, b := collected[i], collected[j]
		if a.query != b.query {
			return a.query < b.query
		}
		if a.prov != b.prov {
			return a.prov < b.prov
		}
		return a.idx < b.idx
	})
	return collected, warnings
}

func (c *Coordinator) runFallback(ctx context.Context, query string, qi int) ([]tagged, []Warning) {
	if c.fallback == nil || ctx.Err() != nil {
		return nil, []Warning{{Component: "coordinator", Message: fmt.Sprintf("query %q yielded no results and no fallback is configured", query)}}
	}
	results, err := c.fallback.Search(ctx, query, c.resultLimit)
	if err != nil {
		return nil, []Warning{{Component: c.fallback.Name(), Message: fmt.Sprintf("fallback for query %q failed: %v", query, err)}}
	}
	w := Warning{Component: c.fallback.Name(), Message: fmt.Sprintf("query %q degraded to offline fallback", query)}
	return appendTagged(nil, results, qi, len(c.providers)), []Warning{w}
}

// callWithRetry retries transient failures with exponential backoff. Permanent
// failures and context cancellation return immediately.
func (c *Coordinator) callWithRetry(ctx context.Context, p Provider, query string) ([]RawResult, error) {
	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		results, err := p.Search(ctx, query, c.resultLimit)
		if err == nil {
			return results, nil
		}
		lastErr = err
		if !xerrors.IsTransient(err) {
			return nil, err
		}
		if attempt == c.maxAttempts-1 {
			break
		}
		backoff := c.backoffBase << uint(attempt)
		c.logger.Debug("retrying provider", "provider", p.Name(), "attempt", attempt+1, "backoff", backoff)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return nil, lastErr
}

func appendTagged(dst []tagged, results []RawResult, qi, pi int) []tagged {
	for i, r := range results {
		if r.URL == "" {
			continue
		}
		dst = append(dst, tagged{result: r, query: qi, prov: pi, idx: i})
	}
	return dst
}

type mergeGroup struct {
	canonical string
	raws      []RawResult
	providers map[string]bool
}

// assemble deduplicates by canonical URL, merges duplicates, scores the merged
// sources and returns them ranked. The base metadata of a merged source comes
// from its highest-scoring raw result; completeness is recomputed over the
// full provider set so corroboration is reflected.
func (c *Coordinator) assemble(question string, collected []tagged) Output {
	var order []string
	groups := make(map[string]*mergeGroup)
	for _, t := range collected {
		canon := CanonicalURL(t.result.URL)
		g, ok := groups[canon]
		if !ok {
			g = &mergeGroup{canonical: canon, providers: make(map[string]bool)}
			groups[canon] = g
			order = append(order, canon)
		}
		g.raws = append(g.raws, t.result)
		g.providers[t.result.Provider] = true
	}

	sources := make([]Source, 0, len(order))
	for _, canon := range order {
		g := groups[canon]
		base := c.bestRaw(question, g.raws)
		cand := quality.Candidate{
			URL:       canon,
			Title:     base.Title,
			Snippet:   base.Snippet,
			Published: base.Published,
			Providers: len(g.providers),
			Results:   len(g.raws),
			Hint:      base.Hint,
		}
		composite, breakdown := c.scorer.Score(cand, question)
		providers := make([]string, 0, len(g.providers))
		for name := range g.providers {
			providers = append(providers, name)
		}
		sort.Strings(providers)
		sources = append(sources, Source{
			URL:       canon,
			Title:     base.Title,
			Snippet:   base.Snippet,
			Domain:    quality.Classify(canon),
			Tier:      quality.TierFor(breakdown.Credibility),
			Score:     composite,
			Breakdown: breakdown,
			Providers: providers,
			Published: base.Published,
		})
	}

	// Rank by composite score; the stable sort keeps discovery order on ties.
	sort.SliceStable(sources, func(i, j int) bool {
		return sources[i].Score > sources[j].Score
	})

	out := Output{}
	for _, src := range sources {
		if c.belowFloor(src) {
			out.Filtered = append(out.Filtered, src)
			continue
		}
		out.Sources = append(out.Sources, src)
	}
	if len(out.Filtered) > 0 {
		out.Warnings = append(out.Warnings, Warning{
			Component: "coordinator",
			Message:   fmt.Sprintf("%d sources filtered below the quality floor", len(out.Filtered)),
		})
	}
	return out
}

// bestRaw picks the raw result whose standalone score is highest; its metadata
// becomes the merged source's base metadata.
func (c *Coordinator) bestRaw(question string, raws []RawResult) RawResult {
	best := raws[0]
	bestScore := -1.0
	for _, r := range raws {
		score, _ := c.scorer.Score(quality.Candidate{
			URL:       r.URL,
			Title:     r.Title,
			Snippet:   r.Snippet,
			Published: r.Published,
			Providers: 1,
			Results:   1,
			Hint:      r.Hint,
		}, question)
		if score > bestScore {
			bestScore = score
			best = r
		}
	}
	return best
}

func (c *Coordinator) belowFloor(src Source) bool {
	if !c.hasFloor {
		return false
	}
	if c.floorScore > 0 && src.Score < c.floorScore {
		return true
	}
	switch c.floorTier {
	case quality.TierHigh:
		return src.Tier != quality.TierHigh
	case quality.TierMedium:
		return src.Tier == quality.TierLow
	}
	return false
}
