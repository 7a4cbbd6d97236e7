// Package search fans research queries out across web-search providers and
// returns a ranked, deduplicated evidence set. It owns the retry/fallback
// chain: transient provider failures are retried with backoff, permanent
// failures bench the provider for the rest of the batch, and a terminal
// offline fallback keeps a query batch from ever failing outright.
package search

import (
	"context"
	"time"

	"github.com/sweetpotato0/deepresearch/quality"
)

// RawResult is a single hit returned by a provider. Immutable once produced.
type RawResult struct {
	Title     string    `json:"title"`
	URL       string    `json:"url"`
	Snippet   string    `json:"snippet"`
	Provider  string    `json:"provider"`
	Published time.Time `json:"published,omitempty"`
	Hint      float64   `json:"hint,omitempty"` // provider-specific credibility hint in (0,1]
}

// Source is the merged, scored form of every raw result that shared a
// canonical URL. The URL is the identity for deduplication within a session.
type Source struct {
	URL       string             `json:"url"`
	Title     string             `json:"title"`
	Snippet   string             `json:"snippet"`
	Domain    quality.DomainClass `json:"domain"`
	Tier      quality.Tier       `json:"tier"`
	Score     float64            `json:"score"`
	Breakdown quality.Breakdown  `json:"breakdown"`
	Providers []string           `json:"providers"`
	Published time.Time          `json:"published,omitempty"`
	Citation  int                `json:"citation,omitempty"` // 1-based label, assigned at finalization
}

// Provider searches a single backend. Implementations must be safe for
// concurrent use across sessions and idempotent-safe to retry; failures are
// reported as *errors.ProviderError so the coordinator can classify them.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string, limit int) ([]RawResult, error)
}

// Strategy selects how the coordinator schedules provider calls.
type Strategy string

const (
	// StrategySequential tries providers one at a time per query, stopping
	// at the first success.
	StrategySequential Strategy = "sequential"
	// StrategyParallel launches every (query, provider) pair concurrently
	// and merges results after all calls complete.
	StrategyParallel Strategy = "parallel"
	// StrategyBestEffort dispatches in parallel but accepts a partial set
	// once a minimum source count is reached or a deadline elapses.
	StrategyBestEffort Strategy = "best-effort"
)

// Warning records a degraded path taken during coordination so no failure
// terminates silently.
type Warning struct {
	Component string `json:"component"`
	Message   string `json:"message"`
}

// Output is the result of one coordinator invocation.
type Output struct {
	Sources  []Source  `json:"sources"`
	Filtered []Source  `json:"filtered,omitempty"` // dropped by the quality floor, kept for observability
	Warnings []Warning `json:"warnings,omitempty"`
}
