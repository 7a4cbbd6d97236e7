package research

import (
	"time"

	"github.com/sweetpotato0/deepresearch/quality"
	"github.com/sweetpotato0/deepresearch/search"
)

// Config controls behaviour of the research engine. It groups loop bounds,
// search scheduling, reasoning retry policy and the stage prompts so callers
// can construct reproducible engines from a single struct.
type Config struct {
	Name           string          // Logical name for tracing/logging
	Strategy       search.Strategy // How the coordinator schedules provider calls
	MaxGapQueries  int             // Upper bound on follow-up queries per loop
	ResultLimit    int             // Per provider call result cap
	EvidenceBudget int             // Token budget for evidence blocks in prompts

	ReasoningRetries int           // Attempts per reasoning call before degrading
	ReasoningBackoff time.Duration // First retry delay; doubles per attempt

	SearchRetries     int           // Attempts per provider call before degrading
	SearchBackoff     time.Duration // First retry delay; doubles per attempt
	MinSources        int           // Best-effort acceptance threshold
	BestEffortTimeout time.Duration // Best-effort deadline

	PlannerPrompt    string // System prompt for the query planner
	ReflectionPrompt string // System prompt for the reflection stage
	FinalizerPrompt  string // System prompt for answer synthesis

	Weights         quality.Weights // Sub-score weighting policy
	RecencyHalfLife time.Duration   // Age at which the recency sub-score halves

	fallback search.Provider // Terminal fallback override
}

// Option customises the engine configuration.
type Option func(*Config)

// WithStrategy selects the search scheduling strategy.
func WithStrategy(s search.Strategy) Option {
	return func(cfg *Config) {
		switch s {
		case search.StrategySequential, search.StrategyParallel, search.StrategyBestEffort:
			cfg.Strategy = s
		}
	}
}

// WithMaxGapQueries caps how many follow-up queries a reflection verdict may
// carry into the next loop.
func WithMaxGapQueries(n int) Option {
	return func(cfg *Config) {
		if n > 0 {
			cfg.MaxGapQueries = n
		}
	}
}

// WithResultLimit caps how many results each provider call may return.
func WithResultLimit(n int) Option {
	return func(cfg *Config) {
		if n > 0 {
			cfg.ResultLimit = n
		}
	}
}

// WithEvidenceBudget bounds the evidence block fed to reasoning calls.
func WithEvidenceBudget(tokens int) Option {
	return func(cfg *Config) {
		if tokens > 0 {
			cfg.EvidenceBudget = tokens
		}
	}
}

// WithReasoningRetries overrides how many times a transient reasoning failure
// is retried before the stage degrades to its deterministic fallback.
func WithReasoningRetries(n int) Option {
	return func(cfg *Config) {
		if n > 0 {
			cfg.ReasoningRetries = n
		}
	}
}

// WithReasoningBackoff sets the first reasoning retry delay.
func WithReasoningBackoff(d time.Duration) Option {
	return func(cfg *Config) {
		if d > 0 {
			cfg.ReasoningBackoff = d
		}
	}
}

// WithSearchRetries overrides the per-provider retry budget.
func WithSearchRetries(n int) Option {
	return func(cfg *Config) {
		if n > 0 {
			cfg.SearchRetries = n
		}
	}
}

// WithSearchBackoff sets the first provider retry delay.
func WithSearchBackoff(d time.Duration) Option {
	return func(cfg *Config) {
		if d > 0 {
			cfg.SearchBackoff = d
		}
	}
}

// WithMinSources sets the best-effort acceptance threshold.
func WithMinSources(n int) Option {
	return func(cfg *Config) {
		if n > 0 {
			cfg.MinSources = n
		}
	}
}

// WithBestEffortTimeout sets the best-effort search deadline.
func WithBestEffortTimeout(d time.Duration) Option {
	return func(cfg *Config) {
		if d > 0 {
			cfg.BestEffortTimeout = d
		}
	}
}

// WithPlannerPrompt sets the query planner system prompt.
func WithPlannerPrompt(prompt string) Option {
	return func(cfg *Config) {
		if prompt != "" {
			cfg.PlannerPrompt = prompt
		}
	}
}

// WithReflectionPrompt sets the reflection system prompt.
func WithReflectionPrompt(prompt string) Option {
	return func(cfg *Config) {
		if prompt != "" {
			cfg.ReflectionPrompt = prompt
		}
	}
}

// WithFinalizerPrompt sets the synthesis system prompt.
func WithFinalizerPrompt(prompt string) Option {
	return func(cfg *Config) {
		if prompt != "" {
			cfg.FinalizerPrompt = prompt
		}
	}
}

// WithWeights overrides the quality sub-score weighting policy.
func WithWeights(w quality.Weights) Option {
	return func(cfg *Config) { cfg.Weights = w }
}

// WithRecencyHalfLife sets the recency decay half-life.
func WithRecencyHalfLife(d time.Duration) Option {
	return func(cfg *Config) {
		if d > 0 {
			cfg.RecencyHalfLife = d
		}
	}
}

// WithFallback overrides the terminal offline fallback provider.
func WithFallback(p search.Provider) Option {
	return func(cfg *Config) {
		if p != nil {
			cfg.fallback = p
		}
	}
}

func defaultConfig() *Config {
	return &Config{
		Name:              "deepresearch",
		Strategy:          search.StrategyParallel,
		MaxGapQueries:     10,
		ResultLimit:       5,
		EvidenceBudget:    6000,
		ReasoningRetries:  3,
		ReasoningBackoff:  500 * time.Millisecond,
		SearchRetries:     3,
		SearchBackoff:     500 * time.Millisecond,
		MinSources:        3,
		BestEffortTimeout: 20 * time.Second,
		Weights:           quality.DefaultWeights(),
		RecencyHalfLife:   2 * 365 * 24 * time.Hour,
		PlannerPrompt: `You are a search strategist for a web research agent. Turn the research question into diverse, retrieval-ready web search queries.
Return strict JSON only: {"rationale":"...","queries":["..."]}.
Rules:
- Produce at most the requested number of queries; fewer is fine when the question is narrow.
- Diversify vocabulary and intent: definitions, statistics, recent developments, authoritative reports.
- Keep each query under 15 words and make every query answerable by a web search on its own.
- Never emit two queries that differ only in wording.`,
		ReflectionPrompt: `You are the reflection stage of a web research agent. Judge whether the collected evidence is sufficient to answer the research question.
Return strict JSON only: {"is_sufficient":true|false,"knowledge_gap":"...","follow_up_queries":["..."]}.
Rules:
- Mark sufficient only when the evidence covers the question's core claims with credible sources.
- When insufficient, name the specific gap and write follow-up queries that target it.
- Follow-up queries must explore new ground: never repeat a query that was already searched.`,
		FinalizerPrompt: `You are the answer writer of a web research agent. Using only the numbered sources provided, write a precise answer to the research question.
Guidelines:
1. Attribute every factual statement with the matching [S#] marker at the end of the supporting sentence.
2. Synthesize across sources; point out disagreements instead of papering over them.
3. Only cite sources you actually used. Do not invent sources or markers.
4. If the evidence cannot fully answer the question, say what is missing.`,
	}
}

func applyOptions(cfg *Config, opts []Option) *Config {
	if cfg == nil {
		cfg = defaultConfig()
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}
