package research

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sweetpotato0/deepresearch/reasoning"
	"github.com/sweetpotato0/deepresearch/search"
)

// planner turns the research question into the initial query batch. It is
// only consulted on loop 0; later loops take their queries from reflection.
type planner struct {
	client reasoning.Client
	cfg    *Config
	logger *slog.Logger
}

type plannerOutput struct {
	Rationale string   `json:"rationale"`
	Queries   []string `json:"queries"`
}

// Plan produces between 1 and req.InitialQueries queries. A reasoning outage
// degrades to deterministic variants of the question instead of failing the
// session.
func (p *planner) Plan(ctx context.Context, s *session) []SearchQuery {
	count := s.request.InitialQueries
	prompt := fmt.Sprintf(
		"Current date: %s\nResearch question: %s\nGenerate up to %d search queries.",
		time.Now().Format("2006-01-02"), s.request.Question, count,
	)

	res, err := reasoning.GenerateWithRetry(ctx, p.client, reasoning.Request{
		Role:   reasoning.RoleQueryPlanner,
		System: p.cfg.PlannerPrompt,
		Prompt: prompt,
	}, p.cfg.ReasoningRetries, p.cfg.ReasoningBackoff)

	var raw []string
	if err == nil {
		out, decodeErr := decodeJSON[plannerOutput](res.Text)
		if decodeErr != nil {
			err = decodeErr
		} else {
			raw = out.Queries
		}
	}
	if err != nil {
		p.logger.Warn("query planning degraded to deterministic variants", "error", err)
		s.warn("planner", "query planning unavailable, using question-derived queries")
		raw = questionVariants(s.request.Question, count)
	}

	queries := boundQueries(raw, count, s.asked, OriginInitial, s.loop)
	if len(queries) == 0 {
		// The model returned nothing usable; the question itself is always a
		// valid query.
		queries = boundQueries(questionVariants(s.request.Question, count), count, s.asked, OriginInitial, s.loop)
	}
	return queries
}

// boundQueries trims, deduplicates against both the batch and the session's
// query log, and caps the batch at max while preserving order.
func boundQueries(raw []string, max int, asked map[string]bool, origin Origin, loop int) []SearchQuery {
	seen := make(map[string]bool, len(raw))
	var out []SearchQuery
	for _, text := range raw {
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		key := search.NormalizeQuery(text)
		if seen[key] || asked[key] {
			continue
		}
		seen[key] = true
		out = append(out, SearchQuery{Text: text, Origin: origin, Loop: loop})
		if max > 0 && len(out) == max {
			break
		}
	}
	return out
}

// questionVariants derives search queries from the question alone, for use
// when no reasoning backend is reachable.
func questionVariants(question string, count int) []string {
	base := strings.TrimSpace(question)
	variants := []string{
		base,
		base + " overview",
		base + " latest developments",
		base + " statistics",
		base + " explained",
	}
	if count > 0 && count < len(variants) {
		variants = variants[:count]
	}
	return variants
}
