package research

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sweetpotato0/deepresearch/reasoning"
	"github.com/sweetpotato0/deepresearch/search"
)

// reflector judges evidence sufficiency after each search pass and names the
// follow-up queries for the next loop when the evidence falls short.
type reflector struct {
	client reasoning.Client
	cfg    *Config
	logger *slog.Logger
}

type reflectionOutput struct {
	IsSufficient    bool     `json:"is_sufficient"`
	KnowledgeGap    string   `json:"knowledge_gap"`
	FollowUpQueries []string `json:"follow_up_queries"`
}

// Reflect produces the loop verdict. Reasoning outages degrade instead of
// failing the session: without a model to name the gap, looping cannot make
// progress, so the evidence on hand is accepted as-is.
func (r *reflector) Reflect(ctx context.Context, s *session) Verdict {
	prompt := fmt.Sprintf(
		"Research question: %s\nLoop %d of at most %d.\n\nEvidence collected so far:\n%s",
		s.request.Question, s.loop+1, s.request.MaxLoops,
		trimToBudget(evidenceBlock(s.evidence), r.cfg.EvidenceBudget),
	)

	res, err := reasoning.GenerateWithRetry(ctx, r.client, reasoning.Request{
		Role:   reasoning.RoleReflection,
		System: r.cfg.ReflectionPrompt,
		Prompt: prompt,
	}, r.cfg.ReasoningRetries, r.cfg.ReasoningBackoff)

	var out *reflectionOutput
	if err == nil {
		out, err = decodeJSON[reflectionOutput](res.Text)
	}
	if err != nil {
		r.logger.Warn("reflection degraded, accepting evidence as-is", "error", err)
		s.warn("reflection", "reflection unavailable, accepting gathered evidence as-is")
		return Verdict{Sufficient: true}
	}

	if out.IsSufficient {
		return Verdict{Sufficient: true}
	}

	gap := boundQueries(out.FollowUpQueries, r.cfg.MaxGapQueries, s.asked, OriginGap, s.loop+1)
	if len(gap) == 0 {
		// Every proposed query repeats an earlier one. Synthesize novel
		// variants so an insufficient verdict always advances the session.
		gap = boundQueries(
			gapVariants(s.request.Question, out.KnowledgeGap, out.FollowUpQueries),
			r.cfg.MaxGapQueries, s.asked, OriginGap, s.loop+1,
		)
	}
	if len(gap) == 0 {
		// Nothing novel is expressible; treat the evidence as exhausted.
		s.warn("reflection", "no novel follow-up queries available, accepting evidence")
		return Verdict{Sufficient: true, KnowledgeGap: out.KnowledgeGap}
	}
	return Verdict{Sufficient: false, KnowledgeGap: out.KnowledgeGap, GapQueries: gap}
}

// gapVariants appends clarifying terms to stale queries so that a verdict can
// still carry novel ones. The knowledge gap itself is also a usable query.
func gapVariants(question, gap string, stale []string) []string {
	var out []string
	if g := strings.TrimSpace(gap); g != "" {
		out = append(out, g, question+" "+g)
	}
	for _, q := range stale {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		out = append(out, q+" details", q+" evidence")
	}
	return out
}

// evidenceBlock renders sources as numbered lines for reasoning prompts. The
// numbering matches the [S#] markers the finalizer prompt asks for.
func evidenceBlock(sources []search.Source) string {
	if len(sources) == 0 {
		return "(no evidence collected)"
	}
	var b strings.Builder
	for i, src := range sources {
		fmt.Fprintf(&b, "[S%d] %s (%s, tier %s)\n%s\n", i+1, src.Title, src.URL, src.Tier, src.Snippet)
	}
	return strings.TrimRight(b.String(), "\n")
}
