package research

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/sweetpotato0/deepresearch/reasoning"
	"github.com/sweetpotato0/deepresearch/search"
)

// finalizer synthesizes the final answer from the accumulated evidence and
// resolves citation markers into a dense, 1-based source list.
type finalizer struct {
	client reasoning.Client
	cfg    *Config
	logger *slog.Logger
}

var citationMarker = regexp.MustCompile(`\[S(\d+)\]`)

// Finalize writes the answer. Reasoning outages degrade to a deterministic
// digest of the evidence so a session that gathered sources always returns
// something citable.
func (f *finalizer) Finalize(ctx context.Context, s *session) (string, []search.Source) {
	prompt := fmt.Sprintf(
		"Research question: %s\n\nNumbered sources:\n%s",
		s.request.Question,
		trimToBudget(evidenceBlock(s.evidence), f.cfg.EvidenceBudget),
	)

	res, err := reasoning.GenerateWithRetry(ctx, f.client, reasoning.Request{
		Role:   reasoning.RoleFinalizer,
		System: f.cfg.FinalizerPrompt,
		Prompt: prompt,
	}, f.cfg.ReasoningRetries, f.cfg.ReasoningBackoff)
	if err != nil {
		f.logger.Warn("finalization degraded to evidence digest", "error", err)
		s.warn("finalizer", "synthesis unavailable, returning evidence digest")
		return f.digest(s)
	}
	return relabel(res.Text, s.evidence)
}

// relabel rewrites [S#] markers so that cited sources are numbered densely in
// first-appearance order. Markers that point outside the evidence set are
// removed, and uncited sources are excluded from the returned list.
func relabel(answer string, evidence []search.Source) (string, []search.Source) {
	remap := make(map[int]int) // original 1-based index -> dense label
	var cited []search.Source

	out := citationMarker.ReplaceAllStringFunc(answer, func(marker string) string {
		n, err := strconv.Atoi(citationMarker.FindStringSubmatch(marker)[1])
		if err != nil || n < 1 || n > len(evidence) {
			return ""
		}
		label, ok := remap[n]
		if !ok {
			label = len(cited) + 1
			remap[n] = label
			src := evidence[n-1]
			src.Citation = label
			cited = append(cited, src)
		}
		return fmt.Sprintf("[S%d]", label)
	})
	return strings.TrimSpace(out), cited
}

// digest is the deterministic fallback answer: the best evidence, one source
// per paragraph, each self-citing. It needs no live backend at all.
func (f *finalizer) digest(s *session) (string, []search.Source) {
	if len(s.evidence) == 0 {
		return "No supporting evidence could be collected for this question.", nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Evidence summary for: %s\n", s.request.Question)
	cited := make([]search.Source, 0, len(s.evidence))
	for i, src := range s.evidence {
		src.Citation = i + 1
		cited = append(cited, src)
		fmt.Fprintf(&b, "\n%s [S%d]\n%s\n", src.Title, i+1, src.Snippet)
	}
	return strings.TrimSpace(b.String()), cited
}
