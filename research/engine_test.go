package research

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	xerrors "github.com/sweetpotato0/deepresearch/errors"
	"github.com/sweetpotato0/deepresearch/quality"
	"github.com/sweetpotato0/deepresearch/reasoning"
	"github.com/sweetpotato0/deepresearch/search"
)

// scriptedClient answers each reasoning role from a per-role script,
// advancing one entry per call.
type scriptedClient struct {
	mu       sync.Mutex
	scripts  map[reasoning.Role][]string
	calls    map[reasoning.Role]int
	errs     map[reasoning.Role]error
	override map[reasoning.Role]func() string
}

func newScriptedClient() *scriptedClient {
	return &scriptedClient{
		scripts:  make(map[reasoning.Role][]string),
		calls:    make(map[reasoning.Role]int),
		errs:     make(map[reasoning.Role]error),
		override: make(map[reasoning.Role]func() string),
	}
}

func (c *scriptedClient) on(role reasoning.Role, responses ...string) *scriptedClient {
	c.scripts[role] = responses
	return c
}

func (c *scriptedClient) failRole(role reasoning.Role, err error) *scriptedClient {
	c.errs[role] = err
	return c
}

func (c *scriptedClient) genOverride(role reasoning.Role, fn func() string) *scriptedClient {
	c.override[role] = fn
	return c
}

func (c *scriptedClient) Generate(_ context.Context, req reasoning.Request) (*reasoning.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.errs[req.Role]; err != nil {
		return nil, err
	}
	if fn := c.override[req.Role]; fn != nil {
		return &reasoning.Result{Text: fn()}, nil
	}
	script := c.scripts[req.Role]
	if len(script) == 0 {
		return nil, xerrors.NewReasoningError(string(req.Role), xerrors.Permanent, errors.New("no script"))
	}
	i := c.calls[req.Role]
	if i >= len(script) {
		i = len(script) - 1
	}
	c.calls[req.Role]++
	return &reasoning.Result{Text: script[i]}, nil
}

// recordingProvider serves canned results and records every query it saw.
type recordingProvider struct {
	name    string
	results map[string][]search.RawResult // keyed by normalized query; nil key serves all
	err     error
	after   func() // runs after each successful call

	mu      sync.Mutex
	queries []string
}

func (p *recordingProvider) Name() string { return p.name }

func (p *recordingProvider) Search(ctx context.Context, query string, limit int) ([]search.RawResult, error) {
	p.mu.Lock()
	p.queries = append(p.queries, search.NormalizeQuery(query))
	p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	res, ok := p.results[search.NormalizeQuery(query)]
	if !ok {
		res = p.results[""]
	}
	if p.after != nil {
		defer p.after()
	}
	return res, nil
}

func (p *recordingProvider) seen() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.queries...)
}

func raw(provider, slug, snippet string) search.RawResult {
	return search.RawResult{
		Title:    slug,
		URL:      "https://example.edu/" + slug,
		Snippet:  snippet,
		Provider: provider,
	}
}

func plannerJSON(queries ...string) string {
	quoted := make([]string, len(queries))
	for i, q := range queries {
		quoted[i] = fmt.Sprintf("%q", q)
	}
	return fmt.Sprintf(`{"rationale":"planned","queries":[%s]}`, strings.Join(quoted, ","))
}

const sufficientJSON = `{"is_sufficient":true,"knowledge_gap":"","follow_up_queries":[]}`

func insufficientJSON(gap string, queries ...string) string {
	quoted := make([]string, len(queries))
	for i, q := range queries {
		quoted[i] = fmt.Sprintf("%q", q)
	}
	return fmt.Sprintf(`{"is_sufficient":false,"knowledge_gap":%q,"follow_up_queries":[%s]}`, gap, strings.Join(quoted, ","))
}

func fastEngine(t *testing.T, client reasoning.Client, providers []search.Provider, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{
		WithStrategy(search.StrategySequential),
		WithReasoningRetries(1),
		WithReasoningBackoff(time.Millisecond),
		WithSearchRetries(1),
		WithSearchBackoff(time.Millisecond),
	}, opts...)
	e, err := NewEngine(Clients{Default: client}, providers, opts...)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func TestRunSufficientOnFirstLoop(t *testing.T) {
	client := newScriptedClient().
		on(reasoning.RoleQueryPlanner, plannerJSON("solar capacity growth", "solar statistics 2026")).
		on(reasoning.RoleReflection, sufficientJSON).
		on(reasoning.RoleFinalizer, "Capacity keeps growing [S1]. Statistics agree [S2].")

	provider := &recordingProvider{name: "stub", results: map[string][]search.RawResult{
		"solar capacity growth": {raw("stub", "capacity", "global solar capacity growth accelerated")},
		"solar statistics 2026": {raw("stub", "statistics", "solar statistics for 2026 show expansion")},
	}}

	e := fastEngine(t, client, []search.Provider{provider})
	final, err := e.Run(context.Background(), Request{Question: "How fast is solar capacity growing?", InitialQueries: 2, MaxLoops: 2})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if final.Loops != 1 {
		t.Errorf("Loops = %d, want 1", final.Loops)
	}
	if final.TotalQueries != 2 {
		t.Errorf("TotalQueries = %d, want 2", final.TotalQueries)
	}
	if final.Forced {
		t.Error("happy path should not be a forced termination")
	}
	if len(final.Sources) != 2 {
		t.Fatalf("cited sources = %d, want 2", len(final.Sources))
	}
	for i, src := range final.Sources {
		if src.Citation != i+1 {
			t.Errorf("source %d citation = %d", i, src.Citation)
		}
	}
	if !strings.Contains(final.Answer, "[S1]") || !strings.Contains(final.Answer, "[S2]") {
		t.Errorf("answer lost its markers: %q", final.Answer)
	}
}

func TestRunGapLoopIssuesNovelQueries(t *testing.T) {
	client := newScriptedClient().
		on(reasoning.RoleQueryPlanner, plannerJSON("initial query")).
		on(reasoning.RoleReflection,
			insufficientJSON("missing timeline", "follow-up timeline"),
			sufficientJSON).
		on(reasoning.RoleFinalizer, "Answer [S1].")

	provider := &recordingProvider{name: "stub", results: map[string][]search.RawResult{
		"": {raw("stub", "page", "evidence text about the timeline")},
	}}

	e := fastEngine(t, client, []search.Provider{provider})
	final, err := e.Run(context.Background(), Request{Question: "question", InitialQueries: 1, MaxLoops: 3})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if final.Loops != 2 {
		t.Errorf("Loops = %d, want 2", final.Loops)
	}
	if final.TotalQueries != 2 {
		t.Errorf("TotalQueries = %d, want 2", final.TotalQueries)
	}
	seen := provider.seen()
	dupes := make(map[string]int)
	for _, q := range seen {
		dupes[q]++
	}
	for q, n := range dupes {
		if n > 1 {
			t.Errorf("query %q issued %d times", q, n)
		}
	}
}

func TestRunRejectsStaleGapQueries(t *testing.T) {
	// Reflection proposes the exact query that was already searched; the
	// engine must still advance with a synthesized novel variant.
	client := newScriptedClient().
		on(reasoning.RoleQueryPlanner, plannerJSON("battery storage cost")).
		on(reasoning.RoleReflection,
			insufficientJSON("cost trend over time", "Battery  Storage COST"),
			sufficientJSON).
		on(reasoning.RoleFinalizer, "Answer [S1].")

	provider := &recordingProvider{name: "stub", results: map[string][]search.RawResult{
		"": {raw("stub", "page", "battery storage cost evidence")},
	}}

	e := fastEngine(t, client, []search.Provider{provider})
	final, err := e.Run(context.Background(), Request{Question: "battery storage cost trend", InitialQueries: 1, MaxLoops: 3})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if final.Loops != 2 {
		t.Errorf("Loops = %d, want 2", final.Loops)
	}
	for q, n := range countQueries(provider.seen()) {
		if n > 1 {
			t.Errorf("stale query %q was re-issued %d times", q, n)
		}
	}
}

func countQueries(seen []string) map[string]int {
	out := make(map[string]int)
	for _, q := range seen {
		out[q]++
	}
	return out
}

func TestRunForcedTerminationAtLoopBudget(t *testing.T) {
	counter := 0
	client := newScriptedClient().
		on(reasoning.RoleQueryPlanner, plannerJSON("q")).
		on(reasoning.RoleFinalizer, "Partial answer [S1].")
	// Always insufficient, always with a fresh query.
	client.scripts[reasoning.RoleReflection] = nil
	client.errs[reasoning.RoleReflection] = nil
	client.genOverride(reasoning.RoleReflection, func() string {
		counter++
		return insufficientJSON("still missing", fmt.Sprintf("novel query %d", counter))
	})

	provider := &recordingProvider{name: "stub", results: map[string][]search.RawResult{
		"": {raw("stub", "page", "some evidence")},
	}}

	e := fastEngine(t, client, []search.Provider{provider})
	final, err := e.Run(context.Background(), Request{Question: "question", InitialQueries: 1, MaxLoops: 2})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !final.Forced {
		t.Fatal("exhausting the loop budget should force termination")
	}
	if !strings.Contains(final.ForcedReason, "loop budget") {
		t.Errorf("ForcedReason = %q", final.ForcedReason)
	}
	if final.Loops != 2 {
		t.Errorf("Loops = %d, want 2", final.Loops)
	}
	if final.Answer == "" {
		t.Error("forced termination must still produce an answer")
	}
}

func TestRunDegradesToFallbackWhenProvidersFail(t *testing.T) {
	client := newScriptedClient().
		on(reasoning.RoleQueryPlanner, plannerJSON("q")).
		on(reasoning.RoleReflection, sufficientJSON).
		on(reasoning.RoleFinalizer, "Best effort [S1].")

	down := &recordingProvider{name: "down", err: xerrors.NewProviderError("down", xerrors.Permanent, errors.New("403"))}

	e := fastEngine(t, client, []search.Provider{down})
	final, err := e.Run(context.Background(), Request{Question: "question", InitialQueries: 1, MaxLoops: 1})
	if err != nil {
		t.Fatalf("provider failure must degrade, not fail the session: %v", err)
	}
	if len(final.Sources) == 0 {
		t.Fatal("fallback should still yield a citable source")
	}
	degraded := false
	for _, w := range final.Warnings {
		if strings.Contains(w.Message, "fallback") {
			degraded = true
		}
	}
	if !degraded {
		t.Errorf("expected a fallback warning, got %+v", final.Warnings)
	}
}

func TestRunDegradesWhenReasoningUnavailable(t *testing.T) {
	// Every reasoning call fails permanently: planning, reflection and
	// synthesis all fall back to their deterministic paths.
	client := newScriptedClient()
	broken := xerrors.NewReasoningError("all", xerrors.Permanent, errors.New("model offline"))
	client.failRole(reasoning.RoleQueryPlanner, broken)
	client.failRole(reasoning.RoleReflection, broken)
	client.failRole(reasoning.RoleFinalizer, broken)

	provider := &recordingProvider{name: "stub", results: map[string][]search.RawResult{
		"": {raw("stub", "page", "evidence body")},
	}}

	e := fastEngine(t, client, []search.Provider{provider})
	final, err := e.Run(context.Background(), Request{Question: "resilience question", InitialQueries: 2, MaxLoops: 1})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if final.Answer == "" {
		t.Error("digest fallback should produce an answer")
	}
	if len(final.Sources) == 0 {
		t.Error("digest fallback should cite the gathered evidence")
	}
	if len(final.Warnings) == 0 {
		t.Error("every degraded stage should leave a warning")
	}
}

func TestRunDegradedReflectionWithoutEvidenceFinalizes(t *testing.T) {
	// Reasoning is fully offline and the only gathered source sits below the
	// requested tier floor, so every loop would start from zero evidence. The
	// session must settle on the degraded digest instead of spinning or
	// failing on an empty query batch.
	client := newScriptedClient()
	broken := xerrors.NewReasoningError("all", xerrors.Permanent, errors.New("model offline"))
	client.failRole(reasoning.RoleQueryPlanner, broken)
	client.failRole(reasoning.RoleReflection, broken)
	client.failRole(reasoning.RoleFinalizer, broken)

	provider := &recordingProvider{name: "stub", results: map[string][]search.RawResult{
		"": {{Title: "ad", URL: "https://shop.example.com/ad", Snippet: "buy now", Provider: "stub"}},
	}}

	e := fastEngine(t, client, []search.Provider{provider})
	final, err := e.Run(context.Background(), Request{
		Question:       "resilience question",
		InitialQueries: 1,
		MaxLoops:       3,
		FloorTier:      quality.TierHigh,
	})
	if err != nil {
		t.Fatalf("empty evidence under degraded reflection must finalize, got %v", err)
	}
	if final.Answer == "" {
		t.Error("degraded session must still produce an answer")
	}
	if len(final.Warnings) == 0 {
		t.Error("degraded stages should leave warnings")
	}
	if final.Loops != 1 {
		t.Errorf("Loops = %d, want 1; a degraded reflector cannot name follow-up queries", final.Loops)
	}
}

func TestRunAppliesRequestQualityFloor(t *testing.T) {
	client := newScriptedClient().
		on(reasoning.RoleQueryPlanner, plannerJSON("q")).
		on(reasoning.RoleReflection, sufficientJSON).
		on(reasoning.RoleFinalizer, "High tier only [S1].")

	provider := &recordingProvider{name: "stub", results: map[string][]search.RawResult{
		"": {
			raw("stub", "study", "credible academic evidence"),
			{Title: "ad", URL: "https://shop.example.com/ad", Snippet: "buy now", Provider: "stub"},
		},
	}}

	e := fastEngine(t, client, []search.Provider{provider})
	final, err := e.Run(context.Background(), Request{
		Question:       "question",
		InitialQueries: 1,
		MaxLoops:       1,
		FloorTier:      quality.TierHigh,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, src := range final.Sources {
		if src.Tier != quality.TierHigh {
			t.Errorf("source %q below the tier floor survived: %s", src.URL, src.Tier)
		}
	}
	filtered := false
	for _, w := range final.Warnings {
		if strings.Contains(w.Message, "quality floor") {
			filtered = true
		}
	}
	if !filtered {
		t.Errorf("expected a floor warning, got %+v", final.Warnings)
	}
}

func TestRunCancellationForcesFinalization(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := newScriptedClient().
		on(reasoning.RoleQueryPlanner, plannerJSON("q")).
		on(reasoning.RoleReflection, sufficientJSON).
		on(reasoning.RoleFinalizer, "never reached")

	provider := &recordingProvider{
		name:    "stub",
		results: map[string][]search.RawResult{"": {raw("stub", "page", "partial evidence")}},
		after:   cancel, // cancel once evidence exists
	}

	e := fastEngine(t, client, []search.Provider{provider})
	final, err := e.Run(ctx, Request{Question: "question", InitialQueries: 1, MaxLoops: 2})
	if err != nil {
		t.Fatalf("cancellation with evidence must finalize, got %v", err)
	}
	if !final.Forced {
		t.Error("cancellation should mark the answer as forced")
	}
	if len(final.Sources) == 0 {
		t.Error("forced finalization should keep the partial evidence")
	}
	if final.Answer == "" {
		t.Error("forced finalization must still produce an answer")
	}
}

func TestRunCancelledBeforeEvidenceAborts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := newScriptedClient()
	provider := &recordingProvider{name: "stub", results: map[string][]search.RawResult{}}

	e := fastEngine(t, client, []search.Provider{provider})
	_, err := e.Run(ctx, Request{Question: "question", InitialQueries: 1, MaxLoops: 1})
	var aborted *xerrors.SessionAbortedError
	if !errors.As(err, &aborted) {
		t.Fatalf("expected SessionAbortedError, got %v", err)
	}
}

func TestRunValidatesRequest(t *testing.T) {
	client := newScriptedClient()
	e := fastEngine(t, client, nil)

	cases := []Request{
		{Question: "   "},
		{Question: "q", InitialQueries: 99},
		{Question: "q", MaxLoops: -1},
		{Question: "q", FloorScore: 1.5},
	}
	for _, req := range cases {
		if _, err := e.Run(context.Background(), req); !errors.Is(err, xerrors.ErrInvalidInput) {
			t.Errorf("request %+v should fail validation, got %v", req, err)
		}
	}
}

func TestNewEngineRequiresDefaultClient(t *testing.T) {
	if _, err := NewEngine(Clients{}, nil); !errors.Is(err, xerrors.ErrInvalidInput) {
		t.Errorf("missing default client should fail, got %v", err)
	}
}

func TestRunAppliesDefaults(t *testing.T) {
	client := newScriptedClient().
		on(reasoning.RoleQueryPlanner, plannerJSON("a", "b", "c", "d", "e")).
		on(reasoning.RoleReflection, sufficientJSON).
		on(reasoning.RoleFinalizer, "Answer [S1].")

	provider := &recordingProvider{name: "stub", results: map[string][]search.RawResult{
		"": {raw("stub", "page", "text")},
	}}

	e := fastEngine(t, client, []search.Provider{provider})
	final, err := e.Run(context.Background(), Request{Question: "question"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// Default initial query budget is 3; the 5 planned queries must be capped.
	if final.TotalQueries != 3 {
		t.Errorf("TotalQueries = %d, want the default cap of 3", final.TotalQueries)
	}
}
