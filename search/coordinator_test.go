package search

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	xerrors "github.com/sweetpotato0/deepresearch/errors"
)

// stubProvider scripts per-call behavior and counts invocations.
type stubProvider struct {
	name string

	mu    sync.Mutex
	calls int
	fn    func(call int, query string) ([]RawResult, error)
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) Search(ctx context.Context, query string, limit int) ([]RawResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.calls++
	call := p.calls
	p.mu.Unlock()
	return p.fn(call, query)
}

func (p *stubProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func hit(provider, slug string) []RawResult {
	return []RawResult{{
		Title:    slug,
		URL:      "https://example.com/" + slug,
		Snippet:  "evidence about " + slug,
		Provider: provider,
	}}
}

func transientErr(name string) error {
	return xerrors.NewProviderError(name, xerrors.Transient, errors.New("503"))
}

func permanentErr(name string) error {
	return xerrors.NewProviderError(name, xerrors.Permanent, errors.New("400"))
}

func fastOpts(extra ...CoordinatorOption) []CoordinatorOption {
	return append([]CoordinatorOption{WithBackoffBase(time.Millisecond)}, extra...)
}

func TestExecuteSequentialFirstSuccessWins(t *testing.T) {
	first := &stubProvider{name: "first", fn: func(int, string) ([]RawResult, error) {
		return hit("first", "alpha"), nil
	}}
	second := &stubProvider{name: "second", fn: func(int, string) ([]RawResult, error) {
		t.Error("second provider should not be called when the first succeeds")
		return nil, nil
	}}

	c := NewCoordinator([]Provider{first, second}, fastOpts()...)
	out, err := c.Execute(context.Background(), []string{"q"}, "question", StrategySequential)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(out.Sources) != 1 || out.Sources[0].URL != "https://example.com/alpha" {
		t.Fatalf("unexpected sources: %+v", out.Sources)
	}
}

func TestExecuteRetriesTransientFailures(t *testing.T) {
	flaky := &stubProvider{name: "flaky", fn: func(call int, _ string) ([]RawResult, error) {
		if call < 3 {
			return nil, transientErr("flaky")
		}
		return hit("flaky", "beta"), nil
	}}

	c := NewCoordinator([]Provider{flaky}, fastOpts(WithMaxAttempts(3))...)
	out, err := c.Execute(context.Background(), []string{"q"}, "question", StrategySequential)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if flaky.callCount() != 3 {
		t.Errorf("expected 3 attempts, got %d", flaky.callCount())
	}
	if len(out.Sources) != 1 {
		t.Fatalf("expected 1 source after retry, got %d", len(out.Sources))
	}
}

func TestExecuteBenchesPermanentlyFailingProvider(t *testing.T) {
	broken := &stubProvider{name: "broken", fn: func(int, string) ([]RawResult, error) {
		return nil, permanentErr("broken")
	}}
	healthy := &stubProvider{name: "healthy", fn: func(_ int, _ string) ([]RawResult, error) {
		return hit("healthy", "gamma"), nil
	}}

	c := NewCoordinator([]Provider{broken, healthy}, fastOpts()...)
	_, err := c.Execute(context.Background(), []string{"q1", "q2", "q3"}, "question", StrategySequential)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if broken.callCount() != 1 {
		t.Errorf("permanently failing provider should be benched after 1 call, got %d", broken.callCount())
	}
	if healthy.callCount() != 3 {
		t.Errorf("healthy provider should serve all 3 queries, got %d", healthy.callCount())
	}
}

func TestExecuteFallsBackWhenChainExhausted(t *testing.T) {
	down := &stubProvider{name: "down", fn: func(int, string) ([]RawResult, error) {
		return nil, transientErr("down")
	}}
	offline := &stubProvider{name: "offline", fn: func(int, string) ([]RawResult, error) {
		return []RawResult{{Title: "pointer", URL: "https://fallback.example/pointer", Provider: "offline", Hint: 0.2}}, nil
	}}

	c := NewCoordinator([]Provider{down}, fastOpts(WithMaxAttempts(2), WithFallback(offline))...)
	out, err := c.Execute(context.Background(), []string{"q"}, "question", StrategySequential)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(out.Sources) != 1 {
		t.Fatalf("fallback should produce a source, got %d", len(out.Sources))
	}
	found := false
	for _, w := range out.Warnings {
		if strings.Contains(w.Message, "degraded to offline fallback") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a degradation warning, got %+v", out.Warnings)
	}
}

func TestExecuteValidatesInput(t *testing.T) {
	c := NewCoordinator([]Provider{&stubProvider{name: "p", fn: func(int, string) ([]RawResult, error) { return nil, nil }}})
	if _, err := c.Execute(context.Background(), nil, "question", StrategySequential); !errors.Is(err, xerrors.ErrInvalidInput) {
		t.Errorf("empty batch should fail validation, got %v", err)
	}

	empty := NewCoordinator(nil)
	if _, err := empty.Execute(context.Background(), []string{"q"}, "question", StrategySequential); !errors.Is(err, xerrors.ErrInvalidInput) {
		t.Errorf("no providers should fail validation, got %v", err)
	}
}

func TestExecuteDeduplicatesAcrossProviders(t *testing.T) {
	a := &stubProvider{name: "a", fn: func(int, string) ([]RawResult, error) {
		return []RawResult{{Title: "Shared", URL: "https://www.example.com/shared?utm_source=a", Snippet: "from a", Provider: "a"}}, nil
	}}
	b := &stubProvider{name: "b", fn: func(int, string) ([]RawResult, error) {
		return []RawResult{{Title: "Shared", URL: "http://example.com/shared/", Snippet: "from b", Provider: "b"}}, nil
	}}

	c := NewCoordinator([]Provider{a, b}, fastOpts()...)
	out, err := c.Execute(context.Background(), []string{"q"}, "question", StrategyParallel)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(out.Sources) != 1 {
		t.Fatalf("variant URLs should merge to one source, got %d: %+v", len(out.Sources), out.Sources)
	}
	src := out.Sources[0]
	if src.URL != "https://example.com/shared" {
		t.Errorf("merged URL = %q", src.URL)
	}
	if len(src.Providers) != 2 {
		t.Errorf("merged source should credit both providers, got %v", src.Providers)
	}
}

func TestExecuteParallelIsDeterministic(t *testing.T) {
	slow := &stubProvider{name: "slow", fn: func(int, string) ([]RawResult, error) {
		time.Sleep(10 * time.Millisecond)
		return hit("slow", "from-slow"), nil
	}}
	fast := &stubProvider{name: "fast", fn: func(int, string) ([]RawResult, error) {
		return hit("fast", "from-fast"), nil
	}}

	c := NewCoordinator([]Provider{slow, fast}, fastOpts()...)
	var prev []string
	for run := 0; run < 3; run++ {
		out, err := c.Execute(context.Background(), []string{"q1", "q2"}, "question", StrategyParallel)
		if err != nil {
			t.Fatalf("Execute: %v", err)
		}
		var urls []string
		for _, s := range out.Sources {
			urls = append(urls, s.URL)
		}
		if prev != nil {
			if len(urls) != len(prev) {
				t.Fatalf("run %d changed source count: %v vs %v", run, urls, prev)
			}
			for i := range urls {
				if urls[i] != prev[i] {
					t.Fatalf("run %d changed order: %v vs %v", run, urls, prev)
				}
			}
		}
		prev = urls
	}
}

func TestExecuteAppliesQualityFloor(t *testing.T) {
	p := &stubProvider{name: "p", fn: func(int, string) ([]RawResult, error) {
		return []RawResult{
			{Title: "strong", URL: "https://example.edu/paper", Snippet: "a detailed snippet about the question with substance", Provider: "p"},
			{Title: "weak", URL: "https://example.com/ad", Snippet: "x", Provider: "p", Hint: 0.05},
		}, nil
	}}

	c := NewCoordinator([]Provider{p}, fastOpts(WithFloorScore(0.4))...)
	out, err := c.Execute(context.Background(), []string{"q"}, "strong question substance", StrategySequential)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(out.Filtered) == 0 {
		t.Fatal("expected the weak source to be filtered")
	}
	for _, s := range out.Sources {
		if s.Score < 0.4 {
			t.Errorf("source %q below floor survived with score %.2f", s.URL, s.Score)
		}
	}
	found := false
	for _, w := range out.Warnings {
		if strings.Contains(w.Message, "filtered below the quality floor") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a floor warning, got %+v", out.Warnings)
	}
}

func TestExecuteBestEffortStopsAtThreshold(t *testing.T) {
	fast := &stubProvider{name: "fast", fn: func(int, string) ([]RawResult, error) {
		return hit("fast", "quick"), nil
	}}
	stuck := &stubProvider{name: "stuck", fn: func(int, string) ([]RawResult, error) {
		time.Sleep(5 * time.Second)
		return nil, transientErr("stuck")
	}}

	c := NewCoordinator([]Provider{fast, stuck}, fastOpts(WithMinSources(1), WithBestEffortTimeout(2*time.Second))...)
	start := time.Now()
	out, err := c.Execute(context.Background(), []string{"q"}, "question", StrategyBestEffort)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("best-effort should return at the threshold, took %v", elapsed)
	}
	if len(out.Sources) == 0 {
		t.Fatal("expected at least the fast provider's source")
	}
}

func TestExecuteRanksByScore(t *testing.T) {
	p := &stubProvider{name: "p", fn: func(int, string) ([]RawResult, error) {
		return []RawResult{
			{Title: "thin", URL: "https://blog.example.com/post", Snippet: "short", Provider: "p"},
			{Title: "solid study", URL: "https://example.edu/study", Snippet: "a thorough snippet matching the question terms closely and at length", Provider: "p"},
		}, nil
	}}

	c := NewCoordinator([]Provider{p}, fastOpts()...)
	out, err := c.Execute(context.Background(), []string{"q"}, "solid study question terms", StrategySequential)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(out.Sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(out.Sources))
	}
	for i := 1; i < len(out.Sources); i++ {
		if out.Sources[i].Score > out.Sources[i-1].Score {
			t.Errorf("sources not ranked by score: %v", out.Sources)
		}
	}
	if out.Sources[0].URL != "https://example.edu/study" {
		t.Errorf("expected the academic, relevant source first, got %q", out.Sources[0].URL)
	}
}
