// Package research implements the iterative research loop: plan queries,
// gather evidence through the search coordinator, reflect on sufficiency, and
// either loop on the discovered gaps or synthesize a cited final answer.
//
// The loop runs on the graph executor. Stages are pure with respect to the
// session: each receives a snapshot and returns values, and the engine alone
// merges them back, so there is exactly one writer per session.
package research

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sweetpotato0/deepresearch/config"
	"github.com/sweetpotato0/deepresearch/contrib/searchprovider/offline"
	xerrors "github.com/sweetpotato0/deepresearch/errors"
	"github.com/sweetpotato0/deepresearch/graph"
	"github.com/sweetpotato0/deepresearch/pkg/logging"
	"github.com/sweetpotato0/deepresearch/pkg/telemetry"
	"github.com/sweetpotato0/deepresearch/quality"
	"github.com/sweetpotato0/deepresearch/reasoning"
	"github.com/sweetpotato0/deepresearch/search"
)

const (
	defaultInitialQueries = 3
	defaultMaxLoops       = 2
	maxInitialQueries     = 10
	maxLoopBound          = 10
)

// Clients routes reasoning calls per stage. Default is required; the per-stage
// fields override it when a deployment wants different models per role.
type Clients struct {
	Default    reasoning.Client
	Planner    reasoning.Client
	Reflection reasoning.Client
	Finalizer  reasoning.Client
}

func (c Clients) forRole(role reasoning.Role) reasoning.Client {
	switch role {
	case reasoning.RoleQueryPlanner:
		if c.Planner != nil {
			return c.Planner
		}
	case reasoning.RoleReflection:
		if c.Reflection != nil {
			return c.Reflection
		}
	case reasoning.RoleFinalizer:
		if c.Finalizer != nil {
			return c.Finalizer
		}
	}
	return c.Default
}

// Engine runs research sessions. It is safe for concurrent use; each Run owns
// its session exclusively.
type Engine struct {
	cfg         *Config
	coordinator *search.Coordinator
	planner     *planner
	reflector   *reflector
	finalizer   *finalizer
	tracer      trace.Tracer
	logger      *slog.Logger
}

// NewEngine wires the research loop over the given reasoning clients and
// search providers.
func NewEngine(clients Clients, providers []search.Provider, opts ...Option) (*Engine, error) {
	if clients.Default == nil {
		return nil, &xerrors.ValidationError{Field: "clients.default", Message: "a default reasoning client is required"}
	}
	cfg := applyOptions(nil, opts)

	scorer := quality.NewScorer(
		quality.WithWeights(cfg.Weights),
		quality.WithRecencyHalfLife(cfg.RecencyHalfLife),
	)
	fallback := cfg.fallback
	if fallback == nil {
		fallback = offline.New(nil)
	}
	coordinator := search.NewCoordinator(providers,
		search.WithFallback(fallback),
		search.WithScorer(scorer),
		search.WithMaxAttempts(cfg.SearchRetries),
		search.WithBackoffBase(cfg.SearchBackoff),
		search.WithResultLimit(cfg.ResultLimit),
		search.WithMinSources(cfg.MinSources),
		search.WithBestEffortTimeout(cfg.BestEffortTimeout),
	)

	logger := logging.WithComponent("research_engine")
	return &Engine{
		cfg:         cfg,
		coordinator: coordinator,
		planner:     &planner{client: clients.forRole(reasoning.RoleQueryPlanner), cfg: cfg, logger: logging.WithComponent("planner")},
		reflector:   &reflector{client: clients.forRole(reasoning.RoleReflection), cfg: cfg, logger: logging.WithComponent("reflection")},
		finalizer:   &finalizer{client: clients.forRole(reasoning.RoleFinalizer), cfg: cfg, logger: logging.WithComponent("finalizer")},
		tracer:      otel.Tracer("deepresearch/research"),
		logger:      logger,
	}, nil
}

// Run executes one research session to completion. Provider and reasoning
// failures degrade inside the loop; the returned error is reserved for invalid
// requests and for cancellation before any evidence existed.
func (e *Engine) Run(ctx context.Context, req Request) (*FinalAnswer, error) {
	req = withDefaults(req)
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	ctx, span := e.tracer.Start(ctx, "research.run", trace.WithAttributes(
		attribute.String("question", req.Question),
		attribute.Int("initial_queries", req.InitialQueries),
		attribute.Int("max_loops", req.MaxLoops),
	))

	s := newSession(req)
	answer, err := e.execute(ctx, s)
	telemetry.End(span, err)
	return answer, err
}

func (e *Engine) execute(ctx context.Context, s *session) (*FinalAnswer, error) {
	var final *FinalAnswer

	g := graph.NewBuilder().
		AddNode("plan", graph.NodeTypeStart, func(ctx context.Context, st graph.State) (graph.State, error) {
			queries := e.planner.Plan(ctx, s)
			s.recordQueries(queries)
			s.pending = queries
			e.logger.Info("initial queries planned", "count", len(queries))
			return st, nil
		}).
		AddNode("search", graph.NodeTypeTool, func(ctx context.Context, st graph.State) (graph.State, error) {
			texts := make([]string, len(s.pending))
			for i, q := range s.pending {
				texts[i] = q.Text
			}
			s.pending = nil
			out, err := e.coordinator.Execute(ctx, texts, s.request.Question, e.cfg.Strategy)
			if err != nil {
				return nil, err
			}
			s.merge(out)
			e.logger.Info("search pass merged", "loop", s.loop, "evidence", len(s.evidence))
			return st, nil
		}).
		AddNode("reflect", graph.NodeTypeLLM, func(ctx context.Context, st graph.State) (graph.State, error) {
			v := e.reflector.Reflect(ctx, s)
			s.verdict = &v
			return st, nil
		}).
		AddConditionNode("decide", func(ctx context.Context, st graph.State) (string, error) {
			return e.decide(ctx, s), nil
		}, map[string]string{
			"loop":     "search",
			"finalize": "finalize",
		}).
		AddNode("finalize", graph.NodeTypeEnd, func(ctx context.Context, st graph.State) (graph.State, error) {
			if ctx.Err() != nil && len(s.evidence) == 0 {
				return nil, &xerrors.SessionAbortedError{Reason: "cancelled before any evidence was gathered", Err: ctx.Err()}
			}
			answer, cited := e.finalizer.Finalize(ctx, s)
			final = &FinalAnswer{
				Question:     s.request.Question,
				Answer:       answer,
				Sources:      cited,
				Loops:        s.loop + 1,
				TotalQueries: len(s.queries),
				Forced:       s.forced,
				ForcedReason: s.reason,
				Warnings:     s.warnings,
			}
			return st, nil
		}).
		AddEdge("plan", "search").
		AddEdge("search", "reflect").
		AddEdge("reflect", "decide").
		SetStart("plan").
		SetMaxVisits(s.request.MaxLoops + 2).
		Build()

	if _, err := g.Execute(ctx, graph.State{"question": s.request.Question}); err != nil {
		return nil, err
	}

	e.logger.Info("session completed",
		"loops", final.Loops,
		"queries", final.TotalQueries,
		"sources", len(final.Sources),
		"forced", final.Forced,
	)
	return final, nil
}

// decide routes the loop after each reflection pass. Every branch to "loop"
// queues at least one novel query, so the walk always terminates.
func (e *Engine) decide(ctx context.Context, s *session) string {
	if err := ctx.Err(); err != nil {
		s.forced = true
		s.reason = fmt.Sprintf("session cancelled: %v", err)
		s.warn("engine", s.reason)
		return "finalize"
	}
	if s.verdict == nil || s.verdict.Sufficient {
		return "finalize"
	}
	if len(s.verdict.GapQueries) == 0 {
		// An insufficient verdict with no queries cannot advance the loop.
		s.warn("engine", "gap identified but no follow-up queries to run, finalizing")
		return "finalize"
	}
	if s.loop+1 >= s.request.MaxLoops {
		s.forced = true
		s.reason = fmt.Sprintf("loop budget of %d exhausted with gap remaining: %s", s.request.MaxLoops, s.verdict.KnowledgeGap)
		s.warn("engine", s.reason)
		return "finalize"
	}
	s.loop++
	s.recordQueries(s.verdict.GapQueries)
	s.pending = s.verdict.GapQueries
	e.logger.Info("looping on knowledge gap", "loop", s.loop, "gap", s.verdict.KnowledgeGap, "queries", len(s.pending))
	return "loop"
}

func withDefaults(req Request) Request {
	if req.InitialQueries == 0 {
		req.InitialQueries = defaultInitialQueries
	}
	if req.MaxLoops == 0 {
		req.MaxLoops = defaultMaxLoops
	}
	return req
}

func validateRequest(req Request) error {
	v := config.NewValidator().
		RequireNonEmpty("question", req.Question).
		ValidateRange("initial_queries", req.InitialQueries, 1, maxInitialQueries).
		ValidateRange("max_loops", req.MaxLoops, 1, maxLoopBound)
	if req.FloorScore != 0 {
		v.ValidateFloatRange("floor_score", req.FloorScore, 0, 1)
	}
	if !v.Valid() {
		first := v.Errors()[0]
		return &xerrors.ValidationError{Field: first.Field, Message: first.Message}
	}
	return nil
}
