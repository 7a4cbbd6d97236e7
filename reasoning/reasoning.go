// Package reasoning defines the narrow capability interface the research
// stages use for LLM-backed calls. The engine treats every reasoning call as a
// black box: prompt in, structured text out, with an optional grounded mode
// whose result carries extractable citation metadata.
package reasoning

import (
	"context"
	"errors"
	"time"

	xerrors "github.com/sweetpotato0/deepresearch/errors"
)

// ErrGroundingUnsupported is returned by clients that cannot serve grounded
// requests; callers should route those to a grounding-capable client instead.
var ErrGroundingUnsupported = errors.New("grounding not supported by this client")

// Role names the stage issuing a reasoning call. Clients may use it to pick
// models or log attribution; the engine uses it for error reporting.
type Role string

const (
	RoleQueryPlanner   Role = "query_planner"
	RoleReflection     Role = "reflection"
	RoleFinalizer      Role = "finalizer"
	RoleGroundedSearch Role = "grounded_search"
)

// Request bundles the inputs of one reasoning call.
type Request struct {
	Role     Role
	System   string
	Prompt   string
	Grounded bool // ask for web grounding; clients without it return ErrGroundingUnsupported
}

// Citation is one grounded-search attribution extracted from a response.
type Citation struct {
	Title     string
	URL       string
	Published time.Time
}

// Result is the structured output of a reasoning call. Citations are only
// populated for grounded requests.
type Result struct {
	Text      string
	Citations []Citation
}

// Client is implemented once per LLM backend under contrib/reasoning.
// Implementations must be safe for concurrent use and report failures as
// *errors.ReasoningError so callers can classify them for retry.
type Client interface {
	Generate(ctx context.Context, req Request) (*Result, error)
}

// GenerateWithRetry retries transient reasoning failures with exponential
// backoff. Permanent failures and cancellation return immediately.
func GenerateWithRetry(ctx context.Context, c Client, req Request, attempts int, backoff time.Duration) (*Result, error) {
	if attempts <= 0 {
		attempts = 3
	}
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := c.Generate(ctx, req)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !xerrors.IsTransient(err) {
			return nil, err
		}
		if attempt == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff << uint(attempt)):
		}
	}
	return nil, lastErr
}
