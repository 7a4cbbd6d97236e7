package search

import "context"

// limited wraps a Provider with a local concurrency cap so a single backend's
// rate budget is respected even when many sessions fan out at once.
type limited struct {
	inner Provider
	slots chan struct{}
}

// Limit caps the number of in-flight Search calls against p. Calls beyond the
// cap block until a slot frees or the context is cancelled.
func Limit(p Provider, maxInFlight int) Provider {
	if maxInFlight <= 0 {
		return p
	}
	return &limited{
		inner: p,
		slots: make(chan struct{}, maxInFlight),
	}
}

func (l *limited) Name() string { return l.inner.Name() }

func (l *limited) Search(ctx context.Context, query string, limit int) ([]RawResult, error) {
	select {
	case l.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-l.slots }()
	return l.inner.Search(ctx, query, limit)
}
