// Package grounded implements a search provider on top of a grounding-capable
// reasoning client: the model searches the web itself and the provider
// extracts the citation metadata from its response.
package grounded

import (
	"context"
	"fmt"
	"strings"

	xerrors "github.com/sweetpotato0/deepresearch/errors"
	"github.com/sweetpotato0/deepresearch/reasoning"
	"github.com/sweetpotato0/deepresearch/search"
)

const systemPrompt = `You are a research assistant with live web search. Search for the user's query and write a short, factual summary of what the best sources say. Every claim must come from a source you actually retrieved.`

// Provider delegates searches to a grounded reasoning client.
type Provider struct {
	client reasoning.Client
	name   string
}

// New wraps a grounding-capable reasoning client as a search provider.
func New(client reasoning.Client, name string) *Provider {
	if name == "" {
		name = "grounded"
	}
	return &Provider{client: client, name: name}
}

func (p *Provider) Name() string { return p.name }

// Search implements search.Provider.
func (p *Provider) Search(ctx context.Context, query string, limit int) ([]search.RawResult, error) {
	res, err := p.client.Generate(ctx, reasoning.Request{
		Role:     reasoning.RoleGroundedSearch,
		System:   systemPrompt,
		Prompt:   query,
		Grounded: true,
	})
	if err != nil {
		if xerrors.IsTransient(err) {
			return nil, xerrors.NewProviderError(p.name, xerrors.Transient, err)
		}
		return nil, xerrors.NewProviderError(p.name, xerrors.Permanent, err)
	}
	if len(res.Citations) == 0 {
		return nil, xerrors.NewProviderError(p.name, xerrors.Transient, fmt.Errorf("grounded response carried no citations"))
	}

	snippet := summarize(res.Text, 280)
	results := make([]search.RawResult, 0, len(res.Citations))
	seen := make(map[string]bool)
	for _, c := range res.Citations {
		if c.URL == "" || seen[c.URL] {
			continue
		}
		seen[c.URL] = true
		results = append(results, search.RawResult{
			Title:     c.Title,
			URL:       c.URL,
			Snippet:   snippet,
			Provider:  p.name,
			Published: c.Published,
			Hint:      0.8, // the model vouched for the source by citing it
		})
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results, nil
}

func summarize(text string, limit int) string {
	text = strings.TrimSpace(text)
	if limit <= 0 || len(text) <= limit {
		return text
	}
	return text[:limit] + "..."
}
