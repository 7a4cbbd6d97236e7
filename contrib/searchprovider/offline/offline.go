// Package offline implements the terminal fallback provider: a small local
// knowledge index that answers without any network call. Results are
// best-effort pointers, marked with a low credibility hint so scoring ranks
// them below live evidence.
package offline

import (
	"context"
	"net/url"
	"sort"
	"strings"

	"github.com/sweetpotato0/deepresearch/search"
)

// Entry is one record in the local knowledge index.
type Entry struct {
	Title   string
	URL     string
	Snippet string
	Topics  []string
}

// Provider implements search.Provider over an in-process index.
type Provider struct {
	entries []Entry
}

// New creates an offline provider. With no entries it still answers every
// query with a generic encyclopedia pointer, so a batch never comes back
// empty.
func New(entries []Entry) *Provider {
	return &Provider{entries: entries}
}

func (p *Provider) Name() string { return "offline" }

// Search implements search.Provider. It never fails.
func (p *Provider) Search(_ context.Context, query string, limit int) ([]search.RawResult, error) {
	if limit <= 0 {
		limit = 3
	}

	terms := tokenize(query)
	type scored struct {
		entry Entry
		hits  int
		pos   int
	}
	var matches []scored
	for i, e := range p.entries {
		hits := 0
		haystack := tokenize(e.Title + " " + strings.Join(e.Topics, " "))
		for t := range terms {
			if haystack[t] {
				hits++
			}
		}
		if hits > 0 {
			matches = append(matches, scored{entry: e, hits: hits, pos: i})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].hits != matches[j].hits {
			return matches[i].hits > matches[j].hits
		}
		return matches[i].pos < matches[j].pos
	})

	var results []search.RawResult
	for _, m := range matches {
		results = append(results, search.RawResult{
			Title:    m.entry.Title,
			URL:      m.entry.URL,
			Snippet:  m.entry.Snippet,
			Provider: p.Name(),
			Hint:     0.3,
		})
		if len(results) >= limit {
			return results, nil
		}
	}

	// Nothing indexed for this query: emit a lookup pointer instead of an
	// empty batch.
	results = append(results, search.RawResult{
		Title:    "Encyclopedia search: " + query,
		URL:      "https://en.wikipedia.org/wiki/Special:Search?search=" + url.QueryEscape(query),
		Snippet:  "Offline fallback pointer for " + query + "; no live evidence was reachable.",
		Provider: p.Name(),
		Hint:     0.2,
	})
	return results, nil
}

func tokenize(text string) map[string]bool {
	out := make(map[string]bool)
	for _, f := range strings.Fields(strings.ToLower(text)) {
		out[strings.Trim(f, ".,;:!?\"'()")] = true
	}
	return out
}
