// Package serper implements a search provider against the serper.dev Google
// search API.
package serper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	xerrors "github.com/sweetpotato0/deepresearch/errors"
	"github.com/sweetpotato0/deepresearch/search"
)

const defaultBaseURL = "https://google.serper.dev/search"

// Config holds serper provider configuration
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// Provider implements search.Provider for the serper.dev API.
type Provider struct {
	config *Config
	client *http.Client
}

// New creates a serper provider.
func New(config *Config) *Provider {
	if config == nil {
		config = &Config{}
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Provider{
		config: config,
		client: &http.Client{Timeout: timeout},
	}
}

func (p *Provider) Name() string { return "serper" }

type serperRequest struct {
	Query string `json:"q"`
	Num   int    `json:"num,omitempty"`
}

type serperResponse struct {
	Organic []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
		Date    string `json:"date"`
	} `json:"organic"`
}

// Search implements search.Provider.
func (p *Provider) Search(ctx context.Context, query string, limit int) ([]search.RawResult, error) {
	if p.config.APIKey == "" {
		return nil, xerrors.NewProviderError(p.Name(), xerrors.Permanent, fmt.Errorf("API key not configured"))
	}

	body, err := json.Marshal(serperRequest{Query: query, Num: limit})
	if err != nil {
		return nil, xerrors.NewProviderError(p.Name(), xerrors.Permanent, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, xerrors.NewProviderError(p.Name(), xerrors.Permanent, err)
	}
	req.Header.Set("X-API-KEY", p.config.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, xerrors.NewProviderError(p.Name(), xerrors.Transient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("unexpected status %d", resp.StatusCode)
		return nil, xerrors.NewProviderError(p.Name(), xerrors.KindFromStatus(resp.StatusCode), err)
	}

	var decoded serperResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, xerrors.NewProviderError(p.Name(), xerrors.Transient, fmt.Errorf("decode response: %w", err))
	}

	results := make([]search.RawResult, 0, len(decoded.Organic))
	for i, item := range decoded.Organic {
		if limit > 0 && i >= limit {
			break
		}
		if item.Link == "" {
			continue
		}
		results = append(results, search.RawResult{
			Title:     item.Title,
			URL:       item.Link,
			Snippet:   item.Snippet,
			Provider:  p.Name(),
			Published: parseDate(item.Date),
		})
	}
	return results, nil
}

// parseDate handles the few date shapes serper reports; anything else is
// treated as unknown.
func parseDate(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{"Jan 2, 2006", "2 Jan 2006", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
