// Package duck implements a keyless search provider that scrapes the
// DuckDuckGo HTML endpoint. It is a lower-quality backstop for deployments
// without search API credentials.
package duck

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	xerrors "github.com/sweetpotato0/deepresearch/errors"
	"github.com/sweetpotato0/deepresearch/search"
)

const defaultBaseURL = "https://html.duckduckgo.com/html/"

// Config holds provider configuration
type Config struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
}

// Provider implements search.Provider by scraping DuckDuckGo's HTML results.
type Provider struct {
	config *Config
	client *http.Client
}

// New creates a DuckDuckGo scraping provider.
func New(config *Config) *Provider {
	if config == nil {
		config = &Config{}
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if config.UserAgent == "" {
		config.UserAgent = "Mozilla/5.0 (compatible; deepresearch/1.0)"
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

func (p *Provider) Name() string { return "duckduckgo" }

// Search implements search.Provider.
func (p *Provider) Search(ctx context.Context, query string, limit int) ([]search.RawResult, error) {
	endpoint := p.config.BaseURL + "?q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, xerrors.NewProviderError(p.Name(), xerrors.Permanent, err)
	}
	req.Header.Set("User-Agent", p.config.UserAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, xerrors.NewProviderError(p.Name(), xerrors.Transient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("unexpected status %d", resp.StatusCode)
		return nil, xerrors.NewProviderError(p.Name(), xerrors.KindFromStatus(resp.StatusCode), err)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, xerrors.NewProviderError(p.Name(), xerrors.Transient, fmt.Errorf("parse response: %w", err))
	}

	var results []search.RawResult
	doc.Find(".result").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		link := sel.Find(".result__a")
		href, ok := link.Attr("href")
		if !ok {
			return true
		}
		results = append(results, search.RawResult{
			Title:    strings.TrimSpace(link.Text()),
			URL:      resolveRedirect(href),
			Snippet:  strings.TrimSpace(sel.Find(".result__snippet").Text()),
			Provider: p.Name(),
		})
		return limit <= 0 || len(results) < limit
	})
	return results, nil
}

// resolveRedirect unwraps DuckDuckGo's /l/?uddg= redirect links.
func resolveRedirect(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		if decoded, err := url.QueryUnescape(target); err == nil {
			return decoded
		}
	}
	if u.Scheme == "" {
		return "https:" + href
	}
	return href
}
