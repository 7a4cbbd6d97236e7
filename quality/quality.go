// Package quality scores web sources for credibility, relevance, completeness,
// recency and authority. Scoring is pure and never fails: missing or malformed
// metadata degrades the affected sub-score to a neutral midpoint instead of
// returning an error, because partial metadata is the common case for web
// results.
package quality

import (
	"math"
	"net/url"
	"strings"
	"time"
)

// Neutral is the midpoint a sub-score falls back to when its inputs are unknown.
const Neutral = 0.5

// DomainClass buckets a source host into a coarse publisher category.
type DomainClass string

const (
	DomainAcademic   DomainClass = "academic"
	DomainNews       DomainClass = "news"
	DomainOfficial   DomainClass = "official"
	DomainCommercial DomainClass = "commercial"
	DomainOther      DomainClass = "other"
)

// Tier is the coarse credibility bucket callers filter on.
type Tier string

const (
	TierHigh   Tier = "high"
	TierMedium Tier = "medium"
	TierLow    Tier = "low"
)

// Candidate carries the metadata known about a source at scoring time.
// Zero values mean "unknown" and score neutrally.
type Candidate struct {
	URL       string
	Title     string
	Snippet   string
	Published time.Time // zero when the provider reported no date
	Providers int       // distinct providers that returned this URL
	Results   int       // raw results merged into this source
	Hint      float64   // provider-specific credibility hint in (0,1]; 0 means none
}

// Breakdown holds the five named sub-scores, each in [0,1].
type Breakdown struct {
	Credibility  float64 `json:"credibility"`
	Relevance    float64 `json:"relevance"`
	Completeness float64 `json:"completeness"`
	Recency      float64 `json:"recency"`
	Authority    float64 `json:"authority"`
}

// Weights controls the composite blend. Values are normalised before use, so
// any positive vector works; the default biases credibility and relevance.
type Weights struct {
	Credibility  float64 `json:"credibility"`
	Relevance    float64 `json:"relevance"`
	Completeness float64 `json:"completeness"`
	Recency      float64 `json:"recency"`
	Authority    float64 `json:"authority"`
}

// DefaultWeights returns the documented default policy.
func DefaultWeights() Weights {
	return Weights{
		Credibility:  0.30,
		Relevance:    0.30,
		Completeness: 0.15,
		Recency:      0.10,
		Authority:    0.15,
	}
}

func (w Weights) normalized() Weights {
	sum := w.Credibility + w.Relevance + w.Completeness + w.Recency + w.Authority
	if sum <= 0 {
		return DefaultWeights()
	}
	return Weights{
		Credibility:  w.Credibility / sum,
		Relevance:    w.Relevance / sum,
		Completeness: w.Completeness / sum,
		Recency:      w.Recency / sum,
		Authority:    w.Authority / sum,
	}
}

// Scorer computes composite quality scores under a weighting policy.
type Scorer struct {
	weights         Weights
	recencyHalfLife time.Duration
	now             func() time.Time
}

// Option customises a Scorer.
type Option func(*Scorer)

// WithWeights overrides the sub-score weighting policy.
func WithWeights(w Weights) Option {
	return func(s *Scorer) { s.weights = w.normalized() }
}

// WithRecencyHalfLife sets the age at which the recency sub-score halves.
func WithRecencyHalfLife(d time.Duration) Option {
	return func(s *Scorer) {
		if d > 0 {
			s.recencyHalfLife = d
		}
	}
}

// WithClock overrides the time source; mainly useful for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scorer) {
		if now != nil {
			s.now = now
		}
	}
}

// NewScorer creates a scorer with the default policy, applying any options.
func NewScorer(opts ...Option) *Scorer {
	s := &Scorer{
		weights:         DefaultWeights(),
		recencyHalfLife: 2 * 365 * 24 * time.Hour,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Score computes the composite quality score for a candidate against the
// originating question, along with the per-factor breakdown. The composite and
// every sub-score are clamped to [0,1].
func (s *Scorer) Score(c Candidate, question string) (float64, Breakdown) {
	class := Classify(c.URL)
	b := Breakdown{
		Credibility:  clamp01(s.credibility(class, c.Hint)),
		Relevance:    clamp01(relevance(question, c.Title, c.Snippet)),
		Completeness: clamp01(completeness(c)),
		Recency:      clamp01(s.recency(c.Published)),
		Authority:    clamp01(authority(c.URL, class)),
	}
	w := s.weights
	composite := w.Credibility*b.Credibility +
		w.Relevance*b.Relevance +
		w.Completeness*b.Completeness +
		w.Recency*b.Recency +
		w.Authority*b.Authority
	return clamp01(composite), b
}

// TierFor buckets a credibility sub-score into the coarse tier callers filter on.
func TierFor(credibility float64) Tier {
	switch {
	case credibility >= 0.75:
		return TierHigh
	case credibility >= 0.45:
		return TierMedium
	default:
		return TierLow
	}
}

// Classify buckets a URL's host into a domain class. Unparseable URLs
// classify as DomainOther.
func Classify(rawURL string) DomainClass {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return DomainOther
	}
	host := strings.ToLower(u.Hostname())

	switch {
	case hasSuffixAny(host, ".edu", ".ac.uk", ".ac.jp", ".edu.au", ".edu.cn"):
		return DomainAcademic
	case academicHosts[host]:
		return DomainAcademic
	case hasSuffixAny(host, ".gov", ".gov.uk", ".mil", ".int"):
		return DomainOfficial
	case officialHosts[host]:
		return DomainOfficial
	case newsHosts[host] || strings.HasPrefix(host, "news."):
		return DomainNews
	case hasSuffixAny(host, ".com", ".shop", ".store", ".biz", ".io", ".co"):
		return DomainCommercial
	default:
		return DomainOther
	}
}

func hasSuffixAny(host string, suffixes ...string) bool {
	for _, s := range suffixes {
		if strings.HasSuffix(host, s) {
			return true
		}
	}
	return false
}

var academicHosts = map[string]bool{
	"arxiv.org":               true,
	"www.arxiv.org":           true,
	"scholar.google.com":      true,
	"www.nature.com":          true,
	"nature.com":              true,
	"www.sciencedirect.com":   true,
	"link.springer.com":       true,
	"ieeexplore.ieee.org":     true,
	"dl.acm.org":              true,
	"pubmed.ncbi.nlm.nih.gov": true,
	"www.jstor.org":           true,
	"doi.org":                 true,
}

var officialHosts = map[string]bool{
	"www.who.int":       true,
	"www.un.org":        true,
	"www.iea.org":       true,
	"www.imf.org":       true,
	"www.worldbank.org": true,
	"www.oecd.org":      true,
	"europa.eu":         true,
	"www.irena.org":     true,
}

var newsHosts = map[string]bool{
	"www.reuters.com":     true,
	"reuters.com":         true,
	"www.bbc.com":         true,
	"www.bbc.co.uk":       true,
	"apnews.com":          true,
	"www.theguardian.com": true,
	"www.nytimes.com":     true,
	"www.ft.com":          true,
	"www.economist.com":   true,
	"www.bloomberg.com":   true,
	"www.wsj.com":         true,
}

// credibility ranks domain classes academic/official > news > commercial >
// other, blending in the provider hint when one was reported.
func (s *Scorer) credibility(class DomainClass, hint float64) float64 {
	var base float64
	switch class {
	case DomainAcademic:
		base = 0.90
	case DomainOfficial:
		base = 0.85
	case DomainNews:
		base = 0.65
	case DomainCommercial:
		base = 0.45
	default:
		base = Neutral
	}
	if hint > 0 && hint <= 1 {
		return 0.7*base + 0.3*hint
	}
	return base
}

// relevance measures lexical overlap between question terms and title+snippet.
func relevance(question, title, snippet string) float64 {
	terms := contentTerms(question)
	if len(terms) == 0 {
		return Neutral
	}
	haystack := tokenSet(title + " " + snippet)
	if len(haystack) == 0 {
		return Neutral
	}
	matched := 0
	for t := range terms {
		if haystack[t] {
			matched++
		}
	}
	// Half a point for showing up at all, the rest proportional to coverage.
	coverage := float64(matched) / float64(len(terms))
	if matched == 0 {
		return 0.2
	}
	return 0.5 + 0.5*coverage
}

// completeness rises with corroboration across providers and with how much
// usable text the source carries.
func completeness(c Candidate) float64 {
	score := Neutral
	if c.Providers > 1 {
		score += 0.15 * float64(min(c.Providers-1, 2))
	}
	if c.Results > 1 {
		score += 0.05 * float64(min(c.Results-1, 2))
	}
	if len(strings.TrimSpace(c.Snippet)) >= 200 {
		score += 0.1
	} else if strings.TrimSpace(c.Snippet) == "" {
		score -= 0.1
	}
	return score
}

// recency decays exponentially with source age, halving every half-life.
// Unknown publication dates score neutrally.
func (s *Scorer) recency(published time.Time) float64 {
	if published.IsZero() {
		return Neutral
	}
	age := s.now().Sub(published)
	if age <= 0 {
		return 1.0
	}
	return math.Exp(-math.Ln2 * float64(age) / float64(s.recencyHalfLife))
}

// authority reflects known-publisher signals, defaulting to neutral.
func authority(rawURL string, class DomainClass) float64 {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return Neutral
	}
	host := strings.ToLower(u.Hostname())
	switch {
	case academicHosts[host] || officialHosts[host]:
		return 0.9
	case newsHosts[host]:
		return 0.75
	case class == DomainAcademic || class == DomainOfficial:
		return 0.7
	case class == DomainNews:
		return 0.6
	default:
		return Neutral
	}
}

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "for": true, "from": true, "how": true, "in": true,
	"is": true, "it": true, "of": true, "on": true, "or": true, "that": true,
	"the": true, "to": true, "was": true, "what": true, "when": true,
	"where": true, "which": true, "who": true, "why": true, "with": true,
}

func contentTerms(text string) map[string]bool {
	out := make(map[string]bool)
	for t := range tokenSet(text) {
		if !stopwords[t] && len(t) > 1 {
			out[t] = true
		}
	}
	return out
}

func tokenSet(text string) map[string]bool {
	out := make(map[string]bool)
	for _, f := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	}) {
		out[f] = true
	}
	return out
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
