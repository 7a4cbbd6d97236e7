package research

import (
	"github.com/sweetpotato0/deepresearch/quality"
	"github.com/sweetpotato0/deepresearch/search"
)

// Origin records why a query was issued.
type Origin string

const (
	// OriginInitial marks queries planned from the question itself on loop 0.
	OriginInitial Origin = "initial"
	// OriginGap marks follow-up queries produced by reflection.
	OriginGap Origin = "gap"
)

// SearchQuery is one issued query. Immutable once created.
type SearchQuery struct {
	Text   string `json:"text"`
	Origin Origin `json:"origin"`
	Loop   int    `json:"loop"`
}

// Verdict is the reflection outcome for one loop iteration. When the evidence
// is insufficient, GapQueries is non-empty and every entry is novel relative
// to the session's query log.
type Verdict struct {
	Sufficient   bool          `json:"sufficient"`
	KnowledgeGap string        `json:"knowledge_gap,omitempty"`
	GapQueries   []SearchQuery `json:"gap_queries,omitempty"`
}

// Request is the session entry point's input.
type Request struct {
	Question       string       `json:"question"`
	InitialQueries int          `json:"initial_queries"`
	MaxLoops       int          `json:"max_loops"`
	FloorTier      quality.Tier `json:"floor_tier,omitempty"`  // optional credibility-tier floor
	FloorScore     float64      `json:"floor_score,omitempty"` // optional composite-score floor
}

// FinalAnswer is the terminal session artifact. Immutable once returned.
type FinalAnswer struct {
	Question     string           `json:"question"`
	Answer       string           `json:"answer"`
	Sources      []search.Source  `json:"sources"` // cited sources in label order
	Loops        int              `json:"research_loops_executed"`
	TotalQueries int              `json:"total_queries"`
	Forced       bool             `json:"forced_termination,omitempty"`
	ForcedReason string           `json:"forced_reason,omitempty"`
	Warnings     []search.Warning `json:"warnings,omitempty"`
}

// session is the mutable state of one research run. It is owned exclusively
// by the engine: stages receive snapshots and return values, and the engine
// performs every merge between stage calls.
type session struct {
	request  Request
	loop     int
	pending  []SearchQuery // queued for the next search pass
	queries  []SearchQuery
	asked    map[string]bool // normalized query text -> issued
	evidence []search.Source // accumulated across loops, unique by URL
	byURL    map[string]int  // canonical URL -> index into evidence
	verdict  *Verdict
	warnings []search.Warning
	forced   bool
	reason   string
}

func newSession(req Request) *session {
	return &session{
		request: req,
		asked:   make(map[string]bool),
		byURL:   make(map[string]int),
	}
}

func (s *session) recordQueries(queries []SearchQuery) {
	for _, q := range queries {
		s.queries = append(s.queries, q)
		s.asked[search.NormalizeQuery(q.Text)] = true
	}
}

// merge folds a search batch into the accumulated evidence set. Evidence only
// accumulates: a URL seen in an earlier loop keeps its position, and its
// stored source is upgraded in place when the new batch scored it higher.
func (s *session) merge(out search.Output) {
	s.warnings = append(s.warnings, out.Warnings...)
	for _, src := range out.Sources {
		if s.belowFloor(src) {
			s.warnings = append(s.warnings, search.Warning{
				Component: "engine",
				Message:   "source filtered by quality floor: " + src.URL,
			})
			continue
		}
		if idx, ok := s.byURL[src.URL]; ok {
			if src.Score > s.evidence[idx].Score {
				s.evidence[idx] = src
			}
			continue
		}
		s.byURL[src.URL] = len(s.evidence)
		s.evidence = append(s.evidence, src)
	}
}

func (s *session) belowFloor(src search.Source) bool {
	if s.request.FloorScore > 0 && src.Score < s.request.FloorScore {
		return true
	}
	switch s.request.FloorTier {
	case quality.TierHigh:
		return src.Tier != quality.TierHigh
	case quality.TierMedium:
		return src.Tier == quality.TierLow
	}
	return false
}

func (s *session) warn(component, message string) {
	s.warnings = append(s.warnings, search.Warning{Component: component, Message: message})
}
