package gemini

import (
	"errors"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"

	xerrors "github.com/sweetpotato0/deepresearch/errors"
)

func strp(s string) *string { return &s }

func TestExtractCitations(t *testing.T) {
	md := &genai.CitationMetadata{
		CitationSources: []*genai.CitationSource{
			{URI: strp("https://example.org/paper")},
			{URI: nil},
			{URI: strp("")},
			nil,
			{URI: strp("https://example.org/report")},
		},
	}

	got := extractCitations(md)
	if len(got) != 2 {
		t.Fatalf("expected 2 citations, got %d: %+v", len(got), got)
	}
	if got[0].URL != "https://example.org/paper" || got[1].URL != "https://example.org/report" {
		t.Errorf("unexpected citation URLs: %+v", got)
	}
}

func TestExtractCitationsNilMetadata(t *testing.T) {
	if got := extractCitations(nil); got != nil {
		t.Errorf("nil metadata should yield no citations, got %+v", got)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want xerrors.Kind
	}{
		{&googleapi.Error{Code: 429}, xerrors.Transient},
		{&googleapi.Error{Code: 503}, xerrors.Transient},
		{&googleapi.Error{Code: 400}, xerrors.Permanent},
		{&googleapi.Error{Code: 401}, xerrors.Permanent},
		{errors.New("connection reset"), xerrors.Transient},
	}
	for _, tc := range cases {
		if got := classify(tc.err); got != tc.want {
			t.Errorf("classify(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
