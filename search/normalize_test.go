package search

import "testing"

func TestCanonicalURL(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"http upgraded", "http://example.com/a", "https://example.com/a"},
		{"www stripped", "https://www.example.com/a", "https://example.com/a"},
		{"host lowercased", "https://Example.COM/a", "https://example.com/a"},
		{"trailing slash stripped", "https://example.com/a/", "https://example.com/a"},
		{"root path dropped", "https://example.com/", "https://example.com"},
		{"default port dropped", "https://example.com:443/a", "https://example.com/a"},
		{"fragment dropped", "https://example.com/a#section", "https://example.com/a"},
		{"tracking params stripped", "https://example.com/a?utm_source=x&utm_medium=y&fbclid=z", "https://example.com/a"},
		{"utm prefix stripped", "https://example.com/a?utm_custom=x", "https://example.com/a"},
		{"content params kept sorted", "https://example.com/a?b=2&a=1", "https://example.com/a?a=1&b=2"},
		{"mixed params", "https://example.com/a?page=3&utm_source=feed", "https://example.com/a?page=3"},
		{"whitespace trimmed", "  https://example.com/a  ", "https://example.com/a"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CanonicalURL(tc.in); got != tc.want {
				t.Errorf("CanonicalURL(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestCanonicalURLIdempotent(t *testing.T) {
	inputs := []string{
		"http://www.Example.com/path/?utm_source=x&b=2&a=1",
		"https://example.com",
		"not a url",
	}
	for _, in := range inputs {
		once := CanonicalURL(in)
		if twice := CanonicalURL(once); twice != once {
			t.Errorf("CanonicalURL not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestNormalizeQuery(t *testing.T) {
	if got := NormalizeQuery("  Quantum   Computing\tBasics "); got != "quantum computing basics" {
		t.Errorf("NormalizeQuery = %q", got)
	}
	if NormalizeQuery("Go concurrency") != NormalizeQuery("go  CONCURRENCY") {
		t.Error("near-identical queries should normalize equal")
	}
}
