package search

import (
	"net/url"
	"sort"
	"strings"
)

// trackingParams are query parameters that identify campaigns, not content.
// They are stripped before URLs are compared for deduplication.
var trackingParams = map[string]bool{
	"gclid":        true,
	"fbclid":       true,
	"igshid":       true,
	"mc_cid":       true,
	"mc_eid":       true,
	"ref":          true,
	"ref_src":      true,
	"spm":          true,
	"si":           true,
	"source":       true,
	"utm_campaign": true,
	"utm_content":  true,
	"utm_medium":   true,
	"utm_source":   true,
	"utm_term":     true,
}

// CanonicalURL reduces a URL to its identity form: https scheme, lowercased
// host without a www prefix or default port, path without a trailing slash,
// tracking parameters and fragment removed, remaining parameters sorted.
// Unparseable input is returned trimmed so it still dedups exactly.
func CanonicalURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}

	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")

	path := u.EscapedPath()
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	if path == "/" {
		path = ""
	}

	query := ""
	if u.RawQuery != "" {
		kept := url.Values{}
		for key, vals := range u.Query() {
			lower := strings.ToLower(key)
			if trackingParams[lower] || strings.HasPrefix(lower, "utm_") {
				continue
			}
			for _, v := range vals {
				kept.Add(key, v)
			}
		}
		if len(kept) > 0 {
			query = "?" + encodeSorted(kept)
		}
	}

	return "https://" + host + path + query
}

func encodeSorted(v url.Values) string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		for _, val := range v[k] {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(val))
		}
	}
	return b.String()
}

// NormalizeQuery lowercases a query and collapses whitespace so near-identical
// queries compare equal.
func NormalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}
