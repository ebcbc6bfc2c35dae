package pipeline

import (
	"net/url"
	"strings"
)

// SearchURL builds the registry search page URL for a query. Terms are
// joined with '+' and jurisdiction is empty when unspecified.
func SearchURL(baseURL, query, jurisdiction string) string {
	terms := make([]string, 0, 4)
	for _, term := range strings.Fields(query) {
		terms = append(terms, url.QueryEscape(term))
	}
	var b strings.Builder
	b.WriteString(strings.TrimRight(baseURL, "/"))
	b.WriteString("/companies?utf8=%E2%9C%93&q=")
	b.WriteString(strings.Join(terms, "+"))
	b.WriteString("&jurisdiction_code=")
	b.WriteString(url.QueryEscape(strings.TrimSpace(jurisdiction)))
	b.WriteString("&type=companies")
	return b.String()
}
