package jobs

import "strings"

// Key prefixes in the KV store.
const (
	JobPrefix   = "job:"
	IndexPrefix = "jobindex:"
)

// JobKey returns the KV key for a job record.
func JobKey(id string) string {
	return JobPrefix + id
}

// IndexKey returns the cache-index key for a query pair. Both halves are
// normalized, so equivalent spellings share one entry.
func IndexKey(query, jurisdiction string) string {
	return IndexPrefix + NormalizeQuery(query) + ":" + NormalizeJurisdiction(jurisdiction)
}

// NormalizeQuery trims, collapses internal whitespace, and lowercases.
func NormalizeQuery(query string) string {
	return strings.ToLower(strings.Join(strings.Fields(query), " "))
}

// NormalizeJurisdiction trims and lowercases a jurisdiction code.
func NormalizeJurisdiction(jurisdiction string) string {
	return strings.ToLower(strings.TrimSpace(jurisdiction))
}
