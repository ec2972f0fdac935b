// Package common contains utility methods used by all adapters.
package common

import (
	"sort"
	"strings"
)

// DefaultMaxResults is the page size used when the adapter is not configured otherwise.
const DefaultMaxResults = 1024

// PageKeys returns the page of sorted keys following the token and the token of
// the next page. The token is the last key of the previous page, so paging is
// stable when keys are added or removed between calls; an empty next token
// means the page is the last one.
func PageKeys(keys []string, token string, limit int) ([]string, string) {
	if limit <= 0 {
		limit = DefaultMaxResults
	}
	start := 0
	if token != "" {
		start = sort.SearchStrings(keys, token)
		if start < len(keys) && keys[start] == token {
			start++
		}
	}
	end := start + limit
	if end >= len(keys) {
		return keys[start:], ""
	}
	return keys[start:end], keys[end-1]
}

// SplitBatches splits keys into consecutive batches of at most size keys.
func SplitBatches(keys []string, size int) [][]string {
	if size <= 0 {
		size = 1
	}
	var batches [][]string
	for len(keys) > 0 {
		n := min(size, len(keys))
		batches = append(batches, keys[:n])
		keys = keys[n:]
	}
	return batches
}

// EscapeLike escapes the SQL LIKE wildcards in a literal prefix, using '\' as the
// escape character.
func EscapeLike(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix)
}
