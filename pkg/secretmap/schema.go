package secretmap

import "strings"

// environmentPlaceholder is the only placeholder the schema template language
// currently understands. Matching is case-sensitive.
const environmentPlaceholder = "{{environment}}"

// Matches reports whether key is owned by a sync configured with the given
// key schema. The schema is a template: known placeholders are substituted
// (currently {{environment}} with the environment slug), then the result is
// treated as a glob where '*' matches any run of characters.
//
// An empty schema claims every key. Keys that do not match a configured schema
// are never deleted or treated as stale by a sync, even when absent from the
// secret map; this is what lets unrelated secrets share a destination bucket.
//
// Matches is pure and side-effect-free.
func Matches(key, environmentSlug, schema string) bool {
	if schema == "" {
		return true
	}
	return globMatch(expandSchema(schema, environmentSlug), key)
}

// Strip removes the literal prefix and suffix surrounding the schema's
// wildcard from key, yielding the secret name the key represents. Keys that do
// not match the schema (or a schema without a wildcard) are returned
// unchanged.
func Strip(key, environmentSlug, schema string) string {
	if schema == "" {
		return key
	}
	expanded := expandSchema(schema, environmentSlug)
	if !globMatch(expanded, key) {
		return key
	}
	first := strings.Index(expanded, "*")
	if first < 0 {
		return key
	}
	last := strings.LastIndex(expanded, "*")
	prefix := expanded[:first]
	suffix := expanded[last+1:]
	stripped := strings.TrimPrefix(key, prefix)
	stripped = strings.TrimSuffix(stripped, suffix)
	return stripped
}

func expandSchema(schema, environmentSlug string) string {
	return strings.ReplaceAll(schema, environmentPlaceholder, environmentSlug)
}

// globMatch tests key against pattern where '*' matches any run of characters
// (including none) and every other character is literal. Case-sensitive.
func globMatch(pattern, key string) bool {
	segments := strings.Split(pattern, "*")
	if len(segments) == 1 {
		return pattern == key
	}

	// Anchor the first and last literal segments, then require the middle
	// segments to appear in order.
	if !strings.HasPrefix(key, segments[0]) {
		return false
	}
	rest := key[len(segments[0]):]

	lastSeg := segments[len(segments)-1]
	if !strings.HasSuffix(rest, lastSeg) {
		return false
	}
	rest = rest[:len(rest)-len(lastSeg)]

	for _, seg := range segments[1 : len(segments)-1] {
		if seg == "" {
			continue
		}
		idx := strings.Index(rest, seg)
		if idx < 0 {
			return false
		}
		rest = rest[idx+len(seg):]
	}
	return true
}
