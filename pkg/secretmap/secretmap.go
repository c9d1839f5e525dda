// Package secretmap defines the canonical in-memory representation of a flat
// secret set exchanged between the authoritative store and a destination.
//
// A SecretMap is ephemeral: it is rebuilt from the authoritative store for
// every sync invocation and never persisted as-is. Keys are unique within one
// environment+path scope; insertion order carries no meaning.
package secretmap

import "sort"

// SecretData holds the value and ancillary attributes of a single secret.
// Destinations that cannot represent comments or multiline encoding hints
// simply ignore those fields.
type SecretData struct {
	// Value is the secret value. Never log this field directly; wrap it in
	// logging.Secret when it must appear in a format string.
	Value string

	// Comment is an optional human-readable note attached to the secret.
	Comment string

	// SkipMultilineEncoding indicates the value should be passed through
	// without multiline escaping by destinations that would otherwise apply it.
	SkipMultilineEncoding bool
}

// SecretMap maps a secret key to its data.
type SecretMap map[string]SecretData

// Keys returns the map's keys in sorted order. Sync processing iterates in
// this order so partial-failure reports are deterministic; callers must not
// rely on any ordering of the writes themselves.
func (m SecretMap) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a shallow copy of the map.
func (m SecretMap) Clone() SecretMap {
	out := make(SecretMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
