// Package destination defines the adapter contract for external secret
// stores.
//
// An Adapter knows how to list, create, update, and delete items at one kind
// of destination (1Password, AWS Secrets Manager, and so on) using connection
// credentials it is handed per call. Adapters hold no credential state of
// their own, which keeps them safe to share across goroutines and across
// tenants.
//
// # Error policy
//
// Adapters never swallow errors: network, auth, and malformed-response
// failures propagate unchanged to the caller. The sync engine decides the
// batching and continuation policy. Adapters should return NotFoundError and
// AuthError where those conditions are distinguishable so the engine and its
// callers can classify failures.
package destination

import "context"

// Credentials is an opaque, ready-to-use credential bundle produced by the
// connection layer. Adapters read the fields they need by name (for example
// "token" and "host" for a REST destination, or "access_key_id",
// "secret_access_key" and "region" for AWS). Refresh and expiry are handled
// upstream; adapters never see refresh tokens.
type Credentials map[string]string

// Config is the destination-specific addressing for one configured sync:
// which vault, which path prefix, which label. Keys are adapter-defined.
type Config map[string]string

// RemoteItem is the minimum shape of a destination record the engine needs to
// diff without knowing provider internals.
type RemoteItem struct {
	// ID is the stable remote identifier (item UUID, ARN, ...).
	ID string

	// Key is the item's logical secret key (its title or name).
	Key string

	// FieldID identifies the single value field this sync owns within the
	// item, for destinations whose items carry multiple fields. Empty when the
	// destination stores one value per item.
	FieldID string

	// OtherFields carries the destination fields NOT owned by this sync,
	// keyed by field label. Updates must write these back untouched.
	OtherFields map[string]string
}

// Item is a RemoteItem together with its current value.
type Item struct {
	RemoteItem
	Value string
}

// ListResult is the outcome of listing a destination.
type ListResult struct {
	// Items maps each logical key to its canonical remote item. When two
	// remote items resolve to the same key, the first occurrence wins.
	Items map[string]Item

	// Duplicates records the non-canonical occurrences: remote id to the key
	// it duplicated. The engine may purge these, scoped by the key schema.
	Duplicates map[string]string
}

// Adapter is implemented once per destination type and selected through the
// registry by its Type string.
//
// All operations are independently failable and must honor context
// cancellation. Implementations must be safe for concurrent use.
type Adapter interface {
	// Type returns the stable destination type identifier, e.g. "onepassword"
	// or "aws-secrets-manager".
	Type() string

	// ListItems returns every relevant item at the destination with its
	// value, fetching item detail where the list response omits values, and
	// records (rather than fails on) duplicate keys.
	ListItems(ctx context.Context, creds Credentials, cfg Config) (ListResult, error)

	// CreateItem creates a new item holding value under key.
	CreateItem(ctx context.Context, creds Credentials, cfg Config, key, value string) (RemoteItem, error)

	// UpdateItem overwrites only the value field this sync owns, preserving
	// every field carried in item.OtherFields.
	UpdateItem(ctx context.Context, creds Credentials, cfg Config, item RemoteItem, value string) (RemoteItem, error)

	// DeleteItem removes the item with the given remote id.
	DeleteItem(ctx context.Context, creds Credentials, cfg Config, remoteID string) error
}

// NotFoundError indicates a referenced remote item does not exist.
type NotFoundError struct {
	Destination string
	Key         string
}

func (e NotFoundError) Error() string {
	return "item not found: " + e.Key + " at " + e.Destination
}

// AuthError indicates the destination rejected the supplied credentials.
type AuthError struct {
	Destination string
	Message     string
}

func (e AuthError) Error() string {
	return "authentication failed for " + e.Destination + ": " + e.Message
}
