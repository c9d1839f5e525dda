// Package syncengine reconciles a secret map against one external
// destination.
//
// The engine owns the diffing and continuation policy; destination
// idiosyncrasies (pagination, duplicate detection, soft-deletes) live inside
// the destination.Adapter implementations. Writes are best-effort per key: a
// failure on one key is recorded in the Report and the rest of the batch
// proceeds. There is no transactional rollback across keys.
//
// The scoped-ownership invariant: a sync only ever deletes remote keys it
// claims through its key schema. Remote keys that do not match the schema are
// never deleted or modified, whatever the secret map contains.
package syncengine

import (
	"context"
	"fmt"

	"github.com/secretops/secretops/internal/logging"
	"github.com/secretops/secretops/pkg/destination"
	"github.com/secretops/secretops/pkg/secretmap"
)

// Options are the caller-tunable sync semantics.
type Options struct {
	// DisableSecretDeletion stops the engine after the write phase: no
	// duplicate purge, no stale-key deletion.
	DisableSecretDeletion bool

	// KeySchema scopes which remote keys this sync owns. Empty claims all.
	// See secretmap.Matches for the template language.
	KeySchema string
}

// Destination bundles everything the engine needs to talk to one configured
// destination for one invocation.
type Destination struct {
	Adapter         destination.Adapter
	Credentials     destination.Credentials
	Config          destination.Config
	EnvironmentSlug string
	Options         Options
}

// Engine orchestrates sync, removal, read and import operations. It is
// stateless apart from its logger and safe for concurrent use.
type Engine struct {
	logger *logging.Logger
}

// New creates a sync engine.
func New(logger *logging.Logger) *Engine {
	return &Engine{logger: logger}
}

// SyncSecrets reconciles the destination with secrets.
//
// Phase 1 upserts every entry of the secret map (create when absent, update
// when present with a differing value, field-scoped). Phase 2, skipped when
// DisableSecretDeletion is set, purges schema-matching duplicates and then
// deletes schema-matching remote keys absent from the map.
//
// The returned Report lists every attempted key in deterministic order. The
// error return is non-nil only when the destination could not be listed at
// all; per-key failures live in the report.
func (e *Engine) SyncSecrets(ctx context.Context, dest Destination, secrets secretmap.SecretMap) (*Report, error) {
	list, err := dest.Adapter.ListItems(ctx, dest.Credentials, dest.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to list destination items: %w", err)
	}

	report := &Report{}

	for _, key := range secrets.Keys() {
		data := secrets[key]
		if item, exists := list.Items[key]; exists {
			if item.Value == data.Value {
				report.add(key, OpSkip, nil)
				continue
			}
			if _, err := dest.Adapter.UpdateItem(ctx, dest.Credentials, dest.Config, item.RemoteItem, data.Value); err != nil {
				e.logger.Warn("update failed for %s at %s: %v", key, dest.Adapter.Type(), err)
				report.add(key, OpUpdate, err)
				continue
			}
			report.add(key, OpUpdate, nil)
			continue
		}

		if _, err := dest.Adapter.CreateItem(ctx, dest.Credentials, dest.Config, key, data.Value); err != nil {
			e.logger.Warn("create failed for %s at %s: %v", key, dest.Adapter.Type(), err)
			report.add(key, OpCreate, err)
			continue
		}
		report.add(key, OpCreate, nil)
	}

	if dest.Options.DisableSecretDeletion {
		return report, nil
	}

	// Duplicate cleanup first, so a duplicate of a still-present key is
	// removed while its canonical item survives. Schema-scoped like stale
	// deletion: duplicates of keys we don't own are left alone.
	for remoteID, key := range list.Duplicates {
		if !secretmap.Matches(key, dest.EnvironmentSlug, dest.Options.KeySchema) {
			continue
		}
		if err := dest.Adapter.DeleteItem(ctx, dest.Credentials, dest.Config, remoteID); err != nil {
			e.logger.Warn("duplicate delete failed for %s at %s: %v", key, dest.Adapter.Type(), err)
			report.add(key, OpDelete, err)
			continue
		}
		report.add(key, OpDelete, nil)
	}

	for key, item := range list.Items {
		if !secretmap.Matches(key, dest.EnvironmentSlug, dest.Options.KeySchema) {
			continue
		}
		if _, present := secrets[key]; present {
			continue
		}
		if err := dest.Adapter.DeleteItem(ctx, dest.Credentials, dest.Config, item.ID); err != nil {
			e.logger.Warn("stale delete failed for %s at %s: %v", key, dest.Adapter.Type(), err)
			report.add(key, OpDelete, err)
			continue
		}
		report.add(key, OpDelete, nil)
	}

	return report, nil
}

// RemoveSecrets deletes from the destination exactly the keys present in
// secrets. The key schema is deliberately ignored: this is the explicit
// cleanup path used when a sync is detached, and the caller's intent is to
// remove precisely what was pushed.
func (e *Engine) RemoveSecrets(ctx context.Context, dest Destination, secrets secretmap.SecretMap) (*Report, error) {
	list, err := dest.Adapter.ListItems(ctx, dest.Credentials, dest.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to list destination items: %w", err)
	}

	report := &Report{}
	for _, key := range secrets.Keys() {
		item, exists := list.Items[key]
		if !exists {
			report.add(key, OpSkip, nil)
			continue
		}
		if err := dest.Adapter.DeleteItem(ctx, dest.Credentials, dest.Config, item.ID); err != nil {
			e.logger.Warn("remove failed for %s at %s: %v", key, dest.Adapter.Type(), err)
			report.add(key, OpDelete, err)
			continue
		}
		report.add(key, OpDelete, nil)
	}
	return report, nil
}

// GetSecrets reads the destination's current state as a SecretMap.
func (e *Engine) GetSecrets(ctx context.Context, dest Destination) (secretmap.SecretMap, error) {
	list, err := dest.Adapter.ListItems(ctx, dest.Credentials, dest.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to list destination items: %w", err)
	}

	out := make(secretmap.SecretMap, len(list.Items))
	for key, item := range list.Items {
		out[key] = secretmap.SecretData{Value: item.Value}
	}
	return out, nil
}
