package syncengine

import (
	"context"
	"fmt"

	"github.com/secretops/secretops/pkg/secretmap"
)

// ImportBehavior selects how imported keys interact with secrets already held
// on the authoritative side.
type ImportBehavior string

const (
	// ImportBehaviorOverwriteExisting replaces the held value for every
	// imported key.
	ImportBehaviorOverwriteExisting ImportBehavior = "overwrite-existing"

	// ImportBehaviorImportMissingOnly only adds keys absent from the current
	// secret set; existing values are never touched.
	ImportBehaviorImportMissingOnly ImportBehavior = "import-missing-only"
)

// ImportOptions tune one import invocation.
type ImportOptions struct {
	Behavior ImportBehavior

	// FilterForSchema drops remote keys that do not match the destination's
	// key schema before importing.
	FilterForSchema bool

	// StripSchema removes the schema's literal prefix/suffix around the
	// wildcard before using a matching key as the secret name. Keys that do
	// not match the schema are imported under their original name.
	StripSchema bool
}

// ImportSecrets pulls the destination's secrets into a SecretMap ready to be
// applied to the authoritative store. existing is the current
// authoritative-side key set, consulted by ImportBehaviorImportMissingOnly.
//
// One bad key never fails the whole import; the Report carries the per-key
// outcomes. The error return is non-nil only when the destination could not
// be listed.
func (e *Engine) ImportSecrets(ctx context.Context, dest Destination, existing secretmap.SecretMap, opts ImportOptions) (secretmap.SecretMap, *Report, error) {
	remote, err := e.GetSecrets(ctx, dest)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read destination: %w", err)
	}

	report := &Report{}
	out := make(secretmap.SecretMap)

	for _, key := range remote.Keys() {
		matched := secretmap.Matches(key, dest.EnvironmentSlug, dest.Options.KeySchema)
		if opts.FilterForSchema && !matched {
			continue
		}

		name := key
		if opts.StripSchema && matched {
			name = secretmap.Strip(key, dest.EnvironmentSlug, dest.Options.KeySchema)
		}
		if name == "" {
			report.add(key, OpImport, fmt.Errorf("key %q strips to an empty secret name under schema %q", key, dest.Options.KeySchema))
			continue
		}

		if opts.Behavior == ImportBehaviorImportMissingOnly {
			if _, held := existing[name]; held {
				report.add(name, OpSkip, nil)
				continue
			}
		}

		out[name] = remote[key]
		report.add(name, OpImport, nil)
	}

	return out, report, nil
}
