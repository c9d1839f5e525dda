package syncengine

import "fmt"

// Op identifies what the engine attempted for one key.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpSkip   Op = "skip"
	OpDelete Op = "delete"
	OpImport Op = "import"
)

// SyncError wraps a destination error with the key it occurred on. Per-key
// errors never abort the containing batch; they are collected into the
// operation's Report.
type SyncError struct {
	Key string
	Op  Op
	Err error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync %s failed for key %q: %v", e.Op, e.Key, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// KeyResult is the outcome for a single key within a batch operation.
type KeyResult struct {
	Key string
	Op  Op
	Err error
}

// Report is the ordered partial-success result of a batch operation. Order
// follows the engine's deterministic processing order (sorted keys, then
// duplicate purges, then stale deletions).
type Report struct {
	Results []KeyResult
}

func (r *Report) add(key string, op Op, err error) {
	r.Results = append(r.Results, KeyResult{Key: key, Op: op, Err: err})
}

// Failed returns the results that carry an error.
func (r *Report) Failed() []KeyResult {
	var failed []KeyResult
	for _, res := range r.Results {
		if res.Err != nil {
			failed = append(failed, res)
		}
	}
	return failed
}

// Err returns nil when every key succeeded, otherwise the first failure,
// so callers that only care about overall success can treat the report as an
// error value.
func (r *Report) Err() error {
	for _, res := range r.Results {
		if res.Err != nil {
			return &SyncError{Key: res.Key, Op: res.Op, Err: res.Err}
		}
	}
	return nil
}

// Summary renders a compact status line suitable for logs and status trails.
func (r *Report) Summary() string {
	counts := map[Op]int{}
	failed := 0
	for _, res := range r.Results {
		if res.Err != nil {
			failed++
			continue
		}
		counts[res.Op]++
	}
	return fmt.Sprintf("created=%d updated=%d deleted=%d skipped=%d imported=%d failed=%d",
		counts[OpCreate], counts[OpUpdate], counts[OpDelete], counts[OpSkip], counts[OpImport], failed)
}
