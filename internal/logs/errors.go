package logs

import (
	"errors"
	"fmt"
)

// ErrNoPrincipal is returned internally when an operation runs without an
// authenticated principal. Public operations treat it as a no-op.
var ErrNoPrincipal = errors.New("no authenticated principal")

// FetchError reports a failed seed or reconciliation fetch.
type FetchError struct {
	DeploymentID string
	Err          error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching logs for deployment %s: %v", e.DeploymentID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// InsertError reports a failed append to the durable store.
type InsertError struct {
	DeploymentID string
	Err          error
}

func (e *InsertError) Error() string {
	return fmt.Sprintf("inserting log for deployment %s: %v", e.DeploymentID, e.Err)
}

func (e *InsertError) Unwrap() error { return e.Err }

// MappingError reports a malformed row or entry.
type MappingError struct {
	RowID  string
	Field  string
	Reason string
}

func (e *MappingError) Error() string {
	if e.RowID == "" {
		return fmt.Sprintf("invalid log %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid log row %s: %s: %s", e.RowID, e.Field, e.Reason)
}
