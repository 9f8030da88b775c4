package biodumpy

import (
	"errors"
	"fmt"
)

// ErrNotFound reports that a remote database has no record for the query.
var ErrNotFound = errors.New("not found")

// ModuleError ties a failure to the module and query that produced it.
type ModuleError struct {
	Module string
	Query  string
	Err    error
}

func (e *ModuleError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Module, e.Query, e.Err)
}

func (e *ModuleError) Unwrap() error {
	return e.Err
}

// NotFoundf builds an ErrNotFound carrying context.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
}
