package modelstore

import (
	"errors"
	"fmt"
)

// ErrConfigurationNotFound is returned when an operation references a
// configuration that does not exist.
var ErrConfigurationNotFound = errors.New("configuration not found")

// ErrIterationNotFound is returned when a lookup references an iteration
// that does not exist.
var ErrIterationNotFound = errors.New("iteration not found")

// ErrMissingName is returned when a configuration is submitted without a
// name. It is rejected before any store interaction.
var ErrMissingName = errors.New("configuration name is required")

// DuplicateNameError reports that a configuration with the same name already
// exists. It is an expected, recoverable outcome: the enclosing transaction
// is rolled back and the store is left unchanged.
type DuplicateNameError struct {
	Name string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("configuration name %q already exists", e.Name)
}

// IsDuplicateName reports whether err is a duplicate-name conflict.
func IsDuplicateName(err error) bool {
	var dup *DuplicateNameError
	return errors.As(err, &dup)
}

// StorageError wraps an underlying I/O or transaction-engine fault. It is
// fatal for the single operation, never for the process.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
