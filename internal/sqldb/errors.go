// Defines the typed errors returned by the schema reflector, the filter compiler,
// the row marshaller and the repository.

package sqldb

import (
	"errors"
	"fmt"
)

var (
	// ErrNotStruct is returned when a record type is not a struct or a pointer to a struct.
	ErrNotStruct = errors.New("record must be a struct or pointer to struct")
	// ErrNoFields is returned when a record type has no storable field.
	ErrNoFields = errors.New("record has no fields")
	// ErrUnsupportedFieldType is returned when a field is not a scalar.
	ErrUnsupportedFieldType = errors.New("unsupported field type")
	// ErrInvalidRowID is returned when a field named rowid is not an int64.
	ErrInvalidRowID = errors.New("rowid field must be int64")

	// ErrArrayNotSupported is returned when a filter value is an array where a scalar is expected.
	ErrArrayNotSupported = errors.New("array filter values are not supported")
	// ErrUnknownOperator is returned for an operator outside the supported vocabulary.
	ErrUnknownOperator = errors.New("unknown filter operator")
	// ErrInvalidOperand is returned when an operator value has the wrong shape.
	ErrInvalidOperand = errors.New("invalid operand")

	// ErrMarshal is the cause of every MarshalError.
	ErrMarshal = errors.New("cannot marshal row")
)

// SchemaError is returned when a schema cannot be derived from a record type.
type SchemaError struct {
	Type  string
	Field string
	Err   error
}

func (e *SchemaError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("schema %s: %v", e.Type, e.Err)
	}
	return fmt.Sprintf("schema %s: field %q: %v", e.Type, e.Field, e.Err)
}

func (e *SchemaError) Unwrap() error {
	return e.Err
}

// FilterError is returned when a filter cannot be compiled.
type FilterError struct {
	Field string
	Op    string
	Err   error
}

func (e *FilterError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("filter %q: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("filter %q %s: %v", e.Field, e.Op, e.Err)
}

func (e *FilterError) Unwrap() error {
	return e.Err
}

// MarshalError is returned when a storage row cannot be decoded into a record,
// or a record cannot be encoded into parameters.
type MarshalError struct {
	Field string
	Err   error
}

func (e *MarshalError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%v: %v", ErrMarshal, e.Err)
	}
	return fmt.Sprintf("%v: field %q: %v", ErrMarshal, e.Field, e.Err)
}

func (e *MarshalError) Unwrap() []error {
	return []error{ErrMarshal, e.Err}
}

// StorageError wraps a failure from the storage engine.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}
