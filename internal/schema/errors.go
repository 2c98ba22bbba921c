package schema

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrSchema           = errors.New("schema error")
	ErrNoWritableFields = errors.New("no valid fields to write")
	ErrMissingRequired  = errors.New("missing required fields")
	ErrDuplicate        = errors.New("duplicate value")
	ErrForeignKey       = errors.New("referenced row does not exist")
	ErrRowNotFound      = errors.New("row not found")
	ErrInvalidValue     = errors.New("invalid value")
)

// SchemaError names the table or columns an entity needs but the database lacks.
type SchemaError struct {
	Entity  string
	Table   string
	Missing []string
}

func (e *SchemaError) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("%s table not found", e.Entity)
	}
	return fmt.Sprintf("%s table %q is missing required columns: %s", e.Entity, e.Table, strings.Join(e.Missing, ", "))
}

func (e *SchemaError) Is(target error) bool {
	return target == ErrSchema
}

type MissingFieldsError struct {
	Columns []string
}

func (e *MissingFieldsError) Error() string {
	return "missing required fields: " + strings.Join(e.Columns, ", ")
}

func (e *MissingFieldsError) Is(target error) bool {
	return target == ErrMissingRequired
}

type ConstraintKind int

const (
	ConstraintUnknown ConstraintKind = iota
	ConstraintDuplicate
	ConstraintForeignKey
	ConstraintNotNull
	ConstraintUndefined
	ConstraintInvalidValue
)

// ConstraintError is a store error translated into a caller-actionable form.
type ConstraintError struct {
	Kind       ConstraintKind
	Table      string
	Column     string
	Constraint string
	Detail     string
	Err        error
}

func (e *ConstraintError) Error() string {
	var msg string
	switch e.Kind {
	case ConstraintDuplicate:
		msg = "a row with the same unique value already exists"
	case ConstraintForeignKey:
		msg = "a referenced row does not exist"
	case ConstraintNotNull:
		msg = fmt.Sprintf("missing required fields: %s", e.Column)
	case ConstraintUndefined:
		msg = "table or column does not exist"
	case ConstraintInvalidValue:
		msg = "value has the wrong format for its column"
	default:
		msg = "database error"
	}
	if e.Constraint != "" {
		msg += " (" + e.Constraint + ")"
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *ConstraintError) Unwrap() error {
	return e.Err
}

func (e *ConstraintError) Is(target error) bool {
	switch e.Kind {
	case ConstraintDuplicate:
		return target == ErrDuplicate
	case ConstraintForeignKey:
		return target == ErrForeignKey
	case ConstraintNotNull:
		return target == ErrMissingRequired
	case ConstraintUndefined:
		return target == ErrSchema
	case ConstraintInvalidValue:
		return target == ErrInvalidValue
	}
	return false
}
