package dispatch

import (
	"errors"
	"fmt"
)

// Kind classifies a dispatcher error.
type Kind int

const (
	KindUnknown Kind = iota
	KindTableMissing
	KindFieldMissing
	KindTableExists
	KindFieldExists
	KindDependency
	KindChangeStructure
)

func (k Kind) String() string {
	switch k {
	case KindTableMissing:
		return "table_missing"
	case KindFieldMissing:
		return "field_missing"
	case KindTableExists:
		return "table_already_exists"
	case KindFieldExists:
		return "field_already_exists"
	case KindDependency:
		return "dependency"
	case KindChangeStructure:
		return "change_structure"
	}
	return "unknown_error"
}

// Error is the typed failure returned by every dispatcher operation.
type Error struct {
	Kind  Kind
	Table string
	Field string
	Msg   string
	Err   error
}

func (e *Error) Error() string {
	s := e.Kind.String()
	if e.Table != "" {
		s += " " + e.Table
		if e.Field != "" {
			s += "." + e.Field
		}
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the dispatcher error kind; ok is false for foreign errors.
func KindOf(err error) (Kind, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind, true
	}
	return 0, false
}

// IsChangeStructure reports whether the error is a failed DDL execution.
func IsChangeStructure(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindChangeStructure
}

func errf(kind Kind, table, field, format string, args ...any) *Error {
	return &Error{Kind: kind, Table: table, Field: field, Msg: fmt.Sprintf(format, args...)}
}
