// Package faults defines the error taxonomy of the import engine. None of
// these faults are retried internally: they propagate to the operator, who
// re-runs the whole pass once the cause is fixed.
package faults

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind classifies a fault.
type Kind string

const (
	// Backend is a store failure or an attribute/relation set the store rejects.
	Backend Kind = "BACKEND"
	// DataCorruption means a natural key already matches more than one row.
	DataCorruption Kind = "DATA_CORRUPTION"
	// UnknownSubject means a record references a subject that was never imported.
	UnknownSubject Kind = "UNKNOWN_SUBJECT"
	// MissingGroup means a derived or fixed security group does not exist.
	MissingGroup Kind = "MISSING_GROUP"
	// UnsupportedBackend means the requested engine or store mode is not available.
	UnsupportedBackend Kind = "UNSUPPORTED_BACKEND"
	// InvalidAnnotation means a question key carries a malformed type annotation.
	InvalidAnnotation Kind = "INVALID_ANNOTATION"
	// InvalidInput means an input document does not have the expected shape.
	InvalidInput Kind = "INVALID_INPUT"
)

// Fault is the concrete error type for every Kind.
type Fault struct {
	Kind    Kind
	Message string
	Err     error
	Context map[string]any
}

// Context keys used across packages.
const (
	CtxEntityType = "entity_type"
	CtxRelation   = "relation"
	CtxIdentifier = "identifier"
	CtxSubject    = "subject"
	CtxGroup      = "group"
	CtxMatches    = "matches"
)

// New returns a Fault of the given kind.
func New(kind Kind, format string, args ...any) *Fault {
	return &Fault{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap returns a Fault of the given kind wrapping err. A nil err yields nil.
func Wrap(err error, kind Kind, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Fault{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// With attaches a context value and returns the same fault.
func (f *Fault) With(key string, value any) *Fault {
	if f.Context == nil {
		f.Context = make(map[string]any)
	}
	f.Context[key] = value
	return f
}

func (f *Fault) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s", f.Kind, f.Message)
	if f.Err != nil {
		fmt.Fprintf(&sb, ": %v", f.Err)
	}
	if len(f.Context) > 0 {
		keys := make([]string, 0, len(f.Context))
		for k := range f.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString(" {")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%s=%v", k, f.Context[k])
		}
		sb.WriteString("}")
	}
	return sb.String()
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// Is reports whether err, or any error it wraps, is a Fault of the given kind.
func Is(err error, kind Kind) bool {
	for err != nil {
		var f *Fault
		if !errors.As(err, &f) {
			return false
		}
		if f.Kind == kind {
			return true
		}
		err = f.Err
	}
	return false
}

// KindOf returns the kind of the outermost Fault in err's chain, or "" when
// err is not a Fault.
func KindOf(err error) Kind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return ""
}
