// Package errors provides structured error handling for the Current runtime.
package errors

import (
	"fmt"
	"time"
)

// ErrorKind identifies the category of an error.
type ErrorKind int

const (
	// KindUnknown indicates an error of unknown type.
	KindUnknown ErrorKind = iota
	// KindConfig indicates a configuration error: a dependency cycle, an
	// override registered after a scope was first used, or a mutating call
	// made from inside a running factory.
	KindConfig
	// KindComputation indicates a provider factory returned an error or
	// panicked. Computation errors are local to the failing provider.
	KindComputation
	// KindLifecycle indicates use of a disposed scope, provider instance,
	// or subscription.
	KindLifecycle
	// KindInspect indicates a graph snapshot encode or decode failure.
	KindInspect
	// KindPanic indicates a recovered panic.
	KindPanic
)

func (k ErrorKind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindComputation:
		return "computation"
	case KindLifecycle:
		return "lifecycle"
	case KindInspect:
		return "inspect"
	case KindPanic:
		return "panic"
	default:
		return "unknown"
	}
}

// StateError represents a structured error in the Current runtime.
type StateError struct {
	// Op is the operation that failed (e.g., "provider.Scope.Read").
	Op string
	// Kind categorizes the error.
	Kind ErrorKind
	// Err is the underlying error.
	Err error
	// Provider is the debug name of the provider involved, if applicable.
	Provider string
	// StackTrace contains the call stack at the time of the error.
	StackTrace string
	// Timestamp is when the error occurred.
	Timestamp time.Time
}

func (e *StateError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s [%s] provider=%s: %v", e.Op, e.Kind, e.Provider, e.Err)
	}
	return fmt.Sprintf("%s [%s]: %v", e.Op, e.Kind, e.Err)
}

func (e *StateError) Unwrap() error {
	return e.Err
}

// PanicError represents a recovered panic.
type PanicError struct {
	// Op is the operation that panicked (e.g., "provider.Scope.Dispose").
	Op string
	// Value is the value passed to panic().
	Value any
	// StackTrace contains the call stack at the time of the panic.
	StackTrace string
	// Timestamp is when the panic occurred.
	Timestamp time.Time
}

func (e *PanicError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("panic in %s: %v", e.Op, e.Value)
	}
	return fmt.Sprintf("panic: %v", e.Value)
}

// CycleError represents a dependency cycle discovered while a provider was
// recomputing. The batch that discovered the cycle is aborted; previously
// settled providers keep their values.
type CycleError struct {
	// Path is the chain of provider debug names forming the cycle. The
	// first and last entries name the same provider.
	Path []string
}

func (e *CycleError) Error() string {
	if len(e.Path) == 0 {
		return "dependency cycle detected"
	}
	msg := "dependency cycle: "
	for i, name := range e.Path {
		if i > 0 {
			msg += " -> "
		}
		msg += name
	}
	return msg
}

// FactoryError represents a failure inside a provider factory.
type FactoryError struct {
	// Provider is the debug name of the provider whose factory failed.
	Provider string
	// Generation is the factory generation that failed.
	Generation uint64
	// Recovered is the panic value (nil for regular errors).
	Recovered any
	// Err is the underlying error (nil for panics).
	Err error
	// StackTrace contains the call stack at the time of the error.
	StackTrace string
	// Timestamp is when the error occurred.
	Timestamp time.Time
}

func (e *FactoryError) Error() string {
	if e.Recovered != nil {
		return fmt.Sprintf("panic in factory for %s (gen %d): %v", e.Provider, e.Generation, e.Recovered)
	}
	if e.Err != nil {
		return fmt.Sprintf("error in factory for %s (gen %d): %v", e.Provider, e.Generation, e.Err)
	}
	return fmt.Sprintf("unknown error in factory for %s (gen %d)", e.Provider, e.Generation)
}

func (e *FactoryError) Unwrap() error {
	return e.Err
}

// ErrorHandler receives errors reported by the Current runtime.
type ErrorHandler interface {
	// HandleError is called when an error occurs.
	HandleError(err *StateError)
	// HandlePanic is called when a panic is recovered.
	HandlePanic(err *PanicError)
	// HandleFactoryError is called when a provider factory fails.
	HandleFactoryError(err *FactoryError)
}
