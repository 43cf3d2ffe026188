package provider

import "fmt"

// AsyncTag identifies which arm of an AsyncValue is populated.
type AsyncTag uint8

const (
	// AsyncLoading marks a computation that has started but not settled.
	AsyncLoading AsyncTag = iota
	// AsyncData marks a successfully settled computation.
	AsyncData
	// AsyncError marks a computation that settled with an error.
	AsyncError
)

// String returns the lowercase tag name.
func (t AsyncTag) String() string {
	switch t {
	case AsyncLoading:
		return "loading"
	case AsyncData:
		return "data"
	case AsyncError:
		return "error"
	default:
		return fmt.Sprintf("AsyncTag(%d)", t)
	}
}

// AsyncValue is the observable state of an asynchronous provider. It is a
// tagged union of three arms: loading, data, and error. A loading value may
// carry the data from the previous settled generation so observers can keep
// rendering stale content while a refresh is in flight.
//
// The zero AsyncValue is loading with no prior data.
type AsyncValue[T any] struct {
	tag     AsyncTag
	value   T
	err     error
	hasData bool
}

// LoadingOf returns a loading value with no prior data.
func LoadingOf[T any]() AsyncValue[T] {
	return AsyncValue[T]{tag: AsyncLoading}
}

// DataOf returns a settled data value.
func DataOf[T any](v T) AsyncValue[T] {
	return AsyncValue[T]{tag: AsyncData, value: v, hasData: true}
}

// ErrorOf returns a settled error value.
func ErrorOf[T any](err error) AsyncValue[T] {
	return AsyncValue[T]{tag: AsyncError, err: err}
}

// Tag returns which arm is populated.
func (v AsyncValue[T]) Tag() AsyncTag { return v.tag }

// IsLoading reports whether the value is in the loading arm.
func (v AsyncValue[T]) IsLoading() bool { return v.tag == AsyncLoading }

// IsData reports whether the value is settled data.
func (v AsyncValue[T]) IsData() bool { return v.tag == AsyncData }

// IsError reports whether the value is a settled error.
func (v AsyncValue[T]) IsError() bool { return v.tag == AsyncError }

// Reloading reports whether the value is loading while still carrying data
// from a previous settled generation.
func (v AsyncValue[T]) Reloading() bool { return v.tag == AsyncLoading && v.hasData }

// Data returns the current data and whether data is present. Data is present
// for the data arm and for a loading arm that carries the previous value.
func (v AsyncValue[T]) Data() (T, bool) {
	return v.value, v.hasData
}

// Err returns the error for the error arm and nil otherwise.
func (v AsyncValue[T]) Err() error {
	if v.tag == AsyncError {
		return v.err
	}
	return nil
}

// String renders the value for logs and test failures.
func (v AsyncValue[T]) String() string {
	switch v.tag {
	case AsyncLoading:
		if v.hasData {
			return fmt.Sprintf("Loading(prev %v)", v.value)
		}
		return "Loading"
	case AsyncData:
		return fmt.Sprintf("Data(%v)", v.value)
	case AsyncError:
		return fmt.Sprintf("Error(%v)", v.err)
	default:
		return "AsyncValue(?)"
	}
}

// asyncState is the type-erased form stored in node snapshots. The typed
// AsyncValue view is reconstructed by the provider handle on the way out.
type asyncState struct {
	tag     AsyncTag
	value   any
	err     error
	hasData bool
}

// asyncEqual implements the propagation-halting rules for asynchronous
// results: two loading states are always equal regardless of carried data,
// two data states compare by the payload equality function, and error states
// are never equal so failures always propagate.
func asyncEqual(a, b asyncState, eq func(x, y any) bool) bool {
	if a.tag != b.tag {
		return false
	}
	switch a.tag {
	case AsyncLoading:
		return true
	case AsyncData:
		return eq(a.value, b.value)
	default:
		return false
	}
}

func asyncViewFor[T any](s asyncState) AsyncValue[T] {
	out := AsyncValue[T]{tag: s.tag, err: s.err, hasData: s.hasData}
	if s.hasData {
		if v, ok := s.value.(T); ok {
			out.value = v
		} else {
			out.hasData = false
		}
	}
	return out
}
