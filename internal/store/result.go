package store

import "fmt"

// ErrorKind classifies why a store operation failed.
type ErrorKind string

const (
	KindBackend   ErrorKind = "backend"
	KindSerialize ErrorKind = "serialize"
	KindParse     ErrorKind = "parse"
)

// StorageError describes a failed store operation. It is never returned as a
// bare error; it travels inside a Result next to the benign fallback value.
type StorageError struct {
	Op   string
	Key  string
	Kind ErrorKind
	Err  error
}

func (e *StorageError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("store %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("store %s %q: %s: %v", e.Op, e.Key, e.Kind, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Result carries the outcome of a store operation. Value always holds a
// usable value: the real one on success, the benign fallback (false, the
// caller's default, zero) on failure.
type Result[T any] struct {
	Value T
	Err   *StorageError
}

// OK reports whether the operation succeeded.
func (r Result[T]) OK() bool {
	return r.Err == nil
}

// Unwrap converts the result into the conventional (value, error) pair.
func (r Result[T]) Unwrap() (T, error) {
	if r.Err != nil {
		return r.Value, r.Err
	}
	return r.Value, nil
}

func ok[T any](v T) Result[T] {
	return Result[T]{Value: v}
}
