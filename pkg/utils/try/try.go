// Package try shortens setup code which gives up on errors.
package try

// Fataler is something having Fatal, like *testing.T or *log.Logger.
type Fataler interface {
	Fatal(...any)
}

// Result is a pair of a value and an error.
type Result[T any] struct {
	value T
	err   error
}

// To captures the return values of a function call.
func To[T any](value T, err error) Result[T] {
	return Result[T]{value: value, err: err}
}

// Get returns the captured pair.
func (r Result[T]) Get() (T, error) {
	return r.value, r.err
}

// OrFatal returns the value, or calls ftl.Fatal with the error.
//
// When ftl has Helper (like *testing.T), it is called before Fatal.
func (r Result[T]) OrFatal(ftl Fataler) T {
	if r.err == nil {
		return r.value
	}
	if h, ok := ftl.(interface{ Helper() }); ok {
		h.Helper()
	}
	ftl.Fatal(r.err)
	return *new(T)
}
