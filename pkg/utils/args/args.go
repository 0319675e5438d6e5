// Package args provides flag.Value implementations for typed command line arguments.
package args

import "fmt"

// Value is a flag.Value which converts its argument with a parser.
type Value[T fmt.Stringer] struct {
	value  T
	parser func(string) (T, error)
	isSet  bool
}

// Parser returns an unset Value which parses arguments with parser.
func Parser[T fmt.Stringer](parser func(string) (T, error)) *Value[T] {
	return &Value[T]{parser: parser}
}

// Default returns a Value holding d until it is set.
func Default[T fmt.Stringer](d T, parser func(string) (T, error)) *Value[T] {
	return &Value[T]{value: d, parser: parser}
}

func (v *Value[T]) String() string {
	if v == nil || v.parser == nil {
		return ""
	}
	return v.value.String()
}

func (v *Value[T]) Set(s string) error {
	t, err := v.parser(s)
	if err != nil {
		return err
	}
	v.value = t
	v.isSet = true
	return nil
}

// Get returns the parsed value, or the default one when it is not set.
func (v *Value[T]) Get() T {
	return v.value
}

// IsSet reports whether the argument is passed.
func (v *Value[T]) IsSet() bool {
	return v.isSet
}
