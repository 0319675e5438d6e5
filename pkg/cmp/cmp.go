// Package cmp provides equality checks for slices and maps, mainly for tests.
package cmp

// SliceEq checks a and b have same elements in same order.
func SliceEq[T comparable](a []T, b []T) bool {
	return SliceEqWith(a, b, func(x, y T) bool { return x == y })
}

// SliceEqWith checks a and b are equal elementwise in context of pred.
func SliceEqWith[T any, U any](a []T, b []U, pred func(a T, b U) bool) bool {
	if len(a) != len(b) {
		return false
	}
	for nth := range a {
		if !pred(a[nth], b[nth]) {
			return false
		}
	}
	return true
}

// MapEq checks a == b.
func MapEq[K comparable, V comparable](a map[K]V, b map[K]V) bool {
	return len(a) == len(b) && MapLeq(a, b)
}

// MapLeq checks a ⊆ b: every entry of a is in b with the same value.
func MapLeq[K comparable, V comparable](a map[K]V, b map[K]V) bool {
	for k, va := range a {
		if vb, ok := b[k]; !ok || va != vb {
			return false
		}
	}
	return true
}
