package utils

// Map maps each element of sli with mapper.
func Map[T any, R any](sli []T, mapper func(v T) R) []R {
	ret := make([]R, len(sli))
	for nth, v := range sli {
		ret[nth] = mapper(v)
	}
	return ret
}

// RefOf converts slice-of-values to slice-of-pointers.
//
// Each pointer points a copy of the element.
func RefOf[T any](sli []T) []*T {
	return Map(sli, func(v T) *T { return &v })
}

// First returns the first element which predicator matches.
//
// If nothing matches, it returns (zero value, false).
func First[T any](sli []T, predicator func(T) bool) (T, bool) {
	for _, v := range sli {
		if predicator(v) {
			return v, true
		}
	}
	var zero T
	return zero, false
}
