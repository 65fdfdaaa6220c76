package common

// FirstSatisfying returns the first candidate accepted by probe, in candidate order.
// The second return value is false when no candidate is accepted.
func FirstSatisfying[T any](candidates []T, probe func(T) bool) (T, bool) {
	for _, c := range candidates {
		if probe(c) {
			return c, true
		}
	}
	var zero T
	return zero, false
}
