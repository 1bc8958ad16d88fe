package domain

// Positioned is implemented by list members that carry a dense index.
type Positioned[T any] interface {
	WithPosition(int) T
}

// Reindex returns a copy of list where every element's position equals its
// index. The input is left untouched. An empty input yields an empty,
// non-nil slice.
func Reindex[T Positioned[T]](list []T) []T {
	out := make([]T, len(list))
	for i, item := range list {
		out[i] = item.WithPosition(i)
	}
	return out
}

// IsDense reports whether positions are exactly 0..n-1 in list order.
func IsDense[T any](list []T, position func(T) int) bool {
	for i, item := range list {
		if position(item) != i {
			return false
		}
	}
	return true
}
