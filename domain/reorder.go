package domain

// ReorderWithinList removes the element at src and reinserts it at dst, then
// reindexes. When src == dst or either index is outside [0, len-1] the
// original slice is returned unchanged.
func ReorderWithinList[T Positioned[T]](list []T, src, dst int) []T {
	out, ok := reorder(list, src, dst)
	if !ok {
		return list
	}
	return Reindex(out)
}

// MoveBetweenLists removes the element at src from srcList and inserts it at
// dst in dstList, reindexing both. dst is clamped to [0, len(dstList)], so an
// index past the end appends. An out of range src leaves both lists as they
// are.
//
// When srcList and dstList are the same slice the call is a reorder within
// that list: dst is clamped to the last index and both results are the
// ReorderWithinList output for the clamped index. Unlike a direct
// ReorderWithinList call, an index past the end therefore moves the element
// to the end instead of doing nothing, as it appends in the cross-list case.
func MoveBetweenLists[T Positioned[T]](srcList, dstList []T, src, dst int) ([]T, []T) {
	if sameSlice(srcList, dstList) {
		out := ReorderWithinList(srcList, src, clamp(dst, 0, len(srcList)-1))
		return out, out
	}
	from, to, ok := move(srcList, dstList, src, dst)
	if !ok {
		return srcList, dstList
	}
	return Reindex(from), Reindex(to)
}

// ReorderIDs is ReorderWithinList for plain id sequences.
func ReorderIDs(ids []string, src, dst int) []string {
	out, ok := reorder(ids, src, dst)
	if !ok {
		return ids
	}
	return out
}

// MoveIDs is MoveBetweenLists for plain id sequences. The same-list case
// clamps dst to the last index the way MoveBetweenLists does, where
// ReorderIDs would ignore an out of range dst.
func MoveIDs(srcIDs, dstIDs []string, src, dst int) ([]string, []string) {
	if sameSlice(srcIDs, dstIDs) {
		out := ReorderIDs(srcIDs, src, clamp(dst, 0, len(srcIDs)-1))
		return out, out
	}
	from, to, ok := move(srcIDs, dstIDs, src, dst)
	if !ok {
		return srcIDs, dstIDs
	}
	return from, to
}

// InsertAt returns a copy of list with item inserted at index, clamped to
// [0, len(list)].
func InsertAt[T any](list []T, item T, index int) []T {
	index = clamp(index, 0, len(list))
	out := make([]T, 0, len(list)+1)
	out = append(out, list[:index]...)
	out = append(out, item)
	return append(out, list[index:]...)
}

// RemoveAt returns a copy of list without the element at index. An out of
// range index returns a plain copy.
func RemoveAt[T any](list []T, index int) []T {
	out := make([]T, 0, len(list))
	for i, item := range list {
		if i != index {
			out = append(out, item)
		}
	}
	return out
}

// IndexOf returns the index of id in ids, or -1.
func IndexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}

// CheckPermutation verifies that desired holds exactly the members of
// current, each once.
func CheckPermutation(current, desired []string) error {
	if len(current) != len(desired) {
		return InvalidInputf("expected %d ids, got %d", len(current), len(desired))
	}
	members := make(map[string]struct{}, len(current))
	for _, id := range current {
		members[id] = struct{}{}
	}
	seen := make(map[string]struct{}, len(desired))
	for _, id := range desired {
		if _, dup := seen[id]; dup {
			return InvalidInputf("id %s listed twice", id)
		}
		if _, ok := members[id]; !ok {
			return InvalidInputf("id %s is not a member", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// DeriveMove finds the single element move that turns current into desired.
// ok is false when the orders are equal or differ by more than one move.
func DeriveMove(current, desired []string) (src, dst int, ok bool) {
	if len(current) != len(desired) {
		return 0, 0, false
	}
	first, last := -1, -1
	for i := range current {
		if current[i] != desired[i] {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	if first < 0 {
		return 0, 0, false
	}
	if equalIDs(ReorderIDs(current, first, last), desired) {
		return first, last, true
	}
	if equalIDs(ReorderIDs(current, last, first), desired) {
		return last, first, true
	}
	return 0, 0, false
}

// ValidateIndex rejects negative indices.
func ValidateIndex(name string, index int) error {
	if index < 0 {
		return InvalidInputf("%s must not be negative, got %d", name, index)
	}
	return nil
}

func reorder[T any](list []T, src, dst int) ([]T, bool) {
	n := len(list)
	if src == dst || src < 0 || src >= n || dst < 0 || dst >= n {
		return nil, false
	}
	item := list[src]
	return InsertAt(RemoveAt(list, src), item, dst), true
}

func move[T any](srcList, dstList []T, src, dst int) ([]T, []T, bool) {
	if src < 0 || src >= len(srcList) {
		return nil, nil, false
	}
	item := srcList[src]
	return RemoveAt(srcList, src), InsertAt(dstList, item, dst), true
}

// sameSlice reports whether a and b are the same list. Empty lists never
// match; every move on them is a no-op either way.
func sameSlice[T any](a, b []T) bool {
	if len(a) == 0 || len(a) != len(b) {
		return false
	}
	return &a[0] == &b[0]
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func clamp(v, lo, hi int) int {
	if hi < lo {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
