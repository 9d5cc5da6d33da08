package scheduling

// Identified is anything keyed by a numeric id.
type Identified interface {
	GetID() int64
}

// MergeByID appends the picked entries that are not already present,
// keeping the first-seen order. Duplicates inside picked collapse too.
func MergeByID[T Identified](current []T, picked ...T) []T {
	seen := make(map[int64]struct{}, len(current)+len(picked))
	out := make([]T, 0, len(current)+len(picked))
	for _, item := range current {
		if _, ok := seen[item.GetID()]; ok {
			continue
		}
		seen[item.GetID()] = struct{}{}
		out = append(out, item)
	}
	for _, item := range picked {
		if _, ok := seen[item.GetID()]; ok {
			continue
		}
		seen[item.GetID()] = struct{}{}
		out = append(out, item)
	}
	return out
}

// RemoveByID drops every entry with the given id.
func RemoveByID[T Identified](current []T, id int64) []T {
	out := make([]T, 0, len(current))
	for _, item := range current {
		if item.GetID() != id {
			out = append(out, item)
		}
	}
	return out
}

// IDs returns the ids of items in order.
func IDs[T Identified](items []T) []int64 {
	out := make([]int64, 0, len(items))
	for _, item := range items {
		out = append(out, item.GetID())
	}
	return out
}

// UniqueIDs drops zero and repeated ids, keeping the first occurrence.
func UniqueIDs(ids ...int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// ClampQuantity bounds a requested quantity to [1, available].
// A non-positive availability yields 0: nothing can be requested.
func ClampQuantity(requested, available int) int {
	if available <= 0 {
		return 0
	}
	if requested < 1 {
		return 1
	}
	if requested > available {
		return available
	}
	return requested
}
