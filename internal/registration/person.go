package registration

import (
	"sort"

	"github.com/OhMinsSup/jwc-platform-sub001/internal/normalize"
)

// LatestPerPerson keeps the most recent registration of each person, where
// a person is identified by phone digits. Items without a phone are all
// kept. The result is ordered by registration time, then id.
func LatestPerPerson[T any](items []T, record func(T) Record) []T {
	latest := make(map[string]T, len(items))
	out := make([]T, 0, len(items))
	for _, it := range items {
		key := normalize.PhoneDigits(record(it).Phone)
		if key == "" {
			out = append(out, it)
			continue
		}
		cur, ok := latest[key]
		if !ok || newer(record(it), record(cur)) {
			latest[key] = it
		}
	}
	for _, it := range latest {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := record(out[i]), record(out[j])
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return out
}

func newer(a, b Record) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}
