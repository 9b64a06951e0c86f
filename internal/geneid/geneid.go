// Package geneid normalizes gene identifiers so that tables produced by
// different tools key the same gene identically.
package geneid

import "strings"

// Normalize trims surrounding whitespace and upper-cases id.
func Normalize(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

// Set is a set of normalized gene identifiers.
type Set map[string]struct{}

// NewSet builds a set from ids, normalizing each one. Blank ids are skipped.
func NewSet(ids ...string) Set {
	s := make(Set, len(ids))
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

// Add normalizes and inserts id, reporting whether it was new.
func (s Set) Add(id string) bool {
	n := Normalize(id)
	if n == "" {
		return false
	}
	if _, ok := s[n]; ok {
		return false
	}
	s[n] = struct{}{}
	return true
}

// Has reports whether the normalized form of id is in the set.
func (s Set) Has(id string) bool {
	_, ok := s[Normalize(id)]
	return ok
}

// Intersect returns the elements of s also in other.
func (s Set) Intersect(other Set) Set {
	small, large := s, other
	if len(large) < len(small) {
		small, large = large, small
	}
	out := make(Set, len(small))
	for id := range small {
		if _, ok := large[id]; ok {
			out[id] = struct{}{}
		}
	}
	return out
}
