// This file is part of bootfriend
// Copyright 2024 AOSC-Dev
// SPDX-License-Identifier: GPL-3.0-only

package kernel

import "sort"

// Set is a de-duplicated collection of kernel entries keyed by version
// identity. It is built fresh on every invocation and never persisted.
type Set struct {
	entries map[versionKey]Entry
}

// NewSet builds a Set from a sequence of entries.
//
// When two entries share the same version identity, the entry whose
// RawName sorts later lexically wins. That is a deterministic tie-break
// for pathological directories, not a statement of intent about which
// file is better.
func NewSet(entries []Entry) Set {
	s := Set{entries: make(map[versionKey]Entry, len(entries))}
	for _, e := range entries {
		key := e.Version.key()
		if prev, ok := s.entries[key]; ok && prev.Version.RawName >= e.Version.RawName {
			continue
		}
		s.entries[key] = e
	}
	return s
}

// Len returns the number of distinct kernels in the set.
func (s Set) Len() int { return len(s.entries) }

// Contains reports whether the set holds a kernel with v's identity.
func (s Set) Contains(v Version) bool {
	_, ok := s.entries[v.key()]
	return ok
}

// Get returns the entry for v's identity.
func (s Set) Get(v Version) (Entry, bool) {
	e, ok := s.entries[v.key()]
	return e, ok
}

// SortedDescending materializes the set as a sequence sorted newest
// first, for display and default selection.
func (s Set) SortedDescending() []Entry {
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Version.Compare(out[j].Version); c != 0 {
			return c > 0
		}
		// Variants order among themselves only to keep output stable.
		return out[i].Version.Variant > out[j].Version.Variant
	})
	return out
}

// Difference returns the entries in s with no counterpart in other,
// newest first.
func (s Set) Difference(other Set) []Entry {
	var out []Entry
	for _, e := range s.SortedDescending() {
		if !other.Contains(e.Version) {
			out = append(out, e)
		}
	}
	return out
}

// Latest returns the newest kernel in the set. An empty set is a defined
// empty result, not a fault; callers must handle "no kernels" explicitly.
func (s Set) Latest() (Entry, bool) {
	if len(s.entries) == 0 {
		return Entry{}, false
	}
	return s.SortedDescending()[0], true
}

// Newest returns a set restricted to the n newest kernels. n <= 0 or
// n >= Len returns the set unchanged.
func (s Set) Newest(n int) Set {
	if n <= 0 || n >= len(s.entries) {
		return s
	}
	return NewSet(s.SortedDescending()[:n])
}
