// Package location holds the shareable location identifier of a tree view:
// a query string whose "conformation" field records which branches are
// expanded, plus a local store that keeps the latest location per tree.
package location

import (
	"fmt"
	"net/url"
	"strings"
)

// ConformationKey is the query field carrying the encoded conformation.
const ConformationKey = "conformation"

// Location is an immutable query-string value.
type Location struct {
	values url.Values
}

// Parse accepts a full URL, a "?query" string or a bare query string.
func Parse(raw string) (Location, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Location{}, nil
	}
	query := raw
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		query = raw[i+1:]
	} else if strings.Contains(raw, "://") {
		// A URL without a query carries no location fields.
		query = ""
	}
	if i := strings.IndexByte(query, '#'); i >= 0 {
		query = query[:i]
	}
	values, err := url.ParseQuery(query)
	if err != nil {
		return Location{}, fmt.Errorf("parse location %q: %w", raw, err)
	}
	return Location{values: values}, nil
}

// Get returns the first value of key.
func (l Location) Get(key string) string {
	return l.values.Get(key)
}

// Conformation returns the encoded conformation, or "" when absent.
func (l Location) Conformation() string {
	return l.Get(ConformationKey)
}

// With returns a copy with key set to value. An empty value removes key.
func (l Location) With(key, value string) Location {
	out := make(url.Values, len(l.values)+1)
	for k, v := range l.values {
		out[k] = append([]string(nil), v...)
	}
	if value == "" {
		out.Del(key)
	} else {
		out.Set(key, value)
	}
	return Location{values: out}
}

// WithConformation returns a copy carrying enc. An empty enc removes the field.
func (l Location) WithConformation(enc string) Location {
	return l.With(ConformationKey, enc)
}

// IsEmpty reports whether the location carries no fields.
func (l Location) IsEmpty() bool {
	return len(l.values) == 0
}

// String renders the location as "?k=v&..." with sorted keys, or "" when empty.
func (l Location) String() string {
	if l.IsEmpty() {
		return ""
	}
	return "?" + l.values.Encode()
}
