package types

import (
	"strings"

	"github.com/google/uuid"
)

// RunID identifies one execution of a query.
type RunID string

// OriginKey names where a run was requested from, e.g. "telegram:12345" or
// "scheduler:morning-departures". Completion notices are routed by its prefix.
type OriginKey string

// NewRunID returns a random run id.
func NewRunID() RunID {
	return RunID(uuid.New().String())
}

// NewOriginKey joins parts with colons.
func NewOriginKey(parts ...string) OriginKey {
	return OriginKey(strings.Join(parts, ":"))
}

// Source returns the part of the key before the first colon.
func (k OriginKey) Source() string {
	src, _, _ := strings.Cut(string(k), ":")
	return src
}
