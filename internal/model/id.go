package model

import (
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// StoreIDPrefix is prepended to every generated store id.
const StoreIDPrefix = "urumi-"

// storeIDSuffixLen keeps ids short enough to serve as DNS labels and namespaces.
const storeIDSuffixLen = 5

// NewID generates a new ULID string for use as a job identifier.
func NewID() string {
	return ulid.Make().String()
}

// NewStoreID generates a store id: the fixed prefix plus the first characters
// of a random (v4) UUID. Collisions are possible and must be rejected by the
// registry.
func NewStoreID() string {
	return StoreIDPrefix + uuid.NewString()[:storeIDSuffixLen]
}
