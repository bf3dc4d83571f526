// Package id mints the local identifiers the core hands to the gateway. They
// are ULIDs, so an order index sorted by id is also sorted by placement time.
package id

import "github.com/oklog/ulid/v2"

// New returns a fresh ULID string. Safe for concurrent use; ids minted within
// the same millisecond stay lexicographically ordered.
func New() string {
	return ulid.Make().String()
}
