// Package ids generates lexicographically sortable identifiers for
// locally synthesized records, such as bid-log rows built from push
// events before the authoritative list is refetched.
package ids

import (
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a time-ordered monotonic identifier. Within one process,
// later calls always compare greater, so synthesized rows keep their
// insertion order even when created within the same millisecond.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
