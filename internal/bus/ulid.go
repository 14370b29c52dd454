// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Graft Contributors

package bus

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropy     = ulid.Monotonic(rand.Reader, 0)
	entropyLock sync.Mutex
)

// newOccurrenceID generates a ULID identifying one logical publish.
func newOccurrenceID() ulid.ULID {
	entropyLock.Lock()
	defer entropyLock.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
}
