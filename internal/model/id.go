package model

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Entity id prefixes. Ids are prefix + ULID, globally unique and
// lexicographically sortable by creation time.
const (
	PrefixDeclaration = "ECO-"
	PrefixService     = "SRV-"
	PrefixReport      = "REP-"
	PrefixSighting    = "WIT-"
	PrefixCause       = "CAU-"
	PrefixAssignment  = "ASG-"
	PrefixJournal     = "JRN-"
)

var (
	idMu      sync.Mutex
	idEntropy = ulid.Monotonic(rand.Reader, 0)
)

// NewID returns a fresh prefixed id, monotonic within the process.
func NewID(prefix string) string {
	idMu.Lock()
	defer idMu.Unlock()
	return prefix + ulid.MustNew(ulid.Timestamp(time.Now()), idEntropy).String()
}
