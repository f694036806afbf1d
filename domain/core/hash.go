package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Hash represents a cryptographic hash
type Hash string

// NewHash creates a new hash from data
func NewHash(data []byte) Hash {
	sum := sha256.Sum256(data)
	return Hash(hex.EncodeToString(sum[:]))
}

// String returns the string representation
func (h Hash) String() string {
	return string(h)
}

// IsEmpty checks if the hash is empty
func (h Hash) IsEmpty() bool {
	return h == ""
}

// Short returns the first 12 hex digits, enough for log lines
func (h Hash) Short() string {
	if len(h) <= 12 {
		return string(h)
	}
	return string(h[:12])
}

// InputFingerprint hashes a set of input files by name and modification
// time. The result does not depend on map iteration order.
func InputFingerprint(modTimes map[string]time.Time) Hash {
	names := make([]string, 0, len(modTimes))
	for n := range modTimes {
		names = append(names, n)
	}
	sort.Strings(names)

	var data strings.Builder
	for _, n := range names {
		data.WriteString(n)
		data.WriteString(fmt.Sprintf("@%d;", modTimes[n].UnixNano()))
	}
	return NewHash([]byte(data.String()))
}
