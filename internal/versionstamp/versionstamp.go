// Package versionstamp generates a fresh, process-unique 10-byte marker
// per commit.
package versionstamp

import (
	"crypto/rand"

	"github.com/rawkakani/denokv-postgres/internal/kvproto"
)

// Generator produces fresh versionstamps. The zero value is ready to use.
type Generator struct{}

// Next returns a new 10-byte versionstamp, filled from a CSPRNG. Callers
// compare versionstamps by equality, never by ordering.
func (Generator) Next() (kvproto.Versionstamp, error) {
	var vs kvproto.Versionstamp
	if _, err := rand.Read(vs[:]); err != nil {
		return kvproto.Versionstamp{}, err
	}
	return vs, nil
}
