// Package types provides identifier types shared by snowtrail's stores.
package types

import (
	"crypto/rand"
	"sync"
	"time"
)

// ULID is a 128-bit lexicographically sortable identifier:
// 48 bits of Unix milliseconds followed by 80 random bits.
type ULID [16]byte

// Crockford's Base32 alphabet (excludes I, L, O, U)
const crockfordBase32 = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// ULIDGenerator generates ULIDs that are strictly increasing, including
// ULIDs generated within the same millisecond.
type ULIDGenerator struct {
	mu            sync.Mutex
	lastTimestamp uint64
	lastRandom    [10]byte
}

// NewULIDGenerator creates a new ULID generator.
func NewULIDGenerator() *ULIDGenerator {
	return &ULIDGenerator{}
}

// Generate creates a new ULID with the current timestamp.
func (g *ULIDGenerator) Generate() (ULID, error) {
	return g.GenerateWithTime(time.Now())
}

// GenerateWithTime creates a new ULID for the given time. A timestamp that
// is not newer than the previous one reuses the previous timestamp and
// increments the random component, so output never goes backwards.
func (g *ULIDGenerator) GenerateWithTime(t time.Time) (ULID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ts := uint64(t.UnixMilli())
	if ts <= g.lastTimestamp && g.lastTimestamp != 0 {
		ts = g.lastTimestamp
		g.incrementRandom()
	} else {
		if _, err := rand.Read(g.lastRandom[:]); err != nil {
			return ULID{}, err
		}
		g.lastTimestamp = ts
	}

	var u ULID
	for i := 0; i < 6; i++ {
		u[i] = byte(ts >> (40 - 8*uint(i)))
	}
	copy(u[6:], g.lastRandom[:])
	return u, nil
}

// incrementRandom adds one to the 80-bit random component (big-endian).
func (g *ULIDGenerator) incrementRandom() {
	for i := len(g.lastRandom) - 1; i >= 0; i-- {
		g.lastRandom[i]++
		if g.lastRandom[i] != 0 {
			return
		}
	}
}

// Timestamp returns the timestamp component in Unix milliseconds.
func (u ULID) Timestamp() uint64 {
	var ts uint64
	for i := 0; i < 6; i++ {
		ts = ts<<8 | uint64(u[i])
	}
	return ts
}

// Time returns the timestamp component as a time.Time.
func (u ULID) Time() time.Time {
	return time.UnixMilli(int64(u.Timestamp()))
}

// String returns the canonical 26-character Crockford Base32 form.
// The 128 bits are left-padded to 130 and emitted five bits at a time.
func (u ULID) String() string {
	var out [26]byte
	var acc uint32
	bits := uint(2) // leading pad bits
	idx := 0
	for _, b := range u {
		acc = acc<<8 | uint32(b)
		bits += 8
		for bits >= 5 {
			bits -= 5
			out[idx] = crockfordBase32[(acc>>bits)&31]
			idx++
		}
	}
	return string(out[:])
}

// Compare returns -1, 0 or 1 as u sorts before, equal to or after other.
func (u ULID) Compare(other ULID) int {
	for i := range u {
		switch {
		case u[i] < other[i]:
			return -1
		case u[i] > other[i]:
			return 1
		}
	}
	return 0
}
