// Package queryid provides the resolver's two uses of randomness and keyed
// hashing: cryptographically random DNS transaction IDs for outbound
// queries, and a DoS-resistant hash of a question set used as the cache's
// in-flight de-duplication key.
package queryid

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/dchest/siphash"
	"github.com/dnscached/dnscached/internal/dnsmessage"
)

// TransactionID generates a cryptographically random 16-bit transaction ID.
// NEVER use math/rand here: a predictable transaction ID lets an off-path
// attacker spoof a forwarder reply before the real one arrives.
func TransactionID() uint16 {
	var buf [2]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic(fmt.Sprintf("queryid: crypto/rand failed: %v", err))
	}
	return binary.BigEndian.Uint16(buf[:])
}

// Hasher computes siphash-2-4 digests of questions keyed with a random
// 128-bit secret generated once at process startup. Keying the hash prevents
// a remote sender from choosing question strings that collide in the
// in-flight map.
type Hasher struct {
	k0, k1 uint64
}

// NewHasher generates a fresh random key pair. One Hasher should be shared
// for the process lifetime; a new key per call would give the same question
// set a different in-flight key on each request.
func NewHasher() *Hasher {
	var keyBytes [16]byte
	if _, err := rand.Read(keyBytes[:]); err != nil {
		panic(fmt.Sprintf("queryid: crypto/rand failed: %v", err))
	}
	return &Hasher{
		k0: binary.BigEndian.Uint64(keyBytes[0:8]),
		k1: binary.BigEndian.Uint64(keyBytes[8:16]),
	}
}

// Question hashes a single question's (name, type, class) triple.
func (h *Hasher) Question(q dnsmessage.Question) uint64 {
	buf := []byte(q.Key())
	return siphash.Hash(h.k0, h.k1, buf)
}

// QuestionSet hashes a full, order-insensitive question set into a single
// key suitable for the in-flight de-duplication map: two datagrams asking
// the same questions in a different order must hash identically.
func (h *Hasher) QuestionSet(qs []dnsmessage.Question) uint64 {
	var combined uint64
	for _, q := range qs {
		combined ^= h.Question(q)
	}
	return combined
}
