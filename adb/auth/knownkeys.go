package auth

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"encoding/binary"
	"fmt"
	"sync"

	"golang.org/x/crypto/blake2b"
)

// KnownKeys remembers, per peer banner, the fingerprint of the key that
// banner accepted the first time it was checked; later checks compare
// against that fingerprint and never replace it. It exists so a process
// that connects to the same device more than once can flag a banner
// suddenly accepting a different key than it used to — the device's
// identity changed, or something is intercepting the connection.
//
// Fingerprints are keyed BLAKE2b-256 hashes rather than a plain hash of the
// key bytes, so the cache's own memory contents don't leak a usable
// key-identifying value to anything that reads process memory off-box.
type KnownKeys struct {
	macKey [32]byte

	mu   sync.RWMutex
	seen map[string][]byte // banner -> fingerprint
}

// NewKnownKeys builds a KnownKeys cache with a fresh random MAC key. The MAC
// key is process-local: fingerprints are stable only within one process's
// lifetime, which is all a reconnect-mismatch check needs.
func NewKnownKeys() (*KnownKeys, error) {
	k := &KnownKeys{seen: make(map[string][]byte)}
	if _, err := rand.Read(k.macKey[:]); err != nil {
		return nil, fmt.Errorf("known keys: generate mac key: %w", err)
	}
	return k, nil
}

func (k *KnownKeys) fingerprint(pub *rsa.PublicKey) ([]byte, error) {
	h, err := blake2b.New256(k.macKey[:])
	if err != nil {
		return nil, fmt.Errorf("known keys: init blake2b: %w", err)
	}
	h.Write(pub.N.Bytes())
	var eBuf [4]byte
	binary.BigEndian.PutUint32(eBuf[:], uint32(pub.E))
	h.Write(eBuf[:])
	return h.Sum(nil), nil
}

// Check records fingerprint(key) against banner if this is the first time
// the banner has been seen, otherwise reports whether it matches the
// fingerprint recorded at that first sighting. key may be nil when the peer never
// demanded authentication, in which case Check is a no-op that reports a
// match (nothing to compare).
func (k *KnownKeys) Check(banner string, key *PrivateKey) (matched bool, err error) {
	if key == nil {
		return true, nil
	}
	fp, err := k.fingerprint(&key.Signer.PublicKey)
	if err != nil {
		return false, err
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	prior, ok := k.seen[banner]
	if !ok {
		k.seen[banner] = fp
		return true, nil
	}
	return bytes.Equal(prior, fp), nil
}
