package auth

import "crypto/rsa"

// PrivateKey pairs an RSA key with the label adbd shows its user when it
// falls back to the interactive public-key prompt ("user@host" by
// convention).
type PrivateKey struct {
	Signer  *rsa.PrivateKey
	Comment string
}

// KeyProvider supplies the private keys tried, in order, against an AUTH
// challenge. Persisted key storage (e.g. ~/.android/adbkey) is an external
// collaborator; this package only consumes whatever KeyProvider returns.
type KeyProvider interface {
	Keys() []*PrivateKey
}

// StaticKeys is a KeyProvider backed by a fixed, in-memory slice.
type StaticKeys []*PrivateKey

// Keys implements KeyProvider.
func (s StaticKeys) Keys() []*PrivateKey { return s }

// NoKeys is a KeyProvider that never offers a key; peers that demand
// authentication will fail the handshake with ErrNoKeys.
var NoKeys KeyProvider = StaticKeys(nil)
