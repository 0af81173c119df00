// Package auth implements the ADB connection handshake: banner exchange,
// and, when the peer demands it, RSA challenge/response authentication
// followed by an interactive public-key offer (spec.md §4.2).
package auth

import (
	"errors"
)

// State holds everything learned about a connection during the handshake:
// the negotiated protocol version, the minimum of both sides' payload
// limits, the peer's banner, and whether the legacy checksum still applies.
type State struct {
	Version          uint32
	MaxPayloadSize   uint32
	PeerBanner       string
	ChecksumRequired bool

	// AcceptedKey is the key that was last offered, by signature or as the
	// public-key fallback, before the peer sent CNXN, or nil if the peer
	// never demanded authentication.
	// Callers use it with KnownKeys to notice a device banner accepting a
	// different key than it did last time.
	AcceptedKey *PrivateKey
}

// Handshake errors, per spec.md §7.
var (
	// ErrAuthRejected is returned when the transport closes mid-AUTH.
	ErrAuthRejected = errors.New("auth: rejected (transport closed during authentication)")
	// ErrNoKeys is returned when the peer demands authentication but the
	// KeyProvider offered zero private keys.
	ErrNoKeys = errors.New("auth: peer demanded authentication but no keys are available")
	// ErrProtocolViolation is returned for any unexpected command during
	// the handshake.
	ErrProtocolViolation = errors.New("auth: protocol violation during handshake")
)

// AUTH packet arg0 sub-types (spec.md §6, §4.2).
const (
	AuthToken        uint32 = 1
	AuthSignature    uint32 = 2
	AuthRSAPublicKey uint32 = 3
)

// tokenSize is the length, in bytes, of the challenge sent by the peer in
// an AUTH(TOKEN) packet.
const tokenSize = 20
