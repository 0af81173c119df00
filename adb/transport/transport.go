// Package transport implements the transport adapter contract spec.md §6
// describes abstractly: a pair of lazy packet streams carrying decoded ADB
// packets to and from a physical link. The dispatcher owns exactly one
// Transport for the lifetime of a connection; a broken Transport terminates
// every socket multiplexed over it (spec.md §1 Non-goals: no retry).
package transport

import (
	"context"
	"sync"

	"github.com/feilongproject/ya-webadb/adb/wire"
)

// Transport is the abstract duplex of decoded packets the dispatcher routes
// over. Concrete implementations (TCP, WebSocket, in-memory pipe) each own a
// physical link and are responsible for framing packets over it — one USB
// bulk read of the header, then a second of the payload, or one WebSocket
// message, etc (spec.md §6).
type Transport interface {
	// Recv blocks until the next decoded packet is available, the peer
	// disconnects (io.EOF), or ctx is canceled.
	Recv(ctx context.Context) (*wire.Packet, error)

	// Send encodes and writes one packet. Concurrent callers are serialized
	// internally: ADB packets are not reentrant at the wire level, so
	// multi-threaded implementations MUST funnel all writes through a single
	// mailbox (spec.md §5).
	Send(ctx context.Context, p *wire.Packet) error

	// SetNegotiated updates the connection parameters learned during the
	// handshake (spec.md §4.2): the negotiated maxPayloadSize bounds Recv's
	// decode, and checksumRequired gates both Send and Recv's checksum
	// handling. Called at most once, immediately after a successful CNXN
	// exchange.
	SetNegotiated(maxPayloadSize uint32, checksumRequired bool)

	// Close releases the underlying link. Idempotent.
	Close() error
}

// negotiated holds the mutable post-handshake connection parameters shared
// by every concrete Transport below.
type negotiated struct {
	mu               sync.RWMutex
	maxPayloadSize   uint32
	checksumRequired bool
}

func newNegotiated() *negotiated {
	return &negotiated{
		maxPayloadSize:   wire.DefaultMaxPayloadSize,
		checksumRequired: true,
	}
}

func (n *negotiated) set(maxPayloadSize uint32, checksumRequired bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.maxPayloadSize = maxPayloadSize
	n.checksumRequired = checksumRequired
}

func (n *negotiated) get() (maxPayloadSize uint32, checksumRequired bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.maxPayloadSize, n.checksumRequired
}
