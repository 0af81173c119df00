// Package socket implements the logical ADB socket: a single multiplexed
// byte-stream channel identified by a (localId, remoteId) pair, with
// one-packet-in-flight write backpressure and ADB's two-phase close
// protocol (spec.md §4.3).
//
// A Socket never touches the transport directly. It is driven two ways:
// consumers call Write/Read/Close, and the dispatcher's routing loop calls
// the Handle* methods as packets addressed to this socket
// arrive. All dispatcher-facing calls are expected from a single goroutine
// (the routing loop), so the only mutex here guards the handful of fields
// consumers and the routing loop both touch.
package socket

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/feilongproject/ya-webadb/adb/wire"
)

// State is a socket's position in the OPENING/ESTABLISHED/HALF_CLOSED/CLOSED
// lifecycle (spec.md §3).
type State int

const (
	Opening State = iota
	Established
	HalfClosed
	Closed
)

func (s State) String() string {
	switch s {
	case Opening:
		return "OPENING"
	case Established:
		return "ESTABLISHED"
	case HalfClosed:
		return "HALF_CLOSED"
	case Closed:
		return "CLOSED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ErrClosed is returned by Read/Write once a socket has closed, locally or
// remotely, or the owning dispatcher tore down.
var ErrClosed = errors.New("socket: closed")

// Mailbox is the one path a Socket has to the wire: sending an already
// fully-formed packet. The dispatcher implements it directly over its
// transport, which is itself responsible for serializing concurrent writers
// (spec.md §5) — this breaks the socket/dispatcher reference cycle noted in
// spec.md §9 by giving the socket only a narrow capability, not a handle
// back to the full dispatcher.
type Mailbox interface {
	Send(ctx context.Context, pkt *wire.Packet) error
}

// Socket is one logical multiplexed channel.
type Socket struct {
	mailbox       Mailbox
	localID       uint32
	serviceString string
	localCreated  bool

	mu             sync.Mutex
	state          State
	remoteID       uint32
	maxPayloadSize uint32
	pendingAck     chan error // non-nil while a WRTE is outstanding

	inbound *byteQueue

	closeOnce sync.Once
	closedCh  chan struct{}
}

// New constructs a socket in OPENING state. remoteID is 0 until learned
// from the peer's OKAY (locally-opened sockets); callers opening a
// remotely-initiated socket should use NewEstablished instead.
func New(mailbox Mailbox, localID uint32, serviceString string, localCreated bool, maxPayloadSize uint32) *Socket {
	return &Socket{
		mailbox:        mailbox,
		localID:        localID,
		serviceString:  serviceString,
		localCreated:   localCreated,
		state:          Opening,
		maxPayloadSize: maxPayloadSize,
		inbound:        newByteQueue(),
		closedCh:       make(chan struct{}),
	}
}

// NewEstablished constructs a socket that is already ESTABLISHED, for the
// remotely-opened case where remoteId and the requested service string are
// both known from the inbound OPEN packet before the dispatcher ever hands
// the socket to a consumer.
func NewEstablished(mailbox Mailbox, localID, remoteID uint32, serviceString string, maxPayloadSize uint32) *Socket {
	s := New(mailbox, localID, serviceString, false, maxPayloadSize)
	s.state = Established
	s.remoteID = remoteID
	return s
}

// LocalID returns the id this side allocated for the socket.
func (s *Socket) LocalID() uint32 { return s.localID }

// RemoteID returns the peer's id for this socket, valid once ESTABLISHED.
func (s *Socket) RemoteID() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteID
}

// State returns the socket's current lifecycle state.
func (s *Socket) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ServiceString returns the service this socket was opened against: the
// string passed to Open for a locally-opened socket, or the one carried by
// the peer's OPEN for a remotely-opened socket.
func (s *Socket) ServiceString() string { return s.serviceString }

// Write chunks data into pieces of at most maxPayloadSize, sending one WRTE
// per chunk and waiting for its OKAY before sending the next (spec.md §4.3
// write path, one-in-flight invariant).
func (s *Socket) Write(ctx context.Context, data []byte) error {
	for len(data) > 0 {
		s.mu.Lock()
		if s.state != Established {
			s.mu.Unlock()
			return ErrClosed
		}
		chunkSize := int(s.maxPayloadSize)
		if chunkSize > len(data) {
			chunkSize = len(data)
		}
		chunk := data[:chunkSize]
		data = data[chunkSize:]

		ack := make(chan error, 1)
		s.pendingAck = ack
		remoteID := s.remoteID
		s.mu.Unlock()

		pkt := wire.New(wire.CmdWrte, s.localID, remoteID, chunk)
		if err := s.mailbox.Send(ctx, pkt); err != nil {
			s.failPending(err)
			return err
		}

		select {
		case err := <-ack:
			if err != nil {
				return err
			}
		case <-s.closedCh:
			return ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Read blocks until the next inbound WRTE payload is available or the
// socket closes.
func (s *Socket) Read(ctx context.Context) ([]byte, error) {
	return s.inbound.pop(ctx, s.closedCh)
}

// Close initiates the local half of ADB's two-phase close: it sends CLSE
// and transitions to HALF_CLOSED, but does not dispose local state — that
// happens once the peer's own CLSE arrives (spec.md §4.3), to avoid a race
// with in-flight WRTE/OKAY that would otherwise orphan a reused id.
func (s *Socket) Close(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case Closed, HalfClosed:
		s.mu.Unlock()
		return nil
	}
	s.state = HalfClosed
	remoteID := s.remoteID
	s.mu.Unlock()

	return s.mailbox.Send(ctx, wire.New(wire.CmdClse, s.localID, remoteID, nil))
}

// --- dispatcher-facing API; called only from the routing loop goroutine ---

// HandleOkay processes an OKAY addressed to this socket: if still OPENING,
// it learns remoteId and becomes ESTABLISHED (the caller should then
// resolve the opener); if ESTABLISHED, it resolves a pending write. A
// spurious OKAY (no write pending, already established) is a no-op.
func (s *Socket) HandleOkay(remoteID uint32) (becameEstablished bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case Opening:
		s.remoteID = remoteID
		s.state = Established
		return true
	case Established:
		if s.pendingAck != nil {
			ack := s.pendingAck
			s.pendingAck = nil
			ack <- nil
		}
	}
	return false
}

// HandleWrte enqueues an inbound payload for Read to consume. The caller
// (the routing loop) is responsible for sending the OKAY ack immediately
// after this returns, and before reading the next transport packet
// (spec.md §4.4 ack-back ordering).
func (s *Socket) HandleWrte(payload []byte) {
	s.inbound.push(payload)
}

// HandlePeerClose processes a CLSE addressed to this socket. If we had
// already initiated our own close (HALF_CLOSED), this completes the
// two-phase handshake and the socket disposes silently. If the peer
// initiated the close first (we were still ESTABLISHED), HandlePeerClose
// reports that the caller must reply with its own CLSE before disposing.
func (s *Socket) HandlePeerClose() (mustReplyClse bool) {
	s.mu.Lock()
	wasEstablished := s.state == Established
	s.mu.Unlock()

	s.Dispose(ErrClosed)
	return wasEstablished
}

// Dispose forcibly ends the socket: pending writes fail with err, the
// readable half ends, and state becomes CLOSED. Used for the close
// protocol's terminal transition and for dispatcher teardown (spec.md
// §4.4 teardown, §8 property 6).
func (s *Socket) Dispose(err error) {
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return
	}
	s.state = Closed
	pending := s.pendingAck
	s.pendingAck = nil
	s.mu.Unlock()

	if pending != nil {
		pending <- err
	}
	s.inbound.close()
	s.closeOnce.Do(func() { close(s.closedCh) })
}

func (s *Socket) failPending(err error) {
	s.mu.Lock()
	pending := s.pendingAck
	s.pendingAck = nil
	s.mu.Unlock()
	if pending != nil {
		pending <- err
	}
}
