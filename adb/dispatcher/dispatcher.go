// Package dispatcher implements the ADB packet router: the component that
// owns a single transport, parses every inbound packet, routes payloads to
// the correct logical socket, and allocates local ids for sockets this side
// opens (spec.md §4.4).
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/feilongproject/ya-webadb/adb/auth"
	"github.com/feilongproject/ya-webadb/adb/metrics"
	"github.com/feilongproject/ya-webadb/adb/socket"
	"github.com/feilongproject/ya-webadb/adb/transport"
	"github.com/feilongproject/ya-webadb/adb/wire"
)

// Errors returned by Dispatcher, per spec.md §7.
var (
	// ErrServiceUnavailable fails a single Open call; it never tears down
	// the dispatcher.
	ErrServiceUnavailable = errors.New("dispatcher: service unavailable")
	// ErrProtocolViolation is fatal: it tears down the dispatcher.
	ErrProtocolViolation = errors.New("dispatcher: protocol violation")
	// ErrTransportFailed is fatal: it tears down the dispatcher.
	ErrTransportFailed = errors.New("dispatcher: transport failed")
	// ErrDispatcherClosed is returned by Open once the dispatcher has torn
	// down.
	ErrDispatcherClosed = errors.New("dispatcher: closed")
)

// IncomingHandler is invoked synchronously from the routing loop for every
// remotely-opened socket (spec.md §4.4 OPEN routing rule, §6 incoming
// service handler contract). Handle must not block for long — it runs on
// the single routing-loop goroutine — so an accepting handler typically
// spawns its own goroutine to drive sock.Read/Write and returns true
// immediately. Returning false rejects the connection.
type IncomingHandler interface {
	Handle(sock *socket.Socket) bool
}

// IncomingHandlerFunc adapts a function to IncomingHandler.
type IncomingHandlerFunc func(sock *socket.Socket) bool

func (f IncomingHandlerFunc) Handle(sock *socket.Socket) bool { return f(sock) }

type openEntry struct {
	sock   *socket.Socket
	result chan error // buffered 1; receives nil on success, an error otherwise
}

// Dispatcher owns one transport for the lifetime of a connection, routes
// inbound packets to logical sockets, and allocates local ids for sockets
// this side opens.
type Dispatcher struct {
	t       transport.Transport
	handler IncomingHandler

	nextID uint32 // atomic; pre-incremented, so first id is 1

	mu      sync.Mutex
	opening map[uint32]*openEntry // sockets still awaiting their first OKAY/CLSE
	live    map[uint32]*socket.Socket

	maxPayloadSize uint32
	metrics        *metrics.Set

	closeOnce sync.Once
	closedCh  chan struct{}
	closeErr  error
}

// New starts a Dispatcher's routing loop over an already-authenticated
// transport. state is the result of a prior auth.Handshake; handler may be
// nil, in which case every inbound OPEN is rejected. m may be nil, in which
// case no counters are recorded.
func New(t transport.Transport, state *auth.State, handler IncomingHandler, m *metrics.Set) *Dispatcher {
	d := &Dispatcher{
		t:              t,
		handler:        handler,
		opening:        make(map[uint32]*openEntry),
		live:           make(map[uint32]*socket.Socket),
		maxPayloadSize: state.MaxPayloadSize,
		metrics:        m,
		closedCh:       make(chan struct{}),
	}
	go d.run()
	return d
}

// Send implements socket.Mailbox by writing directly through the
// transport, which is itself responsible for serializing concurrent
// writers (spec.md §5) — no additional mailbox goroutine is needed.
func (d *Dispatcher) Send(ctx context.Context, pkt *wire.Packet) error {
	if pkt.Command == wire.CmdWrte {
		d.metrics.BytesWritten(len(pkt.Payload))
	}
	return d.t.Send(ctx, pkt)
}

// Open allocates a new logical socket and asks the peer to open serviceString
// against it (spec.md §4.4). It blocks until the peer answers with OKAY
// (success) or CLSE (ErrServiceUnavailable), the dispatcher tears down, or
// ctx is canceled — in which case Open sends CLSE(localId, 0) to cancel the
// pending open on the peer's side before returning ctx.Err().
func (d *Dispatcher) Open(ctx context.Context, serviceString string) (*socket.Socket, error) {
	localID := d.allocID()
	sock := socket.New(d, localID, serviceString, true, d.maxPayloadSize)
	entry := &openEntry{sock: sock, result: make(chan error, 1)}

	d.mu.Lock()
	d.opening[localID] = entry
	d.mu.Unlock()

	payload := append([]byte(serviceString), 0)
	if err := d.t.Send(ctx, wire.New(wire.CmdOpen, localID, 0, payload)); err != nil {
		d.removeOpening(localID)
		return nil, fmt.Errorf("dispatcher: send OPEN: %w", err)
	}

	select {
	case err := <-entry.result:
		if err != nil {
			return nil, err
		}
		return sock, nil
	case <-d.closedCh:
		d.removeOpening(localID)
		return nil, ErrDispatcherClosed
	case <-ctx.Done():
		d.removeOpening(localID)
		_ = d.t.Send(context.Background(), wire.New(wire.CmdClse, localID, 0, nil))
		return nil, ctx.Err()
	}
}

func (d *Dispatcher) allocID() uint32 {
	// Monotonically increasing, skipping 0 (spec.md §3 invariant 1). After
	// the counter wraps at 2^32, ids still present in the socket table are
	// skipped as well.
	for {
		id := atomic.AddUint32(&d.nextID, 1)
		if id == 0 {
			continue
		}
		d.mu.Lock()
		_, inOpening := d.opening[id]
		_, inLive := d.live[id]
		d.mu.Unlock()
		if !inOpening && !inLive {
			return id
		}
	}
}

func (d *Dispatcher) removeOpening(localID uint32) {
	d.mu.Lock()
	delete(d.opening, localID)
	d.mu.Unlock()
}

// run is the routing loop: the single goroutine that reads the transport,
// mutates the socket table, and replies to control packets. It moves
// entries from d.opening to d.live and removes closed sockets; Open also
// adds and removes its own d.opening entry, and teardown replaces both
// maps. Every such write happens under d.mu.
func (d *Dispatcher) run() {
	ctx := context.Background()
	for {
		pkt, err := d.t.Recv(ctx)
		if err != nil {
			d.teardown(fmt.Errorf("%w: %v", ErrTransportFailed, err))
			return
		}

		d.metrics.PacketRouted()

		switch pkt.Command {
		case wire.CmdWrte:
			d.handleWrte(ctx, pkt)
		case wire.CmdOkay:
			d.handleOkay(pkt)
		case wire.CmdClse:
			d.handleClse(ctx, pkt)
		case wire.CmdOpen:
			d.handleOpen(ctx, pkt)
		case wire.CmdSync:
			// Historically a keepalive; ignored (spec.md §4.4).
		default:
			d.teardown(fmt.Errorf("%w: unexpected command %v", ErrProtocolViolation, pkt.Command))
			return
		}
	}
}

func (d *Dispatcher) handleWrte(ctx context.Context, pkt *wire.Packet) {
	localID := pkt.Arg1
	remoteID := pkt.Arg0

	d.mu.Lock()
	sock, ok := d.live[localID]
	d.mu.Unlock()

	if !ok {
		// Unknown or still-OPENING id: tell the peer it's dead (spec.md
		// §4.4 WRTE routing rule).
		_ = d.t.Send(ctx, wire.New(wire.CmdClse, 0, remoteID, nil))
		return
	}

	if uint32(len(pkt.Payload)) > d.maxPayloadSize {
		d.teardown(fmt.Errorf("%w: WRTE payload %d exceeds negotiated max %d", ErrProtocolViolation, len(pkt.Payload), d.maxPayloadSize))
		return
	}

	// Accept into the inbound queue before acking: acking first would let
	// the peer send another WRTE before we have safely buffered this one
	// (spec.md §4.4 ack-back ordering).
	sock.HandleWrte(pkt.Payload)
	d.metrics.BytesRead(len(pkt.Payload))
	if err := d.t.Send(ctx, wire.New(wire.CmdOkay, localID, remoteID, nil)); err != nil {
		log.Warn().Err(err).Uint32("local_id", localID).Msg("[dispatcher] failed to ack WRTE")
	}
}

func (d *Dispatcher) handleOkay(pkt *wire.Packet) {
	remoteID := pkt.Arg0
	localID := pkt.Arg1

	d.mu.Lock()
	entry, isOpening := d.opening[localID]
	sock, isLive := d.live[localID]
	d.mu.Unlock()

	if isOpening {
		entry.sock.HandleOkay(remoteID)
		d.mu.Lock()
		delete(d.opening, localID)
		d.live[localID] = entry.sock
		d.mu.Unlock()
		d.metrics.SocketOpened()
		entry.result <- nil
		return
	}
	if isLive {
		sock.HandleOkay(remoteID)
		return
	}
	// Spurious OKAY for an id we no longer track: tolerated (spec.md §4.4).
}

func (d *Dispatcher) handleClse(ctx context.Context, pkt *wire.Packet) {
	remoteID := pkt.Arg0
	localID := pkt.Arg1

	d.mu.Lock()
	entry, isOpening := d.opening[localID]
	sock, isLive := d.live[localID]
	d.mu.Unlock()

	if isOpening {
		d.removeOpening(localID)
		entry.sock.Dispose(ErrServiceUnavailable)
		entry.result <- ErrServiceUnavailable
		return
	}
	if !isLive {
		// Unknown local id: silently dropped (spec.md §4.4).
		return
	}

	mustReply := sock.HandlePeerClose()
	d.mu.Lock()
	delete(d.live, localID)
	d.mu.Unlock()

	if mustReply {
		_ = d.t.Send(ctx, wire.New(wire.CmdClse, localID, remoteID, nil))
	}
}

func (d *Dispatcher) handleOpen(ctx context.Context, pkt *wire.Packet) {
	remoteID := pkt.Arg0
	serviceString := trimNulSuffix(pkt.Payload)

	if d.handler == nil {
		_ = d.t.Send(ctx, wire.New(wire.CmdClse, 0, remoteID, nil))
		return
	}

	localID := d.allocID()
	sock := socket.NewEstablished(d, localID, remoteID, serviceString, d.maxPayloadSize)

	if !d.handler.Handle(sock) {
		_ = d.t.Send(ctx, wire.New(wire.CmdClse, 0, remoteID, nil))
		return
	}

	d.mu.Lock()
	d.live[localID] = sock
	d.mu.Unlock()
	d.metrics.SocketOpened()

	if err := d.t.Send(ctx, wire.New(wire.CmdOkay, localID, remoteID, nil)); err != nil {
		log.Warn().Err(err).Uint32("local_id", localID).Str("service", serviceString).
			Msg("[dispatcher] failed to ack inbound OPEN")
	}
}

// teardown ends every outstanding socket and open() call with err and
// releases the transport (spec.md §4.4 teardown, §8 property 6).
func (d *Dispatcher) teardown(err error) {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		opening := d.opening
		live := d.live
		d.opening = make(map[uint32]*openEntry)
		d.live = make(map[uint32]*socket.Socket)
		d.closeErr = err
		d.mu.Unlock()

		for _, entry := range opening {
			entry.sock.Dispose(err)
			entry.result <- err
		}
		for _, sock := range live {
			sock.Dispose(err)
		}

		log.Error().Err(err).Msg("[dispatcher] torn down")
		_ = d.t.Close()
		close(d.closedCh)
	})
}

// Close tears the dispatcher down from the caller's side: every socket is
// disposed and the transport released, same as a transport failure.
func (d *Dispatcher) Close() error {
	d.teardown(ErrDispatcherClosed)
	return nil
}

// Done returns a channel closed once the dispatcher has torn down, and Err
// reports why.
func (d *Dispatcher) Done() <-chan struct{} { return d.closedCh }

func (d *Dispatcher) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closeErr
}

func trimNulSuffix(b []byte) string {
	if n := len(b); n > 0 && b[n-1] == 0 {
		b = b[:n-1]
	}
	return string(b)
}
