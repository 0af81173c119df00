package transport

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/feilongproject/ya-webadb/adb/internal/bufpool"
	"github.com/feilongproject/ya-webadb/adb/wire"
)

// ErrTransportClosed is returned by Recv/Send once Close has been called.
var ErrTransportClosed = errors.New("transport: closed")

type recvResult struct {
	pkt *wire.Packet
	err error
}

// tcpTransport implements Transport over any net.Conn: a raw TCP socket to
// "adb connect host:port", a USB-gadget-backed net.Conn, or (since net.Pipe
// satisfies net.Conn) the in-memory loopback pipe used by tests.
type tcpTransport struct {
	*negotiated

	conn net.Conn

	writeMu sync.Mutex

	recvCh chan recvResult

	closeOnce sync.Once
	closed    chan struct{}
}

// NewTCP wraps conn as a Transport and starts its background decode loop.
func NewTCP(conn net.Conn) Transport {
	t := &tcpTransport{
		negotiated: newNegotiated(),
		conn:       conn,
		recvCh:     make(chan recvResult, 1),
		closed:     make(chan struct{}),
	}
	go t.readLoop()
	return t
}

func (t *tcpTransport) readLoop() {
	for {
		maxPayloadSize, checksumRequired := t.get()
		pkt, err := wire.Decode(t.conn, maxPayloadSize, checksumRequired)
		select {
		case t.recvCh <- recvResult{pkt, err}:
		case <-t.closed:
			return
		}
		if err != nil {
			return
		}
	}
}

func (t *tcpTransport) Recv(ctx context.Context) (*wire.Packet, error) {
	select {
	case r := <-t.recvCh:
		return r.pkt, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.closed:
		return nil, ErrTransportClosed
	}
}

func (t *tcpTransport) Send(ctx context.Context, p *wire.Packet) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.closed:
		return ErrTransportClosed
	default:
	}

	_, checksumRequired := t.get()
	n := wire.HeaderSize + len(p.Payload)
	bp := bufpool.Get(n)
	defer bufpool.Put(bp)
	buf := p.EncodeInto(*bp, checksumRequired)

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_, err := t.conn.Write(buf)
	return err
}

func (t *tcpTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)
		err = t.conn.Close()
	})
	return err
}

// NewPipePair returns two Transports backed by a synchronous in-memory
// net.Pipe, letting tests drive a dispatcher against a scriptable fake peer
// without a real socket (the "mock transport" of spec.md §8 scenarios S1–S6).
func NewPipePair() (local, remote Transport) {
	c1, c2 := net.Pipe()
	return NewTCP(c1), NewTCP(c2)
}
