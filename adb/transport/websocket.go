package transport

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/feilongproject/ya-webadb/adb/internal/bufpool"
	"github.com/feilongproject/ya-webadb/adb/wire"
)

// wsTransport implements Transport over a github.com/coder/websocket
// connection, framing exactly one ADB packet (header + payload) per binary
// WebSocket message. cmd/adb-bridge speaks it on its device-facing leg when
// the device is only reachable through a WebSocket-speaking relay; the
// bridge's browser-facing /ws endpoint does not use it and relays raw socket
// payload bytes instead.
type wsTransport struct {
	*negotiated

	conn *websocket.Conn

	writeMu sync.Mutex
}

// NewWebSocket wraps an already-accepted or already-dialed *websocket.Conn.
func NewWebSocket(conn *websocket.Conn) Transport {
	return &wsTransport{negotiated: newNegotiated(), conn: conn}
}

// AcceptWebSocket upgrades an incoming HTTP request to a WebSocket and wraps
// it as a Transport. originPatterns follows websocket.AcceptOptions'
// OriginPatterns (empty means same-origin only).
func AcceptWebSocket(w http.ResponseWriter, r *http.Request, originPatterns []string) (Transport, error) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: originPatterns,
	})
	if err != nil {
		return nil, fmt.Errorf("transport: websocket accept: %w", err)
	}
	return NewWebSocket(conn), nil
}

// DialWebSocket connects to a WebSocket server speaking the ADB bridge
// protocol and wraps the connection as a Transport.
func DialWebSocket(ctx context.Context, url string) (Transport, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: websocket dial: %w", err)
	}
	return NewWebSocket(conn), nil
}

func (t *wsTransport) Recv(ctx context.Context) (*wire.Packet, error) {
	msgType, data, err := t.conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	if msgType != websocket.MessageBinary {
		return nil, fmt.Errorf("transport: unexpected websocket message type %v", msgType)
	}

	maxPayloadSize, checksumRequired := t.get()
	r := bytes.NewReader(data)
	pkt, err := wire.Decode(r, maxPayloadSize, checksumRequired)
	if err != nil {
		return nil, err
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("transport: %d trailing bytes in websocket frame", r.Len())
	}
	return pkt, nil
}

func (t *wsTransport) Send(ctx context.Context, p *wire.Packet) error {
	_, checksumRequired := t.get()
	n := wire.HeaderSize + len(p.Payload)
	bp := bufpool.Get(n)
	defer bufpool.Put(bp)
	buf := p.EncodeInto(*bp, checksumRequired)

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.Write(ctx, websocket.MessageBinary, buf)
}

func (t *wsTransport) Close() error {
	return t.conn.Close(websocket.StatusNormalClosure, "transport closed")
}
