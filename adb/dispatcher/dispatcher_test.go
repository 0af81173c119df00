package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/feilongproject/ya-webadb/adb/auth"
	"github.com/feilongproject/ya-webadb/adb/socket"
	"github.com/feilongproject/ya-webadb/adb/transport"
	"github.com/feilongproject/ya-webadb/adb/wire"
)

func withTimeout(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func newTestPair(t *testing.T, maxPayloadSize uint32, handler IncomingHandler) (*Dispatcher, transport.Transport) {
	t.Helper()
	local, peer := transport.NewPipePair()
	t.Cleanup(func() { peer.Close() })
	state := &auth.State{MaxPayloadSize: maxPayloadSize}
	d := New(local, state, handler, nil)
	return d, peer
}

// S1 — open/write/close.
func TestOpenWriteCloseScenario(t *testing.T) {
	d, peer := newTestPair(t, 1<<18, nil)
	ctx := withTimeout(t)

	openErr := make(chan error, 1)
	var sock *socket.Socket
	go func() {
		var err error
		sock, err = d.Open(ctx, "shell:echo hi")
		openErr <- err
	}()

	open, err := peer.Recv(ctx)
	if err != nil {
		t.Fatalf("peer recv OPEN: %v", err)
	}
	if open.Command != wire.CmdOpen || open.Arg0 != 1 || open.Arg1 != 0 {
		t.Fatalf("unexpected OPEN: %+v", open)
	}
	if string(open.Payload) != "shell:echo hi\x00" {
		t.Fatalf("OPEN payload = %q", open.Payload)
	}

	if err := peer.Send(ctx, wire.New(wire.CmdOkay, 7, 1, nil)); err != nil {
		t.Fatalf("peer send OKAY: %v", err)
	}
	if err := <-openErr; err != nil {
		t.Fatalf("Open: %v", err)
	}
	if sock.LocalID() != 1 || sock.RemoteID() != 7 {
		t.Fatalf("sock ids = (%d,%d), want (1,7)", sock.LocalID(), sock.RemoteID())
	}

	writeErr := make(chan error, 1)
	go func() { writeErr <- sock.Write(ctx, []byte{0x41, 0x42}) }()

	wrte, err := peer.Recv(ctx)
	if err != nil {
		t.Fatalf("peer recv WRTE: %v", err)
	}
	if wrte.Command != wire.CmdWrte || wrte.Arg0 != 1 || wrte.Arg1 != 7 {
		t.Fatalf("unexpected WRTE: %+v", wrte)
	}
	if err := peer.Send(ctx, wire.New(wire.CmdOkay, 7, 1, nil)); err != nil {
		t.Fatalf("peer send OKAY: %v", err)
	}
	if err := <-writeErr; err != nil {
		t.Fatalf("Write: %v", err)
	}

	if err := peer.Send(ctx, wire.New(wire.CmdWrte, 7, 1, []byte{0x43})); err != nil {
		t.Fatalf("peer send WRTE: %v", err)
	}
	ack, err := peer.Recv(ctx)
	if err != nil {
		t.Fatalf("peer recv ack: %v", err)
	}
	if ack.Command != wire.CmdOkay || ack.Arg0 != 1 || ack.Arg1 != 7 {
		t.Fatalf("unexpected ack: %+v", ack)
	}
	data, err := sock.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(data) != 1 || data[0] != 0x43 {
		t.Fatalf("Read = %v, want [0x43]", data)
	}

	if err := sock.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	clse, err := peer.Recv(ctx)
	if err != nil {
		t.Fatalf("peer recv CLSE: %v", err)
	}
	if clse.Command != wire.CmdClse || clse.Arg0 != 1 || clse.Arg1 != 7 {
		t.Fatalf("unexpected CLSE: %+v", clse)
	}
	if err := peer.Send(ctx, wire.New(wire.CmdClse, 7, 1, nil)); err != nil {
		t.Fatalf("peer send CLSE: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for sock.State() != socket.Closed && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if sock.State() != socket.Closed {
		t.Fatalf("state = %v, want Closed", sock.State())
	}
}

// S2 — rejected open.
func TestRejectedOpenScenario(t *testing.T) {
	d, peer := newTestPair(t, 1<<18, nil)
	ctx := withTimeout(t)

	openErr := make(chan error, 1)
	go func() {
		_, err := d.Open(ctx, "bogus:")
		openErr <- err
	}()

	open, err := peer.Recv(ctx)
	if err != nil {
		t.Fatalf("peer recv OPEN: %v", err)
	}
	if open.Arg0 != 1 {
		t.Fatalf("localID = %d, want 1", open.Arg0)
	}

	if err := peer.Send(ctx, wire.New(wire.CmdClse, 0, 1, nil)); err != nil {
		t.Fatalf("peer send CLSE: %v", err)
	}

	if err := <-openErr; err != ErrServiceUnavailable {
		t.Fatalf("Open err = %v, want ErrServiceUnavailable", err)
	}
}

// S3 — fragmented write.
func TestFragmentedWriteScenario(t *testing.T) {
	d, peer := newTestPair(t, 4, nil)
	ctx := withTimeout(t)

	openErr := make(chan error, 1)
	var sock *socket.Socket
	go func() {
		var err error
		sock, err = d.Open(ctx, "shell:")
		openErr <- err
	}()
	if _, err := peer.Recv(ctx); err != nil {
		t.Fatalf("peer recv OPEN: %v", err)
	}
	if err := peer.Send(ctx, wire.New(wire.CmdOkay, 7, 1, nil)); err != nil {
		t.Fatalf("peer send OKAY: %v", err)
	}
	if err := <-openErr; err != nil {
		t.Fatalf("Open: %v", err)
	}

	writeErr := make(chan error, 1)
	go func() { writeErr <- sock.Write(ctx, make([]byte, 10)) }()

	wantSizes := []int{4, 4, 2}
	for _, want := range wantSizes {
		pkt, err := peer.Recv(ctx)
		if err != nil {
			t.Fatalf("peer recv WRTE: %v", err)
		}
		if len(pkt.Payload) != want {
			t.Fatalf("chunk size = %d, want %d", len(pkt.Payload), want)
		}
		if err := peer.Send(ctx, wire.New(wire.CmdOkay, 7, 1, nil)); err != nil {
			t.Fatalf("peer send OKAY: %v", err)
		}
	}

	if err := <-writeErr; err != nil {
		t.Fatalf("Write: %v", err)
	}
}

// S5 — transport failure mid-write.
func TestTransportFailureMidWriteScenario(t *testing.T) {
	d, peer := newTestPair(t, 1<<18, nil)
	ctx := withTimeout(t)

	openErr := make(chan error, 1)
	var sock *socket.Socket
	go func() {
		var err error
		sock, err = d.Open(ctx, "shell:")
		openErr <- err
	}()
	if _, err := peer.Recv(ctx); err != nil {
		t.Fatalf("peer recv OPEN: %v", err)
	}
	if err := peer.Send(ctx, wire.New(wire.CmdOkay, 7, 1, nil)); err != nil {
		t.Fatalf("peer send OKAY: %v", err)
	}
	if err := <-openErr; err != nil {
		t.Fatalf("Open: %v", err)
	}

	writeErr := make(chan error, 1)
	go func() { writeErr <- sock.Write(ctx, []byte{0x01}) }()
	if _, err := peer.Recv(ctx); err != nil {
		t.Fatalf("peer recv WRTE: %v", err)
	}

	peer.Close() // simulate transport failure

	select {
	case err := <-writeErr:
		if err == nil {
			t.Fatal("expected Write to fail after transport failure")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Write did not fail within bounded time")
	}

	select {
	case <-d.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not tear down within bounded time")
	}
}

// S6 — reverse open.
func TestReverseOpenScenario(t *testing.T) {
	t.Run("no handler", func(t *testing.T) {
		d, peer := newTestPair(t, 1<<18, nil)
		_ = d
		ctx := withTimeout(t)

		if err := peer.Send(ctx, wire.New(wire.CmdOpen, 9, 0, []byte("reverse:forward:tcp:1234\x00"))); err != nil {
			t.Fatalf("peer send OPEN: %v", err)
		}
		clse, err := peer.Recv(ctx)
		if err != nil {
			t.Fatalf("peer recv CLSE: %v", err)
		}
		if clse.Command != wire.CmdClse || clse.Arg0 != 0 || clse.Arg1 != 9 {
			t.Fatalf("unexpected CLSE: %+v", clse)
		}
	})

	t.Run("accepting handler", func(t *testing.T) {
		var accepted *socket.Socket
		handler := IncomingHandlerFunc(func(sock *socket.Socket) bool {
			accepted = sock
			return true
		})
		_, peer := newTestPair(t, 1<<18, handler)
		ctx := withTimeout(t)

		if err := peer.Send(ctx, wire.New(wire.CmdOpen, 9, 0, []byte("reverse:forward:tcp:1234\x00"))); err != nil {
			t.Fatalf("peer send OPEN: %v", err)
		}
		okay, err := peer.Recv(ctx)
		if err != nil {
			t.Fatalf("peer recv OKAY: %v", err)
		}
		if okay.Command != wire.CmdOkay || okay.Arg1 != 9 {
			t.Fatalf("unexpected OKAY: %+v", okay)
		}
		if accepted == nil || accepted.LocalID() != okay.Arg0 {
			t.Fatalf("handler socket local id mismatch: %+v", accepted)
		}
		if accepted.State() != socket.Established {
			t.Fatalf("accepted socket state = %v, want Established", accepted.State())
		}
	})
}

func TestTeardownFailsEveryPendingOperation(t *testing.T) {
	d, peer := newTestPair(t, 1<<18, nil)
	ctx := withTimeout(t)

	openErr := make(chan error, 1)
	var sock *socket.Socket
	go func() {
		var err error
		sock, err = d.Open(ctx, "shell:")
		openErr <- err
	}()
	if _, err := peer.Recv(ctx); err != nil {
		t.Fatalf("peer recv OPEN: %v", err)
	}
	if err := peer.Send(ctx, wire.New(wire.CmdOkay, 7, 1, nil)); err != nil {
		t.Fatalf("peer send OKAY: %v", err)
	}
	if err := <-openErr; err != nil {
		t.Fatalf("Open: %v", err)
	}

	readErr := make(chan error, 1)
	go func() {
		_, err := sock.Read(ctx)
		readErr <- err
	}()

	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case err := <-readErr:
		if err == nil {
			t.Fatal("expected Read to fail after dispatcher teardown")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Read did not fail within bounded time")
	}
	if sock.State() != socket.Closed {
		t.Fatalf("state = %v, want Closed", sock.State())
	}
}
