package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/feilongproject/ya-webadb/adb/socket"
	"github.com/feilongproject/ya-webadb/adb/wire"
)

// discardMailbox satisfies socket.Mailbox without a real dispatcher: these
// tests only exercise Registry's matching and dispatch, not wire traffic.
type discardMailbox struct{}

func (discardMailbox) Send(ctx context.Context, pkt *wire.Packet) error { return nil }

func newTestSocket(serviceString string) *socket.Socket {
	return socket.NewEstablished(discardMailbox{}, 1, 2, serviceString, 4096)
}

func TestRegistryMatchesLongestPrefix(t *testing.T) {
	r := NewRegistry()

	var generic, specific string
	var mu sync.Mutex
	record := func(dst *string, value string) Factory {
		return func(sock *socket.Socket) {
			mu.Lock()
			*dst = value
			mu.Unlock()
		}
	}

	r.Register("shell:", record(&generic, "generic"))
	r.Register("shell:exec:", record(&specific, "specific"))

	done := make(chan struct{})
	go func() {
		ok := r.Handle(newTestSocket("shell:exec:ls"))
		if !ok {
			t.Error("Handle returned false for a registered prefix")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Handle did not return")
	}

	// Factory runs on its own goroutine; give it a moment to run.
	deadline := time.After(time.Second)
	for {
		mu.Lock()
		got := specific
		mu.Unlock()
		if got == "specific" {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("specific factory never ran; generic=%q specific=%q", generic, got)
		case <-time.After(time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if generic != "" {
		t.Fatalf("generic factory should not have run, got %q", generic)
	}
}

func TestRegistryRejectsUnregisteredService(t *testing.T) {
	r := NewRegistry()
	r.Register("shell:", func(sock *socket.Socket) {
		t.Fatal("factory must not run for a non-matching service")
	})

	if r.Handle(newTestSocket("sync:")) {
		t.Fatal("Handle returned true for an unregistered prefix")
	}
}

func TestRegistryReregisteringPrefixReplacesFactory(t *testing.T) {
	r := NewRegistry()
	ran := make(chan string, 1)

	r.Register("tcp:", func(sock *socket.Socket) { ran <- "first" })
	r.Register("tcp:", func(sock *socket.Socket) { ran <- "second" })

	if !r.Handle(newTestSocket("tcp:8080")) {
		t.Fatal("Handle returned false for a registered prefix")
	}

	select {
	case got := <-ran:
		if got != "second" {
			t.Fatalf("factory = %q, want %q", got, "second")
		}
	case <-time.After(time.Second):
		t.Fatal("no factory ran")
	}
}
