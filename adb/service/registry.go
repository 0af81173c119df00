// Package service implements a default incoming-service handler: a
// prefix-matched registry of factories, the thin convenience layer
// SPEC_FULL.md describes over the dispatcher's incoming-service hook. It
// never interprets what flows through an accepted socket — shell, sync,
// and forward payloads are opaque bytes to this package, same as to the
// dispatcher itself.
package service

import (
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/feilongproject/ya-webadb/adb/socket"
)

// Factory is invoked once a service string matches a registered prefix. It
// takes ownership of sock — it is responsible for driving sock.Read/Write
// (typically from a freshly spawned goroutine) until the consumer is done
// with it.
type Factory func(sock *socket.Socket)

// Registry implements dispatcher.IncomingHandler by matching a remotely
// opened socket's service string against the longest registered prefix.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Factory
}

// NewRegistry returns an empty Registry; every inbound OPEN is rejected
// until factories are registered with Register.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Factory)}
}

// Register associates prefix (e.g. "shell:", "sync:", "tcp:", "reverse:")
// with a Factory. Registering the same prefix twice replaces the prior
// Factory.
func (r *Registry) Register(prefix string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[prefix] = factory
}

// Handle implements dispatcher.IncomingHandler. It never blocks on socket
// I/O itself: accepted sockets are handed to their Factory on a new
// goroutine, and Handle returns immediately so the routing loop can
// continue.
func (r *Registry) Handle(sock *socket.Socket) bool {
	factory, prefix, ok := r.match(sock.ServiceString())
	if !ok {
		return false
	}
	log.Debug().Str("prefix", prefix).Msg("[service] accepted incoming socket")
	go factory(sock)
	return true
}

func (r *Registry) match(serviceString string) (Factory, string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best string
	var bestFactory Factory
	for prefix, factory := range r.handlers {
		if strings.HasPrefix(serviceString, prefix) && len(prefix) > len(best) {
			best = prefix
			bestFactory = factory
		}
	}
	if bestFactory == nil {
		return nil, "", false
	}
	return bestFactory, best, true
}
