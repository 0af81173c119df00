// Package metrics exposes per-dispatcher observability counters. This is
// ambient infrastructure, not protocol interpretation: it counts packets
// and bytes, never looks at payload contents.
package metrics

import (
	"io"

	"github.com/VictoriaMetrics/metrics"
)

// Set holds one dispatcher's counters, isolated from the process-wide
// default registry so multiple dispatchers (e.g. cmd/adb-bridge's one
// Dispatcher per device) can each be scraped or reset independently.
type Set struct {
	set *metrics.Set

	packetsRouted *metrics.Counter
	socketsOpen   *metrics.Counter
	bytesRead     *metrics.Counter
	bytesWritten  *metrics.Counter
	authFailures  *metrics.Counter
}

// New creates an isolated counter set. Pass the result to
// metrics.WritePrometheus (via Set.WritePrometheus) to expose it, typically
// behind a /metrics HTTP handler.
func New() *Set {
	s := metrics.NewSet()
	return &Set{
		set:           s,
		packetsRouted: s.NewCounter("adb_packets_routed_total"),
		socketsOpen:   s.NewCounter("adb_sockets_open"),
		bytesRead:     s.NewCounter("adb_bytes_read_total"),
		bytesWritten:  s.NewCounter("adb_bytes_written_total"),
		authFailures:  s.NewCounter("adb_auth_failures_total"),
	}
}

// PacketRouted records one packet handled by the dispatcher's routing loop,
// regardless of command.
func (s *Set) PacketRouted() {
	if s == nil {
		return
	}
	s.packetsRouted.Inc()
}

// SocketOpened records a socket transitioning into ESTABLISHED, whichever
// side initiated it.
func (s *Set) SocketOpened() {
	if s == nil {
		return
	}
	s.socketsOpen.Inc()
}

// BytesRead records payload bytes delivered to a socket's readable half.
func (s *Set) BytesRead(n int) {
	if s == nil {
		return
	}
	s.bytesRead.Add(n)
}

// BytesWritten records payload bytes accepted from a socket's write path.
func (s *Set) BytesWritten(n int) {
	if s == nil {
		return
	}
	s.bytesWritten.Add(n)
}

// AuthFailure records a failed handshake, whatever error ended it.
func (s *Set) AuthFailure() {
	if s == nil {
		return
	}
	s.authFailures.Inc()
}

// WritePrometheus renders the set in Prometheus exposition format.
func (s *Set) WritePrometheus(w io.Writer) {
	s.set.WritePrometheus(w)
}
