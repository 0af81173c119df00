package metrics

import (
	"bytes"
	"strings"
	"testing"
)

func TestSetRecordsCounters(t *testing.T) {
	s := New()
	s.PacketRouted()
	s.PacketRouted()
	s.SocketOpened()
	s.BytesRead(10)
	s.BytesWritten(3)
	s.AuthFailure()

	var buf bytes.Buffer
	s.WritePrometheus(&buf)
	out := buf.String()

	for _, want := range []string{
		"adb_packets_routed_total 2",
		"adb_sockets_open 1",
		"adb_bytes_read_total 10",
		"adb_bytes_written_total 3",
		"adb_auth_failures_total 1",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestNilSetIsSafe(t *testing.T) {
	var s *Set
	s.PacketRouted()
	s.SocketOpened()
	s.BytesRead(1)
	s.BytesWritten(1)
	s.AuthFailure()
}
