package main

import (
	"context"
	"net"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/feilongproject/ya-webadb/adb/service"
	"github.com/feilongproject/ya-webadb/adb/socket"
)

// newReverseTCPFactory builds a service.Factory for device-initiated
// "reverse:tcp:<port>" sockets: the device opens one of these when
// something on the device side connects to a port it was told to reverse
// forward, and expects this process to relay that connection to a local
// TCP service. Port-registration itself (the "reverse:forward:..." control
// channel real adbd exposes) is out of scope; this factory only handles the
// data-carrying socket adbd opens once a reverse forward is already known
// to it, dialing 127.0.0.1:<port> on the bridge host.
func newReverseTCPFactory() service.Factory {
	return func(sock *socket.Socket) {
		port := strings.TrimPrefix(sock.ServiceString(), "reverse:tcp:")
		logger := log.With().Str("service", sock.ServiceString()).Str("port", port).Logger()

		conn, err := net.Dial("tcp", "127.0.0.1:"+port)
		if err != nil {
			logger.Warn().Err(err).Msg("[adb-bridge] reverse dial failed")
			sock.Close(context.Background())
			return
		}
		defer conn.Close()

		ctx := context.Background()
		defer sock.Close(ctx)
		logger.Info().Msg("[adb-bridge] reverse socket opened")
		defer logger.Info().Msg("[adb-bridge] reverse socket closed")

		done := make(chan struct{}, 2)
		go func() {
			defer func() { done <- struct{}{} }()
			buf := make([]byte, 32*1024)
			for {
				n, err := conn.Read(buf)
				if n > 0 {
					if werr := sock.Write(ctx, buf[:n]); werr != nil {
						return
					}
				}
				if err != nil {
					return
				}
			}
		}()
		go func() {
			defer func() { done <- struct{}{} }()
			for {
				data, err := sock.Read(ctx)
				if err != nil {
					return
				}
				if _, werr := conn.Write(data); werr != nil {
					return
				}
			}
		}()
		<-done
	}
}
