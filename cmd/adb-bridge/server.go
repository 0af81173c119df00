package main

import (
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/feilongproject/ya-webadb/adb/auth"
	"github.com/feilongproject/ya-webadb/adb/dispatcher"
	"github.com/feilongproject/ya-webadb/adb/metrics"
)

func ephemeralKeys() (auth.KeyProvider, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generate ephemeral key: %w", err)
	}
	return auth.StaticKeys{{Signer: key, Comment: "adb-bridge@ephemeral"}}, nil
}

// bridgeServer fans one device Dispatcher out to many WebSocket clients.
type bridgeServer struct {
	dispatcher     *dispatcher.Dispatcher
	metrics        *metrics.Set
	originPatterns []string
}

func (s *bridgeServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	select {
	case <-s.dispatcher.Done():
		w.WriteHeader(http.StatusServiceUnavailable)
	default:
		w.WriteHeader(http.StatusOK)
	}
}

func (s *bridgeServer) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.metrics.WritePrometheus(w)
}

// handleWebSocket upgrades the request and opens exactly one logical
// socket against the device dispatcher per WebSocket connection, keyed by
// the "service" query parameter (e.g. "shell:logcat", "sync:"). This is a
// raw byte-relay framing, distinct from adb/transport's WebSocket adapter:
// each inbound binary message is socket payload, not an encoded ADB
// packet, since the browser client here is a plain byte-stream consumer of
// one multiplexed socket, not a second ADB dispatcher.
func (s *bridgeServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	service := r.URL.Query().Get("service")
	if service == "" {
		http.Error(w, "missing ?service= query parameter", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.originPatterns})
	if err != nil {
		log.Warn().Err(err).Msg("[adb-bridge] websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	// sessionID ties every log line for this WebSocket connection together,
	// since a single bridge process fans many of these out over one
	// Dispatcher and plain service names repeat across clients.
	sessionID := uuid.New().String()
	logger := log.With().Str("session", sessionID).Str("service", service).Logger()

	ctx := r.Context()
	sock, err := s.dispatcher.Open(ctx, service)
	if err != nil {
		logger.Warn().Err(err).Msg("[adb-bridge] open failed")
		_ = conn.Close(websocket.StatusInternalError, err.Error())
		return
	}
	defer sock.Close(ctx)
	logger.Info().Msg("[adb-bridge] session opened")
	defer logger.Info().Msg("[adb-bridge] session closed")

	done := make(chan struct{}, 2)
	go func() {
		defer func() { done <- struct{}{} }()
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			if err := sock.Write(ctx, data); err != nil {
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
			if err := conn.Write(ctx, websocket.MessageBinary, data); err != nil {
				return
			}
		}
	}()
	<-done
}
