package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/feilongproject/ya-webadb/adb/auth"
	"github.com/feilongproject/ya-webadb/adb/dispatcher"
	"github.com/feilongproject/ya-webadb/adb/metrics"
	"github.com/feilongproject/ya-webadb/adb/transport"
)

// connect dials flagAddress, performs the handshake, and starts a
// Dispatcher over the resulting transport. Callers are responsible for
// closing the returned Dispatcher.
func connect(ctx context.Context) (*dispatcher.Dispatcher, *auth.State, error) {
	conn, err := net.Dial("tcp", flagAddress)
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s: %w", flagAddress, err)
	}
	t := transport.NewTCP(conn)

	keys, err := loadKeys(flagKeyFile)
	if err != nil {
		t.Close()
		return nil, nil, err
	}

	state, err := auth.Handshake(ctx, t, keys, "")
	if err != nil {
		t.Close()
		return nil, nil, fmt.Errorf("handshake: %w", err)
	}
	log.Info().Str("address", flagAddress).Str("banner", state.PeerBanner).Msg("[adb] connected")

	d := dispatcher.New(t, state, nil, metrics.New())
	return d, state, nil
}

// loadKeys reads a PEM-encoded RSA private key from path, or generates an
// ephemeral one if path is empty. The core never persists keys itself
// (spec.md §6 "Persisted state: None") — key storage is this client's
// concern, not the dispatcher's.
func loadKeys(path string) (auth.KeyProvider, error) {
	if path == "" {
		log.Warn().Msg("[adb] no --keyfile given, generating an ephemeral key for this session")
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return nil, fmt.Errorf("generate ephemeral key: %w", err)
		}
		return auth.StaticKeys{{Signer: key, Comment: "adb-cli@ephemeral"}}, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("%s: no PEM block found", path)
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%s: parse RSA private key: %w", path, err)
	}
	return auth.StaticKeys{{Signer: key, Comment: "adb-cli@" + hostnameOrUnknown()}}, nil
}

func hostnameOrUnknown() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}
