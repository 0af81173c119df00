// Command adb-bridge is an HTTP server that holds one authenticated
// connection to a real device and fans it out to many browser-hosted
// WebSocket clients, each driving its own logical socket through the
// shared Dispatcher. This is the concrete shape of the project this
// repository started from ("ya-webadb": yet another web ADB) — a
// host-side bridge from the dispatcher engine to a browser.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/feilongproject/ya-webadb/adb/auth"
	"github.com/feilongproject/ya-webadb/adb/dispatcher"
	"github.com/feilongproject/ya-webadb/adb/metrics"
	"github.com/feilongproject/ya-webadb/adb/service"
	"github.com/feilongproject/ya-webadb/adb/transport"
)

var (
	flagListen          string
	flagDeviceAddress   string
	flagDeviceTransport string
	flagOriginPattern   []string
)

var rootCmd = &cobra.Command{
	Use:   "adb-bridge",
	Short: "Bridge a single device connection to many browser WebSocket clients",
	RunE:  run,
}

func init() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagListen, "listen", envOr("BRIDGE_LISTEN", ":8022"), "HTTP listen address (env: BRIDGE_LISTEN)")
	flags.StringVar(&flagDeviceAddress, "device-address", envOr("BRIDGE_DEVICE_ADDRESS", "127.0.0.1:5555"), "device host:port (tcp) or ws(s):// URL (ws) to bridge (env: BRIDGE_DEVICE_ADDRESS)")
	flags.StringVar(&flagDeviceTransport, "device-transport", envOr("BRIDGE_DEVICE_TRANSPORT", "tcp"), `how to reach the device: "tcp" or "ws" (env: BRIDGE_DEVICE_TRANSPORT)`)
	flags.StringSliceVar(&flagOriginPattern, "allow-origin", nil, "WebSocket origin patterns to allow (empty = same-origin only)")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// dialDevice reaches the device over whichever physical link deviceTransport
// names: a raw TCP socket, or a WebSocket-speaking relay between this
// process and the device (e.g. a gateway that doesn't expose a bare TCP
// port). This is a different WebSocket leg from the one handleWebSocket
// serves to browsers: that one carries one socket's raw payload per
// message; this one carries one full encoded ADB packet per message, via
// adb/transport's WebSocket adapter, because the peer on this leg already
// speaks the ADB wire protocol.
func dialDevice(ctx context.Context, deviceTransport, address string) (transport.Transport, error) {
	switch deviceTransport {
	case "tcp":
		conn, err := net.Dial("tcp", address)
		if err != nil {
			return nil, err
		}
		return transport.NewTCP(conn), nil
	case "ws":
		return transport.DialWebSocket(ctx, address)
	default:
		return nil, fmt.Errorf("adb-bridge: unknown --device-transport %q (want \"tcp\" or \"ws\")", deviceTransport)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("[adb-bridge] command failed")
	}
}

func run(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	t, err := dialDevice(ctx, flagDeviceTransport, flagDeviceAddress)
	if err != nil {
		return err
	}

	// A bridge process speaks for itself, not for a particular user: it
	// generates a fresh key per run rather than loading one from disk. A
	// deployment that needs a stable identity can wire a persisted
	// auth.KeyProvider here; see DESIGN.md.
	provider, err := ephemeralKeys()
	if err != nil {
		return err
	}

	state, err := auth.Handshake(ctx, t, provider, "")
	if err != nil {
		m.AuthFailure()
		t.Close()
		return err
	}
	log.Info().Str("device", flagDeviceAddress).Str("banner", state.PeerBanner).Msg("[adb-bridge] connected to device")

	known, err := auth.NewKnownKeys()
	if err != nil {
		return err
	}
	if matched, err := known.Check(state.PeerBanner, state.AcceptedKey); err != nil {
		log.Warn().Err(err).Msg("[adb-bridge] known-key check failed")
	} else if !matched {
		log.Warn().Str("banner", state.PeerBanner).
			Msg("[adb-bridge] device banner accepted a different key than last time")
	}

	reg := service.NewRegistry()
	reg.Register("reverse:tcp:", newReverseTCPFactory())

	d := dispatcher.New(t, state, reg, m)
	defer d.Close()

	srv := &bridgeServer{dispatcher: d, metrics: m, originPatterns: flagOriginPattern}

	r := chi.NewRouter()
	r.Get("/healthz", srv.handleHealthz)
	r.Get("/metrics", srv.handleMetrics)
	r.Get("/ws", srv.handleWebSocket)

	httpSrv := &http.Server{Addr: flagListen, Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("listen", flagListen).Msg("[adb-bridge] serving")
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	select {
	case <-d.Done():
		log.Warn().Err(d.Err()).Msg("[adb-bridge] device dispatcher torn down")
	default:
	}
	return nil
}
