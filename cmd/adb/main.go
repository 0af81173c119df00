// Command adb is a thin command-line client exercising the dispatcher end
// to end: it performs a real handshake over TCP against a device (the TCP
// endpoint of an adb-tcpip-enabled device) and drives its commands entirely through dispatcher.Open and Socket
// reads/writes. It is a consumer of the core engine, not part of it.
package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	flagAddress string
	flagKeyFile string
)

var rootCmd = &cobra.Command{
	Use:   "adb",
	Short: "A host-side Android Debug Bridge client",
}

func init() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagAddress, "address", envOr("ADB_ADDRESS", "127.0.0.1:5555"), "device address, host:port (env: ADB_ADDRESS)")
	flags.StringVar(&flagKeyFile, "keyfile", envOr("ADB_KEYFILE", ""), "PEM-encoded RSA private key used for authentication; an ephemeral key is generated if empty (env: ADB_KEYFILE)")

	rootCmd.AddCommand(devicesCmd, shellCmd, forwardCmd)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("[adb] command failed")
	}
}
