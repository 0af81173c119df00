package main

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/feilongproject/ya-webadb/adb/dispatcher"
	"github.com/feilongproject/ya-webadb/adb/socket"
)

var forwardCmd = &cobra.Command{
	Use:   "forward <local-port> <remote-port>",
	Short: "Forward a local TCP port to a device TCP port",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		d, _, err := connect(ctx)
		if err != nil {
			return err
		}
		defer d.Close()

		ln, err := net.Listen("tcp", ":"+args[0])
		if err != nil {
			return fmt.Errorf("listen on local port %s: %w", args[0], err)
		}
		defer ln.Close()
		log.Info().Str("local", args[0]).Str("remote", args[1]).Msg("[adb] forwarding")

		for {
			conn, err := ln.Accept()
			if err != nil {
				return err
			}
			go forwardConn(ctx, d, conn, args[1])
		}
	},
}

func forwardConn(ctx context.Context, d *dispatcher.Dispatcher, conn net.Conn, remotePort string) {
	defer conn.Close()

	sock, err := d.Open(ctx, "tcp:"+remotePort)
	if err != nil {
		log.Warn().Err(err).Str("remote", remotePort).Msg("[adb] open failed")
		return
	}
	defer sock.Close(ctx)

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
				if errors.Is(err, socket.ErrClosed) {
					return
				}
				return
			}
			if _, werr := conn.Write(data); werr != nil {
				return
			}
		}
	}()
	<-done
}
