package main

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/feilongproject/ya-webadb/adb/socket"
)

var shellCmd = &cobra.Command{
	Use:   "shell [command...]",
	Short: "Run a command on the device and stream its output",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		d, _, err := connect(ctx)
		if err != nil {
			return err
		}
		defer d.Close()

		service := "shell:" + strings.Join(args, " ")
		sock, err := d.Open(ctx, service)
		if err != nil {
			return err
		}
		defer sock.Close(ctx)

		for {
			data, err := sock.Read(ctx)
			if err != nil {
				if errors.Is(err, socket.ErrClosed) || errors.Is(err, io.EOF) {
					return nil
				}
				return err
			}
			if _, err := os.Stdout.Write(data); err != nil {
				return err
			}
		}
	},
}
