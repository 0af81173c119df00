package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "Connect to the configured address and print the device's banner",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		d, state, err := connect(ctx)
		if err != nil {
			return err
		}
		defer d.Close()

		fmt.Printf("%s\tdevice\t%s\n", flagAddress, state.PeerBanner)
		return nil
	},
}
