package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var forgetCmd = &cobra.Command{
	Use:   "forget [room-id]",
	Short: "Drop stored room tokens so the next join asks for a password",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, _, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		roomID := ""
		if len(args) == 1 {
			roomID = args[0]
		}
		if err := a.Forget(ctx, roomID); err != nil {
			return err
		}
		if roomID == "" {
			fmt.Fprintln(cmd.OutOrStdout(), "forgot all room tokens")
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "forgot token for %s\n", roomID)
		}
		return nil
	},
}
