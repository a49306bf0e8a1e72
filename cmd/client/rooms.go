package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirechat-client/internal/app"
	"github.com/vovakirdan/wirechat-client/internal/proto"
)

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "List rooms with their occupancy",
	Args:  cobra.NoArgs,
	RunE:  runRooms,
}

var flagWait time.Duration

func init() {
	roomsCmd.Flags().DurationVar(&flagWait, "wait", 2*time.Second, "how long to wait for occupancy from the server")
}

func runRooms(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), flagWait)
	defer cancel()

	a, _, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Start(ctx); err != nil {
		return err
	}
	if err := a.Directory.LoadError(); err != nil {
		return fmt.Errorf("load rooms: %w", err)
	}

	rooms := append(a.Directory.Public(), a.Directory.Private()...)
	if len(rooms) > 0 {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
	wait:
		for {
			if _, ok := a.Rooms.Occupancy(rooms[0].ID); ok {
				break
			}
			select {
			case <-ctx.Done():
				break wait
			case <-ticker.C:
			}
		}
	}

	printRooms(cmd.OutOrStdout(), a)
	return nil
}

func printRooms(out io.Writer, a *app.App) {
	public, private := a.Directory.Public(), a.Directory.Private()
	if len(public)+len(private) == 0 {
		fmt.Fprintln(out, "no rooms")
		return
	}
	for _, r := range public {
		printRoom(out, a, r, "public")
	}
	for _, r := range private {
		printRoom(out, a, r, "private")
	}
}

func printRoom(out io.Writer, a *app.App, r proto.Room, kind string) {
	users := "-"
	if n, ok := a.Rooms.Occupancy(r.ID); ok {
		users = fmt.Sprint(n)
		if r.MaxUsers > 0 {
			users += fmt.Sprintf("/%d", r.MaxUsers)
		}
	}
	state := ""
	if !r.Active {
		state = " (inactive)"
	}
	fmt.Fprintf(out, "%-24s %-20s %-8s users %s%s\n", r.ID, r.Name, kind, users, state)
}
