package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirechat-client/internal/app"
	"github.com/vovakirdan/wirechat-client/internal/core"
	"github.com/vovakirdan/wirechat-client/internal/history"
	"github.com/vovakirdan/wirechat-client/internal/proto"
	"github.com/vovakirdan/wirechat-client/internal/session"
)

var chatCmd = &cobra.Command{
	Use:   "chat [room-id]",
	Short: "Interactive line chat; joins room-id when given",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runChat,
}

var (
	flagPassword string
	flagRows     int
)

func init() {
	chatCmd.Flags().StringVar(&flagPassword, "password", "", "room password for the initial join")
	chatCmd.Flags().IntVar(&flagRows, "rows", 20, "rows of history shown when a room opens")
}

const chatHelp = `commands:
  /join <room-id> [password]  sign into a room
  /leave                      sign out of the open room
  /older                      load older messages
  /rooms                      list rooms
  /nick <name>                change nickname
  /quit                       exit
anything else is sent to the open room`

func runChat(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, _, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if flagNickname != "" {
		if err := a.SetNickname(ctx, flagNickname); err != nil {
			return fmt.Errorf("store nickname: %w", err)
		}
	}
	if a.Nickname(ctx) == "" {
		return fmt.Errorf("no nickname configured: pass --nickname or set nickname in the config file")
	}

	out := cmd.OutOrStdout()
	view := history.NewTextViewport(flagRows)
	a.History.SetViewport(view)
	a.OnNotice(func(n session.Notice) {
		fmt.Fprintf(out, "* %s\n", n)
	})
	a.Dispatcher.Register("cli", func(ev core.Event) {
		var chat proto.ChatEvent
		if ev.Decode(&chat) != nil || chat.RoomID != a.Rooms.Active() {
			return
		}
		printMessage(out, core.MessageFromChat(chat))
	}, core.EventChat)

	if err := a.Start(ctx); err != nil {
		return err
	}

	if len(args) == 1 {
		join(ctx, out, a, view, args[0], flagPassword)
	}
	fmt.Fprintln(out, chatHelp)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := handleLine(ctx, out, a, view, strings.TrimSpace(line)); quit {
				return nil
			}
		}
	}
}

func handleLine(ctx context.Context, out io.Writer, a *app.App, view *history.TextViewport, line string) bool {
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		if err := a.SendMessage(ctx, line); err != nil {
			fmt.Fprintf(out, "! %v\n", err)
		}
		return false
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true
	case "/join":
		if len(fields) < 2 {
			fmt.Fprintln(out, "usage: /join <room-id> [password]")
			return false
		}
		password := ""
		if len(fields) > 2 {
			password = fields[2]
		}
		join(ctx, out, a, view, fields[1], password)
	case "/leave":
		if err := a.LeaveRoom(ctx); err != nil {
			fmt.Fprintf(out, "! %v\n", err)
		}
	case "/older":
		n, err := a.LoadOlder(ctx)
		switch {
		case err != nil:
			fmt.Fprintf(out, "! %v\n", err)
		case n == 0:
			fmt.Fprintln(out, "* no older messages")
		default:
			fmt.Fprintf(out, "-- %d older --\n", n)
			for _, m := range a.History.Items()[:n] {
				printMessage(out, m)
			}
			fmt.Fprintln(out, "--")
		}
	case "/rooms":
		printRooms(out, a)
	case "/nick":
		if len(fields) < 2 {
			fmt.Fprintf(out, "* nickname is %s\n", a.Nickname(ctx))
			return false
		}
		if err := a.SetNickname(ctx, fields[1]); err != nil {
			fmt.Fprintf(out, "! %v\n", err)
		}
	default:
		fmt.Fprintln(out, chatHelp)
	}
	return false
}

func join(ctx context.Context, out io.Writer, a *app.App, view *history.TextViewport, roomID, password string) {
	if err := a.JoinRoom(ctx, roomID, password); err != nil {
		fmt.Fprintf(out, "! %v\n", err)
		return
	}
	if err := a.History.Err(); err != nil {
		fmt.Fprintf(out, "! history unavailable: %v\n", err)
		return
	}
	for _, m := range view.Visible() {
		printMessage(out, m)
	}
}

func printMessage(out io.Writer, m core.Message) {
	fmt.Fprintf(out, "[%s] %s: %s\n", m.CreatedAt.Local().Format("15:04"), m.Nickname, m.Content)
}
