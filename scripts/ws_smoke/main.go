package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/wirechat-client/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

// run signs into one room on a live server, posts a line and waits for the echo.
func run() error {
	addr := flag.String("addr", "ws://localhost:3000/ws", "WebSocket address")
	nick := flag.String("nick", "tester", "nickname to sign in with")
	room := flag.String("room", "", "room id to sign into")
	password := flag.String("password", "", "room password, if the room is private")
	text := flag.String("text", "hello from smoke test", "message text to send")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	if *room == "" {
		return fmt.Errorf("-room is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, *addr, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	send := func(typ string, data any) error {
		env, err := proto.NewEnvelope(typ, data)
		if err != nil {
			return fmt.Errorf("encode %s: %w", typ, err)
		}
		if err := wsjson.Write(ctx, conn, env); err != nil {
			return fmt.Errorf("send %s: %w", typ, err)
		}
		return nil
	}

	if err := send(proto.TypeConnectPublic, nil); err != nil {
		return err
	}
	if err := send(proto.TypeSigninRoom, proto.SigninRoomData{RoomID: *room, Nickname: *nick, Password: *password}); err != nil {
		return err
	}

	var token string
	for {
		var env proto.Envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			return fmt.Errorf("read: %w", err)
		}
		fmt.Printf("received: type=%s\n", env.Type)

		switch env.Type {
		case proto.TypeSigninReply:
			var reply proto.ReplyData
			if err := json.Unmarshal(env.Data, &reply); err != nil {
				return fmt.Errorf("decode signin reply: %w", err)
			}
			if reply.Token == "" {
				return fmt.Errorf("sign-in to %s rejected", *room)
			}
			token = reply.Token
			fmt.Printf("signed in: room=%s token=%s\n", reply.Room(), token)
			if err := send(proto.TypeChat, proto.ChatData{RoomID: *room, Content: *text, Nickname: *nick, Token: token}); err != nil {
				return err
			}
		case proto.TypeSigninRoom, proto.TypeSignoutRoom:
			var m proto.MembershipData
			if err := json.Unmarshal(env.Data, &m); err == nil {
				fmt.Printf("%s: room=%s nick=%s\n", env.Type, m.Room(), m.Nickname)
			}
		case proto.TypeChat:
			var chat proto.ChatEvent
			if err := json.Unmarshal(env.Data, &chat); err != nil {
				fmt.Printf("raw data: %s\n", string(env.Data))
				return fmt.Errorf("decode chat: %w", err)
			}
			fmt.Printf("chat: room=%s nick=%s text=%q at=%s\n", chat.RoomID, chat.Nickname, chat.Content, chat.CreatedAt.Format(time.RFC3339))
			if chat.Nickname == *nick && chat.Content == *text {
				return send(proto.TypeSignoutRoom, proto.SignoutRoomData{RoomID: *room, Nickname: *nick, RoomToken: token})
			}
		}
	}
}
