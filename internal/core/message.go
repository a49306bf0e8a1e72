package core

import (
	"slices"
	"time"

	"github.com/vovakirdan/wirechat-client/internal/proto"
)

// Message is the domain model for a chat message.
type Message struct {
	ID        string
	RoomID    string
	Nickname  string
	Content   string
	CreatedAt time.Time
}

// SortMessages orders messages chronologically; ties keep arrival order.
func SortMessages(msgs []Message) {
	slices.SortStableFunc(msgs, func(a, b Message) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
}

// MessageFromChat converts a chat payload (live or from history) into a Message.
func MessageFromChat(c proto.ChatEvent) Message {
	return Message{
		ID:        c.ID,
		RoomID:    c.RoomID,
		Nickname:  c.Nickname,
		Content:   c.Content,
		CreatedAt: c.CreatedAt,
	}
}
