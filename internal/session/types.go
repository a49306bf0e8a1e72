package session

import "fmt"

// State is the sign-in state of one room.
type State int

const (
	// StateUnauthenticated means no valid token is known for the room.
	StateUnauthenticated State = iota
	// StatePendingSignIn means a sign-in request awaits its reply.
	StatePendingSignIn
	// StateAuthenticated means the server accepted the room token.
	StateAuthenticated
	// StateLeft means the user signed out explicitly.
	StateLeft
)

// String returns the string representation of a State.
func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StatePendingSignIn:
		return "pending"
	case StateAuthenticated:
		return "authenticated"
	case StateLeft:
		return "left"
	default:
		return "unknown"
	}
}

// RoomSession is the local view of one room the user has joined.
type RoomSession struct {
	RoomID    string
	Nickname  string
	Token     string
	Occupancy int
	State     State
	// resume is set while the pending sign-in carries a stored token.
	resume bool
}

// NoticeKind classifies a transient notice.
type NoticeKind int

const (
	// NoticeJoined: somebody signed in to the open room.
	NoticeJoined NoticeKind = iota
	// NoticeLeft: somebody signed out of the open room.
	NoticeLeft
	// NoticeSignedIn: the local user is now authenticated in a room.
	NoticeSignedIn
	// NoticeSignedOut: the local user's sign-out was confirmed.
	NoticeSignedOut
	// NoticePasswordRequired: sign-in failed or the stored token went stale.
	NoticePasswordRequired
	// NoticeRoomUpdated: the open room's settings changed.
	NoticeRoomUpdated
	// NoticeRoomRemoved: the open room was deleted.
	NoticeRoomRemoved
	// NoticeUnreachable: the server could not be reached after retrying.
	NoticeUnreachable
)

// Notice is a transient, user-facing message.
type Notice struct {
	Kind     NoticeKind
	RoomID   string
	Nickname string
}

func (n Notice) String() string {
	switch n.Kind {
	case NoticeJoined:
		return fmt.Sprintf("%s joined", n.Nickname)
	case NoticeLeft:
		return fmt.Sprintf("%s left", n.Nickname)
	case NoticeSignedIn:
		return fmt.Sprintf("signed in to %s", n.RoomID)
	case NoticeSignedOut:
		return fmt.Sprintf("signed out of %s", n.RoomID)
	case NoticePasswordRequired:
		return fmt.Sprintf("password required for %s", n.RoomID)
	case NoticeRoomUpdated:
		return fmt.Sprintf("room %s updated", n.RoomID)
	case NoticeRoomRemoved:
		return fmt.Sprintf("room %s was removed", n.RoomID)
	case NoticeUnreachable:
		return "server unreachable"
	default:
		return "notice"
	}
}
