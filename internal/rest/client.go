package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/vovakirdan/wirechat-client/internal/core"
	"github.com/vovakirdan/wirechat-client/internal/proto"
)

// ErrNotFound is returned for 404 responses. Callers treat it as "empty".
var ErrNotFound = core.NewError(core.ErrCodeNotFound, "resource not found")

// APIError is any other failed response; the request may be retried.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (status %d): %s", e.Status, e.Message)
}

// Is lets errors.Is match APIError against the REST error code.
func (e *APIError) Is(target error) bool {
	t, ok := target.(*core.Error)
	return ok && t.Code == core.ErrCodeREST
}

// Client talks to the room and user REST API.
type Client struct {
	baseURL    string
	authToken  func() string
	httpClient *http.Client
}

// NewClient creates a REST client. authToken is consulted on every request
// and sent verbatim in the Authorization header when non-empty.
func NewClient(baseURL string, timeout time.Duration, authToken func() string) *Client {
	if authToken == nil {
		authToken = func() string { return "" }
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		authToken: authToken,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Room endpoints

// PublicRooms lists public rooms.
func (c *Client) PublicRooms(ctx context.Context) ([]proto.Room, error) {
	var rooms []proto.Room
	err := c.do(ctx, http.MethodGet, "/room", nil, &rooms)
	return rooms, err
}

// PrivateRooms lists the rooms owned by the signed-in account.
func (c *Client) PrivateRooms(ctx context.Context) ([]proto.Room, error) {
	var rooms []proto.Room
	err := c.do(ctx, http.MethodGet, "/room/private", nil, &rooms)
	return rooms, err
}

// PublicRoom fetches one public room.
func (c *Client) PublicRoom(ctx context.Context, id string) (*proto.Room, error) {
	var room proto.Room
	if err := c.do(ctx, http.MethodGet, "/room/id/"+url.PathEscape(id), nil, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

// PrivateRoom fetches one private room.
func (c *Client) PrivateRoom(ctx context.Context, id string) (*proto.Room, error) {
	var room proto.Room
	if err := c.do(ctx, http.MethodGet, "/room/private/"+url.PathEscape(id), nil, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

// CreateRoom creates a room owned by the signed-in account.
func (c *Client) CreateRoom(ctx context.Context, form RoomForm) (*proto.Room, error) {
	var room proto.Room
	if err := c.do(ctx, http.MethodPost, "/room/create", form, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

// UpdateRoom replaces a room's settings.
func (c *Client) UpdateRoom(ctx context.Context, id string, form RoomForm) (*proto.Room, error) {
	var room proto.Room
	if err := c.do(ctx, http.MethodPut, "/room/update/"+url.PathEscape(id), form, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

// DeleteRoom deletes a room.
func (c *Client) DeleteRoom(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/room/delete/"+url.PathEscape(id), nil, nil)
}

// Messages fetches one page of a room's history. Page 1 is the newest.
func (c *Client) Messages(ctx context.Context, roomID string, page, limit int) ([]core.Message, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))

	var raw []proto.ChatEvent
	if err := c.do(ctx, http.MethodGet, "/room/messages/"+url.PathEscape(roomID)+"?"+q.Encode(), nil, &raw); err != nil {
		return nil, err
	}
	msgs := make([]core.Message, 0, len(raw))
	for _, m := range raw {
		msg := core.MessageFromChat(m)
		if msg.RoomID == "" {
			msg.RoomID = roomID
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// User endpoints

// CurrentUser returns the account behind the stored token.
func (c *Client) CurrentUser(ctx context.Context) (*User, error) {
	var u User
	if err := c.do(ctx, http.MethodGet, "/user", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// SignUp creates an account.
func (c *Client) SignUp(ctx context.Context, cred Credentials) (*User, error) {
	var u User
	if err := c.do(ctx, http.MethodPost, "/user/signup", cred, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// SignIn authenticates and returns the account with its token.
func (c *Client) SignIn(ctx context.Context, cred Credentials) (*User, error) {
	var u User
	if err := c.do(ctx, http.MethodPost, "/user/signin", cred, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// DeleteAccount deletes the signed-in account.
func (c *Client) DeleteAccount(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/user/delete", nil, nil)
}

// Helper methods

func (c *Client) do(ctx context.Context, method, path string, body, dest any) error {
	var bodyReader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.authToken(); token != "" {
		req.Header.Set("Authorization", token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return core.WrapError(core.ErrCodeREST, method+" "+path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode >= 400 {
		var errResp errorResponse
		msg := strings.TrimSpace(string(data))
		if err := json.Unmarshal(data, &errResp); err == nil {
			if errResp.Message != "" {
				msg = errResp.Message
			} else if errResp.Error != "" {
				msg = errResp.Error
			}
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}

	if dest == nil || len(data) == 0 {
		return nil
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	if len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, dest); err != nil {
		return fmt.Errorf("unmarshal response data: %w", err)
	}
	return nil
}
