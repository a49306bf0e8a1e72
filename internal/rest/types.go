package rest

import "encoding/json"

// Credentials is the body of signup and signin requests.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// User is an account as returned by the user endpoints. Token is only set on signin.
type User struct {
	ID       string `json:"_id"`
	Username string `json:"username"`
	Token    string `json:"token,omitempty"`
}

// RoomForm is the body of room create and update requests.
type RoomForm struct {
	Name     string `json:"name"`
	Active   bool   `json:"active"`
	IsPublic bool   `json:"isPublic"`
	MaxUsers int    `json:"maxUsers"`
	Password string `json:"password,omitempty"`
}

// envelope wraps every successful response body.
type envelope struct {
	Data json.RawMessage `json:"data"`
}

// errorResponse is the body of a failed request.
type errorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}
