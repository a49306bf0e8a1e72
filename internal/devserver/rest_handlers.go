package devserver

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-client/internal/auth"
	"github.com/vovakirdan/wirechat-client/internal/proto"
	"github.com/vovakirdan/wirechat-client/internal/rest"
)

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Message string `json:"message"`
}

// DataResponse wraps every successful response body.
type DataResponse struct {
	Data any `json:"data"`
}

// APIHandlers serves the room and user REST endpoints.
type APIHandlers struct {
	world *World
	hub   *hub
	jwt   *auth.JWTConfig
	log   *zerolog.Logger
}

// NewAPIHandlers creates a new API handlers instance.
func NewAPIHandlers(world *World, h *hub, jwtCfg *auth.JWTConfig, logger *zerolog.Logger) *APIHandlers {
	return &APIHandlers{
		world: world,
		hub:   h,
		jwt:   jwtCfg,
		log:   logger,
	}
}

// SignUp handles account registration.
// POST /user/signup
func (h *APIHandlers) SignUp(c *gin.Context) {
	var req rest.Credentials
	if err := c.ShouldBindJSON(&req); err != nil || len(strings.TrimSpace(req.Username)) < 3 || len(req.Password) < 6 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "username (3+) and password (6+) required"})
		return
	}

	a, err := h.world.SignUp(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, errUserExists) {
			c.JSON(http.StatusConflict, ErrorResponse{Message: "user already exists"})
			return
		}
		h.log.Error().Err(err).Str("username", req.Username).Msg("failed to register user")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Message: "internal server error"})
		return
	}

	h.log.Info().Str("username", a.Username).Msg("user registered")
	c.JSON(http.StatusCreated, DataResponse{Data: rest.User{ID: a.ID, Username: a.Username}})
}

// SignIn handles account login.
// POST /user/signin
func (h *APIHandlers) SignIn(c *gin.Context) {
	var req rest.Credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "invalid request body"})
		return
	}

	a, err := h.world.SignIn(req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Message: "invalid credentials"})
		return
	}
	token, err := auth.GenerateToken(h.jwt, a.ID, a.Username)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to sign token")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Message: "internal server error"})
		return
	}

	h.log.Info().Str("username", a.Username).Msg("user signed in")
	c.JSON(http.StatusOK, DataResponse{Data: rest.User{ID: a.ID, Username: a.Username, Token: token}})
}

// CurrentUser returns the authenticated account.
// GET /user
func (h *APIHandlers) CurrentUser(c *gin.Context) {
	a, ok := h.world.User(userID(c))
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Message: "user not found"})
		return
	}
	c.JSON(http.StatusOK, DataResponse{Data: rest.User{ID: a.ID, Username: a.Username}})
}

// DeleteAccount removes the authenticated account and its rooms.
// DELETE /user/delete
func (h *APIHandlers) DeleteAccount(c *gin.Context) {
	for _, r := range h.world.DeleteUser(userID(c)) {
		h.hub.broadcast(proto.TypeRemoveRoom, proto.RemoveRoomData{RoomRef: proto.RoomRef{ID: r.ID}, Public: r.Public})
	}
	c.Status(http.StatusNoContent)
}

// PublicRooms lists public rooms.
// GET /room
func (h *APIHandlers) PublicRooms(c *gin.Context) {
	c.JSON(http.StatusOK, DataResponse{Data: h.world.Rooms("")})
}

// PrivateRooms lists the caller's private rooms.
// GET /room/private
func (h *APIHandlers) PrivateRooms(c *gin.Context) {
	c.JSON(http.StatusOK, DataResponse{Data: h.world.Rooms(userID(c))})
}

// PublicRoom returns a public room.
// GET /room/id/:id
func (h *APIHandlers) PublicRoom(c *gin.Context) {
	r, ok := h.world.Room(c.Param("id"))
	if !ok || !r.Public {
		c.JSON(http.StatusNotFound, ErrorResponse{Message: "room not found"})
		return
	}
	c.JSON(http.StatusOK, DataResponse{Data: r})
}

// PrivateRoom returns one of the caller's private rooms.
// GET /room/private/:id
func (h *APIHandlers) PrivateRoom(c *gin.Context) {
	r, ok := h.world.Room(c.Param("id"))
	if !ok || r.Public || r.OwnerID != userID(c) {
		c.JSON(http.StatusNotFound, ErrorResponse{Message: "room not found"})
		return
	}
	c.JSON(http.StatusOK, DataResponse{Data: r})
}

// CreateRoom creates a room owned by the caller and announces it.
// POST /room/create
func (h *APIHandlers) CreateRoom(c *gin.Context) {
	var req rest.RoomForm
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Name) == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "room name required"})
		return
	}

	r, err := h.world.CreateRoom(userID(c), req.Name, req.IsPublic, req.Active, req.MaxUsers, req.Password)
	if err != nil {
		h.log.Error().Err(err).Str("room_name", req.Name).Msg("failed to create room")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Message: "internal server error"})
		return
	}

	h.log.Info().Str("room_id", r.ID).Str("room_name", r.Name).Msg("room created")
	h.hub.broadcast(proto.TypeAddRoom, r)
	c.JSON(http.StatusCreated, DataResponse{Data: r})
}

// UpdateRoom edits a room owned by the caller and announces it.
// PUT /room/update/:id
func (h *APIHandlers) UpdateRoom(c *gin.Context) {
	var req rest.RoomForm
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "invalid request body"})
		return
	}

	r, err := h.world.UpdateRoom(userID(c), c.Param("id"), req.Name, req.IsPublic, req.Active, req.MaxUsers, req.Password)
	if err != nil {
		h.roomError(c, err)
		return
	}

	h.hub.broadcast(proto.TypeUpdateRoom, r)
	c.JSON(http.StatusOK, DataResponse{Data: r})
}

// DeleteRoom removes a room owned by the caller and announces it.
// DELETE /room/delete/:id
func (h *APIHandlers) DeleteRoom(c *gin.Context) {
	r, err := h.world.DeleteRoom(userID(c), c.Param("id"))
	if err != nil {
		h.roomError(c, err)
		return
	}

	h.log.Info().Str("room_id", r.ID).Msg("room deleted")
	h.hub.broadcast(proto.TypeRemoveRoom, proto.RemoveRoomData{RoomRef: proto.RoomRef{ID: r.ID}, Public: r.Public})
	c.Status(http.StatusNoContent)
}

// Messages returns one page of a room's history; page 1 is the newest.
// GET /room/messages/:id?page=&limit=
func (h *APIHandlers) Messages(c *gin.Context) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "invalid page"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit < 1 || limit > 100 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "invalid limit"})
		return
	}

	msgs, err := h.world.Page(c.Param("id"), page, limit)
	if err != nil {
		h.roomError(c, err)
		return
	}
	c.JSON(http.StatusOK, DataResponse{Data: msgs})
}

func (h *APIHandlers) roomError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, errRoomNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Message: "room not found"})
	case errors.Is(err, errForbidden):
		c.JSON(http.StatusForbidden, ErrorResponse{Message: "not the room owner"})
	default:
		h.log.Error().Err(err).Msg("room request failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Message: "internal server error"})
	}
}
