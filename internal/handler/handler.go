package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/internal/access"
	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/internal/audit"
	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/internal/domain"
	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/internal/gateway"
	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/internal/hub"
	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/internal/store"
	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/pkg/log"
	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/pkg/middleware"
	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/pkg/response"
)

// HistoryRequest is the query of a history page.
type HistoryRequest struct {
	Limit  int   `form:"limit" binding:"omitempty,min=1"`
	Before int64 `form:"before" binding:"omitempty,min=1"`
}

// HistoryResponse is one page of a room's history, oldest first. NextBefore
// is the cursor for the previous page, absent when there is none.
type HistoryResponse struct {
	Messages   []*domain.ChatMessageOut `json:"messages"`
	NextBefore string                   `json:"next_before,omitempty"`
}

// Handler serves the chat socket and the HTTP routes around it.
type Handler struct {
	gateway        *gateway.Gateway
	evaluator      gateway.Authorizer
	store          store.Store
	registry       *hub.Registry
	authMiddleware *middleware.AuthMiddleware
}

func NewHandler(
	gw *gateway.Gateway,
	evaluator gateway.Authorizer,
	st store.Store,
	registry *hub.Registry,
	authMiddleware *middleware.AuthMiddleware,
) *Handler {
	return &Handler{
		gateway:        gw,
		evaluator:      evaluator,
		store:          st,
		registry:       registry,
		authMiddleware: authMiddleware,
	}
}

// RegisterRoutes registers all routes.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)

	// Both spellings; a redirect would break the websocket handshake.
	r.GET("/ws/chat/:roomId", h.Connect)
	r.GET("/ws/chat/:roomId/", h.Connect)

	api := r.Group("/api/v1")
	{
		channels := api.Group("/channels")
		{
			channels.GET("/:roomId/messages", h.authMiddleware.RequireAuth(), h.History)
		}
	}
}

// Connect upgrades to a chat connection. The credential travels in ?token=.
func (h *Handler) Connect(c *gin.Context) {
	h.gateway.Serve(c.Writer, c.Request, c.Param("roomId"))
}

// History returns a page of a room's messages to a caller allowed to join it.
func (h *Handler) History(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	roomID := c.Param("roomId")
	userID := middleware.GetUserID(c)
	if userID == "" {
		response.Unauthorized(c, "unauthorized")
		return
	}
	principal := domain.NewPrincipal(userID, middleware.GetUsername(c))

	var req HistoryRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	decision, err := h.evaluator.Evaluate(ctx, principal, roomID)
	if err != nil {
		l.Error().Err(err).Str(log.FieldRoomID, roomID).Msg("failed to authorize history read")
		response.InternalError(c, "failed to load messages")
		return
	}
	switch decision {
	case access.Allowed:
	case access.RoomNotFound:
		response.NotFound(c, domain.CloseRoomNotFound.Message)
		return
	default:
		response.Forbidden(c, domain.CloseAccessDenied.Message)
		return
	}

	limit := req.Limit
	if limit <= 0 {
		limit = store.DefaultHistoryLimit
	}
	if limit > store.MaxHistoryLimit {
		limit = store.MaxHistoryLimit
	}

	messages, err := h.store.History(ctx, roomID, req.Before, limit)
	if err != nil {
		l.Error().Err(err).Str(log.FieldRoomID, roomID).Msg("failed to load messages")
		response.InternalError(c, "failed to load messages")
		return
	}

	resp := HistoryResponse{Messages: make([]*domain.ChatMessageOut, 0, len(messages))}
	for i := range messages {
		resp.Messages = append(resp.Messages, domain.NewChatMessageOut(&messages[i]))
	}
	if len(messages) == limit {
		resp.NextBefore = strconv.FormatInt(messages[0].ID, 10)
	}

	audit.LogWithDetail(ctx, audit.ActionHistory, roomID, "history read")
	response.Success(c, resp)
}

// Health reports liveness together with registry occupancy.
func (h *Handler) Health(c *gin.Context) {
	rooms, sessions := h.registry.Stats()
	response.Success(c, gin.H{
		"status":   "ok",
		"rooms":    rooms,
		"sessions": sessions,
	})
}
