package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/gonotes/collabd/internal/auth"
	"github.com/gonotes/collabd/internal/bootstrap"
	"github.com/gonotes/collabd/internal/collab"
	"github.com/gonotes/collabd/internal/room"
)

const serviceName = "collabd"

var (
	errMissingGate     = errors.New("authorization gate dependency required")
	errMissingRegistry = errors.New("room registry dependency required")
	errMissingSeeder   = errors.New("document seeder dependency required")
)

// Authorizer decides whether a credential grants access to a room.
type Authorizer interface {
	Authorize(ctx context.Context, credential string, rawRoomID string) (auth.Claims, error)
}

type Dependencies struct {
	Gate     Authorizer
	Registry *collab.Registry
	Seeder   *bootstrap.Seeder
	Logger   *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Gate == nil {
		return nil, errMissingGate
	}
	if deps.Registry == nil {
		return nil, errMissingRegistry
	}
	if deps.Seeder == nil {
		return nil, errMissingSeeder
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		gate:     deps.Gate,
		registry: deps.Registry,
		seeder:   deps.Seeder,
		logger:   logger,
	}

	router.GET("/health", handler.handleHealth)
	router.POST("/initialize-document", handler.handleInitializeDocument)
	router.GET("/collab", handler.handleCollab)

	return router, nil
}

type httpHandler struct {
	gate     Authorizer
	registry *collab.Registry
	seeder   *bootstrap.Seeder
	logger   *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": serviceName})
}

type initializeRequestPayload struct {
	RoomID string `json:"room_id"`
}

func (h *httpHandler) handleInitializeDocument(c *gin.Context) {
	var request initializeRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.RoomID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	err := h.seeder.Seed(c.Request.Context(), request.RoomID)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"success": true, "room_id": request.RoomID})
	case errors.Is(err, room.ErrMalformedID):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_room_id"})
	case errors.Is(err, bootstrap.ErrRoomActive):
		c.JSON(http.StatusConflict, gin.H{"error": "room_active"})
	default:
		h.logger.Error("document initialization failed",
			zap.String("room_id", request.RoomID),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "initialize_failed"})
	}
}

// handleCollab authorizes a collaborative connection and upgrades it to a
// websocket. The gate runs before the upgrade and before any registry
// lookup, so a rejected attempt never creates or touches room state.
func (h *httpHandler) handleCollab(c *gin.Context) {
	rawRoomID := c.Query("room")
	credential := c.Query("token")

	claims, err := h.gate.Authorize(c.Request.Context(), credential, rawRoomID)
	if errors.Is(err, room.ErrMalformedID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_room_id"})
		return
	}
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	roomID, err := room.ParseID(rawRoomID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_room_id"})
		return
	}

	connectionID, err := uuid.NewV7()
	if err != nil {
		h.logger.Error("failed to generate connection id", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed",
			zap.String("room_id", roomID.String()),
			zap.Error(err))
		return
	}

	sess := collab.NewSession(connectionID.String(), claims.UserID, claims.WorkspaceID)
	liveRoom, err := h.registry.Attach(roomID, sess)
	if err != nil {
		h.logger.Warn("room attach refused",
			zap.String("room_id", roomID.String()),
			zap.Error(err))
		message := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "service shutting down")
		_ = conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}

	h.logger.Info("connection attached",
		zap.String("room_id", roomID.String()),
		zap.String("connection_id", sess.ID()),
		zap.Int64("user_id", claims.UserID))

	client := newClient(conn, sess, liveRoom, h.logger)
	go client.writePump()
	go client.readPump()
}
