package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/courseloop/simulation-backend/internal/middleware"
	"github.com/courseloop/simulation-backend/internal/service"
	"github.com/courseloop/simulation-backend/internal/stream"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// writeTimeout bounds each outbound push so one dead connection cannot wedge
// its pump goroutine.
const writeTimeout = 10 * time.Second

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty allowedOrigins permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// StreamHandler serves the WebSocket countdown stream.
type StreamHandler struct {
	simService *service.SimulationService
	registry   *stream.Registry
	log        zerolog.Logger
	upgrader   websocket.Upgrader
}

// NewStreamHandler creates a new StreamHandler.
func NewStreamHandler(simService *service.SimulationService, registry *stream.Registry, log zerolog.Logger, allowedOrigins []string) *StreamHandler {
	return &StreamHandler{
		simService: simService,
		registry:   registry,
		log:        log.With().Str("component", "stream_handler").Logger(),
		upgrader:   buildUpgrader(allowedOrigins),
	}
}

// TestStream godoc
// WS /ws/v1/student/tests/:test_id/stream?token=...&client_id=...
// Upgrades to WebSocket and streams countdown events for the test. Connecting
// doubles as reconnection: the handshake re-arms the countdown if needed and
// the first pushed event describes the test's current state.
func (h *StreamHandler) TestStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	testID, err := uuid.Parse(c.Param("test_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid test ID"})
		return
	}

	clientID := c.Query("client_id")
	if clientID == "" {
		clientID = claims.StudentID.String()
	}
	key := stream.Key{TestID: testID, ClientID: clientID}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().
		Str("student_id", claims.StudentID.String()).
		Str("test_id", testID.String()).
		Str("client_id", clientID).
		Logger()

	// Open before Reconnect so the handshake's state event lands on this
	// channel rather than being dropped.
	ch := h.registry.Open(key)
	defer h.registry.Release(key, ch)

	res, err := h.simService.Reconnect(c.Request.Context(), claims.StudentID, testID, key)
	if err != nil {
		wsLog.Error().Err(err).Msg("Reconnect failed")
		return
	}
	if res.Action == service.ReconnectNotStarted {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		conn.WriteJSON(gin.H{"type": "test_not_started"})
		return
	}

	wsLog.Info().Str("action", string(res.Action)).Msg("Student connected")

	// Reader goroutine: the client never sends application messages, but
	// reading is how gorilla surfaces close frames and dead connections.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			wsLog.Debug().Msg("Connection closed")
			return
		case ev, ok := <-ch:
			if !ok {
				// Channel closed: test ended or a newer connection for the
				// same key superseded this one.
				wsLog.Debug().Msg("Stream closed")
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				wsLog.Warn().Err(err).Msg("Write failed")
				return
			}
		}
	}
}
