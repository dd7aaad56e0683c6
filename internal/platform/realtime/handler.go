package realtime

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/wecare/clinic/internal/platform/auth"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

type Handler struct {
	hub      *Hub
	upgrader gorillawebsocket.Upgrader
	logger   zerolog.Logger
}

// NewHandler builds the /ws endpoint. An empty origins list, or "*",
// accepts any origin.
func NewHandler(hub *Hub, origins []string, logger zerolog.Logger) *Handler {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return &Handler{
		hub: hub,
		upgrader: gorillawebsocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || len(allowed) == 0 || allowed["*"] || allowed[origin]
			},
		},
		logger: logger.With().Str("component", "realtime_ws").Logger(),
	}
}

// RegisterRoutes mounts /ws on the root router and presence under api.
func (h *Handler) RegisterRoutes(e *echo.Echo, api *echo.Group) {
	e.GET("/ws", h.HandleConnect)
	api.GET("/presence", h.OnlineUsers, auth.RequireStaff())
	api.GET("/presence/:user_id", h.Presence)
}

// HandleConnect upgrades an authenticated request and starts the pumps.
func (h *Handler) HandleConnect(c echo.Context) error {
	userID, err := auth.UserUUIDFromContext(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return nil
	}

	client := NewClient(userID, auth.IsStaff(c.Request().Context()))
	h.hub.Register(client)
	h.logger.Info().Str("client_id", client.ID).Str("user_id", userID.String()).Msg("client connected")

	go h.writePump(client, ws)
	go h.readPump(client, ws)
	return nil
}

func (h *Handler) readPump(client *Client, ws *gorillawebsocket.Conn) {
	defer func() {
		h.hub.Unregister(client)
		ws.Close()
		h.logger.Info().Str("client_id", client.ID).Msg("client disconnected")
	}()

	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			if gorillawebsocket.IsUnexpectedCloseError(err, gorillawebsocket.CloseGoingAway, gorillawebsocket.CloseNormalClosure) {
				h.logger.Debug().Err(err).Str("client_id", client.ID).Msg("read error")
			}
			return
		}

		var msg ClientMessage
		reply := Reply{Type: "error", Error: "malformed message"}
		if err := json.Unmarshal(message, &msg); err == nil {
			reply = h.hub.ProcessMessage(client, msg)
		}
		h.reply(client, reply)
	}
}

// reply queues a control message; it is dropped if the client is slow.
// Only readPump calls it, before Unregister closes Send.
func (h *Handler) reply(client *Client, r Reply) {
	data, err := json.Marshal(r)
	if err != nil {
		return
	}
	select {
	case client.Send <- data:
	default:
	}
}

func (h *Handler) writePump(client *Client, ws *gorillawebsocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(gorillawebsocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(gorillawebsocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

type presenceResponse struct {
	UserID      uuid.UUID `json:"user_id"`
	Online      bool      `json:"online"`
	Connections int       `json:"connections"`
}

// Presence reports whether a user currently holds a realtime connection.
func (h *Handler) Presence(c echo.Context) error {
	id, err := uuid.Parse(c.Param("user_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid user_id")
	}
	n := h.hub.Connections(id)
	return c.JSON(http.StatusOK, presenceResponse{UserID: id, Online: n > 0, Connections: n})
}

func (h *Handler) OnlineUsers(c echo.Context) error {
	users := h.hub.OnlineUsers()
	return c.JSON(http.StatusOK, map[string]interface{}{"online": users, "count": len(users)})
}
