package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"election-service/internal/api/interfaces"
	"election-service/internal/api/stream"
	"election-service/pkg/logger"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
)

// MessageSubscribed is the first message on a results stream
const MessageSubscribed = "subscribed"

func newUpgrader(allowedOrigins []string) *websocket.Upgrader {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || allowed["*"] || allowed[origin]
		},
	}
}

// ResultsWebSocket streams result invalidations and updates of one election
func ResultsWebSocket(services interfaces.Services) gin.HandlerFunc {
	upgrader := newUpgrader(services.GetConfig().API.CORS.AllowedOrigins)

	return func(c *gin.Context) {
		electionID := c.Param("id")
		status, err := services.Phases().Status(c.Request.Context(), electionID)
		if err != nil {
			respondError(c, err)
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// the upgrader has already answered the client
			logger.GetLoggerFromContext(c).WithError(err).Warning("WebSocket upgrade failed")
			return
		}
		defer conn.Close()

		log := logger.GetLoggerFromContext(c).WithField("election_id", electionID)
		messages, unsubscribe := services.ResultStream().Subscribe(electionID)
		defer unsubscribe()
		log.Info("Results stream opened", "client_ip", c.ClientIP())

		closed := make(chan struct{})
		go readUntilClosed(conn, closed)

		first := stream.Message{
			Type:       MessageSubscribed,
			ElectionID: electionID,
			Data:       status,
			Timestamp:  time.Now().Unix(),
		}
		if err := writeJSON(conn, first); err != nil {
			return
		}

		pingTicker := time.NewTicker(wsPingPeriod)
		defer pingTicker.Stop()

		for {
			select {
			case msg, ok := <-messages:
				if !ok {
					_ = conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(wsWriteWait))
					return
				}
				if err := writeJSON(conn, msg); err != nil {
					log.WithError(err).Debug("WebSocket write failed")
					return
				}
			case <-pingTicker.C:
				conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-closed:
				log.Info("Results stream closed")
				return
			}
		}
	}
}

// readUntilClosed discards client messages and keeps the pong deadline fresh.
// closed is closed once the connection fails.
func readUntilClosed(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeJSON(conn *websocket.Conn, msg stream.Message) error {
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(msg)
}
