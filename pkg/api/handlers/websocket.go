package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/urmzd/plugd/pkg/server"
)

const (
	// wsSendBufferSize is the per-client outbound frame buffer.
	wsSendBufferSize = 256
	wsMaxMessageSize = 1 << 20
	wsWriteWait      = 10 * time.Second
	wsPingInterval   = 30 * time.Second
)

// errSlowClient is returned to a session whose client stopped reading.
var errSlowClient = errors.New("client send buffer full")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// ClientHandler serves the client message protocol over websocket.
type ClientHandler struct {
	server *server.Server
}

// NewClientHandler creates a new client protocol handler
func NewClientHandler(srv *server.Server) *ClientHandler {
	return &ClientHandler{server: srv}
}

// Serve handles GET /ws
// @Summary      Client protocol
// @Description  Upgrades to a websocket carrying JSON message frames. The first message must be RequestServerInfo.
// @Tags         protocol
// @Success      101  {string}  string  "Switching protocols"
// @Router       /ws [get]
func (h *ClientHandler) Serve(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	remote := conn.RemoteAddr().String()

	send := make(chan []byte, wsSendBufferSize)
	session := h.server.NewSession(func(frame []byte) error {
		select {
		case send <- frame:
			return nil
		default:
			return errSlowClient
		}
	})

	log.Debug().Str("remote", remote).Msg("client websocket connected")
	go writePump(conn, send, session.Done())
	readPump(c, conn, session)
}

// readPump feeds frames to the session until the connection drops.
func readPump(c *gin.Context, conn *websocket.Conn, session *server.Session) {
	defer session.Close()

	conn.SetReadLimit(wsMaxMessageSize)
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("client websocket read error")
			}
			return
		}
		if err := session.Handle(c.Request.Context(), frame); err != nil {
			log.Debug().Err(err).Msg("client session stopped accepting frames")
			return
		}
	}
}

// writePump drains send to the connection. Once the session is done it
// flushes what is queued and closes the connection.
func writePump(conn *websocket.Conn, send <-chan []byte, done <-chan struct{}) {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	write := func(kind int, data []byte) error {
		//nolint:errcheck // write error caught below
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteMessage(kind, data)
	}

	for {
		select {
		case frame := <-send:
			if err := write(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			for {
				select {
				case frame := <-send:
					if err := write(websocket.TextMessage, frame); err != nil {
						return
					}
				default:
					//nolint:errcheck // best-effort close
					write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}
		}
	}
}
