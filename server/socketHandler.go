package server

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/techagentng/skillsync/realtime"
)

func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
}

// checkOrigin accepts requests without an Origin header and, when allowed origins are
// configured, only origins from that list.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	allowed := s.Config.AccessControlAllowOrigin
	if origin == "" || allowed == "" || allowed == "*" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, o := range strings.Split(allowed, ",") {
		if strings.EqualFold(strings.TrimSpace(o), u.Scheme+"://"+u.Host) {
			return true
		}
	}
	return false
}

// handleWebsocket upgrades an authenticated request to the live channel. The session only
// becomes reachable by user id after it sends join.
func (s *Server) handleWebsocket() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := getUserIDFromContext(c)
		if err != nil {
			respondWithError(c, err)
			return
		}

		conn, err := s.upgrader().Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgrade has already written the HTTP error.
			log.Warn().Err(err).Str("user_id", userID).Msg("websocket upgrade failed")
			return
		}

		session := realtime.NewSession(s.sessionContext(), conn, userID, s.Router, s.Presence)
		session.Start()
		log.Debug().Str("conn_id", session.ID()).Str("user_id", userID).Msg("websocket connected")
	}
}
