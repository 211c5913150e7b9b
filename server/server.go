package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/techagentng/skillsync/config"
	"github.com/techagentng/skillsync/db"
	"github.com/techagentng/skillsync/realtime"
	"github.com/techagentng/skillsync/services"
)

// Server serves the chat REST surface and the live channel.
type Server struct {
	Config         *config.Config
	DB             *db.GormDB
	AuthRepository db.AuthRepository
	AuthService    services.AuthService
	ChatService    services.ChatService
	// MediaService is nil when attachment storage is not configured.
	MediaService services.MediaService
	Presence     *realtime.Presence
	Router       *realtime.Router

	sessions context.Context
}

// sessionContext is the parent of every live session; it is cancelled at shutdown.
func (s *Server) sessionContext() context.Context {
	if s.sessions == nil {
		return context.Background()
	}
	return s.sessions
}

// Start serves until SIGINT or SIGTERM, then closes live sessions and drains requests.
func (s *Server) Start() {
	sessions, cancelSessions := context.WithCancel(context.Background())
	s.sessions = sessions

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.Config.Port),
		Handler:           s.setupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	s.Presence.Close()
	cancelSessions()

	ctx, cancel := context.WithTimeout(context.Background(), s.Config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	if s.DB != nil {
		if err := s.DB.Close(); err != nil {
			log.Error().Err(err).Msg("closing database")
		}
	}
	log.Info().Msg("server exiting")
}
