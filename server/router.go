package server

import (
	"net/http"
	"os"
	"strings"
	"time"

	ratelimit "github.com/JGLTechnologies/gin-rate-limit"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) setupRouter() *gin.Engine {
	ginMode := os.Getenv("GIN_MODE")
	if ginMode == "test" {
		r := gin.New()
		s.defineRoutes(r)
		return r
	}

	r := gin.New()
	r.Use(requestLogger())
	r.Use(gin.Recovery())

	corsConfig := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE"},
		AllowHeaders:     []string{"Origin", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if origins := s.Config.AccessControlAllowOrigin; origins != "" && origins != "*" {
		corsConfig.AllowOrigins = strings.Split(origins, ",")
	} else {
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowCredentials = false
	}
	r.Use(cors.New(corsConfig))
	r.MaxMultipartMemory = 32 << 20
	s.defineRoutes(r)

	return r
}

func (s *Server) defineRoutes(router *gin.Engine) {
	sendStore := ratelimit.InMemoryStore(&ratelimit.InMemoryOptions{
		Rate:  s.Config.SendRateWindow,
		Limit: s.Config.SendRateLimit,
	})
	limitSends := limitRatePerUser(sendStore)

	router.GET("/healthz", s.handleHealthz())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	apirouter := router.Group("/api/v1")
	apirouter.POST("/auth/signup", s.handleSignup())
	apirouter.POST("/auth/login", s.handleLogin())

	authorized := apirouter.Group("/")
	authorized.Use(s.Authorize())
	authorized.GET("/logout", s.handleLogout())
	authorized.PUT("/me/device-token", s.handleRegisterDeviceToken())
	authorized.GET("/ws", limitSends, s.handleWebsocket())

	authorized.GET("/conversations", s.handleListConversations())
	authorized.POST("/conversations", s.handleCreateConversation())
	authorized.GET("/conversations/:conversationID", s.handleGetConversation())
	authorized.PATCH("/conversations/:conversationID/status", s.handleUpdateConversationStatus())
	authorized.GET("/conversations/:conversationID/messages", s.handleListMessages())
	authorized.POST("/conversations/:conversationID/messages", limitSends, s.handleSendMessage())
	authorized.POST("/conversations/:conversationID/read", s.handleMarkRead())
	authorized.POST("/conversations/:conversationID/attachments", limitSends, s.handleUploadAttachment())
	authorized.GET("/messages/unread", s.handleUnreadSummary())

	authorized.GET("/users/online", s.handleGetOnlineUsers())
	authorized.GET("/users/:userID/presence", s.handleGetUserPresence())
}

func (s *Server) handleHealthz() gin.HandlerFunc {
	return func(c *gin.Context) {
		status := http.StatusOK
		state := "ok"
		if s.DB != nil {
			if sqlDB, err := s.DB.DB.DB(); err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
				status = http.StatusServiceUnavailable
				state = "database unavailable"
			}
		}
		c.JSON(status, gin.H{
			"status":       state,
			"online_users": s.Presence.Count(),
		})
	}
}
