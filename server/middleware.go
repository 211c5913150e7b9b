package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	ratelimit "github.com/JGLTechnologies/gin-rate-limit"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	errs "github.com/techagentng/skillsync/errors"
	"github.com/techagentng/skillsync/metrics"
	"github.com/techagentng/skillsync/models"
	"github.com/techagentng/skillsync/server/response"
	"github.com/techagentng/skillsync/services/jwt"
)

// Authorize resolves the bearer token to a user and stores it on the context.
func (s *Server) Authorize() gin.HandlerFunc {
	return func(c *gin.Context) {
		accessToken := getToken(c)
		if accessToken == "" {
			respondAndAbort(c, "", http.StatusUnauthorized, nil, errs.ErrUnauthorized)
			return
		}

		if s.AuthRepository.IsTokenInBlacklist(accessToken) {
			respondAndAbort(c, "Access token is blacklisted", http.StatusUnauthorized, nil, errs.ErrUnauthorized)
			return
		}

		accessClaims, err := jwt.ValidateAndGetClaims(accessToken, s.Config.JWTSecret)
		if err != nil {
			respondAndAbort(c, "", http.StatusUnauthorized, nil, errs.ErrUnauthorized)
			return
		}
		userID, err := jwt.UserID(accessClaims)
		if err != nil {
			respondAndAbort(c, err.Error(), http.StatusUnauthorized, nil, errs.ErrUnauthorized)
			return
		}

		user, err := s.AuthRepository.FindUserByID(userID)
		if err != nil {
			log.Debug().Err(err).Str("user_id", userID).Msg("token user lookup failed")
			respondAndAbort(c, "user not found", http.StatusUnauthorized, nil, errs.ErrUnauthorized)
			return
		}

		c.Set("user", user)
		c.Set("userID", user.ID)
		c.Set("access_token", accessToken)
		c.Next()
	}
}

// getToken reads the Authorization header. Browsers cannot set headers on a websocket
// handshake, so upgrade requests may carry the token in the query string instead.
func getToken(c *gin.Context) string {
	authHeader := c.Request.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimSpace(authHeader[len("Bearer "):])
	}
	if websocket.IsWebSocketUpgrade(c.Request) {
		return c.Query("token")
	}
	return ""
}

// respondAndAbort calls response.JSON and aborts the Context
func respondAndAbort(c *gin.Context, message string, status int, data interface{}, e *errs.Error) {
	response.JSON(c, message, status, data, e)
	c.Abort()
}

func getUserFromContext(c *gin.Context) (*models.User, error) {
	userI, exists := c.Get("user")
	if !exists {
		return nil, errs.New("forbidden", http.StatusForbidden)
	}
	user, ok := userI.(*models.User)
	if !ok {
		return nil, errs.ErrInternalServerError
	}
	return user, nil
}

func getUserIDFromContext(c *gin.Context) (string, error) {
	user, err := getUserFromContext(c)
	if err != nil {
		return "", err
	}
	return user.ID, nil
}

func limitRatePerUser(store ratelimit.Store) gin.HandlerFunc {
	return ratelimit.RateLimiter(store, &ratelimit.Options{
		ErrorHandler: errs.ErrorHandler,
		KeyFunc:      userKeyFunc,
	})
}

func userKeyFunc(c *gin.Context) string {
	if userID, err := getUserIDFromContext(c); err == nil {
		return userID
	}
	return c.ClientIP()
}

// requestLogger writes one zerolog event per request and records its duration.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		latency := time.Since(start)
		metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Observe(latency.Seconds())

		event := log.Info()
		switch {
		case status >= http.StatusInternalServerError:
			event = log.Error()
		case status >= http.StatusBadRequest:
			event = log.Warn()
		}
		event.
			Str("client_ip", c.ClientIP()).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", latency).
			Str("user_agent", c.Request.UserAgent()).
			Str("errors", c.Errors.ByType(gin.ErrorTypePrivate).String()).
			Msg("request")
	}
}
