package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	errs "github.com/techagentng/skillsync/errors"
	"github.com/techagentng/skillsync/models"
	"github.com/techagentng/skillsync/server/response"
)

func (s *Server) handleSignup() gin.HandlerFunc {
	return func(c *gin.Context) {
		var signupRequest models.SignupRequest
		if err := decode(c, &signupRequest); err != nil {
			response.JSON(c, "", http.StatusBadRequest, nil, err)
			return
		}

		user, err := s.AuthService.SignupUser(&signupRequest)
		if err != nil {
			response.JSON(c, "", err.Status, nil, err)
			return
		}
		response.JSON(c, "Signup successful", http.StatusCreated, user.Response(), nil)
	}
}

func (s *Server) handleLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		var loginRequest models.LoginRequest
		if err := decode(c, &loginRequest); err != nil {
			response.JSON(c, "", errs.ErrBadRequest.Status, nil, err)
			return
		}
		userResponse, err := s.AuthService.LoginUser(&loginRequest)
		if err != nil {
			response.JSON(c, "", err.Status, nil, err)
			return
		}
		response.JSON(c, "login successful", http.StatusOK, userResponse, nil)
	}
}

// Logout blacklists the access token and closes the caller's live connection.
func (s *Server) handleLogout() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, exists := c.Get("access_token")
		if !exists {
			respondAndAbort(c, "Access token not found in context", http.StatusInternalServerError, nil, errs.ErrInternalServerError)
			return
		}
		accessToken, ok := token.(string)
		if !ok {
			respondAndAbort(c, "Access token is not a string", http.StatusInternalServerError, nil, errs.ErrInternalServerError)
			return
		}
		userID, err := getUserIDFromContext(c)
		if err != nil {
			response.JSON(c, "", errs.Status(err), nil, err)
			return
		}

		if apiErr := s.AuthService.Logout(accessToken); apiErr != nil {
			respondAndAbort(c, "Logout failed", apiErr.Status, nil, apiErr)
			return
		}
		if s.Presence.Disconnect(userID) {
			log.Debug().Str("user_id", userID).Msg("closed live connection on logout")
		}
		response.JSON(c, "Logout successful", http.StatusOK, nil, nil)
	}
}

func (s *Server) handleRegisterDeviceToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := getUserIDFromContext(c)
		if err != nil {
			response.JSON(c, "", errs.Status(err), nil, err)
			return
		}
		var request models.DeviceTokenRequest
		if err := decode(c, &request); err != nil {
			response.JSON(c, "", http.StatusBadRequest, nil, err)
			return
		}
		if apiErr := s.AuthService.RegisterDeviceToken(userID, request.Token); apiErr != nil {
			response.JSON(c, "", apiErr.Status, nil, apiErr)
			return
		}
		response.JSON(c, "Device token registered", http.StatusOK, nil, nil)
	}
}
