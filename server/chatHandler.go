package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/techagentng/skillsync/db"
	errs "github.com/techagentng/skillsync/errors"
	"github.com/techagentng/skillsync/metrics"
	"github.com/techagentng/skillsync/models"
	"github.com/techagentng/skillsync/server/response"
	"github.com/techagentng/skillsync/services"
)

// respondWithError maps err to its status. Errors without a client facing status are logged
// and reported as internal errors.
func respondWithError(c *gin.Context, err error) {
	status := errs.Status(err)
	if status >= http.StatusInternalServerError && errs.Code(err) == "" {
		log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		err = errs.ErrInternalServerError
	}
	response.JSON(c, "", status, nil, err)
}

func (s *Server) handleListConversations() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := getUserIDFromContext(c)
		if err != nil {
			respondWithError(c, err)
			return
		}
		status := models.ConversationStatus(c.Query("status"))
		conversations, err := s.ChatService.ListConversations(c.Request.Context(), userID, status)
		if err != nil {
			respondWithError(c, err)
			return
		}
		response.JSON(c, "Successfully fetched conversations", http.StatusOK, conversations, nil)
	}
}

func (s *Server) handleCreateConversation() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := getUserIDFromContext(c)
		if err != nil {
			respondWithError(c, err)
			return
		}
		var request models.CreateConversationRequest
		if err := decode(c, &request); err != nil {
			respondWithError(c, err)
			return
		}
		conversation, err := s.ChatService.StartConversation(c.Request.Context(), userID, request.ParticipantID)
		if err != nil {
			respondWithError(c, err)
			return
		}
		response.JSON(c, "Conversation ready", http.StatusOK, conversation, nil)
	}
}

func (s *Server) handleGetConversation() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := getUserIDFromContext(c)
		if err != nil {
			respondWithError(c, err)
			return
		}
		conversation, err := s.ChatService.GetConversation(c.Request.Context(), c.Param("conversationID"), userID)
		if err != nil {
			respondWithError(c, err)
			return
		}
		response.JSON(c, "Successfully fetched conversation", http.StatusOK, conversation, nil)
	}
}

func (s *Server) handleUpdateConversationStatus() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := getUserIDFromContext(c)
		if err != nil {
			respondWithError(c, err)
			return
		}
		var request models.ConversationStatusRequest
		if err := decode(c, &request); err != nil {
			respondWithError(c, err)
			return
		}
		conversation, err := s.ChatService.SetConversationStatus(c.Request.Context(), c.Param("conversationID"), userID, request.Status)
		if err != nil {
			respondWithError(c, err)
			return
		}
		response.JSON(c, "Conversation updated", http.StatusOK, conversation, nil)
	}
}

func (s *Server) handleListMessages() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := getUserIDFromContext(c)
		if err != nil {
			respondWithError(c, err)
			return
		}
		limit := 0
		if raw := c.Query("limit"); raw != "" {
			limit, err = strconv.Atoi(raw)
			if err != nil || limit < 0 {
				respondWithError(c, errs.NewValidationError("limit must be a positive number"))
				return
			}
		}
		messages, err := s.ChatService.ListMessages(c.Request.Context(), c.Param("conversationID"), userID, db.ListMessagesOptions{
			Before: c.Query("before"),
			Limit:  limit,
		})
		if err != nil {
			respondWithError(c, err)
			return
		}
		response.JSON(c, "Successfully fetched messages", http.StatusOK, messages, nil)
	}
}

// handleSendMessage is the fallback for clients without a live connection. Live recipients
// still get receive_message.
func (s *Server) handleSendMessage() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := getUserIDFromContext(c)
		if err != nil {
			respondWithError(c, err)
			return
		}
		var request models.SendMessageRequest
		if err := decode(c, &request); err != nil {
			respondWithError(c, err)
			return
		}

		result, err := s.ChatService.SendMessage(c.Request.Context(), userID, services.SendMessageInput{
			ConversationID: c.Param("conversationID"),
			RecipientID:    request.RecipientID,
			Draft: models.MessageDraft{
				Kind:    request.Kind,
				Content: request.Content,
				File:    request.File,
			},
		})
		if err != nil {
			respondWithError(c, err)
			return
		}
		metrics.MessagesPersisted.WithLabelValues(string(result.Message.Kind)).Inc()
		s.Router.PushMessage(c.Request.Context(), userID, result)

		response.JSON(c, "Message sent", http.StatusCreated, result.Message, nil)
	}
}

// handleMarkRead marks the listed messages read, or every message from the other
// participant when the body is empty.
func (s *Server) handleMarkRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := getUserIDFromContext(c)
		if err != nil {
			respondWithError(c, err)
			return
		}
		var request models.MarkReadRequest
		if c.Request.ContentLength != 0 {
			if err := decode(c, &request); err != nil {
				respondWithError(c, err)
				return
			}
		}

		result, err := s.ChatService.MarkRead(c.Request.Context(), c.Param("conversationID"), userID, request.MessageIDs)
		if err != nil {
			respondWithError(c, err)
			return
		}
		s.Router.PushRead(c.Request.Context(), result)

		response.JSON(c, "Messages marked as read", http.StatusOK, result.MarkReadResult, nil)
	}
}

func (s *Server) handleUnreadSummary() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := getUserIDFromContext(c)
		if err != nil {
			respondWithError(c, err)
			return
		}
		summary, err := s.ChatService.UnreadSummary(c.Request.Context(), userID)
		if err != nil {
			respondWithError(c, err)
			return
		}
		response.JSON(c, "Successfully fetched unread messages", http.StatusOK, summary, nil)
	}
}

// handleUploadAttachment stores a file and returns the attachment to put in a file or image
// message. It does not send anything.
func (s *Server) handleUploadAttachment() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.MediaService == nil {
			response.JSON(c, "", http.StatusServiceUnavailable, nil, errs.New("attachments are not configured", http.StatusServiceUnavailable))
			return
		}
		userID, err := getUserIDFromContext(c)
		if err != nil {
			respondWithError(c, err)
			return
		}
		fileHeader, err := c.FormFile("file")
		if err != nil {
			respondWithError(c, errs.NewValidationError("file is required"))
			return
		}

		attachment, kind, err := s.MediaService.UploadAttachment(c.Request.Context(), c.Param("conversationID"), userID, fileHeader)
		if err != nil {
			respondWithError(c, err)
			return
		}
		response.JSON(c, "File uploaded", http.StatusCreated, gin.H{
			"kind": kind,
			"file": attachment,
		}, nil)
	}
}

func (s *Server) handleGetOnlineUsers() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.JSON(c, "Successfully fetched online users", http.StatusOK, s.Presence.OnlineUsers(), nil)
	}
}

func (s *Server) handleGetUserPresence() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("userID")
		data := gin.H{
			"user_id": userID,
			"online":  false,
		}
		if lastActivity, ok := s.Presence.LastActivity(userID); ok {
			data["online"] = true
			data["last_activity"] = lastActivity
		}
		response.JSON(c, "Successfully fetched presence", http.StatusOK, data, nil)
	}
}
