package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	ratelimit "github.com/JGLTechnologies/gin-rate-limit"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Error is the error type returned to API clients. Code is a stable machine readable
// identifier; two errors with the same non-empty Code match under errors.Is.
type Error struct {
	Message string `json:"message"`
	Status  int    `json:"status"`
	Code    string `json:"code,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if e.Code != "" || t.Code != "" {
		return e.Code == t.Code
	}
	return e == t
}

func New(message string, status int) *Error {
	return &Error{Message: message, Status: status}
}

func newCoded(code, message string, status int) *Error {
	return &Error{Message: message, Status: status, Code: code}
}

const (
	CodeNotParticipant       = "NotParticipant"
	CodeConversationNotFound = "ConversationNotFound"
	CodeAccessDenied         = "AccessDenied"
	CodeValidation           = "ValidationError"
	CodeTransientDelivery    = "TransientDeliveryFailure"
)

var (
	ErrNotParticipant       = newCoded(CodeNotParticipant, "user is not a participant in this conversation", http.StatusForbidden)
	ErrConversationNotFound = newCoded(CodeConversationNotFound, "conversation not found", http.StatusNotFound)
	ErrAccessDenied         = newCoded(CodeAccessDenied, "access denied", http.StatusForbidden)
	ErrValidation           = newCoded(CodeValidation, "validation failed", http.StatusBadRequest)
	ErrTransientDelivery    = newCoded(CodeTransientDelivery, "recipient connection unavailable", http.StatusServiceUnavailable)

	ErrInternalServerError = New("internal server error", http.StatusInternalServerError)
	ErrBadRequest          = New("bad request", http.StatusBadRequest)
	ErrUnauthorized        = New("unauthorized", http.StatusUnauthorized)
	ErrInvalidPassword     = New("invalid email or password", http.StatusUnprocessableEntity)
	ErrNotFound            = New("not found", http.StatusNotFound)
	ErrTooManyRequests     = New("too many requests", http.StatusTooManyRequests)
)

// NewValidationError returns a ValidationError carrying a specific message.
func NewValidationError(message string) *Error {
	return newCoded(CodeValidation, message, http.StatusBadRequest)
}

// Code extracts the code of an *Error anywhere in the chain.
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Status returns the HTTP status for err, 500 for anything that is not an *Error.
func Status(err error) int {
	var e *Error
	if errors.As(err, &e) && e.Status != 0 {
		return e.Status
	}
	return http.StatusInternalServerError
}

// GetUniqueContraintError maps a unique violation to a 400 naming the offending field.
func GetUniqueContraintError(err error) *Error {
	if errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "duplicate key") || strings.Contains(err.Error(), "UNIQUE constraint") {
		field := "record"
		switch {
		case strings.Contains(err.Error(), "email"):
			field = "email"
		case strings.Contains(err.Error(), "username"):
			field = "username"
		}
		return New(fmt.Sprintf("%s already exists", field), http.StatusBadRequest)
	}
	return New(err.Error(), http.StatusBadRequest)
}

// ErrorHandler is the gin-rate-limit rejection handler.
func ErrorHandler(c *gin.Context, info ratelimit.Info) {
	c.JSON(http.StatusTooManyRequests, gin.H{
		"message":   "too many requests, try again in " + time.Until(info.ResetTime).Round(time.Second).String(),
		"errors":    ErrTooManyRequests,
		"status":    http.StatusTooManyRequests,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}
