package response

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	errs "github.com/techagentng/skillsync/errors"
)

// JSON writes the standard response envelope.
func JSON(c *gin.Context, message string, status int, data interface{}, err error) {
	responsedata := gin.H{
		"message":   message,
		"data":      data,
		"errors":    errorBody(err),
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
	}

	c.JSON(status, responsedata)
}

func errorBody(err error) interface{} {
	if err == nil {
		return nil
	}
	var apiErr *errs.Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return err.Error()
}
