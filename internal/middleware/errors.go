package middleware

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/flicky/storefront-api/internal/apperror"
)

type errorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// ErrorHandler is the single boundary that turns errors recorded with
// c.Error into a status code and a {status, message} body.
func ErrorHandler(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err
		kind := apperror.KindOf(err)
		status := kind.HTTPStatus()

		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"error", err.Error(),
		}
		if status >= 500 {
			log.Error("request failed", attrs...)
		} else {
			log.Warn("request rejected", attrs...)
		}

		if c.Writer.Written() {
			return
		}
		c.AbortWithStatusJSON(status, errorResponse{Status: "error", Message: apperror.Message(err)})
	}
}
