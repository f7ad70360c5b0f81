// Package respond writes the JSON error bodies shared by every route.
package respond

import (
	"net/http"
	"sync/atomic"

	"github.com/fimai/fimai-chat/internal/logging"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

var exposeDetail atomic.Bool

// SetExposeDetail controls whether 500 responses carry the internal error text.
// It is enabled in development only.
func SetExposeDetail(v bool) { exposeDetail.Store(v) }

// Error writes {"error": msg} with status.
func Error(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"error": msg})
}

// AbortError writes {"error": msg} with status and stops the handler chain.
func AbortError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

// Internal logs err and writes a 500 with a generic message.
func Internal(c *gin.Context, msg string, err error) {
	log.WithError(err).WithField("request_id", logging.GinRequestID(c)).Error(msg)
	body := gin.H{"error": msg}
	if exposeDetail.Load() && err != nil {
		body["detail"] = err.Error()
	}
	c.JSON(http.StatusInternalServerError, body)
}
