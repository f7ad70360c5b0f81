package handlers

import (
	"net/http"

	permissions "github.com/fimai/fimai-chat/internal/http/api/admin/permissions"
	"github.com/gin-gonic/gin"
)

// ListPermissions returns the admin endpoint catalog grouped by module.
func ListPermissions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"permissions": permissions.Definitions()})
}
