package admin

import (
	"net/http"

	internalhttp "github.com/fimai/fimai-chat/internal/http"
	permissions "github.com/fimai/fimai-chat/internal/http/api/admin/permissions"
	"github.com/fimai/fimai-chat/internal/models"
	"github.com/gin-gonic/gin"
)

// adminPermissionMiddleware admits administrators to registered admin routes only.
// It runs after the bearer auth middleware has set the caller's role.
func adminPermissionMiddleware() gin.HandlerFunc {
	permissionMap := permissions.DefinitionMap()

	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		path := c.FullPath()
		if path == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "permission denied"})
			return
		}

		key := permissions.Key(c.Request.Method, path)
		if _, ok := permissionMap[key]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "permission denied"})
			return
		}

		role, _ := c.Get(internalhttp.ContextUserRole)
		if roleStr, _ := role.(string); roleStr != models.RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "permission denied"})
			return
		}

		c.Next()
	}
}
