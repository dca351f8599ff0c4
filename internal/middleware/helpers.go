// internal/middleware/helpers.go
package middleware

import "github.com/gin-gonic/gin"

// GetSubject gets the token subject from context
func GetSubject(c *gin.Context) string {
	return c.GetString(ctxSubject)
}

// GetRoles gets user roles from context
func GetRoles(c *gin.Context) []string {
	roles, exists := c.Get(ctxRoles)
	if !exists {
		return []string{}
	}

	rolesList, ok := roles.([]string)
	if !ok {
		return []string{}
	}

	return rolesList
}

// GetRequestID gets the request id assigned by LoggingMiddleware
func GetRequestID(c *gin.Context) string {
	return c.GetString(ctxRequestID)
}
