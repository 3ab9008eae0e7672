package middleware

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/student-portal-api/internal/models"
	"github.com/noah-isme/student-portal-api/pkg/middleware/requestid"
)

// ContextAuditResourceKey is the gin context key naming the audited resource.
const ContextAuditResourceKey = "auditResourceID"

// AuditRecorder persists audit entries.
type AuditRecorder interface {
	Record(ctx context.Context, entry models.AuditLog)
}

// SetAuditResource names the resource a handler created so the audit entry
// can point at it.
func SetAuditResource(c *gin.Context, id string) {
	if id != "" {
		c.Set(ContextAuditResourceKey, id)
	}
}

// Audit records the request after a successful response. The resource id is
// taken from SetAuditResource, then from the :id or :studentId path params.
func Audit(recorder AuditRecorder, action models.AuditAction, resource string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now().UTC()
		c.Next()

		if c.Writer.Status() >= 400 || c.IsAborted() {
			return
		}

		var userID *string
		if claims, ok := c.Get(ContextUserKey); ok {
			if user, ok := claims.(*models.JWTClaims); ok {
				userID = &user.UserID
			}
		}

		details, _ := json.Marshal(map[string]interface{}{
			"path":       c.FullPath(),
			"method":     c.Request.Method,
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
			"request_id": requestid.Value(c),
		})

		recorder.Record(c.Request.Context(), models.AuditLog{
			UserID:     userID,
			Action:     action,
			Resource:   resource,
			ResourceID: auditResourceID(c),
			Details:    details,
			IPAddress:  c.ClientIP(),
			UserAgent:  c.GetHeader("User-Agent"),
			CreatedAt:  start,
		})
	}
}

func auditResourceID(c *gin.Context) *string {
	if id := c.GetString(ContextAuditResourceKey); id != "" {
		return &id
	}
	for _, param := range []string{"id", "studentId"} {
		if id := c.Param(param); id != "" {
			return &id
		}
	}
	return nil
}
