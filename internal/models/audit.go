package models

import (
	"encoding/json"
	"time"
)

// AuditAction names an audited portal operation.
type AuditAction string

const (
	AuditLogin            AuditAction = "LOGIN"
	AuditLoginFailed      AuditAction = "LOGIN_FAILED"
	AuditTokenRefresh     AuditAction = "TOKEN_REFRESH"
	AuditTokenReuse       AuditAction = "TOKEN_REUSE"
	AuditLogout           AuditAction = "LOGOUT"
	AuditPasswordChange   AuditAction = "PASSWORD_CHANGE"
	AuditUserCreate       AuditAction = "USER_CREATE"
	AuditEventBroadcast   AuditAction = "EVENT_BROADCAST"
	AuditEventDelete      AuditAction = "EVENT_DELETE"
	AuditAttendanceBulk   AuditAction = "ATTENDANCE_BULK"
	AuditAttendanceCustom AuditAction = "ATTENDANCE_CUSTOM"
	AuditAttendanceUpdate AuditAction = "ATTENDANCE_UPDATE"
	AuditExportCreate     AuditAction = "EXPORT_CREATE"
	AuditFundCreate       AuditAction = "FUND_CREATE"
	AuditPostDelete       AuditAction = "POST_DELETE"
)

// Audited resources.
const (
	AuditResourceSession    = "session"
	AuditResourceUser       = "user"
	AuditResourceEvent      = "calendar_event"
	AuditResourceAttendance = "attendance"
	AuditResourceExport     = "attendance_export"
	AuditResourceFund       = "fund"
	AuditResourcePost       = "post"
)

var auditActions = map[AuditAction]struct{}{
	AuditLogin: {}, AuditLoginFailed: {}, AuditTokenRefresh: {}, AuditTokenReuse: {},
	AuditLogout: {}, AuditPasswordChange: {}, AuditUserCreate: {}, AuditEventBroadcast: {},
	AuditEventDelete: {}, AuditAttendanceBulk: {}, AuditAttendanceCustom: {},
	AuditAttendanceUpdate: {}, AuditExportCreate: {}, AuditFundCreate: {}, AuditPostDelete: {},
}

// Valid reports whether the action is one the portal records.
func (a AuditAction) Valid() bool {
	_, ok := auditActions[a]
	return ok
}

// AuditLog is one row of the audit trail. UserID is nil for failed logins
// against unknown accounts.
type AuditLog struct {
	ID         string          `db:"id" json:"id"`
	UserID     *string         `db:"user_id" json:"user_id,omitempty"`
	Action     AuditAction     `db:"action" json:"action"`
	Resource   string          `db:"resource" json:"resource"`
	ResourceID *string         `db:"resource_id" json:"resource_id,omitempty"`
	Details    json.RawMessage `db:"details" json:"details,omitempty" swaggertype:"object"`
	IPAddress  string          `db:"ip_address" json:"ip_address"`
	UserAgent  string          `db:"user_agent" json:"user_agent"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
}

// AuditFilter narrows an audit listing.
type AuditFilter struct {
	UserID string
	Action AuditAction
	Since  *time.Time
	Limit  int
}
