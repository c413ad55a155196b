package model

import (
	"fmt"
	"strings"
	"time"
)

// AuditAction names the kind of change recorded in audit_logs.
type AuditAction string

const (
	AuditCreate    AuditAction = "create"
	AuditUpdate    AuditAction = "update"
	AuditDelete    AuditAction = "delete"
	AuditApprove   AuditAction = "approve"
	AuditReject    AuditAction = "reject"
	AuditAssign    AuditAction = "assign"
	AuditReconcile AuditAction = "reconcile"
	AuditLogin     AuditAction = "login"
)

// Severity gates alerting on audit entries.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ParseSeverity converts a raw value into a Severity.
func ParseSeverity(s string) (Severity, error) {
	switch v := Severity(strings.ToLower(strings.TrimSpace(s))); v {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return v, nil
	}
	return "", fmt.Errorf("invalid severity %q", s)
}

// AuditLog is one append-only audit entry.
type AuditLog struct {
	ID          uint64
	UserID      *uint64
	Action      AuditAction
	TableName   string
	RecordID    *uint64
	OldValues   map[string]any
	NewValues   map[string]any
	Description string
	Severity    Severity
	IPAddress   *string
	CreatedAt   time.Time
}

// Setting keys understood by the engine.
const (
	SettingAutoAssignAgents = "auto_assign_agents"
)

// SystemSetting mirrors system_settings.  Value is stored as text and
// interpreted by the reader.
type SystemSetting struct {
	Key         string
	Value       string
	Description *string
	UpdatedBy   *uint64
	UpdatedAt   time.Time
}

// Bool interprets the value as a boolean flag.
func (s SystemSetting) Bool() bool {
	switch strings.ToLower(strings.TrimSpace(s.Value)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
