package model

import (
	"fmt"
	"strings"
	"time"
)

// AssignmentStatus is the lifecycle state of a user/agent assignment.
type AssignmentStatus string

const (
	AssignmentActive    AssignmentStatus = "active"
	AssignmentInactive  AssignmentStatus = "inactive"
	AssignmentCompleted AssignmentStatus = "completed"
)

// ParseAssignmentStatus converts a raw value into an AssignmentStatus.
func ParseAssignmentStatus(s string) (AssignmentStatus, error) {
	switch st := AssignmentStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case AssignmentActive, AssignmentInactive, AssignmentCompleted:
		return st, nil
	}
	return "", fmt.Errorf("invalid assignment status %q", s)
}

// AssignmentType records who created an assignment.
type AssignmentType string

const (
	AssignmentAuto          AssignmentType = "auto"
	AssignmentManual        AssignmentType = "manual"
	AssignmentUserRequested AssignmentType = "user_requested"
)

// AutoAssignReason is written on assignments created by the verification hook.
const AutoAssignReason = "Auto-assigned based on preferences and agent performance"

// Assignment mirrors user_agent_assignments.
type Assignment struct {
	ID                uint64
	UserID            uint64
	AgentID           uint64
	Type              AssignmentType
	Status            AssignmentStatus
	Reason            *string
	PropertiesShown   int
	MeetingsConducted int
	UserRating        *int
	UserFeedback      *string
	AssignedAt        time.Time
	CompletedAt       *time.Time
	UpdatedAt         time.Time
}

// Favorite mirrors user_favorites.
type Favorite struct {
	ID                   uint64
	UserID               uint64
	PropertyID           uint64
	Notes                *string
	NotifyOnPriceChange  bool
	NotifyOnStatusChange bool
	CreatedAt            time.Time
}
