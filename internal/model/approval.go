package model

import (
	"fmt"
	"strings"
	"time"
)

// ApprovalType is the discriminator stored in pending_approvals.approval_type.
type ApprovalType string

const (
	ApprovalPropertyListing  ApprovalType = "property_listing"
	ApprovalUserVerification ApprovalType = "user_verification"
	ApprovalAgentApplication ApprovalType = "agent_application"
)

// ApprovalStatus is the review state of a queue entry.
type ApprovalStatus string

const (
	ApprovalPending      ApprovalStatus = "pending"
	ApprovalUnderReview  ApprovalStatus = "under_review"
	ApprovalApproved     ApprovalStatus = "approved"
	ApprovalRejected     ApprovalStatus = "rejected"
	ApprovalNeedsChanges ApprovalStatus = "needs_changes"
)

// ParseApprovalStatus converts a raw value into an ApprovalStatus.
func ParseApprovalStatus(s string) (ApprovalStatus, error) {
	switch st := ApprovalStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case ApprovalPending, ApprovalUnderReview, ApprovalApproved, ApprovalRejected, ApprovalNeedsChanges:
		return st, nil
	}
	return "", fmt.Errorf("invalid approval status %q", s)
}

// IsOpen reports whether the entry still waits for a decision.
func (s ApprovalStatus) IsOpen() bool {
	return s == ApprovalPending || s == ApprovalUnderReview
}

// Priority orders review queues and enquiries.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// ParsePriority converts a raw value into a Priority.
func ParsePriority(s string) (Priority, error) {
	switch p := Priority(strings.ToLower(strings.TrimSpace(s))); p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return p, nil
	}
	return "", fmt.Errorf("invalid priority %q", s)
}

// ApprovalSubject is the record a queue entry refers to.  The interface is
// sealed: only the three subject types in this package implement it, so a
// type switch over ListingSubject, UserVerificationSubject and
// AgentApplicationSubject is exhaustive.
type ApprovalSubject interface {
	Type() ApprovalType
	RecordID() uint64
	TableName() string
	sealed()
}

// ListingSubject points at a property listing awaiting review.
type ListingSubject struct{ ListingID uint64 }

func (s ListingSubject) Type() ApprovalType { return ApprovalPropertyListing }
func (s ListingSubject) RecordID() uint64   { return s.ListingID }
func (s ListingSubject) TableName() string  { return "property_listings" }
func (ListingSubject) sealed()              {}

// UserVerificationSubject points at a user account.
type UserVerificationSubject struct{ UserID uint64 }

func (s UserVerificationSubject) Type() ApprovalType { return ApprovalUserVerification }
func (s UserVerificationSubject) RecordID() uint64   { return s.UserID }
func (s UserVerificationSubject) TableName() string  { return "users" }
func (UserVerificationSubject) sealed()              {}

// AgentApplicationSubject points at a user applying to become an agent.
type AgentApplicationSubject struct{ UserID uint64 }

func (s AgentApplicationSubject) Type() ApprovalType { return ApprovalAgentApplication }
func (s AgentApplicationSubject) RecordID() uint64   { return s.UserID }
func (s AgentApplicationSubject) TableName() string  { return "users" }
func (AgentApplicationSubject) sealed()              {}

// SubjectFor rebuilds a subject from the stored discriminator and record id.
func SubjectFor(t string, recordID uint64) (ApprovalSubject, error) {
	switch ApprovalType(t) {
	case ApprovalPropertyListing:
		return ListingSubject{ListingID: recordID}, nil
	case ApprovalUserVerification:
		return UserVerificationSubject{UserID: recordID}, nil
	case ApprovalAgentApplication:
		return AgentApplicationSubject{UserID: recordID}, nil
	}
	return nil, fmt.Errorf("invalid approval type %q", t)
}

// PendingApproval mirrors pending_approvals.  SubmissionData holds the
// snapshot taken when the entry was created.
type PendingApproval struct {
	ID              uint64
	Subject         ApprovalSubject
	SubmittedBy     *uint64
	SubmissionData  map[string]any
	Status          ApprovalStatus
	Priority        Priority
	AssignedTo      *uint64
	ReviewStartedAt *time.Time
	ApprovedBy      *uint64
	ApprovedAt      *time.Time
	RejectedAt      *time.Time
	AdminNotes      *string
	RejectionReason *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
