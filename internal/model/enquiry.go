package model

import (
	"fmt"
	"strings"
	"time"
)

// EnquiryStatus is the lead lifecycle state.
type EnquiryStatus string

const (
	EnquiryNew        EnquiryStatus = "new"
	EnquiryAssigned   EnquiryStatus = "assigned"
	EnquiryInProgress EnquiryStatus = "in_progress"
	EnquiryResolved   EnquiryStatus = "resolved"
	EnquiryClosed     EnquiryStatus = "closed"
)

// ParseEnquiryStatus converts a raw value into an EnquiryStatus.
func ParseEnquiryStatus(s string) (EnquiryStatus, error) {
	switch st := EnquiryStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case EnquiryNew, EnquiryAssigned, EnquiryInProgress, EnquiryResolved, EnquiryClosed:
		return st, nil
	}
	return "", fmt.Errorf("invalid enquiry status %q", s)
}

// AgentSettable reports whether an assigned agent may move an enquiry into s.
func (s EnquiryStatus) AgentSettable() bool {
	return s == EnquiryAssigned || s == EnquiryInProgress || s == EnquiryResolved
}

// NoteType classifies an enquiry note.
type NoteType string

const (
	NoteInternal            NoteType = "internal"
	NoteClientCommunication NoteType = "client_communication"
	NoteSystem              NoteType = "system"
	NoteFollowUpReminder    NoteType = "follow_up_reminder"
)

// ParseNoteType converts a raw value into a NoteType.
func ParseNoteType(s string) (NoteType, error) {
	switch t := NoteType(strings.ToLower(strings.TrimSpace(s))); t {
	case NoteInternal, NoteClientCommunication, NoteSystem, NoteFollowUpReminder:
		return t, nil
	}
	return "", fmt.Errorf("invalid note type %q", s)
}

// CommunicationMethod records how the agent reached the client.
type CommunicationMethod string

const (
	MethodPhone    CommunicationMethod = "phone"
	MethodEmail    CommunicationMethod = "email"
	MethodWhatsApp CommunicationMethod = "whatsapp"
	MethodMeeting  CommunicationMethod = "meeting"
	MethodSMS      CommunicationMethod = "sms"
)

// ParseCommunicationMethod converts a raw value into a CommunicationMethod.
func ParseCommunicationMethod(s string) (CommunicationMethod, error) {
	switch m := CommunicationMethod(strings.ToLower(strings.TrimSpace(s))); m {
	case MethodPhone, MethodEmail, MethodWhatsApp, MethodMeeting, MethodSMS:
		return m, nil
	}
	return "", fmt.Errorf("invalid communication method %q", s)
}

// Enquiry mirrors the enquiries table.
type Enquiry struct {
	ID                          uint64
	TicketNumber                string
	UserID                      *uint64
	Name                        string
	Email                       string
	Phone                       string
	Requirements                string
	PropertyID                  *uint64
	Source                      string
	PageURL                     *string
	UserAgent                   *string
	Status                      EnquiryStatus
	Priority                    Priority
	AssignedTo                  *uint64
	FirstResponseAt             *time.Time
	ResolvedAt                  *time.Time
	ResolutionNotes             *string
	SatisfactionRating          *int
	AccountCreationOffered      bool
	AccountCreatedDuringEnquiry bool
	CreatedAt                   time.Time
	UpdatedAt                   time.Time
}

// EnquiryNote mirrors enquiry_notes.
type EnquiryNote struct {
	ID               uint64
	EnquiryID        uint64
	AuthorID         uint64
	Note             string
	Type             NoteType
	Method           *CommunicationMethod
	NextFollowUpDate *time.Time
	CreatedAt        time.Time
}
