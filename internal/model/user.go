package model

import (
	"fmt"
	"strings"
	"time"
)

// Role is the account role stored in users.role.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// ParseRole converts a raw value into a Role.  Unknown values are rejected.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleAdmin, RoleUser, RoleAgent:
		return r, nil
	}
	return "", fmt.Errorf("invalid role %q", s)
}

// UserStatus is the lifecycle state stored in users.status.
type UserStatus string

const (
	UserActive              UserStatus = "active"
	UserInactive            UserStatus = "inactive"
	UserSuspended           UserStatus = "suspended"
	UserPendingVerification UserStatus = "pending_verification"
)

// ParseUserStatus converts a raw value into a UserStatus.
func ParseUserStatus(s string) (UserStatus, error) {
	switch st := UserStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case UserActive, UserInactive, UserSuspended, UserPendingVerification:
		return st, nil
	}
	return "", fmt.Errorf("invalid user status %q", s)
}

// MinCredentialLength is the shortest credential hash accepted by the store.
const MinCredentialLength = 60

// User mirrors the users table.
//
// Fields:
//  ID, UUID          – numeric primary key and public identifier.
//  Name, Email, Phone – contact details; email and phone are unique.
//  PasswordHash      – opaque credential hash, at least 60 characters.
//  Role, Status      – closed variants, see Role and UserStatus.
//  PreferredAgentID  – optional reference to a user whose role is agent.
//  Preferences       – buyer preferences used by recommendations.
//  Agent             – agent profile; LicenseNumber is required for agents.
type User struct {
	ID                     uint64
	UUID                   string
	Name                   string
	Email                  string
	Phone                  string
	PasswordHash           string
	Role                   Role
	Status                 UserStatus
	EmailVerifiedAt        *time.Time
	PhoneVerifiedAt        *time.Time
	EmailVerificationToken *string
	PhoneVerificationCode  *string
	IsBuyer                bool
	IsSeller               bool
	PreferredAgentID       *uint64
	Preferences            BuyerPreferences
	Agent                  AgentProfile
	LoginAttempts          int
	LockedUntil            *time.Time
	LastLoginAt            *time.Time
	CreatedAt              time.Time
	UpdatedAt              time.Time
	DeletedAt              *time.Time
}

// IsDeleted reports whether the user has been soft deleted.
func (u User) IsDeleted() bool { return u.DeletedAt != nil }

// IsLocked reports whether the account is locked at the given instant.
func (u User) IsLocked(now time.Time) bool {
	return u.LockedUntil != nil && u.LockedUntil.After(now)
}

// BuyerPreferences holds the multi-valued preference fields.  Property types
// and bedroom counts are packed bit sets; cities are stored in the
// user_preferred_cities table.
type BuyerPreferences struct {
	PropertyTypes PropertyTypeSet
	Bedrooms      BedroomSet
	Cities        []string
	BudgetMin     *float64
	BudgetMax     *float64
}

// HasCity reports whether city is one of the preferred cities (case-insensitive).
func (p BuyerPreferences) HasCity(city string) bool {
	for _, c := range p.Cities {
		if strings.EqualFold(c, city) {
			return true
		}
	}
	return false
}

// AgentProfile groups the agent-only columns of users.
type AgentProfile struct {
	LicenseNumber   *string
	AgencyName      *string
	CommissionRate  *float64
	ExperienceYears *int
	Specialization  []string
	Bio             *string
	Rating          float64
	TotalSales      int
}

// SpecializesIn reports whether the agent lists the given specialization.
// An empty specialization list means the agent handles everything.
func (a AgentProfile) SpecializesIn(s string) bool {
	if len(a.Specialization) == 0 {
		return true
	}
	for _, v := range a.Specialization {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

// BedroomSet is a bit set of bedroom counts 0..15.
type BedroomSet uint16

// NewBedroomSet packs the given counts; values outside 0..15 are rejected.
func NewBedroomSet(counts ...int) (BedroomSet, error) {
	var s BedroomSet
	for _, n := range counts {
		if n < 0 || n > 15 {
			return 0, fmt.Errorf("invalid bedroom count %d", n)
		}
		s |= 1 << uint(n)
	}
	return s, nil
}

// Has reports whether n is in the set.
func (s BedroomSet) Has(n int) bool {
	return n >= 0 && n <= 15 && s&(1<<uint(n)) != 0
}

// Counts returns the members in ascending order.
func (s BedroomSet) Counts() []int {
	out := []int{}
	for n := 0; n <= 15; n++ {
		if s.Has(n) {
			out = append(out, n)
		}
	}
	return out
}
