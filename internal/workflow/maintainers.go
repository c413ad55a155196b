package workflow

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/property-listing-api/internal/model"
)

// The functions below keep derived state consistent with the write that
// triggered them.  Callers invoke them inside the same transaction, after the
// primary write.

// queueListingReview enqueues a property_listing approval for l when it sits
// in pending_review and no open entry exists yet.
func queueListingReview(ctx context.Context, tx *sql.Tx, s *stores, l *model.Listing, now time.Time) error {
	if l.Status != model.ListingPendingReview {
		return nil
	}
	subject := model.ListingSubject{ListingID: l.ID}
	open, err := s.approvals.CountOpenTx(ctx, tx, subject)
	if err != nil || open > 0 {
		return err
	}
	return s.approvals.CreateTx(ctx, tx, &model.PendingApproval{
		Subject:     subject,
		SubmittedBy: u64(l.OwnerID),
		SubmissionData: map[string]any{
			"title":         l.Title,
			"property_type": string(l.PropertyType),
			"price":         l.Price,
			"city":          l.City,
		},
		Status:    model.ApprovalPending,
		Priority:  model.PriorityNormal,
		CreatedAt: now,
		UpdatedAt: now,
	})
}

// adjustFavorites moves the favorites counter of a listing the caller has
// already locked.  A counter that would go negative is clamped and logged;
// reconciliation repairs it.
func (e *Engine) adjustFavorites(ctx context.Context, tx *sql.Tx, s *stores, propertyID uint64, delta int) error {
	floored, err := s.listings.AdjustFavoritesTx(ctx, tx, propertyID, delta)
	if err != nil {
		return err
	}
	if floored {
		e.log.WithFields(logrus.Fields{"property_id": propertyID, "delta": delta}).
			Warn("favorites_count would go negative; clamped to zero")
	}
	return nil
}

// autoAssignAgent runs after a user's email verification.  before is the
// user as it was read, under lock, ahead of the verification write.
func (e *Engine) autoAssignAgent(ctx context.Context, tx *sql.Tx, s *stores, before *model.User, now time.Time) error {
	if !before.IsBuyer || before.EmailVerifiedAt != nil || before.PreferredAgentID != nil {
		return nil
	}
	setting, err := s.settings.GetTx(ctx, tx, model.SettingAutoAssignAgents)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !setting.Bool() {
		return nil
	}

	agentID, err := s.users.PickAutoAssignAgentTx(ctx, tx, before.ID)
	if err != nil || agentID == nil {
		return err
	}
	if err := s.users.SetPreferredAgentTx(ctx, tx, before.ID, agentID, now); err != nil {
		return err
	}
	reason := model.AutoAssignReason
	err = s.assignments.CreateTx(ctx, tx, &model.Assignment{
		UserID:     before.ID,
		AgentID:    *agentID,
		Type:       model.AssignmentAuto,
		Status:     model.AssignmentActive,
		Reason:     &reason,
		AssignedAt: now,
		UpdatedAt:  now,
	})
	// An active assignment to the same agent already covers the pair.
	if errors.Is(err, ErrDuplicateKey) {
		err = nil
	}
	if err == nil {
		e.log.WithField("user_id", before.ID).WithField("agent_id", *agentID).Info("agent auto-assigned")
	}
	return err
}

// markFirstResponse stamps first_response_at on the enquiry of a new note.
func markFirstResponse(ctx context.Context, tx *sql.Tx, s *stores, enquiryID uint64, now time.Time) error {
	return s.enquiries.SetFirstResponseTx(ctx, tx, enquiryID, now)
}

// countInquiry bumps inquiries_count of a listing the caller has already
// locked.
func countInquiry(ctx context.Context, tx *sql.Tx, s *stores, propertyID *uint64) error {
	if propertyID == nil {
		return nil
	}
	return s.listings.IncrementInquiriesTx(ctx, tx, *propertyID)
}
