package workflow

import (
	"context"
	"database/sql"

	"github.com/iliyamo/property-listing-api/internal/model"
)

// CloseAssignment ends one of the user's active assignments as completed or
// inactive, optionally rating the agent.  Closing the assignment of the
// preferred agent clears the preference.
func (e *Engine) CloseAssignment(ctx context.Context, userID, assignmentID uint64, status model.AssignmentStatus, rating *int, feedback *string) error {
	var c checker
	c.require(status == model.AssignmentCompleted || status == model.AssignmentInactive, "status", "must be completed or inactive")
	if rating != nil {
		c.require(*rating >= 1 && *rating <= 5, "user_rating", "must be between 1 and 5")
	}
	if err := c.err(); err != nil {
		return err
	}
	return e.run(ctx, "close_assignment", func(ctx context.Context, tx *sql.Tx, s *stores) error {
		now := e.clock()
		u, err := liveUser(ctx, tx, s, userID, true)
		if err != nil {
			return err
		}
		a, err := s.assignments.GetByIDTx(ctx, tx, assignmentID, true)
		if err != nil {
			return err
		}
		if a.UserID != userID {
			return notAuthorized("assignment %d does not belong to user %d", assignmentID, userID)
		}
		if a.Status != model.AssignmentActive {
			return badTransition("assignment %d is %s", assignmentID, a.Status)
		}
		if err := s.assignments.CloseTx(ctx, tx, a.ID, status, rating, feedback, now); err != nil {
			return err
		}
		if u.PreferredAgentID != nil && *u.PreferredAgentID == a.AgentID {
			return s.users.SetPreferredAgentTx(ctx, tx, userID, nil, now)
		}
		return nil
	})
}

// RecordAssignmentActivity adds to the counters of an active assignment
// handled by agentID.
func (e *Engine) RecordAssignmentActivity(ctx context.Context, agentID, assignmentID uint64, shown, meetings int) error {
	var c checker
	c.require(shown >= 0, "properties_shown", "must not be negative")
	c.require(meetings >= 0, "meetings_conducted", "must not be negative")
	c.require(shown+meetings > 0, "activity", "nothing to record")
	if err := c.err(); err != nil {
		return err
	}
	return e.run(ctx, "record_assignment_activity", func(ctx context.Context, tx *sql.Tx, s *stores) error {
		if _, err := e.requireRole(ctx, tx, s, agentID, model.RoleAgent); err != nil {
			return err
		}
		a, err := s.assignments.GetByIDTx(ctx, tx, assignmentID, true)
		if err != nil {
			return err
		}
		if a.AgentID != agentID {
			return notAuthorized("agent %d does not handle assignment %d", agentID, assignmentID)
		}
		if a.Status != model.AssignmentActive {
			return badTransition("assignment %d is %s", assignmentID, a.Status)
		}
		return s.assignments.IncrementActivityTx(ctx, tx, a.ID, shown, meetings, e.clock())
	})
}
