package workflow

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/property-listing-api/internal/metrics"
	"github.com/iliyamo/property-listing-api/internal/model"
	"github.com/iliyamo/property-listing-api/internal/repository"
)

// FavoriteInput carries the optional per-favorite settings.  Nil flags
// default to true.
type FavoriteInput struct {
	Notes                *string
	NotifyOnPriceChange  *bool
	NotifyOnStatusChange *bool
}

func flagOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

// AddFavorite saves a listing for the user and bumps its favorites counter
// under the listing row lock.
func (e *Engine) AddFavorite(ctx context.Context, userID, propertyID uint64, in FavoriteInput) (*model.Favorite, error) {
	var fav *model.Favorite
	err := e.run(ctx, "add_favorite", func(ctx context.Context, tx *sql.Tx, s *stores) error {
		fav = nil
		now := e.clock()
		l, err := liveListing(ctx, tx, s, propertyID)
		if err != nil {
			return err
		}
		if _, err := liveUser(ctx, tx, s, userID, false); err != nil {
			return err
		}
		f := &model.Favorite{
			UserID:               userID,
			PropertyID:           l.ID,
			Notes:                in.Notes,
			NotifyOnPriceChange:  flagOr(in.NotifyOnPriceChange, true),
			NotifyOnStatusChange: flagOr(in.NotifyOnStatusChange, true),
			CreatedAt:            now,
		}
		if err := s.favorites.CreateTx(ctx, tx, f); err != nil {
			return err
		}
		if err := e.adjustFavorites(ctx, tx, s, l.ID, 1); err != nil {
			return err
		}
		fav = f
		return nil
	})
	if err != nil {
		return nil, err
	}
	return fav, nil
}

// RemoveFavorite deletes the user's favorite and decrements the counter.
func (e *Engine) RemoveFavorite(ctx context.Context, userID, propertyID uint64) error {
	return e.run(ctx, "remove_favorite", func(ctx context.Context, tx *sql.Tx, s *stores) error {
		// Deleted listings keep their favorites, so lock without the
		// visibility check.
		if _, err := s.listings.GetByIDTx(ctx, tx, propertyID, true); err != nil {
			return err
		}
		existed, err := s.favorites.DeleteTx(ctx, tx, userID, propertyID)
		if err != nil {
			return err
		}
		if !existed {
			return fmt.Errorf("%w: favorite of user %d on listing %d", ErrNotFound, userID, propertyID)
		}
		return e.adjustFavorites(ctx, tx, s, propertyID, -1)
	})
}

// ReconcileFavoriteCounts recomputes favorites_count from the favorites
// table and repairs every drifted listing, auditing each repair at critical
// severity.  actorID is nil when run by the scheduler.
func (e *Engine) ReconcileFavoriteCounts(ctx context.Context, actorID *uint64) ([]repository.FavoriteDrift, error) {
	var fixed []repository.FavoriteDrift
	err := e.run(ctx, "reconcile_favorites", func(ctx context.Context, tx *sql.Tx, s *stores) error {
		fixed = nil
		now := e.clock()
		if actorID != nil {
			if _, err := e.requireAdmin(ctx, tx, s, *actorID); err != nil {
				return err
			}
		}
		drift, err := s.favorites.DriftTx(ctx, tx)
		if err != nil {
			return err
		}
		for _, d := range drift {
			if _, err := s.listings.GetByIDTx(ctx, tx, d.PropertyID, true); err != nil {
				return err
			}
			// Recount under the lock; the drift scan ran before it.
			actual, err := s.favorites.CountForPropertyTx(ctx, tx, d.PropertyID)
			if err != nil {
				return err
			}
			d.Actual = actual
			if err := s.listings.SetFavoritesCountTx(ctx, tx, d.PropertyID, actual); err != nil {
				return err
			}
			if err := audit(ctx, tx, s, model.AuditLog{
				UserID:      actorID,
				Action:      model.AuditReconcile,
				TableName:   "property_listings",
				RecordID:    u64(d.PropertyID),
				OldValues:   map[string]any{"favorites_count": d.Stored},
				NewValues:   map[string]any{"favorites_count": actual},
				Description: fmt.Sprintf("favorites_count drift repaired: stored %d, actual %d", d.Stored, actual),
				Severity:    model.SeverityCritical,
			}, now); err != nil {
				return err
			}
			fixed = append(fixed, d)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, d := range fixed {
		metrics.FavoriteDrift.Inc()
		e.log.WithFields(logrus.Fields{
			"property_id": d.PropertyID,
			"stored":      d.Stored,
			"actual":      d.Actual,
			"severity":    model.SeverityCritical,
		}).Error("favorites counter drift repaired")
	}
	return fixed, nil
}
