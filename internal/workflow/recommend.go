package workflow

import (
	"context"
	"database/sql"

	"github.com/iliyamo/property-listing-api/internal/model"
)

const (
	DefaultRecommendationLimit = 10
	MaxRecommendationLimit     = 50
)

// GetRecommendations ranks active listings against the user's buyer
// preferences.  Listings the user already favorited are left out.  limit
// defaults to 10 and is capped at 50.
func (e *Engine) GetRecommendations(ctx context.Context, userID uint64, limit int) ([]model.Recommendation, error) {
	switch {
	case limit <= 0:
		limit = DefaultRecommendationLimit
	case limit > MaxRecommendationLimit:
		limit = MaxRecommendationLimit
	}
	var recs []model.Recommendation
	err := e.run(ctx, "get_recommendations", func(ctx context.Context, tx *sql.Tx, s *stores) error {
		u, err := liveUser(ctx, tx, s, userID, false)
		if err != nil {
			return err
		}
		recs, err = s.listings.RecommendTx(ctx, tx, u.ID, u.Preferences, limit)
		return err
	})
	if err != nil {
		return nil, err
	}
	return recs, nil
}
