package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/blinkdate/matchmaking/internal/db"
)

// LedgerRepository provides data access for the rejection/history ledger:
// time-bounded directional rejections plus mutual matches, both consumed by
// the pairing engine as an exclusion pre-filter.
type LedgerRepository struct {
	db *gorm.DB
}

// NewLedgerRepository creates a new repository bound to the given DB connection.
func NewLedgerRepository(database *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: database}
}

// ExcludedIDs returns the set of users that must never be presented to the
// evaluator for userID: unexpired rejections in either direction, plus users
// with an existing mutual match.
func (r *LedgerRepository) ExcludedIDs(ctx context.Context, userID uint64, now time.Time) (map[uint64]struct{}, error) {
	excluded := make(map[uint64]struct{})

	var rejections []db.Rejection
	err := r.db.WithContext(ctx).
		Where("(user_id = ? OR rejected_user_id = ?) AND expires_at >= ?", userID, userID, now).
		Find(&rejections).Error
	if err != nil {
		return nil, err
	}
	for _, rej := range rejections {
		if rej.UserID == userID {
			excluded[rej.RejectedUserID] = struct{}{}
		} else {
			excluded[rej.UserID] = struct{}{}
		}
	}

	var matches []db.Match
	err = r.db.WithContext(ctx).
		Where("(user1_id = ? OR user2_id = ?) AND mutual = ?", userID, userID, true).
		Find(&matches).Error
	if err != nil {
		return nil, err
	}
	for _, m := range matches {
		if m.User1ID == userID {
			excluded[m.User2ID] = struct{}{}
		} else {
			excluded[m.User1ID] = struct{}{}
		}
	}

	return excluded, nil
}

// IsExcluded reports whether a and b may not be paired: an unexpired
// rejection exists in either direction, or they already matched mutually.
func (r *LedgerRepository) IsExcluded(ctx context.Context, a, b uint64, now time.Time) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&db.Rejection{}).
		Where("((user_id = ? AND rejected_user_id = ?) OR (user_id = ? AND rejected_user_id = ?)) AND expires_at >= ?",
			a, b, b, a, now).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	if count > 0 {
		return true, nil
	}

	err = r.db.WithContext(ctx).
		Model(&db.Match{}).
		Where("((user1_id = ? AND user2_id = ?) OR (user1_id = ? AND user2_id = ?)) AND mutual = ?",
			a, b, b, a, true).
		Count(&count).Error
	return count > 0, err
}

// AddRejection records (or extends) a directional rejection of rejectedID by
// userID, expiring after ttl.
func (r *LedgerRepository) AddRejection(ctx context.Context, userID, rejectedID uint64, ttl time.Duration) error {
	rej := db.Rejection{
		UserID:         userID,
		RejectedUserID: rejectedID,
		ExpiresAt:      time.Now().UTC().Add(ttl),
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "rejected_user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"expires_at"}),
		}).
		Create(&rej).Error
}

// GetMatchFrom returns the match row recorded by fromID about toID (the
// directional "potential match" created by one-sided positive feedback), or
// nil if none exists.
func (r *LedgerRepository) GetMatchFrom(ctx context.Context, fromID, toID uint64) (*db.Match, error) {
	var m db.Match
	err := r.db.WithContext(ctx).
		Where("user1_id = ? AND user2_id = ?", fromID, toID).
		First(&m).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// MarkMutual upgrades an existing match row to mutual.
func (r *LedgerRepository) MarkMutual(ctx context.Context, matchID uint64) error {
	return r.db.WithContext(ctx).
		Model(&db.Match{}).
		Where("id = ?", matchID).
		Update("mutual", true).Error
}

// CreateMatch inserts a match row. mutual is true only when both sides have
// already signalled positive feedback.
func (r *LedgerRepository) CreateMatch(ctx context.Context, user1ID, user2ID uint64, mutual bool) error {
	m := db.Match{User1ID: user1ID, User2ID: user2ID, Mutual: mutual}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user1_id"}, {Name: "user2_id"}},
			DoNothing: true,
		}).
		Create(&m).Error
}
