package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/blinkdate/matchmaking/internal/db"
)

// CallRepository provides data access for paired call sessions.
// "Active" always means end_time IS NULL.
type CallRepository struct {
	db *gorm.DB
}

// NewCallRepository creates a new repository bound to the given DB connection.
func NewCallRepository(database *gorm.DB) *CallRepository {
	return &CallRepository{db: database}
}

// ActiveCallForUser returns the user's active call, or nil if there is none.
// The newest is returned should query discipline ever be violated upstream.
func (r *CallRepository) ActiveCallForUser(ctx context.Context, userID uint64) (*db.Call, error) {
	var call db.Call
	err := r.db.WithContext(ctx).
		Where("(user1_id = ? OR user2_id = ?) AND end_time IS NULL", userID, userID).
		Order("start_time DESC").
		First(&call).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &call, nil
}

// ActiveCallBetween returns an active call whose participants are exactly a
// and b (in either order), or nil.
func (r *CallRepository) ActiveCallBetween(ctx context.Context, a, b uint64) (*db.Call, error) {
	var call db.Call
	err := r.db.WithContext(ctx).
		Where("((user1_id = ? AND user2_id = ?) OR (user1_id = ? AND user2_id = ?)) AND end_time IS NULL",
			a, b, b, a).
		First(&call).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &call, nil
}

// Create inserts a call row. Intended to run inside the pairing transaction.
func (r *CallRepository) Create(ctx context.Context, call *db.Call) error {
	return r.db.WithContext(ctx).Create(call).Error
}

// AttachSecondUser fills a call's free slot with userID. Same one-shot
// conditional-write shape as the pool lock: the update only applies while
// user2_id is still NULL, so two racing attachments cannot both win.
func (r *CallRepository) AttachSecondUser(ctx context.Context, callID, userID uint64) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&db.Call{}).
		Where("id = ? AND user2_id IS NULL", callID).
		Update("user2_id", userID)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// End sets end_time on an active call. Idempotent: ending an already-ended
// call affects no rows and returns false.
func (r *CallRepository) End(ctx context.Context, callID uint64, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&db.Call{}).
		Where("id = ? AND end_time IS NULL", callID).
		Update("end_time", at)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Get returns a call by id, or nil if unknown.
func (r *CallRepository) Get(ctx context.Context, callID uint64) (*db.Call, error) {
	var call db.Call
	err := r.db.WithContext(ctx).First(&call, callID).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &call, nil
}

// CountStartedSince counts the user's calls started at or after the given
// time. DB fallback for the cached daily quota counter.
func (r *CallRepository) CountStartedSince(ctx context.Context, userID uint64, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&db.Call{}).
		Where("(user1_id = ? OR user2_id = ?) AND start_time >= ?", userID, userID, since).
		Count(&count).Error
	return count, err
}

// RecordMetric stores match-quality data for a pairing.
func (r *CallRepository) RecordMetric(ctx context.Context, m *db.MatchMetric) error {
	return r.db.WithContext(ctx).Create(m).Error
}
