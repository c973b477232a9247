package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/blinkdate/matchmaking/internal/db"
	"github.com/blinkdate/matchmaking/internal/utils/pagination"
)

// WaitingRepository provides data access for the waiting pool: the persisted
// set of users currently seeking a match.
//
// Locking discipline: LockedBy is a one-shot claim. TryLock is the only write
// that sets it, and it is a single conditional UPDATE, so two concurrent
// pairing attempts against the same candidate cannot both succeed. A claim is
// never cleared in place; the entry is deleted when the pairing completes or
// the user leaves.
type WaitingRepository struct {
	db *gorm.DB
}

// NewWaitingRepository creates a new repository bound to the given DB connection.
func NewWaitingRepository(database *gorm.DB) *WaitingRepository {
	return &WaitingRepository{db: database}
}

// Enqueue adds a user to the pool. Idempotent: if the user is already
// waiting the row is left untouched, preserving the original enqueued_at
// (and any claim already placed on it).
func (r *WaitingRepository) Enqueue(ctx context.Context, userID uint64, ageGroup, genderGroup string) error {
	entry := db.WaitingUser{
		UserID:      userID,
		EnqueuedAt:  time.Now().UTC(),
		AgeGroup:    ageGroup,
		GenderGroup: genderGroup,
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(&entry).Error
}

// Candidates returns unclaimed pool entries other than the requester's own,
// oldest first (FIFO fairness).
func (r *WaitingRepository) Candidates(ctx context.Context, requesterID uint64, limit int) ([]db.WaitingUser, error) {
	var entries []db.WaitingUser
	err := r.db.WithContext(ctx).
		Where("user_id <> ? AND locked_by IS NULL", requesterID).
		Order("enqueued_at ASC, user_id ASC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

// CandidatesInBuckets narrows the scan to entries whose denormalized
// age_group/gender_group fall in the given sets. Used by the bucketed
// retrieval strategy at scale; ordering and claim filtering are identical to
// Candidates.
func (r *WaitingRepository) CandidatesInBuckets(
	ctx context.Context,
	requesterID uint64,
	ageGroups, genderGroups []string,
	limit int,
) ([]db.WaitingUser, error) {
	query := r.db.WithContext(ctx).
		Where("user_id <> ? AND locked_by IS NULL", requesterID)
	if len(ageGroups) > 0 {
		query = query.Where("age_group IN ?", ageGroups)
	}
	if len(genderGroups) > 0 {
		query = query.Where("gender_group IN ?", genderGroups)
	}

	var entries []db.WaitingUser
	err := query.
		Order("enqueued_at ASC, user_id ASC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

// TryLock attempts to claim the candidate's pool entry for lockerID.
//
// The claim is a single atomic conditional write:
//
//	UPDATE waiting_users SET locked_by = ? WHERE user_id = ? AND locked_by IS NULL
//
// It returns true iff this call performed the write. A concurrent claim, a
// pre-existing claim, or a row deleted by the candidate leaving all yield
// false — locking a nonexistent entry fails closed.
func (r *WaitingRepository) TryLock(ctx context.Context, candidateID, lockerID uint64) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&db.WaitingUser{}).
		Where("user_id = ? AND locked_by IS NULL", candidateID).
		Update("locked_by", lockerID)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Remove deletes the given users' pool entries regardless of lock state.
// Removing an absent entry is a no-op.
func (r *WaitingRepository) Remove(ctx context.Context, userIDs ...uint64) error {
	if len(userIDs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Where("user_id IN ?", userIDs).
		Delete(&db.WaitingUser{}).Error
}

// Get returns a user's pool entry, or nil if the user is not waiting.
func (r *WaitingRepository) Get(ctx context.Context, userID uint64) (*db.WaitingUser, error) {
	var entry db.WaitingUser
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&entry).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// Count returns the pool size.
func (r *WaitingRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&db.WaitingUser{}).Count(&count).Error
	return count, err
}

// GroupCount is one bucket of the pool distribution stats.
type GroupCount struct {
	Group string `json:"group"`
	Count int64  `json:"count"`
}

// CountByAgeGroup returns the pool distribution over age buckets.
func (r *WaitingRepository) CountByAgeGroup(ctx context.Context) ([]GroupCount, error) {
	var out []GroupCount
	err := r.db.WithContext(ctx).
		Model(&db.WaitingUser{}).
		Select("age_group AS `group`, COUNT(*) AS count").
		Group("age_group").
		Order("count DESC").
		Find(&out).Error
	return out, err
}

// CountByGenderGroup returns the pool distribution over gender buckets.
func (r *WaitingRepository) CountByGenderGroup(ctx context.Context) ([]GroupCount, error) {
	var out []GroupCount
	err := r.db.WithContext(ctx).
		Model(&db.WaitingUser{}).
		Select("gender_group AS `group`, COUNT(*) AS count").
		Group("gender_group").
		Order("count DESC").
		Find(&out).Error
	return out, err
}

// AverageWaitSeconds returns the mean time entries have been in the pool.
func (r *WaitingRepository) AverageWaitSeconds(ctx context.Context, now time.Time) (float64, error) {
	var entries []db.WaitingUser
	if err := r.db.WithContext(ctx).Find(&entries).Error; err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}
	var total float64
	for _, e := range entries {
		total += now.Sub(e.EnqueuedAt).Seconds()
	}
	return total / float64(len(entries)), nil
}

// ListWaiting returns a page of pool entries ordered by enqueued_at ascending,
// with cursor-based pagination for the admin view.
func (r *WaitingRepository) ListWaiting(
	ctx context.Context,
	paginationToken *string,
	limit int,
) ([]db.WaitingUser, *string, error) {
	cursor, err := pagination.Decode(getString(paginationToken))
	if err != nil {
		return nil, nil, err
	}

	query := r.db.WithContext(ctx).
		Model(&db.WaitingUser{}).
		Order("enqueued_at ASC, user_id ASC").
		Limit(limit + 1)

	if cursor.UserID > 0 && cursor.EnqueuedUnix > 0 {
		ts := time.UnixMilli(cursor.EnqueuedUnix)
		query = query.Where(
			"(enqueued_at > ? OR (enqueued_at = ? AND user_id > ?))",
			ts, ts, cursor.UserID,
		)
	}

	var entries []db.WaitingUser
	if err := query.Find(&entries).Error; err != nil {
		return nil, nil, err
	}

	var nextToken *string
	if len(entries) > limit {
		last := entries[limit-1]
		token, _ := pagination.Encode(pagination.Cursor{
			UserID:       last.UserID,
			EnqueuedUnix: last.EnqueuedAt.UnixMilli(),
		})
		nextToken = &token
		entries = entries[:limit]
	}

	return entries, nextToken, nil
}

// getString safely dereferences a string pointer for pagination tokens.
func getString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
