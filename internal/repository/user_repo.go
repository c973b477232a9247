package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/blinkdate/matchmaking/internal/db"
	"github.com/blinkdate/matchmaking/internal/matching"
)

// UserRepository reads preference snapshots and flips the availability flag.
// Account management happens elsewhere; the matchmaking core only consumes.
type UserRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new repository bound to the given DB connection.
func NewUserRepository(database *gorm.DB) *UserRepository {
	return &UserRepository{db: database}
}

// Get returns the user row, or nil if unknown.
func (r *UserRepository) Get(ctx context.Context, userID uint64) (*db.User, error) {
	var user db.User
	err := r.db.WithContext(ctx).First(&user, userID).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Profiles loads preference snapshots for the given users, keyed by id.
func (r *UserRepository) Profiles(ctx context.Context, userIDs []uint64) (map[uint64]matching.Profile, error) {
	if len(userIDs) == 0 {
		return map[uint64]matching.Profile{}, nil
	}

	var users []db.User
	err := r.db.WithContext(ctx).
		Where("id IN ?", userIDs).
		Find(&users).Error
	if err != nil {
		return nil, err
	}

	out := make(map[uint64]matching.Profile, len(users))
	for _, u := range users {
		out[u.ID] = ProfileOf(&u)
	}
	return out, nil
}

// SetAvailability flips the availability flag for the given users.
func (r *UserRepository) SetAvailability(ctx context.Context, available bool, userIDs ...uint64) error {
	if len(userIDs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&db.User{}).
		Where("id IN ?", userIDs).
		Update("available", available).Error
}

// ProfileOf converts a user row into the evaluator's preference snapshot.
func ProfileOf(u *db.User) matching.Profile {
	return matching.Profile{
		UserID:                u.ID,
		Age:                   u.Age,
		MinAgePreference:      u.MinAgePreference,
		MaxAgePreference:      u.MaxAgePreference,
		Latitude:              u.Latitude,
		Longitude:             u.Longitude,
		MaxDistancePreference: u.MaxDistancePreference,
		Gender:                u.Gender,
		GenderPreference:      u.GenderPreference,
		RelationshipGoal:      u.RelationshipGoal,
	}
}
