package db

import (
	"time"
)

// User table. Profile and preference columns are the read-only snapshot the
// pairing engine consumes; account fields (auth, billing) are owned elsewhere.
type User struct {
	ID           uint64 `gorm:"primaryKey;autoIncrement"`
	Username     string `gorm:"uniqueIndex;size:64;not null"`
	Email        string `gorm:"uniqueIndex;size:128;not null"`
	PasswordHash string `gorm:"size:255;not null"`
	Active       bool   `gorm:"default:true"`
	Available    bool   `gorm:"default:true"`

	Age                   int    `gorm:"not null"`
	MinAgePreference      int    `gorm:"default:18"`
	MaxAgePreference      int    `gorm:"default:99"`
	Latitude              *float64
	Longitude             *float64
	MaxDistancePreference *float64 // km; nil means the 50 km default applies
	Gender                string   `gorm:"size:16;not null"`
	GenderPreference      string   `gorm:"size:16;default:all"`
	RelationshipGoal      string   `gorm:"size:32;default:friendship"`
	SubscriptionPlan      string   `gorm:"size:16;default:free"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// WaitingUser is one row per user currently seeking a match.
//
// Invariants:
//   - user_id is the primary key, so a user appears at most once in the pool.
//   - LockedBy is a one-shot claim: NULL means unclaimed, a user id means an
//     in-flight pairing attempt owns this entry. It is never reset to NULL;
//     the claim is released only by deleting the row.
//
// AgeGroup/GenderGroup are denormalized copies of the user's profile used by
// the bucketed candidate scan; the plain scan ignores them.
type WaitingUser struct {
	UserID      uint64    `gorm:"primaryKey"`
	EnqueuedAt  time.Time `gorm:"autoCreateTime;index"`
	LockedBy    *uint64
	AgeGroup    string `gorm:"size:16;index:idx_waiting_bucket,priority:1"`
	GenderGroup string `gorm:"size:16;index:idx_waiting_bucket,priority:2"`
}

// Call is a paired video session. EndTime NULL means the call is active.
// A user may be in at most one active call; MySQL has no partial unique
// indexes, so the invariant is enforced by re-checking inside the pairing
// transaction before the row is inserted.
//
// User2ID is nullable: a call created by another flow may still have a free
// slot that a late requester gets attached to.
type Call struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	User1ID   uint64 `gorm:"not null;index"`
	User2ID   *uint64 `gorm:"index"`
	RoomURL   string  `gorm:"size:512;not null"`
	StartTime time.Time `gorm:"autoCreateTime"`
	EndTime   *time.Time `gorm:"index"`
}

// Rejection is a directional, time-bounded exclusion: UserID will not be
// paired with RejectedUserID until ExpiresAt. Rows are filtered by timestamp,
// never actively purged.
type Rejection struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement"`
	UserID         uint64    `gorm:"not null;uniqueIndex:idx_rejection_pair,priority:1"`
	RejectedUserID uint64    `gorm:"not null;uniqueIndex:idx_rejection_pair,priority:2"`
	ExpiresAt      time.Time `gorm:"not null;index"`
	CreatedAt      time.Time `gorm:"autoCreateTime"`
}

// Match is the mutual-like record created from post-call feedback. It only
// matters to the pairing engine as an exclusion input once Mutual is true.
type Match struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	User1ID   uint64    `gorm:"not null;uniqueIndex:idx_match_pair,priority:1"`
	User2ID   uint64    `gorm:"not null;uniqueIndex:idx_match_pair,priority:2"`
	Mutual    bool      `gorm:"not null;default:false"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// MatchMetric records the quality of a pairing at the moment it was made.
type MatchMetric struct {
	ID         uint64  `gorm:"primaryKey;autoIncrement"`
	CallID     uint64  `gorm:"not null;index"`
	User1ID    uint64  `gorm:"not null"`
	User2ID    uint64  `gorm:"not null"`
	DistanceKm float64
	Score      float64
	CreatedAt  time.Time `gorm:"autoCreateTime"`
}
