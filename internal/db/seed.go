package db

import (
	"fmt"
	"log"
	"math/rand"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/blinkdate/matchmaking/internal/matching"
)

// London-area demo coordinates, one per seeded user, spread a few km apart.
var seedPoints = []struct{ lat, lon float64 }{
	{51.5074, -0.1278}, {51.5155, -0.0922}, {51.4975, -0.1357},
	{51.5287, -0.1045}, {51.4613, -0.1156}, {51.5462, -0.1058},
	{51.5392, -0.1426}, {51.4893, -0.0648}, {51.5200, -0.0800},
	{51.4700, -0.1700},
}

// SeedTestData resets the database and populates it with demo users suitable
// for exercising the matchmaking pool locally.
//
// Behavior:
//  1. Clears users, waiting_users, calls, rejections, matches, match_metrics.
//  2. Creates 20 users (10 male, 10 female) with hashed passwords, ages
//     spread over 20-48, coordinates around London and mixed plans.
//  3. Puts a handful of users into the waiting pool and adds a few ledger
//     entries so rejection filtering is visible from the first poll.
//
// Compatible with both MySQL and SQLite (AUTO_INCREMENT reset skipped for SQLite).
func SeedTestData(database *gorm.DB) error {
	r := rand.New(rand.NewSource(time.Now().UnixNano()))

	tables := []string{"match_metrics", "matches", "rejections", "calls", "waiting_users", "users"}
	for _, t := range tables {
		if err := database.Exec("DELETE FROM " + t).Error; err != nil {
			return fmt.Errorf("failed to clear %s: %w", t, err)
		}
	}

	switch database.Dialector.Name() {
	case "mysql":
		for _, t := range tables {
			database.Exec("ALTER TABLE " + t + " AUTO_INCREMENT = 1")
		}
	case "sqlite":
		for _, t := range tables {
			database.Exec("DELETE FROM sqlite_sequence WHERE name = ?", t)
		}
	}

	log.Println("Cleared existing data")

	plans := []string{"free", "free", "basic", "premium"}
	goals := []string{"long-term", "casual", "friendship"}

	for i := 1; i <= 20; i++ {
		hash, err := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("failed to hash password: %w", err)
		}

		gender := "male"
		wants := "female"
		if i > 10 {
			gender = "female"
			wants = "male"
		}
		if i%7 == 0 {
			wants = "all"
		}

		age := 20 + r.Intn(29)
		pt := seedPoints[(i-1)%len(seedPoints)]
		maxDist := float64(10 + r.Intn(40))

		user := User{
			Username:              fmt.Sprintf("user%d", i),
			Email:                 fmt.Sprintf("user%d@example.com", i),
			PasswordHash:          string(hash),
			Age:                   age,
			MinAgePreference:      age - 5,
			MaxAgePreference:      age + 5,
			Latitude:              &pt.lat,
			Longitude:             &pt.lon,
			MaxDistancePreference: &maxDist,
			Gender:                gender,
			GenderPreference:      wants,
			RelationshipGoal:      goals[r.Intn(len(goals))],
			SubscriptionPlan:      plans[r.Intn(len(plans))],
			Available:             true,
		}
		if user.MinAgePreference < 18 {
			user.MinAgePreference = 18
		}

		if err := database.Create(&user).Error; err != nil {
			return fmt.Errorf("failed to seed user: %w", err)
		}

		// Every other user starts out waiting in the pool.
		if i%2 == 0 {
			entry := WaitingUser{
				UserID:      user.ID,
				AgeGroup:    matching.AgeGroup(age),
				GenderGroup: gender,
			}
			if err := database.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "user_id"}},
				DoNothing: true,
			}).Create(&entry).Error; err != nil {
				return fmt.Errorf("failed to seed waiting entry: %w", err)
			}
		}
	}
	log.Println("Seeded 20 users.")

	// A few cooldowns and one mutual match so ledger filtering shows up.
	rejections := []Rejection{
		{UserID: 1, RejectedUserID: 12, ExpiresAt: time.Now().Add(48 * time.Hour)},
		{UserID: 14, RejectedUserID: 3, ExpiresAt: time.Now().Add(48 * time.Hour)},
		{UserID: 5, RejectedUserID: 16, ExpiresAt: time.Now().Add(-time.Hour)}, // already expired
	}
	for _, rej := range rejections {
		if err := database.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "rejected_user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"expires_at"}),
		}).Create(&rej).Error; err != nil {
			return fmt.Errorf("failed to seed rejection: %w", err)
		}
	}

	match := Match{User1ID: 2, User2ID: 11, Mutual: true}
	if err := database.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user1_id"}, {Name: "user2_id"}},
		DoNothing: true,
	}).Create(&match).Error; err != nil {
		return fmt.Errorf("failed to seed match: %w", err)
	}

	log.Println("Seeded ledger entries.")
	return nil
}
