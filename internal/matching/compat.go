// Package matching implements the compatibility rules the pairing engine
// applies to pool candidates: a symmetric boolean predicate over two users'
// stated preferences, and a 0-10 score used to rank candidates that pass it.
package matching

import (
	"math"

	"github.com/blinkdate/matchmaking/internal/geo"
)

// GenderPreferenceAll matches any gender.
const GenderPreferenceAll = "all"

// GoalFriendship is the wildcard relationship goal: it is compatible with
// every other goal.
const GoalFriendship = "friendship"

// Profile is the read-only preference snapshot the evaluator consumes.
type Profile struct {
	UserID                uint64
	Age                   int
	MinAgePreference      int
	MaxAgePreference      int
	Latitude              *float64
	Longitude             *float64
	MaxDistancePreference *float64
	Gender                string
	GenderPreference      string
	RelationshipGoal      string
}

func (p Profile) point() geo.Point {
	return geo.Point{
		Latitude:      p.Latitude,
		Longitude:     p.Longitude,
		MaxDistanceKm: p.MaxDistancePreference,
	}
}

// ageRange returns the stated age bounds with open ends defaulted.
func (p Profile) ageRange() (int, int) {
	lo, hi := p.MinAgePreference, p.MaxAgePreference
	if lo <= 0 {
		lo = 18
	}
	if hi <= 0 {
		hi = 99
	}
	return lo, hi
}

// IsCompatible reports whether a and b accept each other. All four predicates
// must hold in both directions, which makes the result symmetric.
func IsCompatible(a, b Profile) bool {
	return agesAccepted(a, b) &&
		geo.WithinPreferredDistance(a.point(), b.point()) &&
		gendersAccepted(a, b) &&
		goalsAccepted(a, b)
}

func agesAccepted(a, b Profile) bool {
	aLo, aHi := a.ageRange()
	bLo, bHi := b.ageRange()
	return a.Age >= bLo && a.Age <= bHi && b.Age >= aLo && b.Age <= aHi
}

func gendersAccepted(a, b Profile) bool {
	return (a.GenderPreference == GenderPreferenceAll || a.GenderPreference == b.Gender) &&
		(b.GenderPreference == GenderPreferenceAll || b.GenderPreference == a.Gender)
}

func goalsAccepted(a, b Profile) bool {
	return a.RelationshipGoal == b.RelationshipGoal ||
		a.RelationshipGoal == GoalFriendship ||
		b.RelationshipGoal == GoalFriendship
}

// Score rates a compatible pair 0-10. Each axis contributes 0-3 (mutual fit
// scores 3, one-way fit or a wildcard scores 1) and the sum is normalized.
// It is only used to pick the best among candidates that already passed
// IsCompatible, never for correctness.
func Score(a, b Profile) float64 {
	aLo, aHi := a.ageRange()
	bLo, bHi := b.ageRange()
	aAccepted := a.Age >= bLo && a.Age <= bHi
	bAccepted := b.Age >= aLo && b.Age <= aHi

	ageScore := 0.0
	switch {
	case aAccepted && bAccepted:
		ageScore = 3
	case aAccepted || bAccepted:
		ageScore = 1
	}

	genderScore := 0.0
	switch {
	case gendersAccepted(a, b):
		genderScore = 3
	case a.GenderPreference == GenderPreferenceAll || b.GenderPreference == GenderPreferenceAll:
		genderScore = 1
	}

	goalScore := 0.0
	switch {
	case a.RelationshipGoal == b.RelationshipGoal:
		goalScore = 3
	case a.RelationshipGoal == GoalFriendship || b.RelationshipGoal == GoalFriendship:
		goalScore = 1
	}

	distScore := distanceScore(a, b)

	total := (ageScore + genderScore + goalScore + distScore) / 1.2
	return math.Min(math.Round(total*10)/10, 10)
}

// distanceScore rewards closeness relative to the tighter of the two radius
// preferences: 3 within a quarter of it, down to 0 outside it entirely.
func distanceScore(a, b Profile) float64 {
	dist := geo.DistanceKm(a.Latitude, a.Longitude, b.Latitude, b.Longitude)
	if math.IsInf(dist, 1) {
		return 0
	}

	allowed := geo.DefaultMaxDistanceKm
	if a.MaxDistancePreference != nil {
		allowed = *a.MaxDistancePreference
	}
	if b.MaxDistancePreference != nil && *b.MaxDistancePreference < allowed {
		allowed = *b.MaxDistancePreference
	}
	if allowed <= 0 {
		return 0
	}

	switch ratio := dist / allowed; {
	case ratio <= 0.25:
		return 3
	case ratio <= 0.5:
		return 2
	case ratio <= 1:
		return 1
	default:
		return 0
	}
}

// Distance returns the great-circle distance between two profiles in km,
// +Inf when either side lacks coordinates.
func Distance(a, b Profile) float64 {
	return geo.DistanceKm(a.Latitude, a.Longitude, b.Latitude, b.Longitude)
}

// AgeGroup buckets an age for the sharded candidate scan.
func AgeGroup(age int) string {
	switch {
	case age >= 55:
		return "55+"
	case age >= 45:
		return "45-54"
	case age >= 35:
		return "35-44"
	case age >= 25:
		return "25-34"
	default:
		return "18-24"
	}
}

// ageGroupBounds lists each bucket with its inclusive age range.
var ageGroupBounds = []struct {
	name   string
	lo, hi int
}{
	{"18-24", 18, 24},
	{"25-34", 25, 34},
	{"35-44", 35, 44},
	{"45-54", 45, 54},
	{"55+", 55, 200},
}

// AgeGroupsForRange returns the buckets overlapping the inclusive preference
// range [lo, hi], used by the bucketed candidate scan. Open ends default the
// same way ageRange does.
func AgeGroupsForRange(lo, hi int) []string {
	if lo <= 0 {
		lo = 18
	}
	if hi <= 0 {
		hi = 99
	}
	var out []string
	for _, g := range ageGroupBounds {
		if lo <= g.hi && hi >= g.lo {
			out = append(out, g.name)
		}
	}
	return out
}
