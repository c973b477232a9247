// Package matchmaking implements the pairing engine: the find-match state
// machine over the waiting pool, plus queue leave/status, call termination,
// and the admin pool views.
package matchmaking

import (
	"context"
	"errors"
	"math"
	"time"

	"gorm.io/gorm"

	"github.com/blinkdate/matchmaking/internal/app"
	"github.com/blinkdate/matchmaking/internal/db"
	svcErr "github.com/blinkdate/matchmaking/internal/errors"
	"github.com/blinkdate/matchmaking/internal/matching"
	"github.com/blinkdate/matchmaking/internal/metrics"
	"github.com/blinkdate/matchmaking/internal/quota"
	"github.com/blinkdate/matchmaking/internal/repository"
)

// Outcome statuses returned to the polling client.
const (
	StatusMatched      = "matched"
	StatusWaiting      = "waiting"
	StatusLimitReached = "limit_reached"
	StatusNotInQueue   = "not_in_queue"
	StatusSuccess      = "success"
)

// Outcome is the result of a find-match or status call. Exactly one status
// is set; the call fields are present only when Status is "matched".
type Outcome struct {
	Status  string  `json:"status"`
	CallID  uint64  `json:"callId,omitempty"`
	RoomURL string  `json:"roomUrl,omitempty"`
	Message string  `json:"message,omitempty"`
	Plan    string  `json:"plan,omitempty"`
	Max     int     `json:"max,omitempty"`
	Score   float64 `json:"matchScore,omitempty"`
}

// Service is the pairing engine. All state lives in storage; every method is
// an independent request-scoped operation, so correctness under concurrent
// callers rests entirely on the pool's one-shot lock and the pairing
// transaction.
type Service struct {
	appCtx  *app.AppContext
	users   *repository.UserRepository
	waiting *repository.WaitingRepository
	calls   *repository.CallRepository
	ledger  *repository.LedgerRepository
	gate    *quota.Gate
}

// NewService creates the pairing engine with dependencies from AppContext.
func NewService(appCtx *app.AppContext, gate *quota.Gate) *Service {
	return &Service{
		appCtx:  appCtx,
		users:   repository.NewUserRepository(appCtx.DB),
		waiting: repository.NewWaitingRepository(appCtx.DB),
		calls:   repository.NewCallRepository(appCtx.DB),
		ledger:  repository.NewLedgerRepository(appCtx.DB),
		gate:    gate,
	}
}

// errAlreadyActive aborts the pairing transaction when a racing flow created
// an active call for one of the parties first.
var errAlreadyActive = errors.New("participant already has an active call")

// FindMatch runs one matchmaking attempt for the requester.
//
// The client polls this every few seconds, so every branch is idempotent:
// an existing active call short-circuits, enqueue is an upsert no-op, and
// the candidate lock is a one-shot conditional write.
func (s *Service) FindMatch(ctx context.Context, requesterID uint64) (*Outcome, error) {
	log := s.appCtx.Logger

	requester, err := s.users.Get(ctx, requesterID)
	if err != nil {
		return nil, err
	}
	if requester == nil {
		return nil, svcErr.ErrUserNotFound
	}

	// CHECKING_ACTIVE: an existing active call wins over everything else,
	// including the quota gate. The pairing that created the call already
	// consumed the quota, so a user whose last daily call is in progress must
	// keep getting that call back, not limit_reached.
	if active, err := s.calls.ActiveCallForUser(ctx, requesterID); err != nil {
		return nil, err
	} else if active != nil {
		return matchedOutcome(active), nil
	}

	// Quota gate next: no pool work for users who are out of calls today.
	gate, err := s.gate.Check(ctx, requesterID, requester.SubscriptionPlan)
	if err != nil {
		return nil, err
	}
	if !gate.Allowed {
		metrics.QuotaDeniedTotal.Inc()
		return &Outcome{
			Status:  StatusLimitReached,
			Plan:    gate.Plan,
			Max:     gate.Max,
			Message: "daily call limit reached",
		}, nil
	}

	// SCANNING: collect unclaimed candidates, drop ledger exclusions, run the
	// evaluator, rank survivors.
	reqProfile := repository.ProfileOf(requester)
	best, bestEntry, err := s.pickCandidate(ctx, reqProfile)
	if err != nil {
		return nil, err
	}
	if bestEntry == nil {
		if err := s.enqueue(ctx, requester); err != nil {
			return nil, err
		}
		return &Outcome{Status: StatusWaiting, Message: "no match found yet"}, nil
	}
	candidateID := bestEntry.UserID

	// LOCKING: one-shot claim on the candidate's pool entry.
	locked, err := s.waiting.TryLock(ctx, candidateID, requesterID)
	if err != nil {
		return nil, err
	}
	if !locked {
		metrics.LockContentionTotal.Inc()
		// Enqueue the loser too, or a user who keeps losing races would
		// never be visible to anyone else's scan.
		if err := s.enqueue(ctx, requester); err != nil {
			return nil, err
		}
		return &Outcome{Status: StatusWaiting, Message: "matched user is busy"}, nil
	}

	log.Debug("candidate locked", "requester", requesterID, "candidate", candidateID)

	// The candidate may have been paired by a flow that passed the lock
	// before ours. If so, join their call instead of creating a second one.
	if candidateCall, err := s.calls.ActiveCallForUser(ctx, candidateID); err != nil {
		return nil, err
	} else if candidateCall != nil {
		return s.joinCandidateCall(ctx, candidateCall, requesterID, candidateID)
	}

	// A still-active call between exactly these two means an earlier attempt
	// already paired them; reuse it.
	if existing, err := s.calls.ActiveCallBetween(ctx, requesterID, candidateID); err != nil {
		return nil, err
	} else if existing != nil {
		return matchedOutcome(existing), nil
	}

	// PAIRING: provision a room, then commit the pairing atomically.
	roomURL := s.provisionRoom(ctx)

	call, racedCall, err := s.commitPairing(ctx, requesterID, candidateID, roomURL)
	if err != nil {
		return nil, err
	}
	if racedCall != nil {
		// The requester's own raced call is simply theirs to rejoin. A call
		// the candidate entered with someone else gets the same attach-or-
		// waiting treatment as one found before the transaction.
		if racedCall.User1ID == requesterID || isSecondUser(racedCall, requesterID) {
			return matchedOutcome(racedCall), nil
		}
		return s.joinCandidateCall(ctx, racedCall, requesterID, candidateID)
	}

	s.recordPairing(ctx, call, reqProfile, best, bestEntry)
	return matchedOutcome(call), nil
}

// pickCandidate returns the best-scoring compatible candidate and their pool
// entry, or nils when no candidate passes.
func (s *Service) pickCandidate(ctx context.Context, req matching.Profile) (matching.Profile, *db.WaitingUser, error) {
	entries, err := s.scanPool(ctx, req)
	if err != nil {
		return matching.Profile{}, nil, err
	}
	if len(entries) == 0 {
		return matching.Profile{}, nil, nil
	}

	excluded, err := s.ledger.ExcludedIDs(ctx, req.UserID, time.Now().UTC())
	if err != nil {
		return matching.Profile{}, nil, err
	}

	ids := make([]uint64, 0, len(entries))
	for _, e := range entries {
		if _, skip := excluded[e.UserID]; !skip {
			ids = append(ids, e.UserID)
		}
	}
	profiles, err := s.users.Profiles(ctx, ids)
	if err != nil {
		return matching.Profile{}, nil, err
	}

	var (
		best      matching.Profile
		bestEntry *db.WaitingUser
		bestScore = -1.0
	)
	// Entries arrive oldest first, so on equal scores FIFO order wins.
	for i := range entries {
		e := &entries[i]
		cand, ok := profiles[e.UserID]
		if !ok {
			continue
		}
		if !matching.IsCompatible(req, cand) {
			continue
		}
		if score := matching.Score(req, cand); score > bestScore {
			best, bestEntry, bestScore = cand, e, score
		}
	}
	return best, bestEntry, nil
}

// scanPool runs the configured candidate-retrieval strategy.
func (s *Service) scanPool(ctx context.Context, req matching.Profile) ([]db.WaitingUser, error) {
	limit := s.appCtx.Config.Matchmaking.CandidateLimit
	if s.appCtx.Config.Matchmaking.Strategy != "bucketed" {
		return s.waiting.Candidates(ctx, req.UserID, limit)
	}

	ageGroups := matching.AgeGroupsForRange(req.MinAgePreference, req.MaxAgePreference)
	var genderGroups []string
	if req.GenderPreference != matching.GenderPreferenceAll {
		genderGroups = []string{req.GenderPreference}
	}
	return s.waiting.CandidatesInBuckets(ctx, req.UserID, ageGroups, genderGroups, limit)
}

func (s *Service) enqueue(ctx context.Context, u *db.User) error {
	err := s.waiting.Enqueue(ctx, u.ID, matching.AgeGroup(u.Age), u.Gender)
	if err != nil {
		return err
	}
	if n, err := s.waiting.Count(ctx); err == nil {
		metrics.QueueSize.Set(float64(n))
	}
	return nil
}

// provisionRoom returns a room URL, substituting the configured fallback on
// provisioning failure so the match itself never aborts.
func (s *Service) provisionRoom(ctx context.Context) string {
	expiry := time.Duration(s.appCtx.Config.Rooms.ExpiryMinutes) * time.Minute
	url, err := s.appCtx.Rooms.CreateRoom(ctx, expiry)
	if err != nil {
		metrics.RoomProvisionFailures.Inc()
		s.appCtx.Logger.Error("room provisioning failed, using fallback room", "err", err)
		return s.appCtx.Config.Rooms.FallbackURL
	}
	return url
}

// joinCandidateCall reuses a call the candidate already entered: both parties
// leave the pool, and the requester takes the call's free slot if it still has
// one. A taken slot leaves the requester unmatched this poll.
func (s *Service) joinCandidateCall(ctx context.Context, call *db.Call, requesterID, candidateID uint64) (*Outcome, error) {
	if err := s.waiting.Remove(ctx, requesterID, candidateID); err != nil {
		return nil, err
	}
	if call.User1ID != requesterID && !isSecondUser(call, requesterID) {
		if ok, err := s.calls.AttachSecondUser(ctx, call.ID, requesterID); err != nil {
			return nil, err
		} else if !ok {
			return &Outcome{Status: StatusWaiting, Message: "matched user is busy"}, nil
		}
	}
	return matchedOutcome(call), nil
}

// commitPairing creates the call and evicts both parties from the pool in a
// single transaction. Re-checking active calls inside the transaction is
// what enforces the one-active-call-per-user invariant; a race detected here
// rolls everything back and returns the already-existing call instead.
func (s *Service) commitPairing(ctx context.Context, requesterID, candidateID uint64, roomURL string) (*db.Call, *db.Call, error) {
	var (
		created *db.Call
		raced   *db.Call
	)
	err := s.appCtx.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txCalls := repository.NewCallRepository(tx)

		for _, id := range []uint64{requesterID, candidateID} {
			if c, err := txCalls.ActiveCallForUser(ctx, id); err != nil {
				return err
			} else if c != nil {
				raced = c
				return errAlreadyActive
			}
		}

		call := &db.Call{
			User1ID: requesterID,
			User2ID: &candidateID,
			RoomURL: roomURL,
		}
		if err := txCalls.Create(ctx, call); err != nil {
			return err
		}
		if err := repository.NewWaitingRepository(tx).Remove(ctx, requesterID, candidateID); err != nil {
			return err
		}
		if err := repository.NewUserRepository(tx).SetAvailability(ctx, false, requesterID, candidateID); err != nil {
			return err
		}
		created = call
		return nil
	})
	if errors.Is(err, errAlreadyActive) {
		// Pool removal is handled by whichever flow created that call.
		return nil, raced, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return created, nil, nil
}

// recordPairing handles post-commit accounting: quota counters, metrics, and
// the match-quality row. None of it affects the outcome already returned.
func (s *Service) recordPairing(ctx context.Context, call *db.Call, req, cand matching.Profile, entry *db.WaitingUser) {
	s.gate.Record(ctx, call.User1ID, cand.UserID)

	metrics.MatchesTotal.Inc()
	metrics.WaitDuration.Observe(time.Since(entry.EnqueuedAt).Seconds())

	score := matching.Score(req, cand)
	metrics.MatchScore.Observe(score)

	metric := &db.MatchMetric{
		CallID:  call.ID,
		User1ID: call.User1ID,
		User2ID: cand.UserID,
		Score:   score,
	}
	if d := matching.Distance(req, cand); !math.IsInf(d, 1) {
		metric.DistanceKm = d
	}
	if err := s.calls.RecordMetric(ctx, metric); err != nil {
		s.appCtx.Logger.Warn("failed to record match metric", "call", call.ID, "err", err)
	}

	if n, err := s.waiting.Count(ctx); err == nil {
		metrics.QueueSize.Set(float64(n))
	}

	s.appCtx.Logger.Info("paired",
		"call", call.ID,
		"user1", call.User1ID,
		"user2", cand.UserID,
		"score", score,
	)
}

// Leave removes the user from the waiting pool. Removing an absent entry is
// a no-op, so the client may call this unconditionally.
func (s *Service) Leave(ctx context.Context, userID uint64) error {
	if err := s.waiting.Remove(ctx, userID); err != nil {
		return err
	}
	if n, err := s.waiting.Count(ctx); err == nil {
		metrics.QueueSize.Set(float64(n))
	}
	return nil
}

// Status reports the user's matchmaking state without mutating anything:
// matched (with the active call), waiting, or not_in_queue.
func (s *Service) Status(ctx context.Context, userID uint64) (*Outcome, error) {
	if active, err := s.calls.ActiveCallForUser(ctx, userID); err != nil {
		return nil, err
	} else if active != nil {
		return matchedOutcome(active), nil
	}

	entry, err := s.waiting.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return &Outcome{Status: StatusNotInQueue}, nil
	}
	return &Outcome{Status: StatusWaiting}, nil
}

// EndCall terminates an active call on behalf of a participant and restores
// both parties' availability. Ending an already-ended call succeeds quietly.
func (s *Service) EndCall(ctx context.Context, callID, userID uint64) error {
	call, err := s.calls.Get(ctx, callID)
	if err != nil {
		return err
	}
	if call == nil {
		return svcErr.ErrCallNotFound
	}
	if call.User1ID != userID && !isSecondUser(call, userID) {
		return svcErr.ErrNotParticipant
	}

	ended, err := s.calls.End(ctx, callID, time.Now().UTC())
	if err != nil {
		return err
	}
	if !ended {
		return nil // already ended
	}

	participants := []uint64{call.User1ID}
	if call.User2ID != nil {
		participants = append(participants, *call.User2ID)
	}
	if err := s.users.SetAvailability(ctx, true, participants...); err != nil {
		return err
	}

	s.appCtx.Logger.Info("call ended", "call", callID, "by", userID)
	return nil
}

// Stats summarizes the waiting pool for the admin view.
type Stats struct {
	QueueSize          int64                   `json:"queueSize"`
	AgeDistribution    []repository.GroupCount `json:"ageDistribution"`
	GenderDistribution []repository.GroupCount `json:"genderDistribution"`
	AvgWaitSeconds     float64                 `json:"avgWaitSeconds"`
}

// PoolStats returns queue size, bucket distributions, and mean wait time.
func (s *Service) PoolStats(ctx context.Context) (*Stats, error) {
	size, err := s.waiting.Count(ctx)
	if err != nil {
		return nil, err
	}
	byAge, err := s.waiting.CountByAgeGroup(ctx)
	if err != nil {
		return nil, err
	}
	byGender, err := s.waiting.CountByGenderGroup(ctx)
	if err != nil {
		return nil, err
	}
	avgWait, err := s.waiting.AverageWaitSeconds(ctx, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	return &Stats{
		QueueSize:          size,
		AgeDistribution:    byAge,
		GenderDistribution: byGender,
		AvgWaitSeconds:     avgWait,
	}, nil
}

// ListWaiting returns one admin page of pool entries, oldest first.
func (s *Service) ListWaiting(ctx context.Context, token *string, limit int) ([]db.WaitingUser, *string, error) {
	return s.waiting.ListWaiting(ctx, token, limit)
}

// Quota exposes the gate check for the client-facing remaining-calls view.
func (s *Service) Quota(ctx context.Context, userID uint64) (*quota.Status, error) {
	user, err := s.users.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, svcErr.ErrUserNotFound
	}
	return s.gate.Check(ctx, userID, user.SubscriptionPlan)
}

func matchedOutcome(call *db.Call) *Outcome {
	return &Outcome{
		Status:  StatusMatched,
		CallID:  call.ID,
		RoomURL: call.RoomURL,
	}
}

func isSecondUser(call *db.Call, userID uint64) bool {
	return call.User2ID != nil && *call.User2ID == userID
}
