package history

import (
	"context"
	"time"

	"github.com/blinkdate/matchmaking/internal/app"
	svcErr "github.com/blinkdate/matchmaking/internal/errors"
	"github.com/blinkdate/matchmaking/internal/repository"
)

// Service records the after-call verdicts that feed back into candidate
// filtering: mutual likes become matches, everything else becomes a
// cooldown entry in the rejection ledger.
type Service struct {
	appCtx *app.AppContext
	users  *repository.UserRepository
	calls  *repository.CallRepository
	ledger *repository.LedgerRepository

	rejectionTTL time.Duration
	reportTTL    time.Duration
}

// NewService creates a new history Service.
func NewService(appCtx *app.AppContext) *Service {
	return &Service{
		appCtx: appCtx,
		users:  repository.NewUserRepository(appCtx.DB),
		calls:  repository.NewCallRepository(appCtx.DB),
		ledger: repository.NewLedgerRepository(appCtx.DB),

		rejectionTTL: time.Duration(appCtx.Config.Matchmaking.RejectionTTLHrs) * time.Hour,
		reportTTL:    time.Duration(appCtx.Config.Matchmaking.ReportTTLDays) * 24 * time.Hour,
	}
}

// FeedbackResult reports what the verdict turned into.
type FeedbackResult struct {
	Status string `json:"status"`
	Mutual bool   `json:"mutual"`
}

// Feedback applies one participant's verdict on a finished call. A like
// creates a one-sided match, or upgrades the counterpart's earlier like
// to a mutual one. A dislike puts the pair on cooldown.
func (s *Service) Feedback(ctx context.Context, callID, userID uint64, liked bool) (*FeedbackResult, error) {
	call, err := s.calls.Get(ctx, callID)
	if err != nil {
		return nil, err
	}
	if call == nil {
		return nil, svcErr.ErrCallNotFound
	}
	if call.User2ID == nil {
		return nil, svcErr.ErrInvalidArgument
	}

	var other uint64
	switch userID {
	case call.User1ID:
		other = *call.User2ID
	case *call.User2ID:
		other = call.User1ID
	default:
		return nil, svcErr.ErrNotParticipant
	}

	if !liked {
		if err := s.ledger.AddRejection(ctx, userID, other, s.rejectionTTL); err != nil {
			return nil, err
		}
		s.appCtx.Logger.Info("pair placed on cooldown", "user_id", userID, "other_id", other, "call_id", callID)
		return &FeedbackResult{Status: "rejected"}, nil
	}

	// A like from the other side already on record makes this mutual.
	reverse, err := s.ledger.GetMatchFrom(ctx, other, userID)
	if err != nil {
		return nil, err
	}
	if reverse != nil {
		if err := s.ledger.MarkMutual(ctx, reverse.ID); err != nil {
			return nil, err
		}
		s.appCtx.Logger.Info("mutual match", "user_id", userID, "other_id", other, "call_id", callID)
		return &FeedbackResult{Status: "matched", Mutual: true}, nil
	}

	if err := s.ledger.CreateMatch(ctx, userID, other, false); err != nil {
		return nil, err
	}
	return &FeedbackResult{Status: "liked"}, nil
}

// Report files a safety report and removes the reported user from the
// reporter's candidate set for a long cooldown.
func (s *Service) Report(ctx context.Context, userID, reportedID uint64) error {
	if userID == reportedID {
		return svcErr.ErrInvalidArgument
	}

	reported, err := s.users.Get(ctx, reportedID)
	if err != nil {
		return err
	}
	if reported == nil {
		return svcErr.ErrUserNotFound
	}

	if err := s.ledger.AddRejection(ctx, userID, reportedID, s.reportTTL); err != nil {
		return err
	}
	s.appCtx.Logger.Info("user reported", "user_id", userID, "reported_id", reportedID)
	return nil
}
