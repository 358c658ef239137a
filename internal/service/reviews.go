package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"parking-service/internal/domain/parking"
	"parking-service/internal/gateway"
	"parking-service/internal/repository"
)

// ReviewService resolves manual reviews. It is the only writer of review resolution
// and of plate corrections on tickets.
type ReviewService struct {
	store       *repository.Store
	locks       *SpotLocks
	provider    gateway.Provider
	settlements SettlementQueue
	log         zerolog.Logger
}

func NewReviewService(
	store *repository.Store,
	locks *SpotLocks,
	provider gateway.Provider,
	settlements SettlementQueue,
	log zerolog.Logger,
) *ReviewService {
	return &ReviewService{
		store:       store,
		locks:       locks,
		provider:    provider,
		settlements: settlements,
		log:         log.With().Str("component", "reviews").Logger(),
	}
}

// Correct resolves a pending review with operator-supplied plate fields and copies them onto its ticket.
func (s *ReviewService) Correct(ctx context.Context, reviewID int64, corr parking.PlateCorrection) (*parking.ReviewResult, error) {
	if err := corr.Validate(); err != nil {
		return nil, err
	}

	review, release, err := s.lockPending(ctx, reviewID)
	if err != nil {
		return nil, err
	}

	var ticket *parking.Ticket
	err = s.store.Transaction(ctx, func(tx *repository.Store) error {
		if _, err := tx.Reviews.Resolve(ctx, reviewID, parking.ResolutionCorrected, time.Now().UTC()); err != nil {
			return err
		}
		target, err := correctionTarget(ctx, tx, *review)
		if err != nil {
			return err
		}
		ticket, err = tx.Tickets.ApplyCorrection(ctx, target, corr)
		return err
	})
	release()
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Int64("review_id", reviewID).
		Int64("ticket_id", ticket.ID).
		Str("plate", corr.PlateNumber).
		Msg("manual review corrected")

	if ticket.State == parking.TicketClosed && ticket.SettlementRef == nil {
		s.settleCorrected(ctx, *ticket)
	}

	return &parking.ReviewResult{
		ReviewID:   reviewID,
		Status:     parking.ReviewResolved,
		Resolution: parking.ResolutionCorrected,
		TicketID:   &ticket.ID,
	}, nil
}

// Dismiss resolves a pending review and leaves every ticket untouched.
func (s *ReviewService) Dismiss(ctx context.Context, reviewID int64) (*parking.ReviewResult, error) {
	review, release, err := s.lockPending(ctx, reviewID)
	if err != nil {
		return nil, err
	}
	defer release()

	if _, err := s.store.Reviews.Resolve(ctx, reviewID, parking.ResolutionDismissed, time.Now().UTC()); err != nil {
		return nil, err
	}

	s.log.Info().Int64("review_id", reviewID).Msg("manual review dismissed")

	return &parking.ReviewResult{
		ReviewID:   reviewID,
		Status:     parking.ReviewResolved,
		Resolution: parking.ResolutionDismissed,
		TicketID:   review.TicketID,
	}, nil
}

// lockPending loads the review and takes its spot lock. The status is checked again inside the update.
func (s *ReviewService) lockPending(ctx context.Context, reviewID int64) (*parking.ManualReview, func(), error) {
	review, err := s.store.Reviews.Get(ctx, reviewID)
	if err != nil {
		return nil, nil, err
	}
	if review.Status != parking.ReviewPending {
		return nil, nil, fmt.Errorf("%w: manual review %d is already %s", parking.ErrState, reviewID, review.Status)
	}

	release, err := s.locks.Lock(ctx, review.Key())
	if err != nil {
		return nil, nil, fmt.Errorf("waiting for spot %s: %w", review.Key(), err)
	}
	return review, release, nil
}

// correctionTarget prefers the linked ticket, then the spot's open ticket, then its most recent one.
func correctionTarget(ctx context.Context, tx *repository.Store, review parking.ManualReview) (int64, error) {
	if review.TicketID != nil {
		t, err := tx.Tickets.Get(ctx, *review.TicketID)
		if err == nil {
			return t.ID, nil
		}
		if !errors.Is(err, parking.ErrNotFound) {
			return 0, err
		}
	}

	open, err := tx.Tickets.FindOpen(ctx, review.Key())
	if err != nil {
		return 0, err
	}
	if open != nil {
		return open.ID, nil
	}

	latest, err := tx.Tickets.FindLatest(ctx, review.Key())
	if err != nil {
		return 0, err
	}
	return latest.ID, nil
}

// settleCorrected sends a ticket that closed before its plate was known.
func (s *ReviewService) settleCorrected(ctx context.Context, ticket parking.Ticket) {
	if s.provider == nil || s.settlements == nil {
		return
	}
	log := s.log.With().Int64("ticket_id", ticket.ID).Logger()

	cam, err := s.store.Cameras.Get(ctx, ticket.CameraID)
	if err != nil {
		log.Error().Err(err).Msg("failed to load camera for settlement")
		return
	}
	adapters, err := s.provider.ForLocation(cam.Location)
	if err != nil {
		log.Error().Err(err).Msg("failed to resolve adapters for settlement")
		return
	}
	queueSettlement(s.settlements, log, *cam, ticket, adapters)
}
