package service

import (
	"context"
	"fmt"

	"parking-service/internal/domain/parking"
	"parking-service/internal/repository"
	"parking-service/internal/utils"
)

// QueryService serves the read-only listing and detail accessors.
type QueryService struct {
	store *repository.Store
	media MediaStore
}

func NewQueryService(store *repository.Store, media MediaStore) *QueryService {
	return &QueryService{store: store, media: media}
}

func (s *QueryService) ListTickets(ctx context.Context, filter parking.TicketFilter, q parking.ListQuery) (*parking.TicketPage, error) {
	return s.store.Tickets.List(ctx, filter, q)
}

func (s *QueryService) GetTicket(ctx context.Context, id int64) (*parking.Ticket, error) {
	return s.store.Tickets.Get(ctx, id)
}

func (s *QueryService) ListReviews(ctx context.Context, filter parking.ReviewFilter, q parking.ListQuery) (*parking.ReviewPage, error) {
	return s.store.Reviews.List(ctx, filter, q)
}

func (s *QueryService) GetReview(ctx context.Context, id int64) (*parking.ManualReview, error) {
	return s.store.Reviews.Get(ctx, id)
}

// ReviewImagePath resolves the stored snapshot of a review to a local file.
func (s *QueryService) ReviewImagePath(ctx context.Context, id int64) (string, error) {
	review, err := s.store.Reviews.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return s.mediaPath(review.ImageRef, "image", id)
}

// ReviewClipPath resolves the stored clip of a review to a local file.
func (s *QueryService) ReviewClipPath(ctx context.Context, id int64) (string, error) {
	review, err := s.store.Reviews.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return s.mediaPath(utils.Deref(review.ClipRef), "clip", id)
}

func (s *QueryService) mediaPath(ref, what string, reviewID int64) (string, error) {
	if ref == "" || s.media == nil {
		return "", fmt.Errorf("%w: manual review %d has no %s", parking.ErrNotFound, reviewID, what)
	}
	return s.media.Path(ref)
}
