package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parking-service/internal/domain/parking"
)

func openWithReview(t *testing.T, h *harness, spot int) (ticketID, reviewID int64) {
	t.Helper()
	h.detector.script(plate("12345", 20))
	res, err := h.intake.SubmitEvent(context.Background(), occupiedPayload(spot, entryTime))
	require.NoError(t, err)
	require.NotNil(t, res.TicketID)
	require.NotNil(t, res.ReviewID)
	return *res.TicketID, *res.ReviewID
}

var correction = parking.PlateCorrection{PlateNumber: "NEW123", PlateCode: "B", PlateCity: "Sharjah", Confidence: 100}

func TestReviewService_CorrectUpdatesTicket(t *testing.T) {
	h := newHarness(t, 1, defaultRecognition())
	ctx := context.Background()
	ticketID, reviewID := openWithReview(t, h, 1)

	res, err := h.reviews.Correct(ctx, reviewID, correction)
	require.NoError(t, err)
	assert.Equal(t, parking.ReviewResolved, res.Status)
	assert.Equal(t, parking.ResolutionCorrected, res.Resolution)
	require.NotNil(t, res.TicketID)
	assert.Equal(t, ticketID, *res.TicketID)

	ticket, err := h.queries.GetTicket(ctx, ticketID)
	require.NoError(t, err)
	assert.Equal(t, "NEW123", *ticket.PlateNumber)
	assert.Equal(t, "B", *ticket.PlateCode)
	assert.Equal(t, "Sharjah", *ticket.PlateCity)
	assert.Equal(t, 100, *ticket.Confidence)
	assert.Equal(t, parking.TicketOpen, ticket.State)

	review, err := h.queries.GetReview(ctx, reviewID)
	require.NoError(t, err)
	assert.Equal(t, parking.ReviewResolved, review.Status)
	require.NotNil(t, review.ResolvedAt)

	_, err = h.reviews.Correct(ctx, reviewID, parking.PlateCorrection{PlateNumber: "OTHER9", PlateCode: "C", PlateCity: "Ajman", Confidence: 50})
	assert.True(t, errors.Is(err, parking.ErrState))

	unchanged, err := h.queries.GetTicket(ctx, ticketID)
	require.NoError(t, err)
	assert.Equal(t, "NEW123", *unchanged.PlateNumber)
	assert.Equal(t, 100, *unchanged.Confidence)

	_, err = h.reviews.Dismiss(ctx, reviewID)
	assert.True(t, errors.Is(err, parking.ErrState))
}

func TestReviewService_CorrectClosedTicket(t *testing.T) {
	h := newHarness(t, 1, defaultRecognition())
	ctx := context.Background()
	ticketID, reviewID := openWithReview(t, h, 1)

	h.detector.script(noPlate)
	res, err := h.intake.SubmitEvent(ctx, vacantPayload(1, entryTime.Add(time.Hour)))
	require.NoError(t, err)
	require.Equal(t, parking.MsgExitRecorded, res.Message)

	_, err = h.reviews.Correct(ctx, reviewID, correction)
	require.NoError(t, err)

	ticket, err := h.queries.GetTicket(ctx, ticketID)
	require.NoError(t, err)
	assert.Equal(t, parking.TicketClosed, ticket.State)
	assert.Equal(t, "NEW123", *ticket.PlateNumber)
}

func TestReviewService_DismissLeavesTicketUntouched(t *testing.T) {
	h := newHarness(t, 1, defaultRecognition())
	ctx := context.Background()
	ticketID, reviewID := openWithReview(t, h, 1)

	before, err := h.queries.GetTicket(ctx, ticketID)
	require.NoError(t, err)

	res, err := h.reviews.Dismiss(ctx, reviewID)
	require.NoError(t, err)
	assert.Equal(t, parking.ReviewResolved, res.Status)
	assert.Equal(t, parking.ResolutionDismissed, res.Resolution)

	after, err := h.queries.GetTicket(ctx, ticketID)
	require.NoError(t, err)
	assert.Equal(t, before.PlateNumber, after.PlateNumber)
	assert.Equal(t, before.PlateCode, after.PlateCode)
	assert.Equal(t, before.Confidence, after.Confidence)
	assert.Equal(t, parking.TicketOpen, after.State)

	review, err := h.queries.GetReview(ctx, reviewID)
	require.NoError(t, err)
	require.NotNil(t, review.Resolution)
	assert.Equal(t, parking.ResolutionDismissed, *review.Resolution)

	_, err = h.reviews.Correct(ctx, reviewID, correction)
	assert.True(t, errors.Is(err, parking.ErrState))
}

func TestReviewService_Errors(t *testing.T) {
	h := newHarness(t, 1, defaultRecognition())
	ctx := context.Background()

	_, err := h.reviews.Correct(ctx, 404, correction)
	assert.True(t, errors.Is(err, parking.ErrNotFound))

	_, err = h.reviews.Dismiss(ctx, 404)
	assert.True(t, errors.Is(err, parking.ErrNotFound))

	_, reviewID := openWithReview(t, h, 1)
	_, err = h.reviews.Correct(ctx, reviewID, parking.PlateCorrection{PlateNumber: "X1"})
	assert.True(t, errors.Is(err, parking.ErrValidation))

	review, err := h.queries.GetReview(ctx, reviewID)
	require.NoError(t, err)
	assert.Equal(t, parking.ReviewPending, review.Status)
}

func TestReviewService_ConcurrentResolutionHasOneWinner(t *testing.T) {
	h := newHarness(t, 1, defaultRecognition())
	ctx := context.Background()
	_, reviewID := openWithReview(t, h, 1)

	results := make(chan error, 2)
	go func() {
		_, err := h.reviews.Correct(ctx, reviewID, correction)
		results <- err
	}()
	go func() {
		_, err := h.reviews.Dismiss(ctx, reviewID)
		results <- err
	}()

	var ok, stateErrs int
	for i := 0; i < 2; i++ {
		err := <-results
		switch {
		case err == nil:
			ok++
		case errors.Is(err, parking.ErrState):
			stateErrs++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, stateErrs)
}
