package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"parking-service/internal/config"
	"parking-service/internal/domain/parking"
	"parking-service/internal/gateway"
	"parking-service/internal/recognition"
	"parking-service/internal/repository"
	"parking-service/internal/settlement"
	"parking-service/internal/storage"
)

type MediaStore interface {
	Save(kind storage.Kind, ext string, at time.Time, data []byte) (string, error)
	Path(ref string) (string, error)
}

type SettlementQueue interface {
	Enqueue(n settlement.Notifier, rec parking.SettlementRecord) error
}

// SpotMachine applies occupancy events to spots. It is the only writer of ticket open and close.
type SpotMachine struct {
	store       *repository.Store
	locks       *SpotLocks
	router      recognition.Router
	provider    gateway.Provider
	media       MediaStore
	settlements SettlementQueue
	cfg         config.RecognitionConfig
	log         zerolog.Logger

	background sync.WaitGroup
}

func NewSpotMachine(
	store *repository.Store,
	locks *SpotLocks,
	provider gateway.Provider,
	media MediaStore,
	settlements SettlementQueue,
	cfg config.RecognitionConfig,
	log zerolog.Logger,
) *SpotMachine {
	return &SpotMachine{
		store:       store,
		locks:       locks,
		router:      recognition.NewRouter(cfg.MinConfidence),
		provider:    provider,
		media:       media,
		settlements: settlements,
		cfg:         cfg,
		log:         log.With().Str("component", "spot_machine").Logger(),
	}
}

// settleFunc runs after the spot lock is released.
type settleFunc func()

// Apply runs one event through the state machine for its spot.
func (m *SpotMachine) Apply(ctx context.Context, cam parking.Camera, spot parking.Spot, event parking.OccupancyEvent) (*parking.SubmitResult, error) {
	key := spot.Key()
	log := m.log.With().
		Int64("camera_id", key.CameraID).
		Int("spot_number", key.SpotNumber).
		Bool("occupied", event.Occupied).
		Time("event_time", event.EventTime).
		Logger()

	adapters, err := m.provider.ForLocation(cam.Location)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve adapters: %w", err)
	}

	release, err := m.locks.Lock(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("waiting for spot %s: %w", key, err)
	}

	result, settle, err := m.transition(ctx, log, cam, spot, event, adapters)
	release()

	if settle != nil {
		settle()
	}
	return result, err
}

func (m *SpotMachine) transition(ctx context.Context, log zerolog.Logger, cam parking.Camera, spot parking.Spot, event parking.OccupancyEvent, adapters gateway.Adapters) (*parking.SubmitResult, settleFunc, error) {
	open, err := m.store.Tickets.FindOpen(ctx, spot.Key())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to look up open ticket: %w", err)
	}

	// Only an entry that opens a ticket keeps its snapshot.
	if event.Occupied && open == nil && !event.Image.Empty() {
		event.Image.Ref = m.saveMedia(log, storage.KindSnapshot, "jpg", event.EventTime, event.Image.Data)
	}
	if _, err := m.store.Events.Append(ctx, event); err != nil {
		log.Error().Err(err).Msg("failed to record occupancy event")
		return nil, nil, fmt.Errorf("failed to record occupancy event: %w", err)
	}

	if event.Occupied {
		result, err := m.occupy(ctx, log, cam, spot, event, open, adapters)
		return result, nil, err
	}
	return m.vacate(ctx, log, cam, spot, event, open, adapters)
}

func (m *SpotMachine) occupy(ctx context.Context, log zerolog.Logger, cam parking.Camera, spot parking.Spot, event parking.OccupancyEvent, open *parking.Ticket, adapters gateway.Adapters) (*parking.SubmitResult, error) {
	key := spot.Key()

	if open != nil {
		if spot.State != parking.SpotOccupied {
			if err := m.store.Cameras.SetSpotState(ctx, key, parking.SpotOccupied); err != nil {
				log.Warn().Err(err).Msg("failed to resync spot state")
			}
		}
		log.Debug().Int64("ticket_id", open.ID).Msg("spot already occupied, event ignored")
		return &parking.SubmitResult{Accepted: true, TicketID: &open.ID, Message: parking.MsgAlreadyOccupied}, nil
	}

	image := event.Image
	attached := !image.Empty()
	if !attached {
		image = m.freshFrame(ctx, log, cam, adapters, event.EventTime)
	}

	candidate, confident := m.recognize(ctx, log, cam, spot, image, adapters)
	if !confident && attached && m.cfg.RetryFreshFrame {
		if retry := m.freshFrame(ctx, log, cam, adapters, event.EventTime); !retry.Empty() {
			image = retry
			candidate, confident = m.recognize(ctx, log, cam, spot, image, adapters)
		}
	}

	imageRef := ""
	if image != nil {
		imageRef = image.Ref
	}

	var (
		ticket *parking.Ticket
		review *parking.ManualReview
	)
	err := m.store.Transaction(ctx, func(tx *repository.Store) error {
		var plate *parking.PlateCandidate
		if confident {
			plate = &candidate
		}
		t, err := tx.Tickets.Open(ctx, key, plate, event.EventTime)
		if err != nil {
			return err
		}
		ticket = t

		if err := tx.Cameras.SetSpotState(ctx, key, parking.SpotOccupied); err != nil {
			return err
		}

		if !confident {
			r, err := tx.Reviews.Create(ctx, key, &t.ID, event.EventTime, imageRef)
			if err != nil {
				return err
			}
			review = r
		}
		return nil
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to open ticket")
		return nil, fmt.Errorf("failed to open ticket: %w", err)
	}

	result := &parking.SubmitResult{Accepted: true, TicketID: &ticket.ID, Message: parking.MsgEntryRecorded}
	if review != nil {
		result.ReviewID = &review.ID
		m.fetchClipAsync(cam, *review, adapters)
		log.Info().
			Int64("ticket_id", ticket.ID).
			Int64("review_id", review.ID).
			Msg("ticket opened without confident plate, manual review queued")
	} else {
		log.Info().
			Int64("ticket_id", ticket.ID).
			Str("plate", candidate.Number).
			Int("confidence", candidate.Confidence).
			Msg("ticket opened")
	}
	return result, nil
}

func (m *SpotMachine) vacate(ctx context.Context, log zerolog.Logger, cam parking.Camera, spot parking.Spot, event parking.OccupancyEvent, open *parking.Ticket, adapters gateway.Adapters) (*parking.SubmitResult, settleFunc, error) {
	key := spot.Key()

	if open == nil {
		if spot.State != parking.SpotVacant {
			if err := m.store.Cameras.SetSpotState(ctx, key, parking.SpotVacant); err != nil {
				log.Warn().Err(err).Msg("failed to resync spot state")
			}
		}
		log.Debug().Msg("no open ticket, vacant event ignored")
		return &parking.SubmitResult{Accepted: true, Message: parking.MsgNoOpenTicket}, nil, nil
	}

	if m.plateStillPresent(ctx, log, cam, spot, adapters) {
		log.Info().Int64("ticket_id", open.ID).Msg("exit rejected, plate still present")
		return &parking.SubmitResult{
			Accepted:      true,
			StillOccupied: true,
			TicketID:      &open.ID,
			Message:       parking.MsgStillOccupied,
		}, nil, nil
	}

	var closed *parking.Ticket
	err := m.store.Transaction(ctx, func(tx *repository.Store) error {
		t, err := tx.Tickets.Close(ctx, open.ID, event.EventTime)
		if err != nil {
			return err
		}
		closed = t
		return tx.Cameras.SetSpotState(ctx, key, parking.SpotVacant)
	})
	if err != nil {
		log.Error().Err(err).Int64("ticket_id", open.ID).Msg("failed to close ticket")
		return nil, nil, fmt.Errorf("failed to close ticket: %w", err)
	}

	log.Info().Int64("ticket_id", closed.ID).Msg("ticket closed")

	result := &parking.SubmitResult{Accepted: true, TicketID: &closed.ID, Message: parking.MsgExitRecorded}
	settle := func() { queueSettlement(m.settlements, log, cam, *closed, adapters) }
	return result, settle, nil
}

// plateStillPresent re-checks the spot on a fresh frame. Any doubt counts as present.
func (m *SpotMachine) plateStillPresent(ctx context.Context, log zerolog.Logger, cam parking.Camera, spot parking.Spot, adapters gateway.Adapters) bool {
	frame, err := adapters.Frames.FetchLatestFrame(ctx, cam)
	if err != nil || frame.Empty() {
		log.Warn().Err(err).Msg("re-verification frame unavailable, keeping spot occupied")
		return true
	}

	candidates, err := m.detect(ctx, cam, spot, frame, adapters)
	read := parking.PlateRead{
		CameraID:    spot.CameraID,
		SpotNumber:  spot.SpotNumber,
		Status:      parking.ReadMissed,
		AttemptedAt: time.Now().UTC(),
	}
	if len(candidates) > 0 {
		read.Status = parking.ReadFound
		read.Candidate = &candidates[0]
	}
	m.recordRead(ctx, log, read)

	if err != nil {
		log.Warn().Err(err).Msg("re-verification detection failed, keeping spot occupied")
		return true
	}
	return len(candidates) > 0
}

// recognize detects plates on the spot region and routes them. Detection failures count as no candidate.
func (m *SpotMachine) recognize(ctx context.Context, log zerolog.Logger, cam parking.Camera, spot parking.Spot, image *parking.Image, adapters gateway.Adapters) (parking.PlateCandidate, bool) {
	if image.Empty() {
		return parking.PlateCandidate{}, false
	}

	candidates, err := m.detect(ctx, cam, spot, *image, adapters)
	if err != nil {
		log.Warn().Err(err).Msg("plate detection failed")
	}
	candidate, ok := m.router.Select(candidates)

	read := parking.PlateRead{
		CameraID:    spot.CameraID,
		SpotNumber:  spot.SpotNumber,
		Status:      parking.ReadMissed,
		ImageRef:    image.Ref,
		AttemptedAt: time.Now().UTC(),
	}
	if ok {
		read.Status = parking.ReadFound
		read.Candidate = &candidate
	}
	m.recordRead(ctx, log, read)
	return candidate, ok
}

func (m *SpotMachine) detect(ctx context.Context, cam parking.Camera, spot parking.Spot, image parking.Image, adapters gateway.Adapters) ([]parking.PlateCandidate, error) {
	data, err := recognition.CropRegion(image.Data, spot.Region)
	if err != nil {
		m.log.Debug().Err(err).Int64("camera_id", cam.ID).Msg("crop failed, using full frame")
		data = image.Data
	}

	if m.cfg.DetectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.DetectTimeout)
		defer cancel()
	}

	type outcome struct {
		candidates []parking.PlateCandidate
		err        error
	}
	done := make(chan outcome, 1)
	go func() {
		c, err := adapters.Detector.DetectPlates(ctx, cam, parking.Image{Data: data, Ref: image.Ref})
		done <- outcome{candidates: c, err: err}
	}()

	select {
	case out := <-done:
		return out.candidates, out.err
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: plate detection abandoned: %v", parking.ErrUpstream, ctx.Err())
	}
}

func (m *SpotMachine) freshFrame(ctx context.Context, log zerolog.Logger, cam parking.Camera, adapters gateway.Adapters, at time.Time) *parking.Image {
	frame, err := adapters.Frames.FetchLatestFrame(ctx, cam)
	if err != nil || frame.Empty() {
		log.Warn().Err(err).Msg("failed to fetch camera frame")
		return nil
	}
	frame.Ref = m.saveMedia(log, storage.KindSnapshot, "jpg", at, frame.Data)
	return &frame
}

func (m *SpotMachine) recordRead(ctx context.Context, log zerolog.Logger, read parking.PlateRead) {
	if err := m.store.PlateReads.Record(ctx, read); err != nil {
		log.Warn().Err(err).Msg("failed to record plate read")
	}
}

func (m *SpotMachine) saveMedia(log zerolog.Logger, kind storage.Kind, ext string, at time.Time, data []byte) string {
	if m.media == nil {
		return ""
	}
	ref, err := m.media.Save(kind, ext, at, data)
	if err != nil {
		log.Warn().Err(err).Str("kind", string(kind)).Msg("failed to store media")
		return ""
	}
	return ref
}

// fetchClipAsync attaches the recording around the event to a new review.
func (m *SpotMachine) fetchClipAsync(cam parking.Camera, review parking.ManualReview, adapters gateway.Adapters) {
	if m.media == nil {
		return
	}
	m.background.Add(1)
	go func() {
		defer m.background.Done()
		log := m.log.With().Int64("review_id", review.ID).Logger()

		data, err := adapters.Frames.FetchClip(context.Background(), cam, review.EventTime)
		if err != nil {
			log.Warn().Err(err).Msg("failed to fetch review clip")
			return
		}
		ref := m.saveMedia(log, storage.KindClip, "mp4", review.EventTime, data)
		if ref == "" {
			return
		}
		if err := m.store.Reviews.AttachClip(context.Background(), review.ID, ref); err != nil {
			if errors.Is(err, parking.ErrState) {
				log.Info().Str("clip_ref", ref).Msg("review resolved before clip arrived, clip dropped")
				return
			}
			log.Warn().Err(err).Msg("failed to attach review clip")
			return
		}
		log.Debug().Str("clip_ref", ref).Msg("review clip attached")
	}()
}

// Wait blocks until background clip fetches finish or ctx is done.
func (m *SpotMachine) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.background.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
