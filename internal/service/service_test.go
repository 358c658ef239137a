package service

import (
	"context"
	"encoding/base64"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"parking-service/internal/config"
	"parking-service/internal/domain/parking"
	"parking-service/internal/gateway"
	"parking-service/internal/repository"
	"parking-service/internal/settlement"
	"parking-service/internal/storage"
	"parking-service/internal/testutil"
)

type detectResponse struct {
	candidates []parking.PlateCandidate
	err        error
	delay      time.Duration
}

type fakeDetector struct {
	mu        sync.Mutex
	responses []detectResponse
	calls     int
}

func (d *fakeDetector) script(responses ...detectResponse) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.responses = responses
	d.calls = 0
}

func (d *fakeDetector) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *fakeDetector) DetectPlates(ctx context.Context, _ parking.Camera, _ parking.Image) ([]parking.PlateCandidate, error) {
	d.mu.Lock()
	var resp detectResponse
	if len(d.responses) > 0 {
		idx := d.calls
		if idx >= len(d.responses) {
			idx = len(d.responses) - 1
		}
		resp = d.responses[idx]
	}
	d.calls++
	d.mu.Unlock()

	if resp.delay > 0 {
		select {
		case <-time.After(resp.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return resp.candidates, resp.err
}

type fakeFrames struct {
	mu       sync.Mutex
	frame    []byte
	err      error
	calls    int
	clipCall int
}

func (f *fakeFrames) FetchLatestFrame(context.Context, parking.Camera) (parking.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return parking.Image{}, f.err
	}
	return parking.Image{Data: append([]byte(nil), f.frame...)}, nil
}

func (f *fakeFrames) FetchClip(context.Context, parking.Camera, time.Time) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clipCall++
	return []byte("clip-bytes"), nil
}

func (f *fakeFrames) frameCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type nopNotifier struct{}

func (nopNotifier) NotifySettlement(context.Context, parking.SettlementRecord) (parking.SettlementReceipt, error) {
	return parking.SettlementReceipt{}, nil
}

type fakeQueue struct {
	mu      sync.Mutex
	records []parking.SettlementRecord
}

func (q *fakeQueue) Enqueue(_ settlement.Notifier, rec parking.SettlementRecord) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.records = append(q.records, rec)
	return nil
}

func (q *fakeQueue) all() []parking.SettlementRecord {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]parking.SettlementRecord(nil), q.records...)
}

type harness struct {
	db       *gorm.DB
	store    *repository.Store
	fx       testutil.Fixture
	detector *fakeDetector
	frames   *fakeFrames
	queue    *fakeQueue
	machine  *SpotMachine
	intake   *Intake
	reviews  *ReviewService
	queries  *QueryService
	media    string
}

func newHarness(t *testing.T, spots int, cfg config.RecognitionConfig) *harness {
	t.Helper()
	db := testutil.NewDB(t)
	fx := testutil.SeedCamera(t, db, spots)
	store := repository.NewStore(db)

	mediaRoot := t.TempDir()
	media, err := storage.NewFileStore(mediaRoot)
	require.NoError(t, err)

	h := &harness{
		db:       db,
		store:    store,
		fx:       fx,
		detector: &fakeDetector{},
		frames:   &fakeFrames{frame: []byte("live-frame")},
		queue:    &fakeQueue{},
		media:    mediaRoot,
	}
	provider := gateway.StaticProvider{Adapters: gateway.Adapters{
		Detector:   h.detector,
		Frames:     h.frames,
		Settlement: nopNotifier{},
	}}
	locks := NewSpotLocks()
	log := zerolog.Nop()

	h.machine = NewSpotMachine(store, locks, provider, media, h.queue, cfg, log)
	h.intake = NewIntake(store, h.machine, log)
	h.reviews = NewReviewService(store, locks, provider, h.queue, log)
	h.queries = NewQueryService(store, media)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.machine.Wait(ctx)
	})
	return h
}

func defaultRecognition() config.RecognitionConfig {
	return config.RecognitionConfig{MinConfidence: 70, DetectTimeout: time.Second}
}

func plate(number string, confidence int) detectResponse {
	return detectResponse{candidates: []parking.PlateCandidate{{Number: number, Code: "A", City: "Dubai", Confidence: confidence}}}
}

var noPlate = detectResponse{candidates: []parking.PlateCandidate{}}

func intPtr(v int) *int { return &v }

var entryTime = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

func occupiedPayload(spot int, at time.Time) parking.EventPayload {
	return parking.EventPayload{ParkingArea: "DXB01", IndexNumber: intPtr(spot), Occupancy: float64(1), Time: at.Format(time.RFC3339)}
}

func vacantPayload(spot int, at time.Time) parking.EventPayload {
	return parking.EventPayload{ParkingArea: "DXB01", IndexNumber: intPtr(spot), Occupancy: float64(0), Time: at.Format(time.RFC3339)}
}

// storedSnapshots counts snapshot files written to the media root.
func (h *harness) storedSnapshots(t *testing.T) int {
	t.Helper()
	count := 0
	err := filepath.WalkDir(filepath.Join(h.media, string(storage.KindSnapshot)), func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			count++
		}
		return nil
	})
	require.NoError(t, err)
	return count
}

func (h *harness) pendingReviews(t *testing.T) []parking.ManualReview {
	t.Helper()
	pending := parking.ReviewPending
	page, err := h.store.Reviews.List(context.Background(), parking.ReviewFilter{Status: &pending}, parking.ListQuery{PageSize: parking.MaxPageSize})
	require.NoError(t, err)
	return page.Items
}

func (h *harness) openTickets(t *testing.T) []parking.Ticket {
	t.Helper()
	open := parking.TicketOpen
	page, err := h.store.Tickets.List(context.Background(), parking.TicketFilter{State: &open}, parking.ListQuery{PageSize: parking.MaxPageSize})
	require.NoError(t, err)
	return page.Items
}

func TestSubmitEvent_ConfidentPlateOpensTicket(t *testing.T) {
	h := newHarness(t, 2, defaultRecognition())
	h.detector.script(plate("12345", 90))
	ctx := context.Background()

	res, err := h.intake.SubmitEvent(ctx, occupiedPayload(1, entryTime))
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.False(t, res.StillOccupied)
	assert.Equal(t, parking.MsgEntryRecorded, res.Message)
	require.NotNil(t, res.TicketID)
	assert.Nil(t, res.ReviewID)
	assert.Equal(t, 1, h.frames.frameCalls())

	ticket, err := h.queries.GetTicket(ctx, *res.TicketID)
	require.NoError(t, err)
	assert.Equal(t, parking.TicketOpen, ticket.State)
	require.NotNil(t, ticket.PlateNumber)
	assert.Equal(t, "12345", *ticket.PlateNumber)
	assert.Equal(t, 90, *ticket.Confidence)
	assert.True(t, ticket.EntryTime.Equal(entryTime))

	assert.Empty(t, h.pendingReviews(t))

	spot, err := h.store.Cameras.GetSpot(ctx, parking.SpotKey{CameraID: h.fx.CameraID, SpotNumber: 1})
	require.NoError(t, err)
	assert.Equal(t, parking.SpotOccupied, spot.State)

	events, err := h.store.Events.CountForSpot(ctx, spot.Key())
	require.NoError(t, err)
	assert.EqualValues(t, 1, events)
}

func TestSubmitEvent_LowConfidenceQueuesReview(t *testing.T) {
	h := newHarness(t, 2, defaultRecognition())
	h.detector.script(plate("12345", 40))
	ctx := context.Background()

	res, err := h.intake.SubmitEvent(ctx, occupiedPayload(1, entryTime))
	require.NoError(t, err)
	require.NotNil(t, res.TicketID)
	require.NotNil(t, res.ReviewID)

	ticket, err := h.queries.GetTicket(ctx, *res.TicketID)
	require.NoError(t, err)
	assert.Equal(t, parking.TicketOpen, ticket.State)
	assert.Nil(t, ticket.PlateNumber)
	assert.Nil(t, ticket.PlateCode)
	assert.Nil(t, ticket.Confidence)

	reviews := h.pendingReviews(t)
	require.Len(t, reviews, 1)
	review := reviews[0]
	assert.Equal(t, *res.ReviewID, review.ID)
	assert.Equal(t, h.fx.CameraID, review.CameraID)
	assert.Equal(t, 1, review.SpotNumber)
	assert.True(t, review.EventTime.Equal(entryTime))
	require.NotNil(t, review.TicketID)
	assert.Equal(t, ticket.ID, *review.TicketID)
	assert.NotEmpty(t, review.ImageRef)

	require.NoError(t, h.machine.Wait(ctx))
	withClip, err := h.queries.GetReview(ctx, review.ID)
	require.NoError(t, err)
	require.NotNil(t, withClip.ClipRef)

	clipPath, err := h.queries.ReviewClipPath(ctx, review.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, clipPath)
	imagePath, err := h.queries.ReviewImagePath(ctx, review.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, imagePath)
}

func TestSubmitEvent_DetectorFailureQueuesReview(t *testing.T) {
	tests := []struct {
		name     string
		response detectResponse
	}{
		{name: "error", response: detectResponse{err: parking.ErrUpstream}},
		{name: "timeout", response: detectResponse{delay: time.Second, candidates: []parking.PlateCandidate{{Number: "1", Code: "A", Confidence: 99}}}},
		{name: "no plate", response: noPlate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultRecognition()
			cfg.DetectTimeout = 30 * time.Millisecond
			h := newHarness(t, 1, cfg)
			h.detector.script(tt.response)

			res, err := h.intake.SubmitEvent(context.Background(), occupiedPayload(1, entryTime))
			require.NoError(t, err)
			assert.Equal(t, parking.MsgEntryRecorded, res.Message)
			require.NotNil(t, res.ReviewID)
			assert.Len(t, h.openTickets(t), 1)
			assert.Len(t, h.pendingReviews(t), 1)
		})
	}
}

func TestSubmitEvent_FrameUnavailableStillOpensTicket(t *testing.T) {
	h := newHarness(t, 1, defaultRecognition())
	h.frames.err = parking.ErrUpstream
	h.detector.script(plate("12345", 99))

	res, err := h.intake.SubmitEvent(context.Background(), occupiedPayload(1, entryTime))
	require.NoError(t, err)
	require.NotNil(t, res.ReviewID)
	assert.Equal(t, 0, h.detector.callCount())

	reviews := h.pendingReviews(t)
	require.Len(t, reviews, 1)
	assert.Empty(t, reviews[0].ImageRef)
}

func TestSubmitEvent_AttachedImageRetriesOnFreshFrame(t *testing.T) {
	cfg := defaultRecognition()
	cfg.RetryFreshFrame = true
	h := newHarness(t, 1, cfg)
	h.detector.script(plate("12345", 30), plate("12345", 95))

	payload := occupiedPayload(1, entryTime)
	payload.Snapshot = base64.StdEncoding.EncodeToString([]byte("attached-frame"))

	res, err := h.intake.SubmitEvent(context.Background(), payload)
	require.NoError(t, err)
	assert.Nil(t, res.ReviewID)
	assert.Equal(t, 2, h.detector.callCount())
	assert.Equal(t, 1, h.frames.frameCalls())

	tickets := h.openTickets(t)
	require.Len(t, tickets, 1)
	assert.Equal(t, 95, *tickets[0].Confidence)
}

func TestSubmitEvent_AttachedImageWithoutRetry(t *testing.T) {
	h := newHarness(t, 1, defaultRecognition())
	h.detector.script(plate("12345", 30))

	payload := occupiedPayload(1, entryTime)
	payload.Snapshot = base64.StdEncoding.EncodeToString([]byte("attached-frame"))

	res, err := h.intake.SubmitEvent(context.Background(), payload)
	require.NoError(t, err)
	require.NotNil(t, res.ReviewID)
	assert.Equal(t, 0, h.frames.frameCalls())
	assert.Equal(t, 1, h.detector.callCount())
}

func TestSubmitEvent_RepeatedOccupiedIsIdempotent(t *testing.T) {
	h := newHarness(t, 1, defaultRecognition())
	h.detector.script(plate("12345", 40))
	ctx := context.Background()

	first, err := h.intake.SubmitEvent(ctx, occupiedPayload(1, entryTime))
	require.NoError(t, err)
	second, err := h.intake.SubmitEvent(ctx, occupiedPayload(1, entryTime.Add(time.Minute)))
	require.NoError(t, err)

	assert.Equal(t, parking.MsgAlreadyOccupied, second.Message)
	assert.Equal(t, *first.TicketID, *second.TicketID)
	assert.Nil(t, second.ReviewID)
	assert.Equal(t, 1, h.detector.callCount())
	assert.Len(t, h.openTickets(t), 1)
	assert.Len(t, h.pendingReviews(t), 1)
}

func TestSubmitEvent_SnapshotKeptOnlyForNewTicket(t *testing.T) {
	h := newHarness(t, 1, defaultRecognition())
	h.detector.script(plate("12345", 95))
	ctx := context.Background()
	snapshot := base64.StdEncoding.EncodeToString([]byte("attached-frame"))

	payload := occupiedPayload(1, entryTime)
	payload.Snapshot = snapshot
	_, err := h.intake.SubmitEvent(ctx, payload)
	require.NoError(t, err)
	require.Equal(t, 1, h.storedSnapshots(t))

	repeat := occupiedPayload(1, entryTime.Add(time.Minute))
	repeat.Snapshot = snapshot
	res, err := h.intake.SubmitEvent(ctx, repeat)
	require.NoError(t, err)
	assert.Equal(t, parking.MsgAlreadyOccupied, res.Message)
	assert.Equal(t, 1, h.storedSnapshots(t))

	h.detector.script(plate("12345", 95))
	vacant := vacantPayload(1, entryTime.Add(time.Hour))
	vacant.Snapshot = snapshot
	res, err = h.intake.SubmitEvent(ctx, vacant)
	require.NoError(t, err)
	assert.Equal(t, parking.MsgStillOccupied, res.Message)
	assert.Equal(t, 1, h.storedSnapshots(t))

	count, err := h.store.Events.CountForSpot(ctx, parking.SpotKey{CameraID: h.fx.CameraID, SpotNumber: 1})
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)
}

func TestSubmitEvent_PlatelessExitWaitsForCorrection(t *testing.T) {
	h := newHarness(t, 2, defaultRecognition())
	ctx := context.Background()

	h.detector.script(plate("12345", 20))
	corrected, err := h.intake.SubmitEvent(ctx, occupiedPayload(1, entryTime))
	require.NoError(t, err)
	require.NotNil(t, corrected.ReviewID)

	h.detector.script(plate("67890", 20))
	dismissed, err := h.intake.SubmitEvent(ctx, occupiedPayload(2, entryTime))
	require.NoError(t, err)
	require.NotNil(t, dismissed.ReviewID)

	for _, spot := range []int{1, 2} {
		h.detector.script(noPlate)
		res, err := h.intake.SubmitEvent(ctx, vacantPayload(spot, entryTime.Add(time.Hour)))
		require.NoError(t, err)
		require.Equal(t, parking.MsgExitRecorded, res.Message)
	}
	assert.Empty(t, h.queue.all())

	_, err = h.reviews.Dismiss(ctx, *dismissed.ReviewID)
	require.NoError(t, err)
	assert.Empty(t, h.queue.all())

	_, err = h.reviews.Correct(ctx, *corrected.ReviewID, parking.PlateCorrection{
		PlateNumber: "NEW123", PlateCode: "B", PlateCity: "Sharjah", Confidence: 100,
	})
	require.NoError(t, err)

	records := h.queue.all()
	require.Len(t, records, 1)
	assert.Equal(t, *corrected.TicketID, records[0].TicketID)
	assert.Equal(t, "NEW123", records[0].PlateNumber)
	assert.Equal(t, "B", records[0].PlateCode)
	assert.Equal(t, "Sharjah", records[0].PlateCity)
	assert.Nil(t, records[0].SettlementRef)
	assert.True(t, records[0].ExitTime.Equal(entryTime.Add(time.Hour)))
}

func TestSubmitEvent_ExitWhilePlateStillPresent(t *testing.T) {
	h := newHarness(t, 1, defaultRecognition())
	ctx := context.Background()
	h.detector.script(plate("12345", 90))

	opened, err := h.intake.SubmitEvent(ctx, occupiedPayload(1, entryTime))
	require.NoError(t, err)

	// a low-confidence plate still means the car is there
	h.detector.script(plate("12345", 10))
	res, err := h.intake.SubmitEvent(ctx, vacantPayload(1, entryTime.Add(time.Hour)))
	require.NoError(t, err)
	assert.True(t, res.StillOccupied)
	assert.Equal(t, parking.MsgStillOccupied, res.Message)
	assert.Equal(t, *opened.TicketID, *res.TicketID)

	ticket, err := h.queries.GetTicket(ctx, *opened.TicketID)
	require.NoError(t, err)
	assert.Equal(t, parking.TicketOpen, ticket.State)
	assert.Nil(t, ticket.ExitTime)
	assert.Empty(t, h.queue.all())

	spot, err := h.store.Cameras.GetSpot(ctx, ticket.Key())
	require.NoError(t, err)
	assert.Equal(t, parking.SpotOccupied, spot.State)
}

func TestSubmitEvent_ExitReverificationFailuresKeepTicketOpen(t *testing.T) {
	t.Run("frame unavailable", func(t *testing.T) {
		h := newHarness(t, 1, defaultRecognition())
		h.detector.script(plate("12345", 90))
		_, err := h.intake.SubmitEvent(context.Background(), occupiedPayload(1, entryTime))
		require.NoError(t, err)

		h.frames.mu.Lock()
		h.frames.err = parking.ErrUpstream
		h.frames.mu.Unlock()

		res, err := h.intake.SubmitEvent(context.Background(), vacantPayload(1, entryTime.Add(time.Hour)))
		require.NoError(t, err)
		assert.True(t, res.StillOccupied)
		assert.Len(t, h.openTickets(t), 1)
		assert.Empty(t, h.queue.all())
	})

	t.Run("detector error", func(t *testing.T) {
		h := newHarness(t, 1, defaultRecognition())
		h.detector.script(plate("12345", 90))
		_, err := h.intake.SubmitEvent(context.Background(), occupiedPayload(1, entryTime))
		require.NoError(t, err)

		h.detector.script(detectResponse{err: errors.New("ocr down")})
		res, err := h.intake.SubmitEvent(context.Background(), vacantPayload(1, entryTime.Add(time.Hour)))
		require.NoError(t, err)
		assert.True(t, res.StillOccupied)
		assert.Len(t, h.openTickets(t), 1)
		assert.Empty(t, h.queue.all())
	})
}

func TestSubmitEvent_CleanExitClosesTicket(t *testing.T) {
	h := newHarness(t, 1, defaultRecognition())
	ctx := context.Background()
	h.detector.script(plate("12345", 90))

	opened, err := h.intake.SubmitEvent(ctx, occupiedPayload(1, entryTime))
	require.NoError(t, err)

	exitTime := entryTime.Add(2 * time.Hour)
	h.detector.script(noPlate)
	res, err := h.intake.SubmitEvent(ctx, vacantPayload(1, exitTime))
	require.NoError(t, err)
	assert.False(t, res.StillOccupied)
	assert.Equal(t, parking.MsgExitRecorded, res.Message)

	ticket, err := h.queries.GetTicket(ctx, *opened.TicketID)
	require.NoError(t, err)
	assert.Equal(t, parking.TicketClosed, ticket.State)
	require.NotNil(t, ticket.ExitTime)
	assert.True(t, ticket.ExitTime.Equal(exitTime))

	records := h.queue.all()
	require.Len(t, records, 1)
	assert.Equal(t, ticket.ID, records[0].TicketID)
	assert.Equal(t, "12345", records[0].PlateNumber)
	require.NotNil(t, records[0].APIPoleID)
	assert.Equal(t, h.fx.APIPoleID, *records[0].APIPoleID)
	assert.True(t, records[0].ExitTime.Equal(exitTime))

	spot, err := h.store.Cameras.GetSpot(ctx, ticket.Key())
	require.NoError(t, err)
	assert.Equal(t, parking.SpotVacant, spot.State)

	again, err := h.intake.SubmitEvent(ctx, vacantPayload(1, exitTime.Add(time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, parking.MsgNoOpenTicket, again.Message)
	assert.Len(t, h.queue.all(), 1)

	reopened, err := h.intake.SubmitEvent(ctx, occupiedPayload(1, exitTime.Add(time.Hour)))
	require.NoError(t, err)
	assert.NotEqual(t, *opened.TicketID, *reopened.TicketID)
}

func TestSubmitEvent_Validation(t *testing.T) {
	h := newHarness(t, 2, defaultRecognition())
	ctx := context.Background()

	cases := map[string]parking.EventPayload{
		"unknown parking area": {ParkingArea: "AUH01", IndexNumber: intPtr(1), Occupancy: float64(1), Time: entryTime.Format(time.RFC3339)},
		"malformed area":       {ParkingArea: "01DXB", IndexNumber: intPtr(1), Occupancy: float64(1), Time: entryTime.Format(time.RFC3339)},
		"missing camera":       {IndexNumber: intPtr(1), Occupancy: float64(1), Time: entryTime.Format(time.RFC3339)},
		"unknown spot":         {ParkingArea: "DXB01", IndexNumber: intPtr(3), Occupancy: float64(1), Time: entryTime.Format(time.RFC3339)},
		"missing spot":         {ParkingArea: "DXB01", Occupancy: float64(1), Time: entryTime.Format(time.RFC3339)},
		"occupancy not binary": {ParkingArea: "DXB01", IndexNumber: intPtr(1), Occupancy: float64(2), Time: entryTime.Format(time.RFC3339)},
		"occupancy missing":    {ParkingArea: "DXB01", IndexNumber: intPtr(1), Time: entryTime.Format(time.RFC3339)},
		"bad time":             {ParkingArea: "DXB01", IndexNumber: intPtr(1), Occupancy: float64(1), Time: "yesterday"},
		"bad snapshot":         {ParkingArea: "DXB01", IndexNumber: intPtr(1), Occupancy: float64(1), Time: entryTime.Format(time.RFC3339), Snapshot: "%%%"},
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := h.intake.SubmitEvent(ctx, payload)
			assert.True(t, errors.Is(err, parking.ErrValidation), "got %v", err)
		})
	}

	for spot := 1; spot <= 2; spot++ {
		count, err := h.store.Events.CountForSpot(ctx, parking.SpotKey{CameraID: h.fx.CameraID, SpotNumber: spot})
		require.NoError(t, err)
		assert.Zero(t, count)
	}
	assert.Empty(t, h.openTickets(t))
	assert.Equal(t, 0, h.detector.callCount())
}

func TestSubmitEvent_AcceptsCameraIDAndStringOccupancy(t *testing.T) {
	h := newHarness(t, 1, defaultRecognition())
	h.detector.script(plate("55555", 80))

	res, err := h.intake.SubmitEvent(context.Background(), parking.EventPayload{
		CameraID:    &h.fx.CameraID,
		IndexNumber: intPtr(1),
		Occupancy:   "true",
		Time:        "2025-03-01 08:00:00",
	})
	require.NoError(t, err)
	assert.Equal(t, parking.MsgEntryRecorded, res.Message)
}

func TestSubmitEvent_ConcurrentOccupiedEventsOpenOneTicket(t *testing.T) {
	h := newHarness(t, 1, defaultRecognition())
	h.detector.script(detectResponse{delay: 5 * time.Millisecond, candidates: []parking.PlateCandidate{{Number: "1", Confidence: 10}}})
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.intake.SubmitEvent(ctx, occupiedPayload(1, entryTime.Add(time.Duration(i)*time.Second)))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Len(t, h.openTickets(t), 1)
	assert.Len(t, h.pendingReviews(t), 1)
	assert.Equal(t, 1, h.detector.callCount())
}

func TestSubmitEvent_ConcurrentMixedEventsKeepInvariant(t *testing.T) {
	h := newHarness(t, 3, defaultRecognition())
	h.detector.script(noPlate)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			spot := i%3 + 1
			at := entryTime.Add(time.Duration(i) * time.Minute)
			payload := occupiedPayload(spot, at)
			if i%2 == 1 {
				payload = vacantPayload(spot, at)
			}
			_, err := h.intake.SubmitEvent(ctx, payload)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	perSpot := map[int]int{}
	for _, ticket := range h.openTickets(t) {
		perSpot[ticket.SpotNumber]++
	}
	for spot, count := range perSpot {
		assert.LessOrEqual(t, count, 1, "spot %d", spot)
	}
}
