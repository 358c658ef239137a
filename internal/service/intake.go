package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"parking-service/internal/domain/parking"
	"parking-service/internal/repository"
)

var parkingAreaPattern = regexp.MustCompile(`^([A-Za-z]+)(\d+)$`)

var eventTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999",
}

// Intake validates inbound occupancy payloads and routes them to the spot machine.
type Intake struct {
	store   *repository.Store
	machine *SpotMachine
	log     zerolog.Logger
}

func NewIntake(store *repository.Store, machine *SpotMachine, log zerolog.Logger) *Intake {
	return &Intake{
		store:   store,
		machine: machine,
		log:     log.With().Str("component", "intake").Logger(),
	}
}

// SubmitEvent rejects malformed or unknown input without side effects and otherwise applies the event.
func (s *Intake) SubmitEvent(ctx context.Context, payload parking.EventPayload) (*parking.SubmitResult, error) {
	occupied, err := parseOccupancy(payload.Occupancy)
	if err != nil {
		return nil, err
	}
	if payload.IndexNumber == nil {
		return nil, fmt.Errorf("%w: index_number is required", parking.ErrValidation)
	}
	eventTime, err := parseEventTime(payload.Time)
	if err != nil {
		return nil, err
	}

	var image *parking.Image
	if snap := strings.TrimSpace(payload.Snapshot); snap != "" {
		data, err := decodeSnapshot(snap)
		if err != nil {
			return nil, err
		}
		image = &parking.Image{Data: data}
	}

	cam, err := s.resolveCamera(ctx, payload)
	if err != nil {
		return nil, err
	}
	spot, err := s.store.Cameras.ResolveSpot(ctx, *cam, *payload.IndexNumber)
	if err != nil {
		if errors.Is(err, parking.ErrNotFound) {
			return nil, fmt.Errorf("%w: %v", parking.ErrValidation, err)
		}
		return nil, fmt.Errorf("failed to resolve spot: %w", err)
	}

	event := parking.OccupancyEvent{
		CameraID:   cam.ID,
		SpotNumber: spot.SpotNumber,
		Occupied:   occupied,
		EventTime:  eventTime,
		Image:      image,
		RawPayload: payload.Raw(),
	}

	s.log.Debug().
		Int64("camera_id", cam.ID).
		Int("spot_number", spot.SpotNumber).
		Bool("occupied", occupied).
		Bool("has_snapshot", image != nil).
		Msg("occupancy event accepted")

	return s.machine.Apply(ctx, *cam, *spot, event)
}

func (s *Intake) resolveCamera(ctx context.Context, payload parking.EventPayload) (*parking.Camera, error) {
	var (
		cam *parking.Camera
		err error
	)
	switch {
	case payload.CameraID != nil:
		cam, err = s.store.Cameras.Get(ctx, *payload.CameraID)
	case payload.ParkingArea != "":
		location, apiCode, perr := SplitParkingArea(payload.ParkingArea)
		if perr != nil {
			return nil, perr
		}
		cam, err = s.store.Cameras.FindByArea(ctx, location, apiCode)
	default:
		return nil, fmt.Errorf("%w: parking_area or camera_id is required", parking.ErrValidation)
	}
	if err != nil {
		if errors.Is(err, parking.ErrNotFound) {
			return nil, fmt.Errorf("%w: %v", parking.ErrValidation, err)
		}
		return nil, fmt.Errorf("failed to resolve camera: %w", err)
	}
	return cam, nil
}

// SplitParkingArea splits "DXB01" into the location code and the camera api code.
func SplitParkingArea(area string) (string, string, error) {
	m := parkingAreaPattern.FindStringSubmatch(strings.TrimSpace(area))
	if m == nil {
		return "", "", fmt.Errorf("%w: parking_area %q must be letters followed by digits", parking.ErrValidation, area)
	}
	return strings.ToUpper(m[1]), m[2], nil
}

func parseOccupancy(v interface{}) (bool, error) {
	switch val := v.(type) {
	case bool:
		return val, nil
	case float64:
		switch val {
		case 0:
			return false, nil
		case 1:
			return true, nil
		}
	case int:
		switch val {
		case 0:
			return false, nil
		case 1:
			return true, nil
		}
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "0", "false":
			return false, nil
		case "1", "true":
			return true, nil
		}
	case nil:
		return false, fmt.Errorf("%w: occupancy is required", parking.ErrValidation)
	}
	return false, fmt.Errorf("%w: occupancy must be 0/1 or a boolean", parking.ErrValidation)
}

func parseEventTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("%w: time is required", parking.ErrValidation)
	}
	for _, layout := range eventTimeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("%w: unparseable time %q", parking.ErrValidation, raw)
}

func decodeSnapshot(snap string) ([]byte, error) {
	if i := strings.Index(snap, ","); i >= 0 && strings.HasPrefix(snap, "data:") {
		snap = snap[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(snap)
	if err != nil {
		return nil, fmt.Errorf("%w: snapshot is not valid base64", parking.ErrValidation)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: snapshot is empty", parking.ErrValidation)
	}
	return data, nil
}
