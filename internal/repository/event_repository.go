package repository

import (
	"context"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"parking-service/internal/domain/parking"
	"parking-service/internal/utils"
)

// EventRepository is the append-only occupancy event log.
type EventRepository struct {
	db *gorm.DB
}

func NewEventRepository(db *gorm.DB) *EventRepository {
	return &EventRepository{db: db}
}

func (r *EventRepository) Append(ctx context.Context, event parking.OccupancyEvent) (int64, error) {
	row := OccupancyEvent{
		CameraID:   event.CameraID,
		SpotNumber: event.SpotNumber,
		Occupied:   event.Occupied,
		EventTime:  event.EventTime.UTC(),
		CreatedAt:  time.Now().UTC(),
	}
	if event.Image != nil {
		row.ImageRef = utils.StringPtr(event.Image.Ref)
	}
	if len(event.RawPayload) > 0 {
		row.RawPayload = datatypes.JSONMap(event.RawPayload)
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return 0, err
	}
	return row.ID, nil
}

// CountForSpot is used by reporting and tests.
func (r *EventRepository) CountForSpot(ctx context.Context, key parking.SpotKey) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&OccupancyEvent{}).
		Where("camera_id = ? AND spot_number = ?", key.CameraID, key.SpotNumber).
		Count(&count).Error
	return count, err
}
