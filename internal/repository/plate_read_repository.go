package repository

import (
	"context"

	"gorm.io/gorm"

	"parking-service/internal/domain/parking"
	"parking-service/internal/utils"
)

type PlateReadRepository struct {
	db *gorm.DB
}

func NewPlateReadRepository(db *gorm.DB) *PlateReadRepository {
	return &PlateReadRepository{db: db}
}

func (r *PlateReadRepository) Record(ctx context.Context, read parking.PlateRead) error {
	row := PlateRead{
		CameraID:    read.CameraID,
		SpotNumber:  read.SpotNumber,
		Status:      string(read.Status),
		ImageRef:    utils.StringPtr(read.ImageRef),
		AttemptedAt: read.AttemptedAt.UTC(),
	}
	if c := read.Candidate; c != nil {
		conf := c.Confidence
		row.PlateNumber = utils.StringPtr(utils.NormalizePlate(c.Number))
		row.PlateCode = utils.StringPtr(c.Code)
		row.PlateCity = utils.StringPtr(c.City)
		row.Confidence = &conf
	}
	return r.db.WithContext(ctx).Create(&row).Error
}

func (r *PlateReadRepository) ListForSpot(ctx context.Context, key parking.SpotKey, limit int) ([]parking.PlateRead, error) {
	if limit <= 0 || limit > parking.MaxPageSize {
		limit = parking.DefaultPageSize
	}
	var rows []PlateRead
	err := r.db.WithContext(ctx).
		Where("camera_id = ? AND spot_number = ?", key.CameraID, key.SpotNumber).
		Order("attempted_at DESC, id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	reads := make([]parking.PlateRead, 0, len(rows))
	for _, row := range rows {
		read := parking.PlateRead{
			CameraID:    row.CameraID,
			SpotNumber:  row.SpotNumber,
			Status:      parking.ReadStatus(row.Status),
			ImageRef:    utils.Deref(row.ImageRef),
			AttemptedAt: row.AttemptedAt,
		}
		if row.PlateNumber != nil {
			read.Candidate = &parking.PlateCandidate{
				Number:     *row.PlateNumber,
				Code:       utils.Deref(row.PlateCode),
				City:       utils.Deref(row.PlateCity),
				Confidence: utils.Deref(row.Confidence),
			}
		}
		reads = append(reads, read)
	}
	return reads, nil
}
