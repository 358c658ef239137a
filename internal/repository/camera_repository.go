package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"parking-service/internal/domain/parking"
	"parking-service/internal/utils"
)

type CameraRepository struct {
	db *gorm.DB
}

func NewCameraRepository(db *gorm.DB) *CameraRepository {
	return &CameraRepository{db: db}
}

type cameraRow struct {
	CameraID         int64
	PoleID           int64
	APIPoleID        *int64
	APICode          string
	Address          string
	NumberOfSpots    int
	LocationID       int64
	LocationCode     string
	LocationName     string
	ParkonicAPIToken *string
	CameraUser       *string
	CameraPass       *string
	APILocationID    *int64
}

func (r cameraRow) toDomain() parking.Camera {
	return parking.Camera{
		ID:        r.CameraID,
		PoleID:    r.PoleID,
		APIPoleID: r.APIPoleID,
		APICode:   r.APICode,
		Address:   r.Address,
		SpotCount: r.NumberOfSpots,
		Location: parking.Location{
			ID:            r.LocationID,
			Code:          r.LocationCode,
			Name:          r.LocationName,
			APILocationID: r.APILocationID,
			Credentials: parking.LocationCredentials{
				ParkonicToken: utils.Deref(r.ParkonicAPIToken),
				CameraUser:    utils.Deref(r.CameraUser),
				CameraPass:    utils.Deref(r.CameraPass),
			},
		},
	}
}

func (r *CameraRepository) cameraQuery(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Table("cameras").
		Select(`cameras.id AS camera_id, cameras.pole_id, poles.api_pole_id, cameras.api_code,
			cameras.address, cameras.number_of_spots, locations.id AS location_id,
			locations.code AS location_code, locations.name AS location_name,
			locations.parkonic_api_token, locations.camera_user, locations.camera_pass,
			locations.api_location_id`).
		Joins("JOIN poles ON cameras.pole_id = poles.id").
		Joins("JOIN locations ON poles.location_id = locations.id")
}

// FindByArea resolves a camera from its location code and api code.
func (r *CameraRepository) FindByArea(ctx context.Context, locationCode, apiCode string) (*parking.Camera, error) {
	var rows []cameraRow
	err := r.cameraQuery(ctx).
		Where("locations.code = ? AND cameras.api_code = ?", locationCode, apiCode).
		Limit(1).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no camera for parking area %s%s", parking.ErrNotFound, locationCode, apiCode)
	}
	cam := rows[0].toDomain()
	return &cam, nil
}

func (r *CameraRepository) Get(ctx context.Context, id int64) (*parking.Camera, error) {
	var rows []cameraRow
	err := r.cameraQuery(ctx).Where("cameras.id = ?", id).Limit(1).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, notFound("camera", id)
	}
	cam := rows[0].toDomain()
	return &cam, nil
}

// ResolveSpot returns the provisioned spot. Spot numbers covered by the camera's spot
// count but without a row are provisioned on first use with a full-frame region.
func (r *CameraRepository) ResolveSpot(ctx context.Context, cam parking.Camera, spotNumber int) (*parking.Spot, error) {
	var spot Spot
	err := r.db.WithContext(ctx).
		Where("camera_id = ? AND spot_number = ?", cam.ID, spotNumber).
		First(&spot).Error
	if err == nil {
		s := spot.toDomain()
		return &s, nil
	}
	if !isNotFound(err) {
		return nil, err
	}
	if spotNumber < 1 || spotNumber > cam.SpotCount {
		return nil, fmt.Errorf("%w: spot %d is not provisioned on camera %d", parking.ErrNotFound, spotNumber, cam.ID)
	}

	spot = Spot{
		CameraID:   cam.ID,
		SpotNumber: spotNumber,
		State:      string(parking.SpotVacant),
		UpdatedAt:  time.Now().UTC(),
	}
	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&spot).Error
	if err != nil {
		return nil, err
	}
	if err := r.db.WithContext(ctx).
		Where("camera_id = ? AND spot_number = ?", cam.ID, spotNumber).
		First(&spot).Error; err != nil {
		return nil, err
	}
	s := spot.toDomain()
	return &s, nil
}

func (r *CameraRepository) SetSpotState(ctx context.Context, key parking.SpotKey, state parking.SpotState) error {
	res := r.db.WithContext(ctx).
		Model(&Spot{}).
		Where("camera_id = ? AND spot_number = ?", key.CameraID, key.SpotNumber).
		Updates(map[string]interface{}{"state": string(state), "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: spot %s", parking.ErrNotFound, key)
	}
	return nil
}

func (r *CameraRepository) GetSpot(ctx context.Context, key parking.SpotKey) (*parking.Spot, error) {
	var spot Spot
	err := r.db.WithContext(ctx).
		Where("camera_id = ? AND spot_number = ?", key.CameraID, key.SpotNumber).
		First(&spot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: spot %s", parking.ErrNotFound, key)
	}
	if err != nil {
		return nil, err
	}
	s := spot.toDomain()
	return &s, nil
}
