package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"parking-service/internal/domain/parking"
	"parking-service/internal/utils"
)

type TicketRepository struct {
	db *gorm.DB
}

func NewTicketRepository(db *gorm.DB) *TicketRepository {
	return &TicketRepository{db: db}
}

// Open creates an OPEN ticket for the spot. A nil candidate opens a ticket without a plate.
func (r *TicketRepository) Open(ctx context.Context, key parking.SpotKey, candidate *parking.PlateCandidate, entryTime time.Time) (*parking.Ticket, error) {
	existing, err := r.FindOpen(ctx, key)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: spot %s already has open ticket %d", parking.ErrConflict, key, existing.ID)
	}

	now := time.Now().UTC()
	row := Ticket{
		CameraID:   key.CameraID,
		SpotNumber: key.SpotNumber,
		State:      string(parking.TicketOpen),
		EntryTime:  entryTime.UTC(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if candidate != nil {
		conf := candidate.Confidence
		row.PlateNumber = utils.StringPtr(utils.NormalizePlate(candidate.Number))
		row.PlateCode = utils.StringPtr(candidate.Code)
		row.PlateCity = utils.StringPtr(candidate.City)
		row.Confidence = &conf
	}

	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("%w: spot %s already has an open ticket", parking.ErrConflict, key)
		}
		return nil, err
	}
	t := row.toDomain()
	return &t, nil
}

// Close moves an OPEN ticket to CLOSED. The state check happens in the UPDATE itself.
func (r *TicketRepository) Close(ctx context.Context, id int64, exitTime time.Time) (*parking.Ticket, error) {
	exit := exitTime.UTC()
	res := r.db.WithContext(ctx).
		Model(&Ticket{}).
		Where("id = ? AND state = ?", id, string(parking.TicketOpen)).
		Updates(map[string]interface{}{
			"state":      string(parking.TicketClosed),
			"exit_time":  exit,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		t, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: ticket %d is %s", parking.ErrState, id, t.State)
	}
	return r.Get(ctx, id)
}

// ApplyCorrection overwrites the plate fields. Allowed in either state.
func (r *TicketRepository) ApplyCorrection(ctx context.Context, id int64, corr parking.PlateCorrection) (*parking.Ticket, error) {
	res := r.db.WithContext(ctx).
		Model(&Ticket{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"plate_number": utils.NormalizePlate(corr.PlateNumber),
			"plate_code":   corr.PlateCode,
			"plate_city":   corr.PlateCity,
			"confidence":   corr.Confidence,
			"updated_at":   time.Now().UTC(),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, notFound("ticket", id)
	}
	return r.Get(ctx, id)
}

func (r *TicketRepository) RecordSettlement(ctx context.Context, id int64, ref string) error {
	res := r.db.WithContext(ctx).
		Model(&Ticket{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"settlement_ref": ref, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return notFound("ticket", id)
	}
	return nil
}

func (r *TicketRepository) Get(ctx context.Context, id int64) (*parking.Ticket, error) {
	var row Ticket
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if isNotFound(err) {
		return nil, notFound("ticket", id)
	}
	if err != nil {
		return nil, err
	}
	t := row.toDomain()
	return &t, nil
}

// FindOpen returns the open ticket for the spot, or nil when the spot has none.
func (r *TicketRepository) FindOpen(ctx context.Context, key parking.SpotKey) (*parking.Ticket, error) {
	var rows []Ticket
	err := r.db.WithContext(ctx).
		Where("camera_id = ? AND spot_number = ? AND state = ?", key.CameraID, key.SpotNumber, string(parking.TicketOpen)).
		Order("entry_time DESC, id DESC").
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	t := rows[0].toDomain()
	return &t, nil
}

// FindLatest returns the most recently opened ticket for the spot in any state.
func (r *TicketRepository) FindLatest(ctx context.Context, key parking.SpotKey) (*parking.Ticket, error) {
	var rows []Ticket
	err := r.db.WithContext(ctx).
		Where("camera_id = ? AND spot_number = ?", key.CameraID, key.SpotNumber).
		Order("entry_time DESC, id DESC").
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no ticket for spot %s", parking.ErrNotFound, key)
	}
	t := rows[0].toDomain()
	return &t, nil
}

func (r *TicketRepository) List(ctx context.Context, filter parking.TicketFilter, q parking.ListQuery) (*parking.TicketPage, error) {
	q = q.Normalize()

	query := r.db.WithContext(ctx).Model(&Ticket{})
	if filter.State != nil {
		query = query.Where("state = ?", string(*filter.State))
	}
	if filter.CameraID != nil {
		query = query.Where("camera_id = ?", *filter.CameraID)
	}
	if filter.SpotNumber != nil {
		query = query.Where("spot_number = ?", *filter.SpotNumber)
	}
	if plate := utils.NormalizePlate(filter.Plate); plate != "" {
		query = query.Where("UPPER(plate_number) LIKE ?", "%"+strings.ToUpper(plate)+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}

	var rows []Ticket
	err := query.
		Order(orderClause(q, ticketSortFields, "entry_time")).
		Offset(q.Offset()).
		Limit(q.PageSize).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	items := make([]parking.Ticket, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toDomain())
	}
	return &parking.TicketPage{Items: items, Total: total, Page: q.Page, PageSize: q.PageSize}, nil
}
