package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"parking-service/internal/domain/parking"
)

type ReviewRepository struct {
	db *gorm.DB
}

func NewReviewRepository(db *gorm.DB) *ReviewRepository {
	return &ReviewRepository{db: db}
}

// Create stores a PENDING review and returns it with its id.
func (r *ReviewRepository) Create(ctx context.Context, key parking.SpotKey, ticketID *int64, eventTime time.Time, imageRef string) (*parking.ManualReview, error) {
	row := ManualReview{
		CameraID:   key.CameraID,
		SpotNumber: key.SpotNumber,
		TicketID:   ticketID,
		EventTime:  eventTime.UTC(),
		ImageRef:   imageRef,
		Status:     string(parking.ReviewPending),
		CreatedAt:  time.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, err
	}
	review := row.toDomain()
	return &review, nil
}

func (r *ReviewRepository) Get(ctx context.Context, id int64) (*parking.ManualReview, error) {
	var row ManualReview
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if isNotFound(err) {
		return nil, notFound("manual review", id)
	}
	if err != nil {
		return nil, err
	}
	review := row.toDomain()
	return &review, nil
}

// Resolve moves a PENDING review to RESOLVED. Only one caller can win the transition.
func (r *ReviewRepository) Resolve(ctx context.Context, id int64, resolution parking.ReviewResolution, at time.Time) (*parking.ManualReview, error) {
	res := r.db.WithContext(ctx).
		Model(&ManualReview{}).
		Where("id = ? AND status = ?", id, string(parking.ReviewPending)).
		Updates(map[string]interface{}{
			"status":      string(parking.ReviewResolved),
			"resolution":  string(resolution),
			"resolved_at": at.UTC(),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		review, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: manual review %d is %s", parking.ErrState, id, review.Status)
	}
	return r.Get(ctx, id)
}

// AttachClip sets the clip of a PENDING review. A resolved review is left untouched.
func (r *ReviewRepository) AttachClip(ctx context.Context, id int64, clipRef string) error {
	res := r.db.WithContext(ctx).
		Model(&ManualReview{}).
		Where("id = ? AND status = ?", id, string(parking.ReviewPending)).
		Update("clip_ref", clipRef)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		review, err := r.Get(ctx, id)
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: manual review %d is %s", parking.ErrState, id, review.Status)
	}
	return nil
}

func (r *ReviewRepository) List(ctx context.Context, filter parking.ReviewFilter, q parking.ListQuery) (*parking.ReviewPage, error) {
	q = q.Normalize()

	query := r.db.WithContext(ctx).Model(&ManualReview{})
	if filter.Status != nil {
		query = query.Where("status = ?", string(*filter.Status))
	}
	if filter.CameraID != nil {
		query = query.Where("camera_id = ?", *filter.CameraID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}

	var rows []ManualReview
	err := query.
		Order(orderClause(q, reviewSortFields, "created_at")).
		Offset(q.Offset()).
		Limit(q.PageSize).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	items := make([]parking.ManualReview, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toDomain())
	}
	return &parking.ReviewPage{Items: items, Total: total, Page: q.Page, PageSize: q.PageSize}, nil
}
