package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"parking-service/internal/domain/parking"
)

// Store groups the repositories so a state transition can span them in one transaction.
type Store struct {
	db         *gorm.DB
	Cameras    *CameraRepository
	Events     *EventRepository
	Tickets    *TicketRepository
	Reviews    *ReviewRepository
	PlateReads *PlateReadRepository
}

func NewStore(db *gorm.DB) *Store {
	return &Store{
		db:         db,
		Cameras:    NewCameraRepository(db),
		Events:     NewEventRepository(db),
		Tickets:    NewTicketRepository(db),
		Reviews:    NewReviewRepository(db),
		PlateReads: NewPlateReadRepository(db),
	}
}

// Transaction runs fn against a Store bound to a single database transaction.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewStore(tx))
	})
}

func notFound(what string, id int64) error {
	return fmt.Errorf("%w: %s %d", parking.ErrNotFound, what, id)
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
