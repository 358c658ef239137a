package repository

import (
	"time"

	"gorm.io/datatypes"

	"parking-service/internal/domain/parking"
)

type Location struct {
	ID               int64 `gorm:"primaryKey"`
	Name             string
	Code             string `gorm:"not null;uniqueIndex"`
	ParkonicAPIToken *string
	CameraUser       *string
	CameraPass       *string
	APILocationID    *int64
	CreatedAt        time.Time
}

func (Location) TableName() string { return "locations" }

type Pole struct {
	ID         int64 `gorm:"primaryKey"`
	LocationID int64 `gorm:"not null"`
	Code       string
	APIPoleID  *int64
	CreatedAt  time.Time
}

func (Pole) TableName() string { return "poles" }

type Camera struct {
	ID            int64  `gorm:"primaryKey"`
	PoleID        int64  `gorm:"not null"`
	APICode       string `gorm:"not null"`
	Address       string `gorm:"not null"`
	NumberOfSpots int
	CreatedAt     time.Time
}

func (Camera) TableName() string { return "cameras" }

type Spot struct {
	ID         int64 `gorm:"primaryKey"`
	CameraID   int64 `gorm:"not null"`
	SpotNumber int   `gorm:"not null"`
	BboxX1     int   `gorm:"column:bbox_x1"`
	BboxY1     int   `gorm:"column:bbox_y1"`
	BboxX2     int   `gorm:"column:bbox_x2"`
	BboxY2     int   `gorm:"column:bbox_y2"`
	State      string
	UpdatedAt  time.Time
}

func (Spot) TableName() string { return "spots" }

type OccupancyEvent struct {
	ID         int64 `gorm:"primaryKey"`
	CameraID   int64 `gorm:"not null"`
	SpotNumber int   `gorm:"not null"`
	Occupied   bool
	EventTime  time.Time `gorm:"not null"`
	ImageRef   *string
	RawPayload datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt  time.Time
}

func (OccupancyEvent) TableName() string { return "occupancy_events" }

type Ticket struct {
	ID            int64 `gorm:"primaryKey"`
	CameraID      int64 `gorm:"not null"`
	SpotNumber    int   `gorm:"not null"`
	State         string
	PlateNumber   *string
	PlateCode     *string
	PlateCity     *string
	Confidence    *int
	EntryTime     time.Time `gorm:"not null"`
	ExitTime      *time.Time
	SettlementRef *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (Ticket) TableName() string { return "tickets" }

type ManualReview struct {
	ID         int64 `gorm:"primaryKey"`
	CameraID   int64 `gorm:"not null"`
	SpotNumber int   `gorm:"not null"`
	TicketID   *int64
	EventTime  time.Time `gorm:"not null"`
	ImageRef   string
	ClipRef    *string
	Status     string
	Resolution *string
	CreatedAt  time.Time
	ResolvedAt *time.Time
}

func (ManualReview) TableName() string { return "manual_reviews" }

type PlateRead struct {
	ID          int64 `gorm:"primaryKey"`
	CameraID    int64 `gorm:"not null"`
	SpotNumber  int   `gorm:"not null"`
	Status      string
	PlateNumber *string
	PlateCode   *string
	PlateCity   *string
	Confidence  *int
	ImageRef    *string
	AttemptedAt time.Time
}

func (PlateRead) TableName() string { return "plate_reads" }

func (s Spot) toDomain() parking.Spot {
	return parking.Spot{
		ID:         s.ID,
		CameraID:   s.CameraID,
		SpotNumber: s.SpotNumber,
		Region:     parking.Region{X1: s.BboxX1, Y1: s.BboxY1, X2: s.BboxX2, Y2: s.BboxY2},
		State:      parking.SpotState(s.State),
	}
}

func (t Ticket) toDomain() parking.Ticket {
	return parking.Ticket{
		ID:            t.ID,
		CameraID:      t.CameraID,
		SpotNumber:    t.SpotNumber,
		State:         parking.TicketState(t.State),
		PlateNumber:   t.PlateNumber,
		PlateCode:     t.PlateCode,
		PlateCity:     t.PlateCity,
		Confidence:    t.Confidence,
		EntryTime:     t.EntryTime,
		ExitTime:      t.ExitTime,
		SettlementRef: t.SettlementRef,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
	}
}

func (r ManualReview) toDomain() parking.ManualReview {
	review := parking.ManualReview{
		ID:         r.ID,
		CameraID:   r.CameraID,
		SpotNumber: r.SpotNumber,
		TicketID:   r.TicketID,
		EventTime:  r.EventTime,
		ImageRef:   r.ImageRef,
		ClipRef:    r.ClipRef,
		Status:     parking.ReviewStatus(r.Status),
		CreatedAt:  r.CreatedAt,
		ResolvedAt: r.ResolvedAt,
	}
	if r.Resolution != nil {
		res := parking.ReviewResolution(*r.Resolution)
		review.Resolution = &res
	}
	return review
}
