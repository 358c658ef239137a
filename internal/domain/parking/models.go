package parking

import (
	"fmt"
	"time"
)

type SpotState string

const (
	SpotVacant   SpotState = "VACANT"
	SpotOccupied SpotState = "OCCUPIED"
)

type TicketState string

const (
	TicketOpen   TicketState = "OPEN"
	TicketClosed TicketState = "CLOSED"
)

type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "PENDING"
	ReviewResolved ReviewStatus = "RESOLVED"
)

type ReviewResolution string

const (
	ResolutionCorrected ReviewResolution = "CORRECTED"
	ResolutionDismissed ReviewResolution = "DISMISSED"
)

// ReadStatus is the outcome of one plate detection attempt.
type ReadStatus string

const (
	ReadFound  ReadStatus = "READ"
	ReadMissed ReadStatus = "UNREAD"
)

// SpotKey is the unit of serialization for every state transition.
type SpotKey struct {
	CameraID   int64
	SpotNumber int
}

func (k SpotKey) String() string {
	return fmt.Sprintf("%d/%d", k.CameraID, k.SpotNumber)
}

// Region is a bounding box in frame pixels. A zero region means the whole frame.
type Region struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

func (r Region) Empty() bool {
	return r.X2 <= r.X1 || r.Y2 <= r.Y1
}

// LocationCredentials are per-tenant secrets handed to the external adapters.
type LocationCredentials struct {
	ParkonicToken string
	CameraUser    string
	CameraPass    string
}

type Location struct {
	ID            int64
	Code          string
	Name          string
	APILocationID *int64
	Credentials   LocationCredentials
}

type Camera struct {
	ID        int64
	PoleID    int64
	APIPoleID *int64
	APICode   string
	Address   string
	SpotCount int
	Location  Location
}

type Spot struct {
	ID         int64
	CameraID   int64
	SpotNumber int
	Region     Region
	State      SpotState
}

func (s Spot) Key() SpotKey {
	return SpotKey{CameraID: s.CameraID, SpotNumber: s.SpotNumber}
}

// Image is a still frame. Ref is set once the bytes have been persisted.
type Image struct {
	Data []byte
	Ref  string
}

func (i *Image) Empty() bool {
	return i == nil || len(i.Data) == 0
}

type OccupancyEvent struct {
	ID         int64
	CameraID   int64
	SpotNumber int
	Occupied   bool
	EventTime  time.Time
	Image      *Image
	RawPayload map[string]interface{}
}

func (e OccupancyEvent) Key() SpotKey {
	return SpotKey{CameraID: e.CameraID, SpotNumber: e.SpotNumber}
}

// PlateCandidate is one reading returned by plate recognition. Never persisted on its own.
type PlateCandidate struct {
	Number     string `json:"plate_number"`
	Code       string `json:"plate_code"`
	City       string `json:"plate_city"`
	Confidence int    `json:"confidence"`
}

type Ticket struct {
	ID            int64       `json:"id"`
	CameraID      int64       `json:"camera_id"`
	SpotNumber    int         `json:"spot_number"`
	State         TicketState `json:"state"`
	PlateNumber   *string     `json:"plate_number,omitempty"`
	PlateCode     *string     `json:"plate_code,omitempty"`
	PlateCity     *string     `json:"plate_city,omitempty"`
	Confidence    *int        `json:"confidence,omitempty"`
	EntryTime     time.Time   `json:"entry_time"`
	ExitTime      *time.Time  `json:"exit_time,omitempty"`
	SettlementRef *string     `json:"settlement_ref,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

func (t Ticket) Key() SpotKey {
	return SpotKey{CameraID: t.CameraID, SpotNumber: t.SpotNumber}
}

type ManualReview struct {
	ID         int64             `json:"id"`
	CameraID   int64             `json:"camera_id"`
	SpotNumber int               `json:"spot_number"`
	TicketID   *int64            `json:"ticket_id,omitempty"`
	EventTime  time.Time         `json:"event_time"`
	ImageRef   string            `json:"image_ref"`
	ClipRef    *string           `json:"clip_ref,omitempty"`
	Status     ReviewStatus      `json:"status"`
	Resolution *ReviewResolution `json:"resolution,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	ResolvedAt *time.Time        `json:"resolved_at,omitempty"`
}

func (r ManualReview) Key() SpotKey {
	return SpotKey{CameraID: r.CameraID, SpotNumber: r.SpotNumber}
}

// PlateCorrection is the operator-supplied plate for a review.
type PlateCorrection struct {
	PlateNumber string `json:"plate_number"`
	PlateCode   string `json:"plate_code"`
	PlateCity   string `json:"plate_city"`
	Confidence  int    `json:"confidence"`
}

func (c PlateCorrection) Validate() error {
	if c.PlateNumber == "" {
		return fmt.Errorf("%w: plate_number is required", ErrValidation)
	}
	if c.PlateCode == "" {
		return fmt.Errorf("%w: plate_code is required", ErrValidation)
	}
	if c.PlateCity == "" {
		return fmt.Errorf("%w: plate_city is required", ErrValidation)
	}
	if c.Confidence < 0 || c.Confidence > 100 {
		return fmt.Errorf("%w: confidence must be within 0..100", ErrValidation)
	}
	return nil
}

// PlateRead records one detection attempt.
type PlateRead struct {
	CameraID    int64
	SpotNumber  int
	Status      ReadStatus
	Candidate   *PlateCandidate
	ImageRef    string
	AttemptedAt time.Time
}

const (
	MsgEntryRecorded   = "Entry recorded"
	MsgAlreadyOccupied = "Spot already occupied"
	MsgStillOccupied   = "Spot still occupied"
	MsgExitRecorded    = "Exit recorded"
	MsgNoOpenTicket    = "No open ticket to close"
)

type SubmitResult struct {
	Accepted      bool   `json:"accepted"`
	StillOccupied bool   `json:"still_occupied"`
	TicketID      *int64 `json:"ticket_id,omitempty"`
	ReviewID      *int64 `json:"review_id,omitempty"`
	Message       string `json:"message"`
}

type ReviewResult struct {
	ReviewID   int64            `json:"review_id"`
	Status     ReviewStatus     `json:"status"`
	Resolution ReviewResolution `json:"resolution"`
	TicketID   *int64           `json:"ticket_id,omitempty"`
}

// SettlementRecord is the closed-ticket payload handed to the billing partner.
type SettlementRecord struct {
	TicketID      int64
	CameraID      int64
	SpotNumber    int
	APIPoleID     *int64
	PlateNumber   string
	PlateCode     string
	PlateCity     string
	Confidence    int
	EntryTime     time.Time
	ExitTime      time.Time
	SettlementRef *string
}

type SettlementReceipt struct {
	TripID string
}
