package parking

const (
	DefaultPageSize = 50
	MaxPageSize     = 100
)

type SortDirection string

const (
	SortAsc  SortDirection = "ASC"
	SortDesc SortDirection = "DESC"
)

// ListQuery carries paging and ordering shared by every listing accessor.
type ListQuery struct {
	Page      int
	PageSize  int
	SortBy    string
	Direction SortDirection
}

// Normalize clamps paging to sane bounds.
func (q ListQuery) Normalize() ListQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize <= 0 {
		q.PageSize = DefaultPageSize
	}
	if q.PageSize > MaxPageSize {
		q.PageSize = MaxPageSize
	}
	if q.Direction != SortAsc {
		q.Direction = SortDesc
	}
	return q
}

func (q ListQuery) Offset() int {
	return (q.Page - 1) * q.PageSize
}

type TicketFilter struct {
	State      *TicketState
	CameraID   *int64
	SpotNumber *int
	Plate      string
}

type ReviewFilter struct {
	Status   *ReviewStatus
	CameraID *int64
}

type TicketPage struct {
	Items    []Ticket `json:"items"`
	Total    int64    `json:"total"`
	Page     int      `json:"page"`
	PageSize int      `json:"page_size"`
}

type ReviewPage struct {
	Items    []ManualReview `json:"items"`
	Total    int64          `json:"total"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
}
