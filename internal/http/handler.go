package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"parking-service/internal/domain/parking"
)

// EventSubmitter accepts camera occupancy notifications.
type EventSubmitter interface {
	SubmitEvent(ctx context.Context, payload parking.EventPayload) (*parking.SubmitResult, error)
}

// ReviewResolver is the manual review workflow.
type ReviewResolver interface {
	Correct(ctx context.Context, reviewID int64, corr parking.PlateCorrection) (*parking.ReviewResult, error)
	Dismiss(ctx context.Context, reviewID int64) (*parking.ReviewResult, error)
}

// Queries are the read-only accessors behind the listing routes.
type Queries interface {
	ListTickets(ctx context.Context, filter parking.TicketFilter, q parking.ListQuery) (*parking.TicketPage, error)
	GetTicket(ctx context.Context, id int64) (*parking.Ticket, error)
	ListReviews(ctx context.Context, filter parking.ReviewFilter, q parking.ListQuery) (*parking.ReviewPage, error)
	GetReview(ctx context.Context, id int64) (*parking.ManualReview, error)
	ReviewImagePath(ctx context.Context, id int64) (string, error)
	ReviewClipPath(ctx context.Context, id int64) (string, error)
}

type Handler struct {
	events  EventSubmitter
	reviews ReviewResolver
	queries Queries
	log     zerolog.Logger
}

func NewHandler(
	events EventSubmitter,
	reviews ReviewResolver,
	queries Queries,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		events:  events,
		reviews: reviews,
		queries: queries,
		log:     log,
	}
}

func (h *Handler) Register(r *gin.Engine, authMiddleware gin.HandlerFunc) {
	r.GET("/healthz", h.health)

	// Camera-facing
	public := r.Group("/api/v1")
	{
		public.POST("/occupancy/events", h.createOccupancyEvent)
	}

	protected := r.Group("/api/v1")
	protected.Use(authMiddleware)
	{
		protected.GET("/tickets", h.listTickets)
		protected.GET("/tickets/:id", h.getTicket)

		protected.GET("/manual-reviews", h.listReviews)
		protected.GET("/manual-reviews/:id", h.getReview)
		protected.GET("/manual-reviews/:id/image", h.getReviewImage)
		protected.GET("/manual-reviews/:id/video", h.getReviewVideo)
		protected.POST("/manual-reviews/:id/correct", h.correctReview)
		protected.POST("/manual-reviews/:id/dismiss", h.dismissReview)
	}
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) createOccupancyEvent(c *gin.Context) {
	var payload parking.EventPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	result, err := h.events.SubmitEvent(c.Request.Context(), payload)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *Handler) listTickets(c *gin.Context) {
	var filter parking.TicketFilter

	if s := strings.ToUpper(strings.TrimSpace(c.Query("state"))); s != "" {
		state := parking.TicketState(s)
		if state != parking.TicketOpen && state != parking.TicketClosed {
			c.JSON(http.StatusBadRequest, errorResponse("state must be OPEN or CLOSED"))
			return
		}
		filter.State = &state
	}
	if v := c.Query("camera_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse("invalid camera_id"))
			return
		}
		filter.CameraID = &id
	}
	if v := c.Query("spot_number"); v != "" {
		spot, err := strconv.Atoi(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse("invalid spot_number"))
			return
		}
		filter.SpotNumber = &spot
	}
	filter.Plate = strings.TrimSpace(c.Query("plate"))

	q, err := listQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	page, err := h.queries.ListTickets(c.Request.Context(), filter, q)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(page))
}

func (h *Handler) getTicket(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	ticket, err := h.queries.GetTicket(c.Request.Context(), id)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(ticket))
}

func (h *Handler) listReviews(c *gin.Context) {
	var filter parking.ReviewFilter

	switch s := strings.ToUpper(strings.TrimSpace(c.Query("status"))); s {
	case "":
		pending := parking.ReviewPending
		filter.Status = &pending
	case "ALL":
	case string(parking.ReviewPending), string(parking.ReviewResolved):
		status := parking.ReviewStatus(s)
		filter.Status = &status
	default:
		c.JSON(http.StatusBadRequest, errorResponse("status must be PENDING, RESOLVED or ALL"))
		return
	}
	if v := c.Query("camera_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse("invalid camera_id"))
			return
		}
		filter.CameraID = &id
	}

	q, err := listQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	page, err := h.queries.ListReviews(c.Request.Context(), filter, q)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(page))
}

func (h *Handler) getReview(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	review, err := h.queries.GetReview(c.Request.Context(), id)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(review))
}

func (h *Handler) getReviewImage(c *gin.Context) {
	h.serveMedia(c, h.queries.ReviewImagePath)
}

func (h *Handler) getReviewVideo(c *gin.Context) {
	h.serveMedia(c, h.queries.ReviewClipPath)
}

func (h *Handler) serveMedia(c *gin.Context, resolve func(context.Context, int64) (string, error)) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	path, err := resolve(c.Request.Context(), id)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.File(path)
}

func (h *Handler) correctReview(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var corr parking.PlateCorrection
	if err := c.ShouldBindJSON(&corr); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	result, err := h.reviews.Correct(c.Request.Context(), id, corr)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(result))
}

func (h *Handler) dismissReview(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	result, err := h.reviews.Dismiss(c.Request.Context(), id)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(result))
}

func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, parking.ErrValidation):
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
	case errors.Is(err, parking.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse(err.Error()))
	case errors.Is(err, parking.ErrConflict), errors.Is(err, parking.ErrState):
		c.JSON(http.StatusConflict, errorResponse(err.Error()))
	case errors.Is(err, parking.ErrUpstream):
		h.log.Warn().Err(err).Str("path", c.FullPath()).Msg("upstream failure")
		c.JSON(http.StatusBadGateway, errorResponse(err.Error()))
	default:
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("handler error")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
	}
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, errorResponse("invalid id"))
		return 0, false
	}
	return id, true
}

// listQuery reads page, page_size, sort_by and order. Paging is clamped by ListQuery.Normalize.
func listQuery(c *gin.Context) (parking.ListQuery, error) {
	var q parking.ListQuery

	if v := c.Query("page"); v != "" {
		page, err := strconv.Atoi(v)
		if err != nil {
			return q, fmt.Errorf("invalid page %q", v)
		}
		q.Page = page
	}
	if v := c.Query("page_size"); v != "" {
		size, err := strconv.Atoi(v)
		if err != nil {
			return q, fmt.Errorf("invalid page_size %q", v)
		}
		q.PageSize = size
	}
	q.SortBy = strings.TrimSpace(c.Query("sort_by"))

	switch strings.ToUpper(strings.TrimSpace(c.Query("order"))) {
	case "", string(parking.SortDesc):
		q.Direction = parking.SortDesc
	case string(parking.SortAsc):
		q.Direction = parking.SortAsc
	default:
		return q, errors.New("order must be asc or desc")
	}

	return q.Normalize(), nil
}

func successResponse(data interface{}) gin.H {
	return gin.H{
		"data": data,
	}
}

func errorResponse(message string) gin.H {
	return gin.H{
		"error": message,
	}
}
