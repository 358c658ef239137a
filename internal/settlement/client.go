package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"parking-service/internal/domain/parking"
	"parking-service/internal/utils"
)

const parkonicTimeFmt = "2006-01-02 15:04:05"

// ParkonicClient reports closed tickets to the Parkonic street-parking API.
// Each call is a single attempt.
type ParkonicClient struct {
	baseURL string
	token   string
	http    *http.Client
	log     zerolog.Logger
}

func NewParkonicClient(baseURL, token string, timeout time.Duration, client *http.Client, log zerolog.Logger) *ParkonicClient {
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &ParkonicClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    client,
		log:     log.With().Str("component", "parkonic").Logger(),
	}
}

type parkInRequest struct {
	Token       string   `json:"token"`
	ParkinTime  string   `json:"parkin_time"`
	PlateCode   string   `json:"plate_code"`
	PlateNumber string   `json:"plate_number"`
	Emirates    string   `json:"emirates"`
	Conf        string   `json:"conf"`
	SpotNumber  int      `json:"spot_number"`
	PoleID      int64    `json:"pole_id"`
	Images      []string `json:"images"`
}

type parkOutRequest struct {
	Token       string `json:"token"`
	ParkoutTime string `json:"parkout_time"`
	SpotNumber  string `json:"spot_number"`
	PoleID      int64  `json:"pole_id"`
	TripID      string `json:"trip_id"`
}

// NotifySettlement registers the trip when the ticket has no settlement reference yet, then parks it out.
func (c *ParkonicClient) NotifySettlement(ctx context.Context, rec parking.SettlementRecord) (parking.SettlementReceipt, error) {
	if rec.APIPoleID == nil {
		return parking.SettlementReceipt{}, fmt.Errorf("%w: ticket %d has no api pole id", parking.ErrValidation, rec.TicketID)
	}
	if rec.ExitTime.IsZero() {
		return parking.SettlementReceipt{}, fmt.Errorf("%w: ticket %d is not closed", parking.ErrValidation, rec.TicketID)
	}

	tripID := utils.Deref(rec.SettlementRef)
	if tripID == "" {
		if strings.TrimSpace(rec.PlateNumber) == "" {
			return parking.SettlementReceipt{}, fmt.Errorf("%w: ticket %d has no plate to register", parking.ErrValidation, rec.TicketID)
		}
		resp, err := c.post(ctx, "/park-in", parkInRequest{
			Token:       c.token,
			ParkinTime:  rec.EntryTime.Format(parkonicTimeFmt),
			PlateCode:   rec.PlateCode,
			PlateNumber: rec.PlateNumber,
			Emirates:    rec.PlateCity,
			Conf:        strconv.Itoa(rec.Confidence),
			SpotNumber:  rec.SpotNumber,
			PoleID:      *rec.APIPoleID,
			Images:      []string{},
		})
		if err != nil {
			return parking.SettlementReceipt{}, err
		}
		tripID = extractTripID(resp)
		if tripID == "" {
			return parking.SettlementReceipt{}, fmt.Errorf("%w: park-in returned no trip id", parking.ErrUpstream)
		}
		c.log.Info().Int64("ticket_id", rec.TicketID).Str("trip_id", tripID).Msg("park-in registered")
	}

	_, err := c.post(ctx, "/park-out", parkOutRequest{
		Token:       c.token,
		ParkoutTime: rec.ExitTime.Format(parkonicTimeFmt),
		SpotNumber:  strconv.Itoa(rec.SpotNumber),
		PoleID:      *rec.APIPoleID,
		TripID:      tripID,
	})
	if err != nil {
		return parking.SettlementReceipt{}, err
	}
	c.log.Info().Int64("ticket_id", rec.TicketID).Str("trip_id", tripID).Msg("park-out sent")
	return parking.SettlementReceipt{TripID: tripID}, nil
}

func (c *ParkonicClient) post(ctx context.Context, path string, payload interface{}) (map[string]interface{}, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s request: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", parking.ErrUpstream, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: read body: %v", parking.ErrUpstream, path, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("%w: %s returned status %d", parking.ErrUpstream, path, resp.StatusCode)
	}
	out, err := decodeBody(raw)
	if err != nil {
		c.log.Debug().Err(err).Str("path", path).Str("body", truncate(raw, 256)).Msg("undecodable partner reply")
	}
	return out, nil
}

// decodeBody tolerates empty bodies and JSON strings that wrap an object.
func decodeBody(raw []byte) (map[string]interface{}, error) {
	out := map[string]interface{}{}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return out, nil
	}
	if raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return out, err
		}
		raw = []byte(inner)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]interface{}{}, err
	}
	return out, nil
}

func truncate(raw []byte, n int) string {
	if len(raw) > n {
		return string(raw[:n])
	}
	return string(raw)
}

func extractTripID(body map[string]interface{}) string {
	if id := scalarString(body["trip_id"]); id != "" {
		return id
	}
	if data, ok := body["data"].(map[string]interface{}); ok {
		return scalarString(data["trip_id"])
	}
	return ""
}

func scalarString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case float64:
		return strconv.FormatInt(int64(val), 10)
	case json.Number:
		return val.String()
	default:
		return ""
	}
}
