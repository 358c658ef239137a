package recognition

import (
	"bytes"
	"context"
	"encoding/base64"
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

var cityNames = map[string]string{
	"AE-AZ": "Abu Dhabi",
	"AE-DU": "Dubai",
	"AE-SH": "Sharjah",
	"AE-AJ": "Ajman",
	"AE-RK": "RAK",
	"AE-FU": "Fujairah",
	"AE-UQ": "UAQ",
}

const unknownCity = "Unknown"

// CityName maps an emirate region code to the city stored on tickets.
func CityName(code string) string {
	if name, ok := cityNames[strings.ToUpper(strings.TrimSpace(code))]; ok {
		return name
	}
	return unknownCity
}

// OCRClient calls the plate OCR engine. One instance is bound to one location's token.
type OCRClient struct {
	url     string
	token   string
	timeout time.Duration
	http    *http.Client
	log     zerolog.Logger
}

func NewOCRClient(url, token string, timeout time.Duration, client *http.Client, log zerolog.Logger) *OCRClient {
	if client == nil {
		client = &http.Client{}
	}
	return &OCRClient{
		url:     url,
		token:   token,
		timeout: timeout,
		http:    client,
		log:     log.With().Str("component", "ocr").Logger(),
	}
}

type ocrRequest struct {
	Token  string `json:"token"`
	Base64 string `json:"base64"`
	PoleID int64  `json:"pole_id"`
}

type ocrReading struct {
	Confidence flexInt `json:"confidance"`
	Text       string  `json:"text"`
	Category   string  `json:"category"`
	CityName   string  `json:"cityName"`
}

// DetectPlates sends the image to the OCR engine and returns zero or one candidate.
func (c *OCRClient) DetectPlates(ctx context.Context, cam parking.Camera, img parking.Image) ([]parking.PlateCandidate, error) {
	if img.Empty() {
		return nil, fmt.Errorf("%w: empty image", parking.ErrValidation)
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	body, err := json.Marshal(ocrRequest{
		Token:  c.token,
		Base64: base64.StdEncoding.EncodeToString(img.Data),
		PoleID: cam.PoleID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode ocr request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build ocr request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: ocr request: %v", parking.ErrUpstream, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read ocr response: %v", parking.ErrUpstream, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("%w: ocr returned status %d", parking.ErrUpstream, resp.StatusCode)
	}

	reading, err := parseOCRResponse(raw)
	if err != nil {
		return nil, err
	}

	text := utils.NormalizePlate(reading.Text)
	if int(reading.Confidence) <= 0 || text == "" {
		c.log.Debug().Int64("camera_id", cam.ID).Msg("ocr returned no plate")
		return []parking.PlateCandidate{}, nil
	}

	candidate := parking.PlateCandidate{
		Number:     text,
		Code:       strings.TrimSpace(reading.Category),
		City:       CityName(reading.CityName),
		Confidence: clampConfidence(int(reading.Confidence)),
	}
	c.log.Debug().
		Int64("camera_id", cam.ID).
		Str("plate", candidate.Number).
		Int("confidence", candidate.Confidence).
		Msg("ocr reading")
	return []parking.PlateCandidate{candidate}, nil
}

// parseOCRResponse accepts both a JSON object and a JSON string wrapping the object.
func parseOCRResponse(raw []byte) (*ocrReading, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty ocr response", parking.ErrUpstream)
	}

	for depth := 0; depth < 3; depth++ {
		if raw[0] != '"' {
			break
		}
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return nil, fmt.Errorf("%w: undecodable ocr response: %v", parking.ErrUpstream, err)
		}
		raw = bytes.TrimSpace([]byte(inner))
		if len(raw) == 0 {
			return nil, fmt.Errorf("%w: empty ocr response", parking.ErrUpstream)
		}
	}

	var reading ocrReading
	if err := json.Unmarshal(raw, &reading); err != nil {
		return nil, fmt.Errorf("%w: undecodable ocr response: %v", parking.ErrUpstream, err)
	}
	return &reading, nil
}

func clampConfidence(v int) int {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}

// flexInt decodes numbers that arrive either as JSON numbers or numeric strings.
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid numeric value %q", s)
	}
	*f = flexInt(v)
	return nil
}
