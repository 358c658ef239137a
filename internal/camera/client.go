package camera

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"parking-service/internal/config"
	"parking-service/internal/domain/parking"
)

const (
	maxFrameBytes = 20 << 20
	maxClipBytes  = 512 << 20
	clipTimeFmt   = "2006-01-02 15:04:05"
)

// Client pulls still frames and recorded clips from IP cameras.
// Credentials come from the owning location.
type Client struct {
	cfg   config.CameraConfig
	creds parking.LocationCredentials
	http  *http.Client
	log   zerolog.Logger
}

func NewClient(cfg config.CameraConfig, creds parking.LocationCredentials, client *http.Client, log zerolog.Logger) *Client {
	if client == nil {
		client = &http.Client{}
	}
	if cfg.FrameAttempts < 1 {
		cfg.FrameAttempts = 1
	}
	return &Client{
		cfg:   cfg,
		creds: creds,
		http:  client,
		log:   log.With().Str("component", "camera").Logger(),
	}
}

// FetchLatestFrame returns the current still image, retrying until an attempt yields bytes.
func (c *Client) FetchLatestFrame(ctx context.Context, cam parking.Camera) (parking.Image, error) {
	endpoint := c.endpoint(cam, c.cfg.SnapshotPath)

	var lastErr error
	for attempt := 1; attempt <= c.cfg.FrameAttempts; attempt++ {
		data, err := c.get(ctx, endpoint, nil, c.cfg.FrameTimeout, maxFrameBytes)
		if err == nil && len(data) > 0 {
			return parking.Image{Data: data}, nil
		}
		if err == nil {
			err = fmt.Errorf("empty frame")
		}
		lastErr = err
		c.log.Warn().
			Err(err).
			Int64("camera_id", cam.ID).
			Int("attempt", attempt).
			Msg("frame fetch failed")

		if attempt < c.cfg.FrameAttempts {
			if err := sleep(ctx, c.cfg.RetryDelay); err != nil {
				return parking.Image{}, fmt.Errorf("%w: frame fetch cancelled: %v", parking.ErrUpstream, err)
			}
		}
	}
	return parking.Image{}, fmt.Errorf("%w: camera %d frame: %v", parking.ErrUpstream, cam.ID, lastErr)
}

// FetchClip downloads the recording around eventTime.
func (c *Client) FetchClip(ctx context.Context, cam parking.Camera, eventTime time.Time) ([]byte, error) {
	start := eventTime.Add(-c.cfg.ClipBefore)
	end := eventTime.Add(c.cfg.ClipAfter)
	params := url.Values{
		"dw":        {"sd"},
		"filename":  {fmt.Sprintf("clip_%d_%s", cam.ID, start.Format("20060102_150405"))},
		"starttime": {start.Format(clipTimeFmt)},
		"endtime":   {end.Format(clipTimeFmt)},
		"index":     {"0"},
		"sid":       {"0"},
		"uuid":      {uuid.NewString()},
	}
	endpoint := c.endpoint(cam, c.cfg.ClipPath)

	var lastErr error
	for attempt := 1; attempt <= c.cfg.FrameAttempts; attempt++ {
		data, err := c.get(ctx, endpoint, params, c.cfg.ClipTimeout, maxClipBytes)
		if err == nil && len(data) > 0 {
			return data, nil
		}
		if err == nil {
			err = fmt.Errorf("empty clip")
		}
		lastErr = err
		c.log.Warn().Err(err).Int64("camera_id", cam.ID).Int("attempt", attempt).Msg("clip fetch failed")

		if attempt < c.cfg.FrameAttempts {
			if err := sleep(ctx, c.cfg.RetryDelay); err != nil {
				return nil, fmt.Errorf("%w: clip fetch cancelled: %v", parking.ErrUpstream, err)
			}
		}
	}
	return nil, fmt.Errorf("%w: camera %d clip: %v", parking.ErrUpstream, cam.ID, lastErr)
}

func (c *Client) endpoint(cam parking.Camera, path string) string {
	base := strings.TrimRight(cam.Address, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return base + "/" + strings.TrimLeft(path, "/")
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values, timeout time.Duration, limit int64) ([]byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if c.creds.CameraUser != "" {
		req.SetBasicAuth(c.creds.CameraUser, c.creds.CameraPass)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, limit))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
