// Package gateway binds the external collaborators to a location's credentials.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"parking-service/internal/camera"
	"parking-service/internal/config"
	"parking-service/internal/domain/parking"
	"parking-service/internal/recognition"
	"parking-service/internal/settlement"
)

type PlateDetector interface {
	DetectPlates(ctx context.Context, cam parking.Camera, img parking.Image) ([]parking.PlateCandidate, error)
}

type FrameSource interface {
	FetchLatestFrame(ctx context.Context, cam parking.Camera) (parking.Image, error)
	FetchClip(ctx context.Context, cam parking.Camera, eventTime time.Time) ([]byte, error)
}

// Adapters is the set of collaborators for one location. Settlement is nil when settlement sync is disabled.
type Adapters struct {
	Detector   PlateDetector
	Frames     FrameSource
	Settlement settlement.Notifier
}

type Provider interface {
	ForLocation(loc parking.Location) (Adapters, error)
}

type cachedAdapters struct {
	creds    parking.LocationCredentials
	adapters Adapters
}

// HTTPProvider builds HTTP-backed adapters per location and reuses them while credentials are unchanged.
type HTTPProvider struct {
	cfg  *config.Config
	http *http.Client
	log  zerolog.Logger

	mu    sync.RWMutex
	cache map[int64]cachedAdapters
}

func NewHTTPProvider(cfg *config.Config, client *http.Client, log zerolog.Logger) *HTTPProvider {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPProvider{
		cfg:   cfg,
		http:  client,
		log:   log,
		cache: make(map[int64]cachedAdapters),
	}
}

func (p *HTTPProvider) ForLocation(loc parking.Location) (Adapters, error) {
	if loc.ID == 0 {
		return Adapters{}, fmt.Errorf("%w: camera has no location", parking.ErrValidation)
	}

	p.mu.RLock()
	cached, ok := p.cache[loc.ID]
	p.mu.RUnlock()
	if ok && cached.creds == loc.Credentials {
		return cached.adapters, nil
	}

	log := p.log.With().Int64("location_id", loc.ID).Str("location", loc.Code).Logger()
	adapters := Adapters{
		Detector: recognition.NewOCRClient(
			p.cfg.Recognition.OCRURL,
			p.cfg.Recognition.OCRToken,
			p.cfg.Recognition.DetectTimeout,
			p.http,
			log,
		),
		Frames: camera.NewClient(p.cfg.Camera, loc.Credentials, p.http, log),
	}
	if p.cfg.Settlement.Enabled {
		adapters.Settlement = settlement.NewParkonicClient(
			p.cfg.Settlement.BaseURL,
			loc.Credentials.ParkonicToken,
			p.cfg.Settlement.Timeout,
			nil,
			log,
		)
	}

	p.mu.Lock()
	p.cache[loc.ID] = cachedAdapters{creds: loc.Credentials, adapters: adapters}
	p.mu.Unlock()

	log.Debug().Msg("adapters built for location")
	return adapters, nil
}

// StaticProvider hands every location the same adapters.
type StaticProvider struct {
	Adapters Adapters
}

func (p StaticProvider) ForLocation(parking.Location) (Adapters, error) {
	return p.Adapters, nil
}
