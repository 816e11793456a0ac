package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/taxroll/lead-reconciler/internal/adapter"
	"github.com/taxroll/lead-reconciler/internal/logger"
	"github.com/taxroll/lead-reconciler/internal/store"
)

const (
	// DEFAULT_WORKERS bounds concurrent geocoding requests so the backfill
	// stays polite to the upstream endpoint
	DEFAULT_WORKERS = 4
	// cacheTTL keeps resolved addresses for a month; street addresses
	// essentially never move
	cacheTTL = 30 * 24 * time.Hour

	cacheKeyPrefix = "leadrecon:geo:"
)

// ErrNoMatch is returned when the endpoint has no candidate for an address
var ErrNoMatch = errors.New("no geocoding match")

// Result is a resolved coordinate pair
type Result struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// nominatimCandidate is one entry of a Nominatim-style search response
type nominatimCandidate struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

// Geocoder forward-geocodes street addresses through a configurable
// Nominatim-style HTTP endpoint, with a redis result cache in front.
// Best-effort throughout: a failed lookup leaves the property uncoded for
// the next backfill pass.
type Geocoder struct {
	http    adapter.HTTPClient
	redis   redis.UniversalClient
	baseURL string
	workers int
}

// NewGeocoder creates a geocoder. redis may be nil to disable caching.
func NewGeocoder(httpClient adapter.HTTPClient, redisClient redis.UniversalClient, baseURL string, workers int) *Geocoder {
	if workers <= 0 {
		workers = DEFAULT_WORKERS
	}
	return &Geocoder{
		http:    httpClient,
		redis:   redisClient,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		workers: workers,
	}
}

// Lookup resolves one address, consulting the cache first
func (g *Geocoder) Lookup(ctx context.Context, address string) (*Result, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, ErrNoMatch
	}

	key := cacheKey(address)
	if g.redis != nil {
		if payload, err := g.redis.Get(ctx, key).Bytes(); err == nil {
			var cached Result
			if err := json.Unmarshal(payload, &cached); err == nil {
				return &cached, nil
			}
		}
	}

	result, err := g.query(ctx, address)
	if err != nil {
		return nil, err
	}

	if g.redis != nil {
		if payload, err := json.Marshal(result); err == nil {
			if err := g.redis.Set(ctx, key, payload, cacheTTL).Err(); err != nil {
				logger.WarnCtx(ctx, "geocode cache write failed", zap.Error(err))
			}
		}
	}

	return result, nil
}

// Backfill geocodes up to batchSize uncoded active properties through the
// worker pool and returns how many got coordinates.
func (g *Geocoder) Backfill(ctx context.Context, s store.Store, batchSize int) (int, error) {
	pending, err := s.ListPropertiesMissingLocation(ctx, batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list ungeocoded properties: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	resolved := make([]*Result, len(pending))
	pool := pond.NewPool(g.workers)
	for i := range pending {
		pool.Submit(func() {
			result, err := g.Lookup(ctx, pending[i].Address())
			if err != nil {
				if !errors.Is(err, ErrNoMatch) {
					logger.WarnCtx(ctx, "geocoding failed",
						zap.String("property_id", pending[i].ID),
						zap.Error(err))
				}
				return
			}
			resolved[i] = result
		})
	}
	pool.StopAndWait()

	count := 0
	for i := range pending {
		if resolved[i] == nil {
			continue
		}
		if err := s.SetPropertyLocation(ctx, pending[i].ID, resolved[i].Latitude, resolved[i].Longitude); err != nil {
			logger.WarnCtx(ctx, "failed to store coordinates",
				zap.String("property_id", pending[i].ID),
				zap.Error(err))
			continue
		}
		count++
	}

	return count, nil
}

// query hits the search endpoint and takes the first candidate
func (g *Geocoder) query(ctx context.Context, address string) (*Result, error) {
	endpoint := fmt.Sprintf("%s/search?format=json&limit=1&q=%s", g.baseURL, url.QueryEscape(address))

	var candidates []nominatimCandidate
	if err := g.http.Get(ctx, endpoint, &candidates); err != nil {
		return nil, fmt.Errorf("geocode request failed: %w", err)
	}
	if len(candidates) == 0 {
		return nil, ErrNoMatch
	}

	lat, err := strconv.ParseFloat(candidates[0].Lat, 64)
	if err != nil {
		return nil, fmt.Errorf("bad latitude %q: %w", candidates[0].Lat, err)
	}
	lng, err := strconv.ParseFloat(candidates[0].Lon, 64)
	if err != nil {
		return nil, fmt.Errorf("bad longitude %q: %w", candidates[0].Lon, err)
	}

	return &Result{Latitude: lat, Longitude: lng}, nil
}

// cacheKey normalizes an address into its redis key
func cacheKey(address string) string {
	return cacheKeyPrefix + strings.ToLower(strings.Join(strings.Fields(address), " "))
}
