// Package tiles is a client for the raster read service, which resamples the
// bands of one scene onto a requested geographic grid.
package tiles

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/planetlabs/go-stac"

	"github.com/robert-malhotra/reservoir-area/internal/catalog"
	"github.com/robert-malhotra/reservoir-area/internal/raster"
)

// StatusError is returned when the service answers with a non-200 status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("raster service returned status %d: %s", e.Code, e.Body)
}

// Temporary reports whether retrying the request may succeed. Client errors
// other than 429 are permanent.
func (e *StatusError) Temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// ReadRequest asks for bands of one scene over BBox at Scale meters.
type ReadRequest struct {
	Item            *stac.Item
	Bands           []string
	BBox            []float64
	Scale           float64
	MaxCloudPercent float64
}

type readBody struct {
	Scene           string    `json:"scene"`
	Href            string    `json:"href,omitempty"`
	Bands           []string  `json:"bands"`
	BBox            []float64 `json:"bbox"`
	Scale           float64   `json:"scale"`
	MaxCloudPercent float64   `json:"max_cloud_percent"`
}

type readResponse struct {
	Scene  string               `json:"scene"`
	Time   time.Time            `json:"time"`
	Grid   raster.Grid          `json:"grid"`
	NoData *float64             `json:"nodata"`
	Bands  map[string][]float64 `json:"bands"`
}

// Client handles communication with the raster read service
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new raster service client
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: slog.Default(),
	}
}

// WithLogger sets a custom logger for the client
func (c *Client) WithLogger(logger *slog.Logger) *Client {
	c.logger = logger
	return c
}

// Read fetches the requested bands of one scene. Values equal to the
// service's nodata marker become NaN. A scene the service filters out by its
// cloud ceiling comes back with no bands.
func (c *Client) Read(ctx context.Context, req ReadRequest) (*raster.Image, error) {
	if req.Item == nil {
		return nil, fmt.Errorf("read request has no scene")
	}
	if len(req.BBox) != 4 {
		return nil, fmt.Errorf("read request bbox must have 4 values, got %d", len(req.BBox))
	}

	payload, err := json.Marshal(readBody{
		Scene:           req.Item.Id,
		Href:            catalog.DataHref(req.Item),
		Bands:           req.Bands,
		BBox:            req.BBox,
		Scale:           req.Scale,
		MaxCloudPercent: req.MaxCloudPercent,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode read request: %w", err)
	}

	endpoint, err := url.JoinPath(c.baseURL, "v1", "read")
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	c.logger.DebugContext(ctx, "reading scene bands",
		slog.String("scene", req.Item.Id),
		slog.Any("bands", req.Bands),
	)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("raster service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.ErrorContext(ctx, "raster service returned non-200 status",
			slog.String("scene", req.Item.Id),
			slog.Int("status_code", resp.StatusCode),
		)
		return nil, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}

	var out readResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode raster response: %w", err)
	}
	return out.image()
}

func (r *readResponse) image() (*raster.Image, error) {
	img := &raster.Image{Grid: r.Grid, Time: r.Time.UTC(), Bands: make(map[string][]float64, len(r.Bands))}
	if len(r.Bands) == 0 {
		return img, nil
	}
	if err := r.Grid.Validate(); err != nil {
		return nil, fmt.Errorf("invalid grid for scene %s: %w", r.Scene, err)
	}
	for name, data := range r.Bands {
		if len(data) != r.Grid.Len() {
			return nil, fmt.Errorf("band %s of scene %s has %d values, expected %d", name, r.Scene, len(data), r.Grid.Len())
		}
		if r.NoData != nil {
			for i, v := range data {
				if v == *r.NoData {
					data[i] = math.NaN()
				}
			}
		}
		img.Bands[name] = data
	}
	return img, nil
}
