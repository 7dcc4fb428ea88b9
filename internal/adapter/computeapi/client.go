// Package computeapi talks to the remote compute backend over HTTP. The
// backend owns the gridded datasets and the asset store; the engine sends it
// zonal reductions and table exports and polls the resulting jobs.
package computeapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/couchcryptid/drought-severity-etl/internal/asset"
	"github.com/couchcryptid/drought-severity-etl/internal/config"
	"github.com/couchcryptid/drought-severity-etl/internal/domain"
	"github.com/couchcryptid/drought-severity-etl/internal/observability"
	"github.com/couchcryptid/drought-severity-etl/internal/raster"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"golang.org/x/oauth2/clientcredentials"
)

// Client implements raster.Source, asset.Sink and pipeline.ZoneLoader against
// the compute API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a compute API client. When a token URL is configured the
// client authenticates with the OAuth2 client-credentials flow.
func NewClient(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) *Client {
	httpClient := &http.Client{Timeout: cfg.ComputeTimeout}
	if cfg.ComputeTokenURL != "" {
		cc := &clientcredentials.Config{
			ClientID:     cfg.ComputeClientID,
			ClientSecret: cfg.ComputeClientSecret,
			TokenURL:     cfg.ComputeTokenURL,
		}
		httpClient = cc.Client(context.Background())
		httpClient.Timeout = cfg.ComputeTimeout
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimSuffix(cfg.ComputeAPIURL, "/"),
		metrics:    metrics,
		logger:     logger,
	}
}

// Reduce asks the backend for a zonal statistic. A null value in the
// response means every pixel was masked or no image covered the window.
func (c *Client) Reduce(ctx context.Context, uid string, geom orb.Geometry, q raster.Query) (float64, error) {
	start := time.Now()
	body := reduceRequest{
		UID:      uid,
		Geometry: geojson.NewGeometry(geom),
		Dataset:  q.Dataset,
		Band:     q.Band,
		Start:    q.Start.Format(time.DateOnly),
		End:      q.End.Format(time.DateOnly),
		Temporal: string(q.Temporal),
		Spatial:  string(q.Spatial),
		Scale:    q.Scale,
	}
	if q.Mask != nil {
		body.Mask = &maskRequest{Dataset: q.Mask.Dataset, Band: q.Mask.Band, Years: q.Mask.Years, Classes: q.Mask.Classes}
	}

	var resp reduceResponse
	err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/v1/reduce", body, &resp)
	c.metrics.ReduceDuration.Observe(time.Since(start).Seconds())
	switch {
	case err != nil:
		c.metrics.ReduceRequests.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("reduce %s for zone %s: %w", q.Dataset, uid, err)
	case resp.Value == nil:
		c.metrics.ReduceRequests.WithLabelValues("nodata").Inc()
		return 0, raster.ErrNoData
	}
	c.metrics.ReduceRequests.WithLabelValues("success").Inc()
	return *resp.Value, nil
}

// Dates lists the image dates of a dataset within [start, end).
func (c *Client) Dates(ctx context.Context, dataset string, start, end time.Time) ([]time.Time, error) {
	params := url.Values{
		"start": {start.Format(time.DateOnly)},
		"end":   {end.Format(time.DateOnly)},
	}
	u := fmt.Sprintf("%s/v1/datasets/%s/dates?%s", c.baseURL, url.PathEscape(dataset), params.Encode())

	var resp datesResponse
	if err := c.doJSON(ctx, http.MethodGet, u, nil, &resp); err != nil {
		return nil, fmt.Errorf("list %s dates: %w", dataset, err)
	}
	out := make([]time.Time, 0, len(resp.Dates))
	for _, s := range resp.Dates {
		d, err := time.Parse(time.DateOnly, s)
		if err != nil {
			return nil, fmt.Errorf("parse %s date %q: %w", dataset, s, err)
		}
		out = append(out, d)
	}
	return out, nil
}

// Exists reports whether an asset is stored at path.
func (c *Client) Exists(ctx context.Context, path string) (bool, error) {
	err := c.doJSON(ctx, http.MethodHead, c.assetURL(path), nil, nil)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, asset.ErrNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("check asset %s: %w", path, err)
	}
}

// Export submits a table export job writing fc to path.
func (c *Client) Export(ctx context.Context, fc *geojson.FeatureCollection, description, path string) (asset.JobHandle, error) {
	body := exportRequest{Description: description, Path: path, Table: fc}
	var resp exportResponse
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/v1/exports", body, &resp); err != nil {
		return "", fmt.Errorf("submit export %s: %w", description, err)
	}
	if resp.JobID == "" {
		return "", fmt.Errorf("submit export %s: empty job id", description)
	}
	c.logger.Debug("export submitted", "description", description, "path", path, "job", resp.JobID)
	return asset.JobHandle(resp.JobID), nil
}

// JobStatus polls an export job.
func (c *Client) JobStatus(ctx context.Context, h asset.JobHandle) (asset.JobStatus, error) {
	var resp jobResponse
	u := fmt.Sprintf("%s/v1/exports/%s", c.baseURL, url.PathEscape(string(h)))
	if err := c.doJSON(ctx, http.MethodGet, u, nil, &resp); err != nil {
		return asset.JobStatus{}, fmt.Errorf("poll job %s: %w", h, err)
	}
	switch resp.State {
	case "COMPLETED", "SUCCEEDED":
		return asset.JobStatus{Status: asset.StatusSucceeded}, nil
	case "FAILED", "CANCELLED":
		return asset.JobStatus{Status: asset.StatusFailed, Message: resp.ErrorMessage}, nil
	default:
		return asset.JobStatus{Status: asset.StatusPending}, nil
	}
}

// MakePublic grants read access on the asset to all users.
func (c *Client) MakePublic(ctx context.Context, path string) error {
	if err := c.doJSON(ctx, http.MethodPost, c.assetURL(path)+":publish", aclRequest{AllUsersCanRead: true}, nil); err != nil {
		return fmt.Errorf("publish asset %s: %w", path, err)
	}
	return nil
}

// Read downloads the table stored at path.
func (c *Client) Read(ctx context.Context, path string) (*geojson.FeatureCollection, error) {
	fc := geojson.NewFeatureCollection()
	if err := c.doJSON(ctx, http.MethodGet, c.assetURL(path), nil, fc); err != nil {
		if errors.Is(err, asset.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("read asset %s: %w", path, err)
	}
	return fc, nil
}

// LoadZones fetches the zone boundaries of a block.
func (c *Client) LoadZones(ctx context.Context, req domain.RunRequest) ([]domain.Zone, error) {
	params := url.Values{
		"state":    {req.State},
		"district": {req.District},
		"block":    {req.Block},
	}
	fc := geojson.NewFeatureCollection()
	if err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/v1/zones?"+params.Encode(), nil, fc); err != nil {
		return nil, fmt.Errorf("load zones of %s: %w", req.Suffix(), err)
	}
	zones, err := domain.ZonesFromFeatureCollection(fc)
	if err != nil {
		return nil, fmt.Errorf("zones of %s: %w", req.Suffix(), err)
	}
	return zones, nil
}

func (c *Client) assetURL(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return c.baseURL + "/v1/assets/" + strings.Join(parts, "/")
}

// doJSON sends body as JSON and decodes the response into out when out is
// non-nil. A 404 maps to asset.ErrNotFound.
func (c *Client) doJSON(ctx context.Context, method, fullURL string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return asset.ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("compute API error: status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	if out == nil || method == http.MethodHead {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Compute API request and response types.

type reduceRequest struct {
	UID      string            `json:"uid"`
	Geometry *geojson.Geometry `json:"geometry"`
	Dataset  string            `json:"dataset"`
	Band     string            `json:"band,omitempty"`
	Start    string            `json:"start"`
	End      string            `json:"end"`
	Temporal string            `json:"temporal_reducer"`
	Spatial  string            `json:"spatial_reducer"`
	Scale    float64           `json:"scale"`
	Mask     *maskRequest      `json:"mask,omitempty"`
}

type maskRequest struct {
	Dataset string `json:"dataset"`
	Band    string `json:"band,omitempty"`
	Years   []int  `json:"years"`
	Classes []int  `json:"classes"`
}

type reduceResponse struct {
	Value *float64 `json:"value"`
}

type datesResponse struct {
	Dates []string `json:"dates"`
}

type exportRequest struct {
	Description string                     `json:"description"`
	Path        string                     `json:"asset_id"`
	Table       *geojson.FeatureCollection `json:"table"`
}

type exportResponse struct {
	JobID string `json:"job_id"`
}

type jobResponse struct {
	State        string `json:"state"`
	ErrorMessage string `json:"error_message"`
}

type aclRequest struct {
	AllUsersCanRead bool `json:"all_users_can_read"`
}
