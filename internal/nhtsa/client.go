// Package nhtsa talks to the external vehicle-data services: NHTSA vPIC,
// NHTSA recalls/complaints/ratings/investigations, Transport Canada and
// EPA. Every call is bounded and degrades to empty data on failure; an
// upstream outage never turns into a 500 for our callers.
package nhtsa

import (
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

	"github.com/cenkalti/backoff/v4"
	"github.com/jellydator/ttlcache/v3"

	"github.com/michaelperron12-maker/AutoVerif-QC/internal/config"
	"github.com/michaelperron12-maker/AutoVerif-QC/internal/metrics"
)

const (
	requestTimeout = 10 * time.Second
	decodeCacheTTL = 15 * time.Minute
)

type Config struct {
	Logger *slog.Logger
	Bases  *config.Config

	// Optional with defaults.
	HTTPClient *http.Client
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Bases == nil {
		return errors.New("service bases are required")
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: requestTimeout}
	}
	return nil
}

type Client struct {
	log   *slog.Logger
	http  *http.Client
	bases *config.Config

	decodeCache *ttlcache.Cache[string, map[string]string]
}

func New(cfg *Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	cache := ttlcache.New(
		ttlcache.WithTTL[string, map[string]string](decodeCacheTTL),
		ttlcache.WithCapacity[string, map[string]string](4096),
	)
	go cache.Start()
	return &Client{
		log:         cfg.Logger,
		http:        cfg.HTTPClient,
		bases:       cfg.Bases,
		decodeCache: cache,
	}, nil
}

// Decode resolves a VIN into its vPIC attribute map. Empty and
// "Not Applicable" values are dropped. An empty map means the VIN could
// not be decoded; the error is reserved for context cancellation.
func (c *Client) Decode(ctx context.Context, vin string) (map[string]string, error) {
	if item := c.decodeCache.Get(vin); item != nil {
		return item.Value(), nil
	}

	var payload struct {
		Results []struct {
			Variable string  `json:"Variable"`
			Value    *string `json:"Value"`
		} `json:"Results"`
	}
	u := fmt.Sprintf("%s/vehicles/DecodeVin/%s?format=json", c.bases.NHTSABase, url.PathEscape(vin))
	if err := c.getJSON(ctx, "vpic_decode", u, &payload); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.log.Warn("vin decode failed", "vin", vin, "error", err)
		return map[string]string{}, nil
	}

	decoded := make(map[string]string)
	for _, item := range payload.Results {
		if item.Value == nil {
			continue
		}
		v := strings.TrimSpace(*item.Value)
		if v == "" || v == "Not Applicable" {
			continue
		}
		decoded[item.Variable] = v
	}
	if len(decoded) > 0 {
		c.decodeCache.Set(vin, decoded, ttlcache.DefaultTTL)
	}
	return decoded, nil
}

// Recalls returns the NHTSA recall list for a make/model/year.
func (c *Client) Recalls(ctx context.Context, makeName, model, year string) []map[string]any {
	var payload struct {
		Results []map[string]any `json:"results"`
	}
	u := fmt.Sprintf("%s?make=%s&model=%s&modelYear=%s",
		c.bases.NHTSARecalls, url.QueryEscape(makeName), url.QueryEscape(model), url.QueryEscape(year))
	if err := c.getJSON(ctx, "nhtsa_recalls", u, &payload); err != nil {
		c.log.Warn("recalls lookup failed", "error", err)
		return nil
	}
	return payload.Results
}

// Complaints returns the NHTSA complaint list for a make/model/year.
func (c *Client) Complaints(ctx context.Context, makeName, model, year string) []map[string]any {
	var payload struct {
		Results []map[string]any `json:"results"`
	}
	u := fmt.Sprintf("%s?make=%s&model=%s&modelYear=%s",
		c.bases.NHTSAComplaints, url.QueryEscape(makeName), url.QueryEscape(model), url.QueryEscape(year))
	if err := c.getJSON(ctx, "nhtsa_complaints", u, &payload); err != nil {
		c.log.Warn("complaints lookup failed", "error", err)
		return nil
	}
	return payload.Results
}

// SafetyRatings resolves the vehicle id for a make/model/year and fetches
// its safety-rating detail.
func (c *Client) SafetyRatings(ctx context.Context, makeName, model, year string) map[string]any {
	var listing struct {
		Results []struct {
			VehicleID json.Number `json:"VehicleId"`
		} `json:"Results"`
	}
	u := fmt.Sprintf("%s/modelyear/%s/make/%s/model/%s?format=json",
		c.bases.NHTSARatings, url.PathEscape(year), url.PathEscape(makeName), url.PathEscape(model))
	if err := c.getJSON(ctx, "nhtsa_ratings", u, &listing); err != nil {
		c.log.Warn("safety ratings listing failed", "error", err)
		return nil
	}
	if len(listing.Results) == 0 || listing.Results[0].VehicleID == "" {
		return nil
	}

	var detail struct {
		Results []map[string]any `json:"Results"`
	}
	u = fmt.Sprintf("%s/VehicleId/%s?format=json", c.bases.NHTSARatings, listing.Results[0].VehicleID)
	if err := c.getJSON(ctx, "nhtsa_ratings", u, &detail); err != nil {
		c.log.Warn("safety ratings detail failed", "error", err)
		return nil
	}
	if len(detail.Results) == 0 {
		return nil
	}
	return detail.Results[0]
}

// TCRecalls returns Transport Canada recall summaries.
func (c *Client) TCRecalls(ctx context.Context, makeName, model, year string) []map[string]any {
	var payload []map[string]any
	u := fmt.Sprintf("%s/recall-summary/by-make-model-year?make=%s&model=%s&year=%s",
		c.bases.TCRecalls, url.QueryEscape(makeName), url.QueryEscape(model), url.QueryEscape(year))
	if err := c.getJSON(ctx, "tc_recalls", u, &payload); err != nil {
		c.log.Warn("tc recalls lookup failed", "error", err)
		return nil
	}
	return payload
}

// EPA returns the EPA fuel-economy record for the first matching option.
func (c *Client) EPA(ctx context.Context, makeName, model, year string) map[string]any {
	var menu struct {
		MenuItem json.RawMessage `json:"menuItem"`
	}
	u := fmt.Sprintf("%s/vehicle/menu/options?year=%s&make=%s&model=%s",
		c.bases.EPABase, url.QueryEscape(year), url.QueryEscape(makeName), url.QueryEscape(model))
	if err := c.getJSON(ctx, "epa", u, &menu); err != nil {
		c.log.Warn("epa menu lookup failed", "error", err)
		return nil
	}

	// The EPA endpoint returns either a single object or a list.
	type option struct {
		Value string `json:"value"`
	}
	var options []option
	if len(menu.MenuItem) > 0 {
		var single option
		if err := json.Unmarshal(menu.MenuItem, &options); err != nil {
			if err := json.Unmarshal(menu.MenuItem, &single); err == nil {
				options = []option{single}
			}
		}
	}
	if len(options) == 0 || options[0].Value == "" {
		return nil
	}

	var vehicle map[string]any
	u = fmt.Sprintf("%s/vehicle/%s", c.bases.EPABase, url.PathEscape(options[0].Value))
	if err := c.getJSON(ctx, "epa", u, &vehicle); err != nil {
		c.log.Warn("epa vehicle lookup failed", "error", err)
		return nil
	}
	return vehicle
}

// Investigations returns NHTSA defect investigations for a make/model/year.
func (c *Client) Investigations(ctx context.Context, makeName, model, year string) []map[string]any {
	var payload struct {
		Results []map[string]any `json:"results"`
	}
	u := fmt.Sprintf("https://api.nhtsa.gov/products/vehicle/makes/%s/models/%s/modelYears/%s/investigations?format=json",
		url.PathEscape(makeName), url.PathEscape(model), url.PathEscape(year))
	if err := c.getJSON(ctx, "nhtsa_investigations", u, &payload); err != nil {
		c.log.Warn("investigations lookup failed", "error", err)
		return nil
	}
	return payload.Results
}

// getJSON fetches a URL and decodes the JSON body, retrying transient
// failures within the overall request budget.
func (c *Client) getJSON(ctx context.Context, service, rawURL string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	start := time.Now()
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("unexpected status %d", resp.StatusCode)
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return backoff.Permanent(err)
			}
			return err
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if len(strings.TrimSpace(string(body))) == 0 {
			return nil
		}
		if err := json.Unmarshal(body, out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode response: %w", err))
		}
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
	err := backoff.Retry(op, bo)
	metrics.RecordUpstreamRequest(service, time.Since(start), err)
	return err
}
