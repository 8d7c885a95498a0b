// Package suppliers provides the HTTP supplier adapter used for external
// component lookups. Each configured supplier endpoint becomes one
// catalog.SupplierAdapter; retry budgets and circuit breaking are
// applied by the supplier chain, not here.
package suppliers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"bom-enricher/internal/common/errors"
	"bom-enricher/internal/models"
)

// Config describes one supplier endpoint.
type Config struct {
	// Name identifies the supplier; it becomes the record's source tier
	// and must match a source-trust entry to contribute to scoring.
	Name string

	// Priority orders the supplier within the chain; higher is queried
	// first.
	Priority int

	// BaseURL is the endpoint root; lookups GET
	// <BaseURL>/components/<identifier>.
	BaseURL string

	// APIKey is sent on every request when set.
	APIKey string

	// APIKeyHeader overrides the header carrying the key (default
	// X-API-Key).
	APIKeyHeader string

	// Timeout bounds one HTTP exchange (default 10s).
	Timeout time.Duration
}

// Validate checks required fields and fills defaults in place.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("supplier name is required")
	}
	if c.BaseURL == "" {
		return fmt.Errorf("supplier base URL is required")
	}
	if _, err := url.Parse(c.BaseURL); err != nil {
		return fmt.Errorf("invalid supplier base URL: %w", err)
	}
	if c.APIKeyHeader == "" {
		c.APIKeyHeader = "X-API-Key"
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	return nil
}

// wireComponent is the supplier response shape. Suppliers expose richer
// payloads; unknown fields are ignored.
type wireComponent struct {
	MPN                string             `json:"mpn"`
	Manufacturer       string             `json:"manufacturer"`
	Description        string             `json:"description"`
	Category           string             `json:"category"`
	CategoryConfidence float64            `json:"category_confidence"`
	Parameters         []models.SpecValue `json:"parameters"`
	ComplianceFlags    []string           `json:"compliance_flags"`
	LifecycleStatus    string             `json:"lifecycle_status"`
	DatasheetURL       string             `json:"datasheet_url"`
	Pricing            *models.Pricing    `json:"pricing"`
	MatchConfidence    float64            `json:"match_confidence"`
}

// Adapter queries one supplier endpoint over HTTP.
type Adapter struct {
	config     *Config
	httpClient *http.Client
}

// NewAdapter creates an adapter for one supplier endpoint.
func NewAdapter(config *Config) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid supplier config: %w", err)
	}

	return &Adapter{
		config: config,
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
			Timeout: config.Timeout,
		},
	}, nil
}

// Name returns the supplier name.
func (a *Adapter) Name() string { return a.config.Name }

// Priority returns the chain ordering priority.
func (a *Adapter) Priority() int { return a.config.Priority }

// Query looks up a component by identifier. A supplier that does not
// stock the part answers permanently (NotFoundError); rate limits and
// server trouble answer transiently so the chain's retry budget and
// breaker apply.
func (a *Adapter) Query(ctx context.Context, identifier, manufacturer string, minConfidence float64) (*models.ComponentRecord, float64, error) {
	endpoint, err := a.lookupURL(identifier, manufacturer)
	if err != nil {
		return nil, 0, errors.InternalError("failed to build supplier URL", err).
			WithContext("supplier", a.config.Name)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, errors.InternalError("failed to build supplier request", err).
			WithContext("supplier", a.config.Name)
	}
	req.Header.Set("Accept", "application/json")
	if a.config.APIKey != "" {
		req.Header.Set(a.config.APIKeyHeader, a.config.APIKey)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, 0, errors.ConnectionError("supplier request failed", err).
			WithContext("supplier", a.config.Name)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, 0, errors.ConnectionError("failed to read supplier response", err).
			WithContext("supplier", a.config.Name)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return nil, 0, errors.NotFoundError("component " + identifier)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, 0, errors.UpstreamError(
			fmt.Sprintf("supplier returned status %d", resp.StatusCode), nil).
			WithContext("supplier", a.config.Name)
	default:
		// Client errors other than 404 will not heal on retry
		return nil, 0, errors.ValidationError(
			fmt.Sprintf("supplier rejected request with status %d", resp.StatusCode)).
			WithContext("supplier", a.config.Name)
	}

	var wire wireComponent
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, 0, errors.UpstreamError("unparseable supplier response", err).
			WithContext("supplier", a.config.Name)
	}

	return a.toRecord(identifier, &wire), wire.MatchConfidence, nil
}

func (a *Adapter) lookupURL(identifier, manufacturer string) (string, error) {
	u, err := url.Parse(a.config.BaseURL)
	if err != nil {
		return "", err
	}
	u = u.JoinPath("components", identifier)
	if manufacturer != "" {
		q := u.Query()
		q.Set("manufacturer", manufacturer)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (a *Adapter) toRecord(identifier string, wire *wireComponent) *models.ComponentRecord {
	mpn := wire.MPN
	if mpn == "" {
		mpn = identifier
	}
	return &models.ComponentRecord{
		Identifier:         mpn,
		Manufacturer:       wire.Manufacturer,
		Description:        wire.Description,
		Category:           wire.Category,
		Specifications:     wire.Parameters,
		ComplianceFlags:    wire.ComplianceFlags,
		Pricing:            wire.Pricing,
		LifecycleStatus:    wire.LifecycleStatus,
		DatasheetURL:       wire.DatasheetURL,
		CategoryConfidence: wire.CategoryConfidence,
	}
}
