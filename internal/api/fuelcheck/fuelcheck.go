// Package fuelcheck provides an API client for the NSW FuelCheck price service.
package fuelcheck

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	"github.com/andygrunwald/fuel-price-watcher/internal/models"
)

const (
	// ProviderName is the identifier for this provider.
	ProviderName = "fuelcheck"
	// DefaultBaseURL is the API host of the NSW Government API gateway.
	DefaultBaseURL = "https://api.onegov.nsw.gov.au"

	tokenPath       = "/oauth/client_credential/accesstoken"
	pricesPath      = "/FuelPriceCheck/v1/fuel/prices"
	newPricesPath   = "/FuelPriceCheck/v1/fuel/prices/new"
	requestTSLayout = "02/01/2006 15:04:05 PM"
)

// Options configures the FuelCheck provider.
type Options struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	// CredentialsFile caches the access token between runs. Empty disables caching.
	CredentialsFile string
	Timeout         time.Duration
	RetryMax        int
	UserAgent       string
}

// StatusError is returned for unexpected HTTP status codes.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code %d: %s", e.StatusCode, e.Body)
}

// Provider implements the API provider interface for FuelCheck.
type Provider struct {
	client    *http.Client
	baseURL   string
	clientID  string
	userAgent string
	tokens    *tokenSource
	logger    zerolog.Logger
	now       func() time.Time
}

// New creates a new FuelCheck provider.
func New(opts Options, logger zerolog.Logger) (*Provider, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "fuelwatcher"
	}

	logger = logger.With().Str("provider", ProviderName).Logger()

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = opts.RetryMax
	retryClient.RetryWaitMin = 500 * time.Millisecond
	retryClient.RetryWaitMax = 5 * time.Second
	retryClient.HTTPClient.Timeout = opts.Timeout
	retryClient.Logger = leveledLogger{logger: logger}

	p := &Provider{
		client:    retryClient.StandardClient(),
		baseURL:   opts.BaseURL,
		clientID:  opts.ClientID,
		userAgent: opts.UserAgent,
		logger:    logger,
		now:       time.Now,
	}

	tokens, err := newTokenSource(p, opts.ClientID, opts.ClientSecret, opts.CredentialsFile)
	if err != nil {
		return nil, err
	}
	p.tokens = tokens

	return p, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return ProviderName
}

// FetchFullSnapshot fetches all stations and prices.
func (p *Provider) FetchFullSnapshot(ctx context.Context) (models.Snapshot, error) {
	return p.fetchSnapshot(ctx, pricesPath, models.SnapshotFull)
}

// FetchIncrementalSnapshot fetches stations and prices changed since the previous call.
func (p *Provider) FetchIncrementalSnapshot(ctx context.Context) (models.Snapshot, error) {
	return p.fetchSnapshot(ctx, newPricesPath, models.SnapshotIncremental)
}

func (p *Provider) fetchSnapshot(ctx context.Context, path string, mode models.SnapshotMode) (models.Snapshot, error) {
	token, err := p.tokens.Token(ctx)
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("getting access token: %w", err)
	}

	apiURL := p.baseURL + path

	p.logger.Debug().
		Str("url", apiURL).
		Str("mode", string(mode)).
		Msg("fetching prices from FuelCheck")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("User-Agent", p.userAgent)
	req.Header.Set("apikey", p.clientID)
	req.Header.Set("transactionid", uuid.NewString())
	req.Header.Set("requesttimestamp", p.now().Format(requestTSLayout))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	body, err := p.do(req)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusUnauthorized {
			p.tokens.Invalidate()
		}
		return models.Snapshot{}, err
	}

	snapshot, err := decodeSnapshot(body)
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("parsing response JSON: %w", err)
	}
	snapshot.Mode = mode
	snapshot.FetchedAt = p.now().UTC()

	p.logger.Info().
		Str("mode", string(mode)).
		Int("stations", len(snapshot.Stations)).
		Int("prices", len(snapshot.Prices)).
		Msg("fetched prices from FuelCheck")

	return snapshot, nil
}

// do executes the request and returns the body of a 200 response.
func (p *Provider) do(req *http.Request) ([]byte, error) {
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			p.logger.Warn().Err(err).Msg("failed to close response body")
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(body), 512)}
	}

	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
