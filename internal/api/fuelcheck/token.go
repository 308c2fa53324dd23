package fuelcheck

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/tidwall/gjson"
)

// expiryMargin renews tokens slightly before they expire.
const expiryMargin = time.Minute

// credentials mirrors the token endpoint response and the on-disk cache format.
type credentials struct {
	AccessToken string `json:"access_token"`
	IssuedAt    string `json:"issued_at"`
	ExpiresIn   string `json:"expires_in"`
}

// expiresAt returns when the token expires. issued_at is in milliseconds, expires_in in seconds.
func (c credentials) expiresAt() (time.Time, error) {
	issued, err := strconv.ParseInt(c.IssuedAt, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing issued_at %q: %w", c.IssuedAt, err)
	}
	expiresIn, err := strconv.ParseInt(c.ExpiresIn, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing expires_in %q: %w", c.ExpiresIn, err)
	}
	return time.UnixMilli(issued).Add(time.Duration(expiresIn) * time.Second), nil
}

// tokenSource acquires OAuth client-credential tokens and caches them in memory and on disk.
type tokenSource struct {
	p         *Provider
	basicAuth string
	cachePath string

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func newTokenSource(p *Provider, clientID, clientSecret, cacheFile string) (*tokenSource, error) {
	ts := &tokenSource{
		p:         p,
		basicAuth: base64.StdEncoding.EncodeToString([]byte(clientID + ":" + clientSecret)),
	}

	if cacheFile != "" {
		path, err := homedir.Expand(cacheFile)
		if err != nil {
			return nil, fmt.Errorf("expanding credentials file path: %w", err)
		}
		ts.cachePath = path
		ts.loadCache()
	}

	return ts, nil
}

// Token returns a valid access token, requesting a new one if needed.
func (ts *tokenSource) Token(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.token != "" && ts.p.now().Add(expiryMargin).Before(ts.expiresAt) {
		return ts.token, nil
	}

	creds, err := ts.fetch(ctx)
	if err != nil {
		return "", err
	}
	expiresAt, err := creds.expiresAt()
	if err != nil {
		return "", err
	}

	ts.token = creds.AccessToken
	ts.expiresAt = expiresAt
	ts.saveCache(creds)

	ts.p.logger.Info().Time("expires_at", expiresAt).Msg("obtained access token")
	return ts.token, nil
}

// Invalidate drops the current token so the next call requests a new one.
func (ts *tokenSource) Invalidate() {
	ts.mu.Lock()
	ts.token = ""
	ts.expiresAt = time.Time{}
	ts.mu.Unlock()
}

func (ts *tokenSource) fetch(ctx context.Context) (credentials, error) {
	apiURL := ts.p.baseURL + tokenPath + "?grant_type=client_credentials"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return credentials{}, fmt.Errorf("creating token request: %w", err)
	}
	req.Header.Set("User-Agent", ts.p.userAgent)
	req.Header.Set("Authorization", "Basic "+ts.basicAuth)
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	body, err := ts.p.do(req)
	if err != nil {
		return credentials{}, err
	}
	if !gjson.ValidBytes(body) {
		return credentials{}, errors.New("token response is not valid JSON")
	}

	creds := credentials{
		AccessToken: gjson.GetBytes(body, "access_token").String(),
		IssuedAt:    gjson.GetBytes(body, "issued_at").String(),
		ExpiresIn:   gjson.GetBytes(body, "expires_in").String(),
	}
	if creds.AccessToken == "" {
		return credentials{}, errors.New("token response without access_token")
	}
	return creds, nil
}

func (ts *tokenSource) loadCache() {
	if ts.cachePath == "" {
		return
	}
	data, err := os.ReadFile(ts.cachePath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			ts.p.logger.Warn().Err(err).Str("path", ts.cachePath).Msg("failed to read credentials file")
		}
		return
	}

	var creds credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		ts.p.logger.Warn().Err(err).Str("path", ts.cachePath).Msg("ignoring invalid credentials file")
		return
	}
	expiresAt, err := creds.expiresAt()
	if err != nil {
		ts.p.logger.Warn().Err(err).Str("path", ts.cachePath).Msg("ignoring invalid credentials file")
		return
	}

	ts.token = creds.AccessToken
	ts.expiresAt = expiresAt
	ts.p.logger.Debug().Str("path", ts.cachePath).Time("expires_at", expiresAt).Msg("loaded cached access token")
}

func (ts *tokenSource) saveCache(creds credentials) {
	if ts.cachePath == "" {
		return
	}
	data, err := json.Marshal(creds)
	if err != nil {
		ts.p.logger.Warn().Err(err).Msg("failed to encode credentials")
		return
	}
	if err := os.MkdirAll(filepath.Dir(ts.cachePath), 0o700); err != nil {
		ts.p.logger.Warn().Err(err).Str("path", ts.cachePath).Msg("failed to create credentials directory")
		return
	}
	if err := os.WriteFile(ts.cachePath, data, 0o600); err != nil {
		ts.p.logger.Warn().Err(err).Str("path", ts.cachePath).Msg("failed to write credentials file")
	}
}
