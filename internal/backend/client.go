package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MrSnakeDoc/sitewatch/internal/domain"
	"github.com/MrSnakeDoc/sitewatch/internal/logger"
	"github.com/MrSnakeDoc/sitewatch/internal/utils"
	"github.com/MrSnakeDoc/sitewatch/internal/version"
)

const (
	// MaxBodyBytes caps how much of a backend response is read.
	MaxBodyBytes = 1 << 20

	DefaultSitesPath = "/sites"
)

// Options configures a Client.
type Options struct {
	BaseURL   string        // ex: "http://backend:8000/api"
	SitesPath string        // ex: "/websites/" (default "/sites")
	Token     string        // optional bearer token
	Timeout   time.Duration // transport-level safety net; per-call deadlines come from ctx
}

// Client talks to the monitoring backend's site collection.
type Client struct {
	sitesURL string
	token    string
	http     *http.Client
	log      logger.Logger
}

// New validates opts and builds a client. A nil httpClient selects a default one.
func New(opts Options, httpClient *http.Client, log logger.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimSpace(opts.BaseURL))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid backend url %q", opts.BaseURL)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("unsupported backend scheme %q", base.Scheme)
	}

	path := opts.SitesPath
	if path == "" {
		path = DefaultSitesPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}

	return &Client{
		sitesURL: strings.TrimRight(base.String(), "/") + path,
		token:    opts.Token,
		http:     httpClient,
		log:      log,
	}, nil
}

// SitesURL returns the resolved collection URL.
func (c *Client) SitesURL() string { return c.sitesURL }

// FetchSites retrieves the current site records. The body may be a JSON list
// or an object keyed by site id, and may carry only part of the sites.
//
// Every error returned is a *domain.FetchError.
func (c *Client) FetchSites(ctx context.Context) ([]domain.SiteUpdate, error) {
	body, err := c.do(ctx, http.MethodGet, nil)
	if err != nil {
		return nil, err
	}

	updates, err := decodeSites(body)
	if err != nil {
		return nil, domain.NewFetchError(domain.ErrMalformedPayload, err)
	}
	return updates, nil
}

// RegisterSite asks the backend to start monitoring rawURL and returns the
// record it created.
func (c *Client) RegisterSite(ctx context.Context, rawURL string) (domain.SiteUpdate, error) {
	payload, err := json.Marshal(map[string]string{"url": rawURL})
	if err != nil {
		return domain.SiteUpdate{}, fmt.Errorf("encode register payload: %w", err)
	}

	body, err := c.do(ctx, http.MethodPost, payload)
	if err != nil {
		return domain.SiteUpdate{}, err
	}

	// The backend reports validation problems as {"error": "..."} with a 200.
	var rejected struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &rejected) == nil && rejected.Error != "" {
		return domain.SiteUpdate{}, &domain.FetchError{
			Kind:       domain.ErrHTTP,
			StatusCode: http.StatusBadRequest,
			Err:        errors.New(rejected.Error),
		}
	}

	var w wireSite
	if err := json.Unmarshal(body, &w); err != nil {
		return domain.SiteUpdate{}, domain.NewFetchError(domain.ErrMalformedPayload, err)
	}
	u := w.update()
	if u.ID == "" {
		return domain.SiteUpdate{}, domain.NewFetchError(domain.ErrMalformedPayload,
			errors.New("created site has no id"))
	}
	if u.URL == nil {
		u.URL = &rawURL
	}
	return u, nil
}

// do sends one request and returns the (capped) body of a 2xx response.
func (c *Client) do(ctx context.Context, method string, payload []byte) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.sitesURL, reqBody)
	if err != nil {
		return nil, domain.NewFetchError(domain.ErrNetwork, err)
	}

	reqID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	req.Header.Set("X-Request-ID", reqID)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		fe := classifyTransportError(ctx, err)
		c.log.Debug("backend request failed",
			logger.String("method", method),
			logger.String("request_id", reqID),
			logger.String("kind", string(fe.Kind)),
			logger.Error(err))
		return nil, fe
	}
	defer utils.DrainAndClose(resp.Body)

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes+1))
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}

	c.log.Debug("backend request",
		logger.String("method", method),
		logger.String("request_id", reqID),
		logger.Int("status", resp.StatusCode),
		logger.Duration("duration", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &domain.FetchError{
			Kind:       domain.ErrHTTP,
			StatusCode: resp.StatusCode,
			Err:        errorMessage(body),
		}
	}
	if len(body) > MaxBodyBytes {
		return nil, domain.NewFetchError(domain.ErrMalformedPayload,
			fmt.Errorf("response exceeds %d bytes", MaxBodyBytes))
	}
	return body, nil
}

// classifyTransportError maps a failed round trip onto Timeout or NetworkError.
func classifyTransportError(ctx context.Context, err error) *domain.FetchError {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return domain.NewFetchError(domain.ErrTimeout, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return domain.NewFetchError(domain.ErrTimeout, err)
	}
	return domain.NewFetchError(domain.ErrNetwork, err)
}

// errorMessage extracts a human-readable message from an error body.
func errorMessage(body []byte) error {
	var payload struct {
		Error  string `json:"error"`
		Detail any    `json:"detail"`
	}
	if json.Unmarshal(body, &payload) == nil {
		switch {
		case payload.Error != "":
			return errors.New(payload.Error)
		case payload.Detail != nil:
			return fmt.Errorf("%v", payload.Detail)
		}
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return nil
	}
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return errors.New(msg)
}
