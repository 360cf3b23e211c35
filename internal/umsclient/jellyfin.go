// streamystats - media analytics ingestion and orchestration core
// SPDX-License-Identifier: AGPL-3.0-or-later

package umsclient

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/sjorge/streamystats/internal/apperr"
	"github.com/sjorge/streamystats/internal/models"
)

// JellyfinClient is the reference Client implementation against the
// Jellyfin/Emby REST API shape (api.jellyfin.org), matching the header
// and request conventions of a typical Jellyfin HTTP client.
type JellyfinClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewJellyfinClient creates a client for one UMS instance.
func NewJellyfinClient(baseURL, apiKey string) *JellyfinClient {
	return &JellyfinClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

var _ Client = (*JellyfinClient)(nil)

func (c *JellyfinClient) doRequest(ctx context.Context, path string, opts RequestOptions, out any) error {
	timeout := time.Duration(opts.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	var lastErr error
	retries := opts.Retries
	if retries <= 0 {
		retries = 1
	}

	for attempt := 0; attempt < retries; attempt++ {
		reqCtx, cancel := context.WithTimeout(ctx, timeout)
		err := c.doOnce(reqCtx, path, out)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return apperr.Classify(apperr.ErrCancelled, ctx.Err())
		}
	}
	return apperr.Classify(apperr.ErrTransientUpstream, lastErr)
}

func (c *JellyfinClient) doOnce(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-Emby-Token", c.apiKey)
	req.Header.Set("X-Emby-Client", "streamystats")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusNotFound {
		return apperr.Classify(apperr.ErrPersistentUpstream, fmt.Errorf("%s: http %d", path, resp.StatusCode))
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%s: http %d", path, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return apperr.Classify(apperr.ErrValidation, fmt.Errorf("%s: http %d", path, resp.StatusCode))
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// SystemInfo implements Client.
func (c *JellyfinClient) SystemInfo(ctx context.Context, opts RequestOptions) (*models.SystemInfo, error) {
	var info models.SystemInfo
	if err := c.doRequest(ctx, "/System/Info", opts, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Sessions implements Client.
func (c *JellyfinClient) Sessions(ctx context.Context, opts RequestOptions) ([]models.Session, error) {
	var sessions []models.Session
	if err := c.doRequest(ctx, "/Sessions", opts, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// Activities implements Client.
func (c *JellyfinClient) Activities(ctx context.Context, startIndex, limit int, opts RequestOptions) ([]models.ActivityEntry, error) {
	path := "/System/ActivityLog/Entries?startIndex=" + strconv.Itoa(startIndex) + "&limit=" + strconv.Itoa(limit)
	var page struct {
		Items []models.ActivityEntry `json:"Items"`
	}
	if err := c.doRequest(ctx, path, opts, &page); err != nil {
		return nil, err
	}
	return page.Items, nil
}

// Ping implements Client.
func (c *JellyfinClient) Ping(ctx context.Context) error {
	return c.doRequest(ctx, "/System/Ping", RequestOptions{TimeoutMS: 5000, Retries: 1}, nil)
}
