package tle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/star/orbitlab/internal/metrics"
)

// DefaultBaseURL is the CelesTrak general perturbations endpoint.
const DefaultBaseURL = "https://celestrak.org/NORAD/elements/gp.php"

// MaxBodyBytes caps a single download.
const MaxBodyBytes = 50 << 20

// ErrBodyTooLarge is returned when a response exceeds MaxBodyBytes.
var ErrBodyTooLarge = errors.New("tle: response exceeds byte limit")

// Fetcher downloads TLE groups over HTTP.
type Fetcher struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewFetcher creates a Fetcher against baseURL, or DefaultBaseURL when
// empty.
func NewFetcher(baseURL string, logger *slog.Logger) *Fetcher {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Fetcher{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

// GroupURL returns the download URL for a group in TLE format.
func (f *Fetcher) GroupURL(group string) (string, error) {
	u, err := url.Parse(f.baseURL)
	if err != nil {
		return "", fmt.Errorf("parsing base url: %w", err)
	}
	q := u.Query()
	q.Set("GROUP", group)
	q.Set("FORMAT", "TLE")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// FetchGroup downloads one group.
func (f *Fetcher) FetchGroup(ctx context.Context, group string) ([]byte, error) {
	if err := ValidateGroup(group); err != nil {
		return nil, err
	}
	u, err := f.GroupURL(group)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	data, err := f.get(ctx, u)
	if err != nil {
		metrics.IncTLEFetches("error")
		f.logger.Warn("tle fetch failed", "group", group, "error", err)
		return nil, err
	}
	metrics.IncTLEFetches("ok")
	f.logger.Info("tle fetched", "group", group, "bytes", len(data),
		"duration_ms", time.Since(start).Milliseconds())
	return data, nil
}

// FetchGroups downloads several groups and concatenates them. A failing
// group is logged and skipped unless every group fails.
func (f *Fetcher) FetchGroups(ctx context.Context, groups ...string) ([]byte, error) {
	var (
		buf     bytes.Buffer
		lastErr error
		ok      int
	)
	for _, g := range groups {
		data, err := f.FetchGroup(ctx, g)
		if err != nil {
			lastErr = err
			continue
		}
		buf.Write(data)
		if len(data) > 0 && data[len(data)-1] != '\n' {
			buf.WriteByte('\n')
		}
		ok++
	}
	if ok == 0 {
		if lastErr == nil {
			lastErr = errors.New("tle: no groups requested")
		}
		return nil, lastErr
	}
	return buf.Bytes(), nil
}

func (f *Fetcher) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching TLE data: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d from %s", resp.StatusCode, u)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if len(body) > MaxBodyBytes {
		return nil, ErrBodyTooLarge
	}
	return body, nil
}
