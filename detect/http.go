package detect

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// HTTPOracle talks to the content-analysis service over its HTTP API.
type HTTPOracle struct {
	baseURL string
	httpc   *http.Client
}

// HTTPOracleOption customises an HTTPOracle instance.
type HTTPOracleOption func(*HTTPOracle)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(httpc *http.Client) HTTPOracleOption {
	return func(o *HTTPOracle) {
		if httpc != nil {
			o.httpc = httpc
		}
	}
}

// NewHTTPOracle constructs an oracle client for the given base URL.
func NewHTTPOracle(baseURL string, opts ...HTTPOracleOption) (*HTTPOracle, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("detect: oracle base URL required")
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("detect: parse oracle base URL: %w", err)
	}
	oracle := &HTTPOracle{
		baseURL: trimmed,
		httpc: &http.Client{
			Timeout:   DefaultOracleTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		opt(oracle)
	}
	return oracle, nil
}

type workEntry struct {
	SubjectID   string    `json:"subjectId"`
	Author      string    `json:"authorAddress"`
	PublishedAt time.Time `json:"publishedAt"`
}

type matchEntry struct {
	SubjectID  string  `json:"subjectId"`
	Author     string  `json:"authorAddress"`
	Similarity float64 `json:"similarity"`
}

type scoreResponse struct {
	Score float64 `json:"score"`
}

// RecentWorks implements Oracle.
func (o *HTTPOracle) RecentWorks(ctx context.Context, limit int) ([]Work, error) {
	var out []workEntry
	path := "/v1/works/recent?limit=" + strconv.Itoa(limit)
	if err := o.call(ctx, path, &out); err != nil {
		return nil, err
	}
	works := make([]Work, 0, len(out))
	for _, entry := range out {
		works = append(works, Work{
			SubjectID:   entry.SubjectID,
			Author:      entry.Author,
			PublishedAt: entry.PublishedAt,
		})
	}
	return works, nil
}

// SimilarWorks implements Oracle.
func (o *HTTPOracle) SimilarWorks(ctx context.Context, subjectID string, limit int) ([]Match, error) {
	var out []matchEntry
	path := "/v1/works/" + url.PathEscape(subjectID) + "/similar?limit=" + strconv.Itoa(limit)
	if err := o.call(ctx, path, &out); err != nil {
		return nil, err
	}
	matches := make([]Match, 0, len(out))
	for _, entry := range out {
		matches = append(matches, Match{
			SubjectID:  entry.SubjectID,
			Author:     entry.Author,
			Similarity: entry.Similarity,
		})
	}
	return matches, nil
}

// QualityScore implements Oracle.
func (o *HTTPOracle) QualityScore(ctx context.Context, subjectID string) (float64, error) {
	return o.score(ctx, "/v1/works/"+url.PathEscape(subjectID)+"/quality")
}

// Affinity implements Oracle.
func (o *HTTPOracle) Affinity(ctx context.Context, authorA, authorB string) (float64, error) {
	return o.score(ctx, "/v1/authors/"+url.PathEscape(authorA)+"/affinity/"+url.PathEscape(authorB))
}

// Momentum implements Oracle.
func (o *HTTPOracle) Momentum(ctx context.Context, subjectID string) (float64, error) {
	return o.score(ctx, "/v1/works/"+url.PathEscape(subjectID)+"/momentum")
}

// EngagementDelta implements Oracle.
func (o *HTTPOracle) EngagementDelta(ctx context.Context, subjectID string) (float64, error) {
	return o.score(ctx, "/v1/works/"+url.PathEscape(subjectID)+"/engagement")
}

func (o *HTTPOracle) score(ctx context.Context, path string) (float64, error) {
	var out scoreResponse
	if err := o.call(ctx, path, &out); err != nil {
		return 0, err
	}
	return out.Score, nil
}

func (o *HTTPOracle) call(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("detect: build oracle request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := o.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOracleUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: oracle returned %d", ErrOracleUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("detect: oracle GET %s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("detect: decode oracle response: %w", err)
	}
	return nil
}
