package suggest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/rumor-ml/commons.systems/stmtingest/internal/domain"
)

// ErrFrequencyUnavailable marks a frequency lookup that failed or timed out.
// Suggestions are still produced from the remaining sources.
var ErrFrequencyUnavailable = errors.New("frequency service unavailable")

const (
	// DefaultFrequencyTimeout bounds each frequency service call.
	DefaultFrequencyTimeout = 2 * time.Second

	// defaultFrequencyConfidence is used when the service omits a confidence.
	defaultFrequencyConfidence = 0.5

	frequencyCacheTTL = 15 * time.Minute
)

// FrequencyService returns category suggestions ranked by how often similar
// transactions were assigned to each category.
type FrequencyService interface {
	FetchFrequencySuggestions(ctx context.Context, description string, amount decimal.Decimal) ([]domain.CategorySuggestion, error)
}

// frequencySource wraps a FrequencyService with a timeout and a result cache.
type frequencySource struct {
	service FrequencyService
	timeout time.Duration
	cache   *cache.Cache
}

func newFrequencySource(service FrequencyService, timeout time.Duration) *frequencySource {
	if timeout <= 0 {
		timeout = DefaultFrequencyTimeout
	}
	return &frequencySource{
		service: service,
		timeout: timeout,
		cache:   cache.New(frequencyCacheTTL, 2*frequencyCacheTTL),
	}
}

func frequencyCacheKey(description string, amount decimal.Decimal) string {
	return strings.ToLower(strings.TrimSpace(description)) + "_" + amount.String()
}

// fetch returns the service suggestions. A failed call yields an empty list and
// an error wrapping ErrFrequencyUnavailable; failures are not cached.
func (f *frequencySource) fetch(ctx context.Context, description string, amount decimal.Decimal) ([]domain.CategorySuggestion, error) {
	if f == nil || f.service == nil || strings.TrimSpace(description) == "" {
		return nil, nil
	}

	key := frequencyCacheKey(description, amount)
	if cached, found := f.cache.Get(key); found {
		return cached.([]domain.CategorySuggestion), nil
	}

	callCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	got, err := f.service.FetchFrequencySuggestions(callCtx, description, amount)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFrequencyUnavailable, err)
	}

	out := make([]domain.CategorySuggestion, 0, len(got))
	for _, s := range got {
		if s.CategoryID == "" {
			continue
		}
		if s.Confidence == 0 {
			s.Confidence = defaultFrequencyConfidence
		}
		s.Confidence = clamp(s.Confidence)
		s.Source = domain.SourceFrequency
		out = append(out, s)
	}

	f.cache.Set(key, out, cache.DefaultExpiration)
	return out, nil
}

// HTTPFrequencyClient calls a JSON frequency endpoint:
//
//	GET {base}/transactions/suggestions/category?description=...&amount=...
//	{"suggestions":[{"category_id":"..","category_name":"..","confidence":0.8,"match_count":3}]}
type HTTPFrequencyClient struct {
	baseURL string
	token   string
	http    *http.Client
	limiter *rate.Limiter
}

// HTTPFrequencyOption configures an HTTPFrequencyClient.
type HTTPFrequencyOption func(*HTTPFrequencyClient)

// WithBearerToken sends token in the Authorization header.
func WithBearerToken(token string) HTTPFrequencyOption {
	return func(c *HTTPFrequencyClient) { c.token = token }
}

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) HTTPFrequencyOption {
	return func(c *HTTPFrequencyClient) { c.http = hc }
}

// WithRateLimit allows rps requests per second with the given burst.
func WithRateLimit(rps float64, burst int) HTTPFrequencyOption {
	return func(c *HTTPFrequencyClient) {
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// NewHTTPFrequencyClient creates a client for baseURL. By default it allows
// 5 requests per second.
func NewHTTPFrequencyClient(baseURL string, opts ...HTTPFrequencyOption) (*HTTPFrequencyClient, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid frequency service URL %q", baseURL)
	}

	c := &HTTPFrequencyClient{
		baseURL: strings.TrimRight(u.String(), "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(5), 5),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type frequencyResponse struct {
	Suggestions []struct {
		CategoryID   json.RawMessage `json:"category_id"`
		CategoryName string          `json:"category_name"`
		Confidence   float64         `json:"confidence"`
		MatchCount   int             `json:"match_count"`
	} `json:"suggestions"`
}

// FetchFrequencySuggestions implements FrequencyService.
func (c *HTTPFrequencyClient) FetchFrequencySuggestions(ctx context.Context, description string, amount decimal.Decimal) ([]domain.CategorySuggestion, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	q := url.Values{}
	q.Set("description", description)
	q.Set("amount", amount.Abs().String())
	endpoint := c.baseURL + "/transactions/suggestions/category?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("frequency request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("frequency service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload frequencyResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode frequency response: %w", err)
	}

	out := make([]domain.CategorySuggestion, 0, len(payload.Suggestions))
	for _, s := range payload.Suggestions {
		out = append(out, domain.CategorySuggestion{
			CategoryID:   rawID(s.CategoryID),
			CategoryName: s.CategoryName,
			Confidence:   s.Confidence,
			Source:       domain.SourceFrequency,
			MatchCount:   s.MatchCount,
		})
	}
	return out, nil
}

// rawID accepts category ids encoded as JSON strings or numbers.
func rawID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}
