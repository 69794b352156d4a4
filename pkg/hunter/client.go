// Package hunter is a client for the Hunter.io email finder API.
package hunter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://api.hunter.io"

// Client finds professional email addresses by domain and name.
type Client interface {
	FindEmail(ctx context.Context, req FindEmailRequest) (*EmailFinderResult, error)
}

// FindEmailRequest holds the query for GET /v2/email-finder. Domain is
// required, plus either FirstName/LastName or FullName.
type FindEmailRequest struct {
	Domain    string
	FirstName string
	LastName  string
	FullName  string
	Company   string
}

// EmailFinderResult is the data object of an email finder response. Email is
// empty when Hunter could not find an address.
type EmailFinderResult struct {
	FirstName    string       `json:"first_name"`
	LastName     string       `json:"last_name"`
	Email        string       `json:"email"`
	Score        int          `json:"score"`
	Domain       string       `json:"domain"`
	Position     string       `json:"position"`
	Company      string       `json:"company"`
	LinkedInURL  string       `json:"linkedin_url"`
	PhoneNumber  string       `json:"phone_number"`
	Verification Verification `json:"verification"`
}

// Verification is Hunter's deliverability check for the found address.
type Verification struct {
	Date   string `json:"date"`
	Status string `json:"status"`
}

// Verified reports whether the address passed verification.
func (r *EmailFinderResult) Verified() bool {
	return r.Email != "" && r.Verification.Status == "valid"
}

type emailFinderResponse struct {
	Data EmailFinderResult `json:"data"`
}

// APIError is a non-2xx response from Hunter.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("hunter: unexpected status %d: %s", e.StatusCode, e.Body)
}

// HTTPStatusCode returns the response status.
func (e *APIError) HTTPStatusCode() int { return e.StatusCode }

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit caps requests per second.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a Hunter API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) FindEmail(ctx context.Context, req FindEmailRequest) (*EmailFinderResult, error) {
	if req.Domain == "" && req.Company == "" {
		return nil, eris.New("hunter: domain or company is required")
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "hunter: rate limit")
		}
	}

	q := url.Values{}
	q.Set("api_key", c.apiKey)
	if req.Domain != "" {
		q.Set("domain", req.Domain)
	}
	if req.Company != "" {
		q.Set("company", req.Company)
	}
	if req.FirstName != "" {
		q.Set("first_name", req.FirstName)
	}
	if req.LastName != "" {
		q.Set("last_name", req.LastName)
	}
	if req.FullName != "" {
		q.Set("full_name", req.FullName)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v2/email-finder?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "hunter: create request")
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, eris.Wrap(err, "hunter: send request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "hunter: read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var result emailFinderResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, eris.Wrap(err, "hunter: unmarshal response")
	}

	return &result.Data, nil
}
