// Package apollo is a client for the Apollo.io people match API.
package apollo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://api.apollo.io"

// Client matches people against the Apollo database.
type Client interface {
	MatchPerson(ctx context.Context, req MatchRequest) (*MatchResponse, error)
}

// MatchRequest is the request body for POST /v1/people/match.
type MatchRequest struct {
	FirstName            string `json:"first_name,omitempty"`
	LastName             string `json:"last_name,omitempty"`
	Name                 string `json:"name,omitempty"`
	OrganizationName     string `json:"organization_name,omitempty"`
	Domain               string `json:"domain,omitempty"`
	LinkedInURL          string `json:"linkedin_url,omitempty"`
	RevealPersonalEmails bool   `json:"reveal_personal_emails,omitempty"`
}

// MatchResponse is the response from POST /v1/people/match. Person is nil
// when Apollo has no match.
type MatchResponse struct {
	Person *Person `json:"person"`
}

// Person is a matched Apollo contact.
type Person struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Title        string        `json:"title"`
	Headline     string        `json:"headline"`
	Email        string        `json:"email"`
	EmailStatus  string        `json:"email_status"`
	LinkedInURL  string        `json:"linkedin_url"`
	City         string        `json:"city"`
	State        string        `json:"state"`
	Country      string        `json:"country"`
	PhoneNumbers []PhoneNumber `json:"phone_numbers"`
	Organization *Organization `json:"organization"`
}

// EmailVerified reports whether Apollo marked the email as verified.
func (p *Person) EmailVerified() bool {
	return p.Email != "" && p.EmailStatus == "verified"
}

// Phone returns the first sanitized phone number, if any.
func (p *Person) Phone() string {
	for _, n := range p.PhoneNumbers {
		if n.SanitizedNumber != "" {
			return n.SanitizedNumber
		}
		if n.RawNumber != "" {
			return n.RawNumber
		}
	}
	return ""
}

// PhoneNumber is one of a person's known numbers.
type PhoneNumber struct {
	RawNumber       string `json:"raw_number"`
	SanitizedNumber string `json:"sanitized_number"`
	Type            string `json:"type"`
}

// Organization is the person's current employer.
type Organization struct {
	ID                    string `json:"id"`
	Name                  string `json:"name"`
	PrimaryDomain         string `json:"primary_domain"`
	WebsiteURL            string `json:"website_url"`
	Industry              string `json:"industry"`
	EstimatedNumEmployees int    `json:"estimated_num_employees"`
	City                  string `json:"city"`
	State                 string `json:"state"`
	Country               string `json:"country"`
}

// APIError is a non-2xx response from Apollo.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("apollo: unexpected status %d: %s", e.StatusCode, e.Body)
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

// NewClient creates an Apollo API client.
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

func (c *httpClient) MatchPerson(ctx context.Context, req MatchRequest) (*MatchResponse, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "apollo: rate limit")
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "apollo: marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/people/match", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "apollo: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Cache-Control", "no-cache")
	httpReq.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, eris.Wrap(err, "apollo: send request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "apollo: read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var result MatchResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, eris.Wrap(err, "apollo: unmarshal response")
	}

	return &result, nil
}
