// Package vectorindex is a client for a Pinecone-compatible vector index
// data plane.
package vectorindex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
)

// Vector is a stored vector and its id.
type Vector struct {
	ID     string    `json:"id"`
	Values []float32 `json:"values"`
}

// Client reads vectors from the index.
type Client interface {
	// FetchVector returns the vector stored under id in namespace, or nil
	// when it does not exist.
	FetchVector(ctx context.Context, namespace, id string) (*Vector, error)
}

type fetchResponse struct {
	Vectors   map[string]Vector `json:"vectors"`
	Namespace string            `json:"namespace"`
}

// APIError is a non-2xx response from the index.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("vectorindex: unexpected status %d: %s", e.StatusCode, e.Body)
}

// HTTPStatusCode returns the response status.
func (e *APIError) HTTPStatusCode() int { return e.StatusCode }

// Option configures the client.
type Option func(*httpClient)

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey string
	host   string
	http   *http.Client
}

// NewClient creates an index client for the given data-plane host URL.
func NewClient(apiKey, host string, opts ...Option) Client {
	c := &httpClient{
		apiKey: apiKey,
		host:   host,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) FetchVector(ctx context.Context, namespace, id string) (*Vector, error) {
	q := url.Values{}
	q.Set("ids", id)
	if namespace != "" {
		q.Set("namespace", namespace)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.host+"/vectors/fetch?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "vectorindex: create request")
	}
	httpReq.Header.Set("Api-Key", c.apiKey)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, eris.Wrap(err, "vectorindex: send request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "vectorindex: read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var result fetchResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, eris.Wrap(err, "vectorindex: unmarshal response")
	}

	v, ok := result.Vectors[id]
	if !ok {
		return nil, nil
	}
	if v.ID == "" {
		v.ID = id
	}
	return &v, nil
}
