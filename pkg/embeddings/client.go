// Package embeddings is a client for OpenAI-compatible embedding endpoints.
package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "text-embedding-3-small"
)

// Client turns text into embedding vectors.
type Client interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
	// GenerateBatchEmbeddings returns one vector per input, in input order.
	GenerateBatchEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

type embedRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// APIError is a non-2xx response from the embedding endpoint.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("embeddings: unexpected status %d: %s", e.StatusCode, e.Body)
}

// HTTPStatusCode returns the response status.
func (e *APIError) HTTPStatusCode() int { return e.StatusCode }

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL points the client at another OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(c *httpClient) { c.baseURL = strings.TrimRight(url, "/") }
}

// WithModel selects the embedding model.
func WithModel(model string) Option {
	return func(c *httpClient) { c.model = model }
}

// WithDimensions asks the model to shorten its vectors to n. Zero keeps the
// model's native size.
func WithDimensions(n int) Option {
	return func(c *httpClient) { c.dims = n }
}

// WithHTTPClient replaces the pooled default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

type httpClient struct {
	apiKey  string
	baseURL string
	model   string
	dims    int
	http    *http.Client
}

// NewClient creates an embeddings client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		model:   defaultModel,
		http: &http.Client{
			Timeout:   60 * time.Second,
			Transport: &http.Transport{MaxIdleConnsPerHost: 20, IdleConnTimeout: 90 * time.Second},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.GenerateBatchEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (c *httpClient) GenerateBatchEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var res embedResponse
	if err := c.post(ctx, embedRequest{Model: c.model, Input: texts, Dimensions: c.dims}, &res); err != nil {
		return nil, err
	}
	if len(res.Data) != len(texts) {
		return nil, eris.Errorf("embeddings: got %d vectors for %d inputs", len(res.Data), len(texts))
	}

	// The API may answer out of order; place each vector by its index.
	out := make([][]float32, len(texts))
	for _, d := range res.Data {
		if d.Index < 0 || d.Index >= len(out) || out[d.Index] != nil {
			return nil, eris.Errorf("embeddings: bad vector index %d", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

func (c *httpClient) post(ctx context.Context, in embedRequest, out *embedResponse) error {
	body, err := json.Marshal(in)
	if err != nil {
		return eris.Wrap(err, "embeddings: encode request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "embeddings: build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "embeddings: post")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return &APIError{StatusCode: resp.StatusCode, Body: string(msg)}
	}
	return eris.Wrap(json.NewDecoder(resp.Body).Decode(out), "embeddings: decode response")
}
