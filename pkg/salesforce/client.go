// Package salesforce syncs converted leads into a Salesforce org.
package salesforce

import (
	"context"
	"strings"

	"github.com/k-capehart/go-salesforce/v3"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Client is the slice of the Salesforce REST API lead sync needs.
type Client interface {
	Query(ctx context.Context, soql string, out any) error
	InsertOne(ctx context.Context, object string, record map[string]any) (string, error)
	InsertCollection(ctx context.Context, object string, records []map[string]any) ([]CollectionResult, error)
	UpdateOne(ctx context.Context, object, id string, fields map[string]any) error
}

// CollectionResult reports one record of a collection insert.
type CollectionResult struct {
	ID      string   `json:"id"`
	Success bool     `json:"success"`
	Errors  []string `json:"errors"`
}

// Creds are the connected-app credentials for the JWT bearer flow.
type Creds struct {
	LoginURL   string
	Username   string
	ClientID   string
	PrivateKey string
}

func (c Creds) check() error {
	switch {
	case c.ClientID == "":
		return eris.New("sf: client id is required")
	case c.PrivateKey == "":
		return eris.New("sf: private key is required")
	}
	return nil
}

// ClientOption tunes a Client built by NewClient or Connect.
type ClientOption func(*restClient)

// WithRateLimit caps calls at rps per second. Non-positive rps leaves calls
// unthrottled.
func WithRateLimit(rps float64) ClientOption {
	return func(c *restClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

// restClient adapts go-salesforce to Client. The library takes no context,
// so ctx only bounds the limiter wait.
type restClient struct {
	sf      *salesforce.Salesforce
	limiter *rate.Limiter
}

// NewClient wraps an initialised go-salesforce session.
func NewClient(sf *salesforce.Salesforce, opts ...ClientOption) Client {
	c := &restClient{sf: sf}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect logs in with the JWT bearer flow.
func Connect(creds Creds, opts ...ClientOption) (Client, error) {
	if err := creds.check(); err != nil {
		return nil, err
	}
	sf, err := salesforce.Init(salesforce.Creds{
		Domain:         creds.LoginURL,
		Username:       creds.Username,
		ConsumerKey:    creds.ClientID,
		ConsumerRSAPem: creds.PrivateKey,
	})
	if err != nil {
		return nil, eris.Wrap(err, "sf: jwt login")
	}
	return NewClient(sf, opts...), nil
}

// throttle waits for a limiter slot.
func (c *restClient) throttle(ctx context.Context, op string) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return eris.Wrapf(err, "sf: %s: rate limit", op)
	}
	return nil
}

func (c *restClient) Query(ctx context.Context, soql string, out any) error {
	if err := c.throttle(ctx, "query"); err != nil {
		return err
	}
	return eris.Wrap(c.sf.Query(soql, out), "sf: query")
}

func (c *restClient) InsertOne(ctx context.Context, object string, record map[string]any) (string, error) {
	op := "insert " + object
	if err := c.throttle(ctx, op); err != nil {
		return "", err
	}
	res, err := c.sf.InsertOne(object, record)
	if err != nil {
		return "", eris.Wrapf(err, "sf: %s", op)
	}
	if !res.Success {
		return "", eris.Errorf("sf: %s rejected: %v", op, res.Errors)
	}
	return res.Id, nil
}

func (c *restClient) InsertCollection(ctx context.Context, object string, records []map[string]any) ([]CollectionResult, error) {
	op := "insert collection " + object
	if err := c.throttle(ctx, op); err != nil {
		return nil, err
	}
	res, err := c.sf.InsertCollection(object, records, maxBatchSize)
	if err != nil {
		return nil, eris.Wrapf(err, "sf: %s", op)
	}

	out := make([]CollectionResult, 0, len(res.Results))
	for _, r := range res.Results {
		cr := CollectionResult{ID: r.Id, Success: r.Success}
		for _, e := range r.Errors {
			cr.Errors = append(cr.Errors, e.Message)
		}
		out = append(out, cr)
	}
	return out, nil
}

// UpdateOne patches a record. fields is not modified.
func (c *restClient) UpdateOne(ctx context.Context, object, id string, fields map[string]any) error {
	op := strings.Join([]string{"update", object, id}, " ")
	if err := c.throttle(ctx, op); err != nil {
		return err
	}
	patch := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		patch[k] = v
	}
	patch["Id"] = id
	return eris.Wrapf(c.sf.UpdateOne(object, patch), "sf: %s", op)
}
