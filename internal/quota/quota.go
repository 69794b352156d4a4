// Package quota enforces per-team provider usage caps derived from the
// enrichment log.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospector/internal/apperr"
	"github.com/sells-group/prospector/internal/model"
)

// Window is the calendar period a limit applies to.
type Window int

const (
	WindowYear Window = iota
	WindowMonth
)

func (w Window) String() string {
	if w == WindowMonth {
		return "month"
	}
	return "year"
}

// Start returns the first instant of the window containing now (UTC).
func (w Window) Start(now time.Time) time.Time {
	now = now.UTC()
	if w == WindowMonth {
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	return time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
}

// Reset returns the first instant of the next window.
func (w Window) Reset(now time.Time) time.Time {
	start := w.Start(now)
	if w == WindowMonth {
		return start.AddDate(0, 1, 0)
	}
	return start.AddDate(1, 0, 0)
}

// Limit caps successful calls to one provider per team per window. A
// WarnFraction above zero logs a warning once usage reaches that share.
type Limit struct {
	Provider     string
	Window       Window
	Max          int
	WarnFraction float64
}

// DefaultLimits returns the standard provider caps.
func DefaultLimits() []Limit {
	return []Limit{
		{Provider: model.ProviderApollo, Window: WindowYear, Max: 10000, WarnFraction: 0.8},
		{Provider: model.ProviderHunter, Window: WindowMonth, Max: 25},
	}
}

// Counter counts successful enrichment log rows.
type Counter interface {
	CountSuccessfulEnrichments(ctx context.Context, teamID, provider string, since time.Time) (int, error)
}

// Usage is a provider's consumption in the current window.
type Usage struct {
	Provider    string    `json:"provider"`
	Used        int       `json:"used"`
	Limit       int       `json:"limit"`
	WindowStart time.Time `json:"window_start"`
	ResetAt     time.Time `json:"reset_at"`
}

// Remaining returns the calls left in the window, never negative.
func (u Usage) Remaining() int {
	if u.Used >= u.Limit {
		return 0
	}
	return u.Limit - u.Used
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// Tracker checks provider usage against limits. Checks read the log at call
// time without reserving capacity, so concurrent callers may briefly exceed
// a limit.
type Tracker struct {
	counter Counter
	limits  map[string]Limit
	now     func() time.Time
}

// NewTracker creates a Tracker. Providers without a limit are unrestricted.
func NewTracker(counter Counter, limits []Limit, opts ...Option) *Tracker {
	t := &Tracker{
		counter: counter,
		limits:  make(map[string]Limit, len(limits)),
		now:     time.Now,
	}
	for _, l := range limits {
		t.limits[l.Provider] = l
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Usage returns the team's current usage for provider, or nil when the
// provider has no limit.
func (t *Tracker) Usage(ctx context.Context, teamID, provider string) (*Usage, error) {
	limit, ok := t.limits[provider]
	if !ok {
		return nil, nil
	}

	now := t.now()
	start := limit.Window.Start(now)
	used, err := t.counter.CountSuccessfulEnrichments(ctx, teamID, provider, start)
	if err != nil {
		return nil, eris.Wrapf(err, "quota: count %s usage", provider)
	}

	return &Usage{
		Provider:    provider,
		Used:        used,
		Limit:       limit.Max,
		WindowStart: start,
		ResetAt:     limit.Window.Reset(now),
	}, nil
}

// Check fails with an apperr QuotaExceeded error when the team has used the
// whole allowance for provider in the current window.
func (t *Tracker) Check(ctx context.Context, teamID, provider string) error {
	u, err := t.Usage(ctx, teamID, provider)
	if err != nil || u == nil {
		return err
	}

	if u.Used >= u.Limit {
		return apperr.New(apperr.KindQuotaExceeded,
			"%s quota exceeded: %d of %d calls used this %s; resets on %s",
			provider, u.Used, u.Limit, t.limits[provider].Window, FormatResetDate(u.ResetAt),
		).WithDetails(map[string]any{
			"provider":   provider,
			"usage":      u.Used,
			"limit":      u.Limit,
			"reset_date": FormatResetDate(u.ResetAt),
		})
	}

	if warn := t.limits[provider].WarnFraction; warn > 0 && float64(u.Used) >= warn*float64(u.Limit) {
		zap.L().Warn("quota: provider usage approaching limit",
			zap.String("team_id", teamID),
			zap.String("provider", provider),
			zap.Int("used", u.Used),
			zap.Int("limit", u.Limit),
			zap.String("usage_pct", fmt.Sprintf("%.0f%%", 100*float64(u.Used)/float64(u.Limit))),
		)
	}
	return nil
}

// FormatResetDate renders a reset instant as e.g. "January 1, 2027".
func FormatResetDate(t time.Time) string {
	return t.UTC().Format("January 2, 2006")
}
