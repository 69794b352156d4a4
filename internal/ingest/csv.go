// Package ingest loads prospects from CSV exports into a campaign.
package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/internal/phone"
)

// DefaultPlatform is recorded for rows that do not name a source platform.
const DefaultPlatform = "csv"

const insertBatchSize = 500

// Row is one prospect in a CSV export. Headers are matched after lowercasing
// and replacing spaces and dashes with underscores.
type Row struct {
	Platform          string `csv:"platform"`
	PlatformProfileID string `csv:"platform_profile_id"`
	Name              string `csv:"name"`
	Headline          string `csv:"headline"`
	Location          string `csv:"location"`
	CompanyName       string `csv:"company_name"`
	CompanyURL        string `csv:"company_url"`
	ProfileURL        string `csv:"profile_url"`
	Email             string `csv:"email"`
	Phone             string `csv:"phone"`
}

// RowError is a rejected CSV line.
type RowError struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

// Result summarizes an import.
type Result struct {
	Rows       int        `json:"rows"`
	Inserted   int        `json:"inserted"`
	Duplicates int        `json:"duplicates"`
	Rejected   []RowError `json:"rejected"`
}

// Inserter adds prospects to a campaign, skipping existing identities.
type Inserter interface {
	InsertProspects(ctx context.Context, campaignID string, prospects []model.Prospect) (int, error)
}

// ImportCSV parses r and inserts its prospects into campaignID. Rows that
// repeat an identity already in the file or the store count as duplicates.
func ImportCSV(ctx context.Context, st Inserter, campaignID string, r io.Reader) (*Result, error) {
	prospects, res, err := Parse(r)
	if err != nil {
		return nil, err
	}

	for start := 0; start < len(prospects); start += insertBatchSize {
		if ctx.Err() != nil {
			return res, eris.Wrap(ctx.Err(), "ingest: import cancelled")
		}
		end := min(start+insertBatchSize, len(prospects))
		n, err := st.InsertProspects(ctx, campaignID, prospects[start:end])
		if err != nil {
			return res, eris.Wrapf(err, "ingest: insert rows %d-%d", start, end)
		}
		res.Inserted += n
	}
	res.Duplicates += len(prospects) - res.Inserted

	zap.L().Info("csv import complete",
		zap.String("campaign_id", campaignID),
		zap.Int("rows", res.Rows),
		zap.Int("inserted", res.Inserted),
		zap.Int("duplicates", res.Duplicates),
		zap.Int("rejected", len(res.Rejected)),
	)
	return res, nil
}

// Parse decodes a CSV export into new prospects. Columns without a Row field
// are kept in the prospect's profile data.
func Parse(r io.Reader) ([]model.Prospect, *Result, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, &Result{}, nil
	}
	if err != nil {
		return nil, nil, eris.Wrap(err, "ingest: read header")
	}
	for i, h := range header {
		header[i] = normalizeHeader(h)
	}

	dec, err := csvutil.NewDecoder(cr, header...)
	if err != nil {
		return nil, nil, eris.Wrap(err, "ingest: init decoder")
	}

	res := &Result{}
	seen := make(map[string]bool)
	var out []model.Prospect
	for line := 2; ; line++ {
		var row Row
		err := dec.Decode(&row)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, eris.Wrapf(err, "ingest: decode line %d", line)
		}
		res.Rows++

		p, reason := toProspect(row)
		if reason != "" {
			res.Rejected = append(res.Rejected, RowError{Line: line, Reason: reason})
			continue
		}
		key := p.Platform + "\x00" + p.PlatformProfileID
		if seen[key] {
			res.Duplicates++
			continue
		}
		seen[key] = true

		if extra := unusedColumns(dec, header); len(extra) > 0 {
			p.ProfileData = extra
		}
		out = append(out, p)
	}
	return out, res, nil
}

func toProspect(row Row) (model.Prospect, string) {
	name := strings.TrimSpace(row.Name)
	if name == "" {
		return model.Prospect{}, "name is required"
	}
	platform := strings.ToLower(strings.TrimSpace(row.Platform))
	if platform == "" {
		platform = DefaultPlatform
	}

	id := strings.TrimSpace(row.PlatformProfileID)
	if id == "" {
		id = profileIDFromURL(row.ProfileURL)
	}
	if id == "" {
		id = strings.ToLower(strings.TrimSpace(row.Email))
	}
	if id == "" {
		return model.Prospect{}, "platform_profile_id, profile_url, or email is required"
	}

	return model.Prospect{
		Platform:          platform,
		PlatformProfileID: id,
		Name:              name,
		Headline:          strings.TrimSpace(row.Headline),
		Location:          strings.TrimSpace(row.Location),
		CompanyName:       strings.TrimSpace(row.CompanyName),
		CompanyURL:        strings.TrimSpace(row.CompanyURL),
		ProfileURL:        strings.TrimSpace(row.ProfileURL),
		ContactInfo: model.ContactInfo{
			Email: strings.TrimSpace(row.Email),
			Phone: phone.NormalizeE164(row.Phone),
		},
		Status: model.ProspectStatusNew,
	}, ""
}

// profileIDFromURL returns the last path segment of a profile URL, e.g.
// "jane-doe" for https://www.linkedin.com/in/jane-doe/.
func profileIDFromURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		raw = raw[:i]
	}
	raw = strings.TrimRight(raw, "/")
	if i := strings.Index(raw, "://"); i >= 0 {
		raw = raw[i+3:]
	}
	slash := strings.LastIndex(raw, "/")
	if slash < 0 {
		return ""
	}
	return strings.ToLower(raw[slash+1:])
}

func unusedColumns(dec *csvutil.Decoder, header []string) map[string]any {
	unused := dec.Unused()
	if len(unused) == 0 {
		return nil
	}
	record := dec.Record()
	extra := make(map[string]any, len(unused))
	for _, i := range unused {
		if i >= len(record) || i >= len(header) || header[i] == "" {
			continue
		}
		if v := strings.TrimSpace(record[i]); v != "" {
			extra[header[i]] = v
		}
	}
	if len(extra) == 0 {
		return nil
	}
	return extra
}

func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(h)
}

// String renders a one-line summary.
func (r *Result) String() string {
	return fmt.Sprintf("%d rows, %d inserted, %d duplicates, %d rejected", r.Rows, r.Inserted, r.Duplicates, len(r.Rejected))
}
