package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/prospector/internal/apperr"
	"github.com/sells-group/prospector/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One writer at a time; transactions from concurrent goroutines queue on
	// the pool instead of failing with SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS icps (
	id            TEXT PRIMARY KEY,
	team_id       TEXT NOT NULL,
	name          TEXT NOT NULL DEFAULT '',
	demographics  TEXT NOT NULL DEFAULT '{}',
	firmographics TEXT NOT NULL DEFAULT '{}',
	created_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS campaigns (
	id               TEXT PRIMARY KEY,
	team_id          TEXT NOT NULL,
	icp_id           TEXT NOT NULL DEFAULT '',
	name             TEXT NOT NULL DEFAULT '',
	discovered_count INTEGER NOT NULL DEFAULT 0,
	qualified_count  INTEGER NOT NULL DEFAULT 0,
	converted_count  INTEGER NOT NULL DEFAULT 0,
	created_at       DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS prospects (
	id                   TEXT PRIMARY KEY,
	campaign_id          TEXT NOT NULL REFERENCES campaigns(id),
	platform             TEXT NOT NULL,
	platform_profile_id  TEXT NOT NULL,
	name                 TEXT NOT NULL DEFAULT '',
	headline             TEXT NOT NULL DEFAULT '',
	location             TEXT NOT NULL DEFAULT '',
	company_name         TEXT NOT NULL DEFAULT '',
	company_url          TEXT NOT NULL DEFAULT '',
	profile_url          TEXT NOT NULL DEFAULT '',
	contact_info         TEXT NOT NULL DEFAULT '{}',
	profile_data         TEXT NOT NULL DEFAULT '{}',
	enrichment_data      TEXT NOT NULL DEFAULT '{}',
	icp_match_score      REAL,
	quality_score        REAL,
	status               TEXT NOT NULL DEFAULT 'new',
	converted_to_lead_id TEXT,
	discovered_at        DATETIME NOT NULL DEFAULT (datetime('now')),
	enriched_at          DATETIME,
	UNIQUE (platform, platform_profile_id)
);

CREATE INDEX IF NOT EXISTS idx_prospects_campaign_status ON prospects(campaign_id, status);

CREATE TABLE IF NOT EXISTS enrichment_logs (
	id            TEXT PRIMARY KEY,
	team_id       TEXT NOT NULL,
	prospect_id   TEXT NOT NULL,
	provider      TEXT NOT NULL,
	status        TEXT NOT NULL,
	credits_used  INTEGER NOT NULL DEFAULT 0,
	request       TEXT,
	response      TEXT,
	error_message TEXT NOT NULL DEFAULT '',
	created_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_enrichment_logs_quota ON enrichment_logs(team_id, provider, status, created_at);

CREATE TABLE IF NOT EXISTS leads (
	id                  TEXT PRIMARY KEY,
	team_id             TEXT NOT NULL,
	prospect_id         TEXT NOT NULL UNIQUE REFERENCES prospects(id),
	campaign_id         TEXT NOT NULL,
	first_name          TEXT NOT NULL DEFAULT '',
	last_name           TEXT NOT NULL DEFAULT '',
	email               TEXT NOT NULL DEFAULT '',
	phone               TEXT NOT NULL DEFAULT '',
	company             TEXT NOT NULL DEFAULT '',
	company_url         TEXT NOT NULL DEFAULT '',
	job_title           TEXT NOT NULL DEFAULT '',
	location            TEXT NOT NULL DEFAULT '',
	source              TEXT NOT NULL DEFAULT '',
	qualification_score REAL NOT NULL DEFAULT 0,
	enrichment_data     TEXT NOT NULL DEFAULT '{}',
	crm_id              TEXT,
	created_at          DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_leads_team ON leads(team_id);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UpsertICP(ctx context.Context, icp *model.ICP) error {
	demoJSON, err := json.Marshal(icp.Demographics)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal demographics")
	}
	firmoJSON, err := json.Marshal(icp.Firmographics)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal firmographics")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO icps (id, team_id, name, demographics, firmographics)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET team_id = excluded.team_id, name = excluded.name,
			demographics = excluded.demographics, firmographics = excluded.firmographics`,
		icp.ID, icp.TeamID, icp.Name, string(demoJSON), string(firmoJSON),
	)
	return eris.Wrapf(err, "sqlite: upsert icp %s", icp.ID)
}

func (s *SQLiteStore) GetICP(ctx context.Context, id string) (*model.ICP, error) {
	var icp model.ICP
	var demoJSON, firmoJSON []byte

	err := s.db.QueryRowContext(ctx,
		`SELECT id, team_id, name, demographics, firmographics FROM icps WHERE id = ?`, id,
	).Scan(&icp.ID, &icp.TeamID, &icp.Name, &demoJSON, &firmoJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get icp %s", id)
	}
	if err := decodeICP(&icp, demoJSON, firmoJSON); err != nil {
		return nil, eris.Wrap(err, "sqlite: decode icp")
	}
	return &icp, nil
}

func (s *SQLiteStore) UpsertCampaign(ctx context.Context, c *model.Campaign) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO campaigns (id, team_id, icp_id, name, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET team_id = excluded.team_id, icp_id = excluded.icp_id, name = excluded.name`,
		c.ID, c.TeamID, c.ICPID, c.Name, c.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: upsert campaign %s", c.ID)
}

func (s *SQLiteStore) GetCampaign(ctx context.Context, id string) (*model.Campaign, error) {
	var c model.Campaign
	err := s.db.QueryRowContext(ctx,
		`SELECT id, team_id, icp_id, name, discovered_count, qualified_count, converted_count, created_at
		FROM campaigns WHERE id = ?`, id,
	).Scan(&c.ID, &c.TeamID, &c.ICPID, &c.Name, &c.DiscoveredCount, &c.QualifiedCount, &c.ConvertedCount, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get campaign %s", id)
	}
	return &c, nil
}

func (s *SQLiteStore) InsertProspects(ctx context.Context, campaignID string, prospects []model.Prospect) (int, error) {
	if len(prospects) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin insert prospects")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	inserted := 0
	for i := range prospects {
		row, err := prospectInsertRow(campaignID, &prospects[i], now)
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: encode prospect")
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO prospects (id, campaign_id, platform, platform_profile_id, name, headline,
				location, company_name, company_url, profile_url, contact_info, profile_data,
				enrichment_data, status, discovered_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (platform, platform_profile_id) DO NOTHING`,
			textArgs(row)...,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert prospect %s", prospects[i].PlatformProfileID)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: rows affected")
		}
		inserted += int(n)
	}

	if inserted > 0 {
		res, err := tx.ExecContext(ctx,
			`UPDATE campaigns SET discovered_count = discovered_count + ? WHERE id = ?`,
			inserted, campaignID,
		)
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: bump discovered count")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return 0, apperr.NotFound("campaign %s not found", campaignID)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit insert prospects")
	}
	return inserted, nil
}

func (s *SQLiteStore) GetProspect(ctx context.Context, id string) (*model.Prospect, error) {
	p, err := scanProspect(s.db.QueryRowContext(ctx,
		`SELECT `+prospectColumns+` FROM prospects p WHERE p.id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get prospect %s", id)
	}
	return p, nil
}

func (s *SQLiteStore) GetProspectForTeam(ctx context.Context, id, teamID string) (*model.Prospect, error) {
	p, err := scanProspect(s.db.QueryRowContext(ctx,
		`SELECT `+prospectColumns+` FROM prospects p
		JOIN campaigns c ON c.id = p.campaign_id
		WHERE p.id = ? AND c.team_id = ?`, id, teamID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get prospect %s for team %s", id, teamID)
	}
	return p, nil
}

func (s *SQLiteStore) ListProspectsByStatus(ctx context.Context, campaignID string, status model.ProspectStatus, limit int) ([]model.Prospect, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+prospectColumns+` FROM prospects p
		WHERE p.campaign_id = ? AND p.status = ?
		ORDER BY p.discovered_at, p.id LIMIT ?`,
		campaignID, string(status), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list prospects")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Prospect
	for rows.Next() {
		p, err := scanProspect(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan prospect")
		}
		out = append(out, *p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate prospects")
}

// SaveEnrichment merges p's enrichment keys into the stored row. Status only
// moves when the row is still new; p.Status is refreshed from the row.
func (s *SQLiteStore) SaveEnrichment(ctx context.Context, p *model.Prospect) error {
	contactJSON, err := json.Marshal(p.ContactInfo)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal contact_info")
	}

	merged := "enrichment_data"
	args := []any{string(contactJSON)}
	if patch := enrichmentPatch(p.EnrichmentData); len(patch) > 0 {
		var b strings.Builder
		b.WriteString("json_set(enrichment_data")
		for k, v := range patch {
			raw, err := json.Marshal(v)
			if err != nil {
				return eris.Wrapf(err, "sqlite: marshal enrichment_data.%s", k)
			}
			b.WriteString(", ?, json(?)")
			args = append(args, "$."+strconv.Quote(k), string(raw))
		}
		b.WriteString(")")
		merged = b.String()
	}
	args = append(args, p.EnrichedAt, string(model.ProspectStatusNew), string(p.Status), p.ID)

	var status string
	err = s.db.QueryRowContext(ctx,
		`UPDATE prospects SET contact_info = ?, enrichment_data = `+merged+`, enriched_at = ?,
			status = CASE WHEN status = ? THEN ? ELSE status END
		WHERE id = ?
		RETURNING status`,
		args...,
	).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound("prospect %s not found", p.ID)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: save enrichment %s", p.ID)
	}
	p.Status = model.ProspectStatus(status)
	return nil
}

func (s *SQLiteStore) ApplyScores(ctx context.Context, campaignID string, updates []model.ScoreUpdate) (int, error) {
	if len(updates) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin apply scores")
	}
	defer tx.Rollback() //nolint:errcheck

	qualified := 0
	for _, u := range updates {
		breakdownJSON, err := marshalObject(u.Breakdown)
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: marshal breakdown")
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE prospects SET icp_match_score = ?, quality_score = ?,
				enrichment_data = json_set(enrichment_data, '$.score_breakdown', json(?)),
				status = ?
			WHERE id = ? AND campaign_id = ? AND status = ?`,
			u.ICPMatchScore, u.QualityScore, string(breakdownJSON), string(u.Status),
			u.ProspectID, campaignID, string(u.PrevStatus),
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: update scores %s", u.ProspectID)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return 0, eris.Errorf("sqlite: prospect %s not in campaign %s with status %s", u.ProspectID, campaignID, u.PrevStatus)
		}
		if u.BecameQualified() {
			qualified++
		}
	}

	if qualified > 0 {
		if _, err := tx.ExecContext(ctx,
			`UPDATE campaigns SET qualified_count = qualified_count + ? WHERE id = ?`,
			qualified, campaignID,
		); err != nil {
			return 0, eris.Wrap(err, "sqlite: bump qualified count")
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit apply scores")
	}
	return qualified, nil
}

func (s *SQLiteStore) InsertEnrichmentLog(ctx context.Context, entry *model.EnrichmentLog) error {
	prepareLog(entry, time.Now().UTC())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO enrichment_logs (id, team_id, prospect_id, provider, status, credits_used, request, response, error_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.TeamID, entry.ProspectID, entry.Provider, string(entry.Status),
		entry.CreditsUsed, nullableText(entry.Request), nullableText(entry.Response),
		entry.ErrorMessage, entry.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert enrichment log")
}

func (s *SQLiteStore) CountSuccessfulEnrichments(ctx context.Context, teamID, provider string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM enrichment_logs
		WHERE team_id = ? AND provider = ? AND status = 'success' AND created_at >= ?`,
		teamID, provider, since.UTC(),
	).Scan(&n)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: count %s enrichments", provider)
	}
	return n, nil
}

func (s *SQLiteStore) ConvertProspect(ctx context.Context, lead *model.Lead) error {
	enrichJSON, err := prepareLead(lead, time.Now().UTC())
	if err != nil {
		return eris.Wrap(err, "sqlite: encode lead")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin convert")
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		`UPDATE prospects SET status = ?, converted_to_lead_id = ?
		WHERE id = ? AND converted_to_lead_id IS NULL`,
		string(model.ProspectStatusConverted), lead.ID, lead.ProspectID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark prospect %s converted", lead.ProspectID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.Conflict("prospect %s has already been converted", lead.ProspectID)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO leads (`+leadColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		lead.ID, lead.TeamID, lead.ProspectID, lead.CampaignID, lead.FirstName, lead.LastName,
		lead.Email, lead.Phone, lead.Company, lead.CompanyURL, lead.JobTitle, lead.Location,
		lead.Source, lead.QualificationScore, string(enrichJSON), nil, lead.CreatedAt,
	); err != nil {
		return eris.Wrapf(err, "sqlite: insert lead for prospect %s", lead.ProspectID)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE campaigns SET converted_count = converted_count + 1 WHERE id = ?`,
		lead.CampaignID,
	); err != nil {
		return eris.Wrap(err, "sqlite: bump converted count")
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit convert")
}

func (s *SQLiteStore) GetLead(ctx context.Context, id string) (*model.Lead, error) {
	l, err := scanLead(s.db.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get lead %s", id)
	}
	return l, nil
}

func (s *SQLiteStore) SetLeadCRMID(ctx context.Context, leadID, crmID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE leads SET crm_id = ? WHERE id = ?`, crmID, leadID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set crm id on lead %s", leadID)
	}
	return checkRowsAffected(res, "lead", leadID)
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return apperr.NotFound("%s %s not found", entity, id)
	}
	return nil
}

// textArgs stores JSON payloads as TEXT so SQLite's json functions accept them.
func textArgs(row []any) []any {
	out := make([]any, len(row))
	for i, v := range row {
		if b, ok := v.([]byte); ok {
			out[i] = string(b)
			continue
		}
		out[i] = v
	}
	return out
}

func nullableText(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
