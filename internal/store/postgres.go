package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/prospector/internal/apperr"
	"github.com/sells-group/prospector/internal/db"
	"github.com/sells-group/prospector/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS icps (
	id            TEXT PRIMARY KEY,
	team_id       TEXT NOT NULL,
	name          TEXT NOT NULL DEFAULT '',
	demographics  JSONB NOT NULL DEFAULT '{}',
	firmographics JSONB NOT NULL DEFAULT '{}',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS campaigns (
	id               TEXT PRIMARY KEY,
	team_id          TEXT NOT NULL,
	icp_id           TEXT NOT NULL DEFAULT '',
	name             TEXT NOT NULL DEFAULT '',
	discovered_count INTEGER NOT NULL DEFAULT 0,
	qualified_count  INTEGER NOT NULL DEFAULT 0,
	converted_count  INTEGER NOT NULL DEFAULT 0,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
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
	contact_info         JSONB NOT NULL DEFAULT '{}',
	profile_data         JSONB NOT NULL DEFAULT '{}',
	enrichment_data      JSONB NOT NULL DEFAULT '{}',
	icp_match_score      DOUBLE PRECISION,
	quality_score        DOUBLE PRECISION,
	status               TEXT NOT NULL DEFAULT 'new',
	converted_to_lead_id TEXT,
	discovered_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	enriched_at          TIMESTAMPTZ,
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
	request       JSONB,
	response      JSONB,
	error_message TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
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
	qualification_score DOUBLE PRECISION NOT NULL DEFAULT 0,
	enrichment_data     JSONB NOT NULL DEFAULT '{}',
	crm_id              TEXT,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_leads_team ON leads(team_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) UpsertICP(ctx context.Context, icp *model.ICP) error {
	demoJSON, err := json.Marshal(icp.Demographics)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal demographics")
	}
	firmoJSON, err := json.Marshal(icp.Firmographics)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal firmographics")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO icps (id, team_id, name, demographics, firmographics)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET team_id = EXCLUDED.team_id, name = EXCLUDED.name,
			demographics = EXCLUDED.demographics, firmographics = EXCLUDED.firmographics`,
		icp.ID, icp.TeamID, icp.Name, demoJSON, firmoJSON,
	)
	return eris.Wrapf(err, "postgres: upsert icp %s", icp.ID)
}

func (s *PostgresStore) GetICP(ctx context.Context, id string) (*model.ICP, error) {
	var icp model.ICP
	var demoJSON, firmoJSON []byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, team_id, name, demographics, firmographics FROM icps WHERE id = $1`, id,
	).Scan(&icp.ID, &icp.TeamID, &icp.Name, &demoJSON, &firmoJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get icp %s", id)
	}
	if err := decodeICP(&icp, demoJSON, firmoJSON); err != nil {
		return nil, eris.Wrap(err, "postgres: decode icp")
	}
	return &icp, nil
}

func (s *PostgresStore) UpsertCampaign(ctx context.Context, c *model.Campaign) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO campaigns (id, team_id, icp_id, name, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET team_id = EXCLUDED.team_id, icp_id = EXCLUDED.icp_id, name = EXCLUDED.name`,
		c.ID, c.TeamID, c.ICPID, c.Name, c.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: upsert campaign %s", c.ID)
}

func (s *PostgresStore) GetCampaign(ctx context.Context, id string) (*model.Campaign, error) {
	var c model.Campaign
	err := s.pool.QueryRow(ctx,
		`SELECT id, team_id, icp_id, name, discovered_count, qualified_count, converted_count, created_at
		FROM campaigns WHERE id = $1`, id,
	).Scan(&c.ID, &c.TeamID, &c.ICPID, &c.Name, &c.DiscoveredCount, &c.QualifiedCount, &c.ConvertedCount, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get campaign %s", id)
	}
	return &c, nil
}

func (s *PostgresStore) InsertProspects(ctx context.Context, campaignID string, prospects []model.Prospect) (int, error) {
	if len(prospects) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	rows := make([][]any, 0, len(prospects))
	for i := range prospects {
		row, err := prospectInsertRow(campaignID, &prospects[i], now)
		if err != nil {
			return 0, eris.Wrap(err, "postgres: encode prospect")
		}
		rows = append(rows, row)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: begin insert prospects")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	n, err := db.InsertNew(ctx, tx, db.NewRows{
		Table:      "prospects",
		Columns:    prospectInsertColumns,
		UniqueKeys: []string{"platform", "platform_profile_id"},
		Rows:       rows,
	})
	if err != nil {
		return 0, eris.Wrap(err, "postgres: insert prospects")
	}

	if n > 0 {
		tag, err := tx.Exec(ctx,
			`UPDATE campaigns SET discovered_count = discovered_count + $1 WHERE id = $2`,
			n, campaignID,
		)
		if err != nil {
			return 0, eris.Wrap(err, "postgres: bump discovered count")
		}
		if tag.RowsAffected() == 0 {
			return 0, apperr.NotFound("campaign %s not found", campaignID)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: commit insert prospects")
	}
	return int(n), nil
}

func (s *PostgresStore) GetProspect(ctx context.Context, id string) (*model.Prospect, error) {
	p, err := scanProspect(s.pool.QueryRow(ctx,
		`SELECT `+prospectColumns+` FROM prospects p WHERE p.id = $1`, id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get prospect %s", id)
	}
	return p, nil
}

func (s *PostgresStore) GetProspectForTeam(ctx context.Context, id, teamID string) (*model.Prospect, error) {
	p, err := scanProspect(s.pool.QueryRow(ctx,
		`SELECT `+prospectColumns+` FROM prospects p
		JOIN campaigns c ON c.id = p.campaign_id
		WHERE p.id = $1 AND c.team_id = $2`, id, teamID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get prospect %s for team %s", id, teamID)
	}
	return p, nil
}

func (s *PostgresStore) ListProspectsByStatus(ctx context.Context, campaignID string, status model.ProspectStatus, limit int) ([]model.Prospect, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+prospectColumns+` FROM prospects p
		WHERE p.campaign_id = $1 AND p.status = $2
		ORDER BY p.discovered_at, p.id LIMIT $3`,
		campaignID, string(status), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list prospects")
	}
	defer rows.Close()

	var out []model.Prospect
	for rows.Next() {
		p, err := scanProspect(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan prospect")
		}
		out = append(out, *p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate prospects")
}

// SaveEnrichment merges p's enrichment keys into the stored row. Status only
// moves when the row is still new, so a prospect scored or converted since p
// was loaded keeps its state; p.Status is refreshed from the row.
func (s *PostgresStore) SaveEnrichment(ctx context.Context, p *model.Prospect) error {
	contactJSON, err := json.Marshal(p.ContactInfo)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal contact_info")
	}
	patchJSON, err := marshalObject(enrichmentPatch(p.EnrichmentData))
	if err != nil {
		return eris.Wrap(err, "postgres: marshal enrichment_data")
	}

	var status string
	err = s.pool.QueryRow(ctx,
		`UPDATE prospects SET contact_info = $1,
			enrichment_data = enrichment_data || $2::jsonb,
			enriched_at = $3,
			status = CASE WHEN status = $4 THEN $5 ELSE status END
		WHERE id = $6
		RETURNING status`,
		contactJSON, patchJSON, p.EnrichedAt, string(model.ProspectStatusNew), string(p.Status), p.ID,
	).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound("prospect %s not found", p.ID)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: save enrichment %s", p.ID)
	}
	p.Status = model.ProspectStatus(status)
	return nil
}

func (s *PostgresStore) ApplyScores(ctx context.Context, campaignID string, updates []model.ScoreUpdate) (int, error) {
	if len(updates) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: begin apply scores")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	qualified := 0
	for _, u := range updates {
		breakdownJSON, err := marshalObject(u.Breakdown)
		if err != nil {
			return 0, eris.Wrap(err, "postgres: marshal breakdown")
		}
		tag, err := tx.Exec(ctx,
			`UPDATE prospects SET icp_match_score = $1, quality_score = $2,
				enrichment_data = enrichment_data || jsonb_build_object('score_breakdown', $3::jsonb),
				status = $4
			WHERE id = $5 AND campaign_id = $6 AND status = $7`,
			u.ICPMatchScore, u.QualityScore, breakdownJSON, string(u.Status),
			u.ProspectID, campaignID, string(u.PrevStatus),
		)
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: update scores %s", u.ProspectID)
		}
		if tag.RowsAffected() == 0 {
			return 0, eris.Errorf("postgres: prospect %s not in campaign %s with status %s", u.ProspectID, campaignID, u.PrevStatus)
		}
		if u.BecameQualified() {
			qualified++
		}
	}

	if qualified > 0 {
		if _, err := tx.Exec(ctx,
			`UPDATE campaigns SET qualified_count = qualified_count + $1 WHERE id = $2`,
			qualified, campaignID,
		); err != nil {
			return 0, eris.Wrap(err, "postgres: bump qualified count")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: commit apply scores")
	}
	return qualified, nil
}

func (s *PostgresStore) InsertEnrichmentLog(ctx context.Context, entry *model.EnrichmentLog) error {
	prepareLog(entry, time.Now().UTC())
	_, err := s.pool.Exec(ctx,
		`INSERT INTO enrichment_logs (id, team_id, prospect_id, provider, status, credits_used, request, response, error_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.ID, entry.TeamID, entry.ProspectID, entry.Provider, string(entry.Status),
		entry.CreditsUsed, nullableBytes(entry.Request), nullableBytes(entry.Response),
		entry.ErrorMessage, entry.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert enrichment log")
}

func (s *PostgresStore) CountSuccessfulEnrichments(ctx context.Context, teamID, provider string, since time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM enrichment_logs
		WHERE team_id = $1 AND provider = $2 AND status = 'success' AND created_at >= $3`,
		teamID, provider, since,
	).Scan(&n)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: count %s enrichments", provider)
	}
	return n, nil
}

func (s *PostgresStore) ConvertProspect(ctx context.Context, lead *model.Lead) error {
	enrichJSON, err := prepareLead(lead, time.Now().UTC())
	if err != nil {
		return eris.Wrap(err, "postgres: encode lead")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin convert")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx,
		`UPDATE prospects SET status = $1, converted_to_lead_id = $2
		WHERE id = $3 AND converted_to_lead_id IS NULL`,
		string(model.ProspectStatusConverted), lead.ID, lead.ProspectID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark prospect %s converted", lead.ProspectID)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict("prospect %s has already been converted", lead.ProspectID)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO leads (`+leadColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		lead.ID, lead.TeamID, lead.ProspectID, lead.CampaignID, lead.FirstName, lead.LastName,
		lead.Email, lead.Phone, lead.Company, lead.CompanyURL, lead.JobTitle, lead.Location,
		lead.Source, lead.QualificationScore, enrichJSON, nil, lead.CreatedAt,
	); err != nil {
		return eris.Wrapf(err, "postgres: insert lead for prospect %s", lead.ProspectID)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE campaigns SET converted_count = converted_count + 1 WHERE id = $1`,
		lead.CampaignID,
	); err != nil {
		return eris.Wrap(err, "postgres: bump converted count")
	}

	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "postgres: commit convert")
	}
	return nil
}

func (s *PostgresStore) GetLead(ctx context.Context, id string) (*model.Lead, error) {
	l, err := scanLead(s.pool.QueryRow(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get lead %s", id)
	}
	return l, nil
}

func (s *PostgresStore) SetLeadCRMID(ctx context.Context, leadID, crmID string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE leads SET crm_id = $1 WHERE id = $2`, crmID, leadID)
	if err != nil {
		return eris.Wrapf(err, "postgres: set crm id on lead %s", leadID)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("lead %s not found", leadID)
	}
	return nil
}
