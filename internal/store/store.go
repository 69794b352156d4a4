// Package store persists prospects, campaigns, ICPs, enrichment logs, and leads.
package store

import (
	"context"
	"time"

	"github.com/sells-group/prospector/internal/model"
)

// Store defines the persistence interface for the prospecting pipeline.
// Getters return (nil, nil) when the row does not exist.
type Store interface {
	// ICPs and campaigns
	UpsertICP(ctx context.Context, icp *model.ICP) error
	GetICP(ctx context.Context, id string) (*model.ICP, error)
	UpsertCampaign(ctx context.Context, c *model.Campaign) error
	GetCampaign(ctx context.Context, id string) (*model.Campaign, error)

	// Prospects

	// InsertProspects adds prospects to a campaign, skipping any whose
	// (platform, platform_profile_id) already exists, and bumps the campaign's
	// discovered count by the number inserted in the same transaction.
	InsertProspects(ctx context.Context, campaignID string, prospects []model.Prospect) (int, error)
	GetProspect(ctx context.Context, id string) (*model.Prospect, error)
	// GetProspectForTeam resolves a prospect only through a campaign owned by teamID.
	GetProspectForTeam(ctx context.Context, id, teamID string) (*model.Prospect, error)
	ListProspectsByStatus(ctx context.Context, campaignID string, status model.ProspectStatus, limit int) ([]model.Prospect, error)
	// SaveEnrichment writes contact info and merges enrichment keys into
	// p's row. Status changes only while the row is still new, and p.Status
	// is set to the stored value.
	SaveEnrichment(ctx context.Context, p *model.Prospect) error
	// ApplyScores writes every update in one transaction and increments the
	// campaign's qualified count by the prospects that became qualified. It
	// returns that count. Any failure rolls the whole batch back.
	ApplyScores(ctx context.Context, campaignID string, updates []model.ScoreUpdate) (int, error)

	// Enrichment audit
	InsertEnrichmentLog(ctx context.Context, entry *model.EnrichmentLog) error
	CountSuccessfulEnrichments(ctx context.Context, teamID, provider string, since time.Time) (int, error)

	// Leads

	// ConvertProspect inserts lead, marks its prospect converted, and bumps the
	// campaign's converted count atomically. A prospect that already carries a
	// lead id yields an apperr Conflict.
	ConvertProspect(ctx context.Context, lead *model.Lead) error
	GetLead(ctx context.Context, id string) (*model.Lead, error)
	SetLeadCRMID(ctx context.Context, leadID, crmID string) error

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}
