package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/prospector/internal/model"
)

type scannable interface {
	Scan(dest ...any) error
}

const prospectColumns = `p.id, p.campaign_id, p.platform, p.platform_profile_id, p.name, p.headline,
	p.location, p.company_name, p.company_url, p.profile_url, p.contact_info, p.profile_data,
	p.enrichment_data, p.icp_match_score, p.quality_score, p.status, p.converted_to_lead_id,
	p.discovered_at, p.enriched_at`

// prospectInsertColumns is the column order used by both backends' inserts.
var prospectInsertColumns = []string{
	"id", "campaign_id", "platform", "platform_profile_id", "name", "headline",
	"location", "company_name", "company_url", "profile_url", "contact_info",
	"profile_data", "enrichment_data", "status", "discovered_at",
}

const leadColumns = `id, team_id, prospect_id, campaign_id, first_name, last_name, email, phone,
	company, company_url, job_title, location, source, qualification_score, enrichment_data,
	crm_id, created_at`

func scanProspect(row scannable) (*model.Prospect, error) {
	var p model.Prospect
	var status string
	var contactJSON, profileJSON, enrichJSON []byte

	err := row.Scan(
		&p.ID, &p.CampaignID, &p.Platform, &p.PlatformProfileID, &p.Name, &p.Headline,
		&p.Location, &p.CompanyName, &p.CompanyURL, &p.ProfileURL, &contactJSON, &profileJSON,
		&enrichJSON, &p.ICPMatchScore, &p.QualityScore, &status, &p.ConvertedToLeadID,
		&p.DiscoveredAt, &p.EnrichedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Status = model.ProspectStatus(status)

	if len(contactJSON) > 0 {
		if err := json.Unmarshal(contactJSON, &p.ContactInfo); err != nil {
			return nil, eris.Wrap(err, "unmarshal contact_info")
		}
	}
	if p.ProfileData, err = unmarshalObject(profileJSON); err != nil {
		return nil, eris.Wrap(err, "unmarshal profile_data")
	}
	if p.EnrichmentData, err = unmarshalObject(enrichJSON); err != nil {
		return nil, eris.Wrap(err, "unmarshal enrichment_data")
	}
	return &p, nil
}

func scanLead(row scannable) (*model.Lead, error) {
	var l model.Lead
	var enrichJSON []byte
	var crmID *string

	err := row.Scan(
		&l.ID, &l.TeamID, &l.ProspectID, &l.CampaignID, &l.FirstName, &l.LastName, &l.Email,
		&l.Phone, &l.Company, &l.CompanyURL, &l.JobTitle, &l.Location, &l.Source,
		&l.QualificationScore, &enrichJSON, &crmID, &l.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if crmID != nil {
		l.CRMID = *crmID
	}
	if l.EnrichmentData, err = unmarshalObject(enrichJSON); err != nil {
		return nil, eris.Wrap(err, "unmarshal enrichment_data")
	}
	return &l, nil
}

func decodeICP(icp *model.ICP, demoJSON, firmoJSON []byte) error {
	if len(demoJSON) > 0 {
		if err := json.Unmarshal(demoJSON, &icp.Demographics); err != nil {
			return eris.Wrap(err, "unmarshal demographics")
		}
	}
	if len(firmoJSON) > 0 {
		if err := json.Unmarshal(firmoJSON, &icp.Firmographics); err != nil {
			return eris.Wrap(err, "unmarshal firmographics")
		}
	}
	return nil
}

// scoreBreakdownKey is the enrichment_data key owned by ApplyScores.
const scoreBreakdownKey = "score_breakdown"

// enrichmentPatch is the part of enrichment_data an enrichment write may
// replace: every top-level key except the score breakdown.
func enrichmentPatch(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if k != scoreBreakdownKey {
			out[k] = v
		}
	}
	return out
}

// marshalObject encodes m as a JSON object, writing {} for a nil map.
func marshalObject(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func unmarshalObject(data []byte) (map[string]any, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// prospectInsertRow fills defaults on p and returns its values in
// prospectInsertColumns order. JSON columns are returned as []byte.
func prospectInsertRow(campaignID string, p *model.Prospect, now time.Time) ([]any, error) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	p.CampaignID = campaignID
	if p.Status == "" {
		p.Status = model.ProspectStatusNew
	}
	if p.DiscoveredAt.IsZero() {
		p.DiscoveredAt = now
	}

	contactJSON, err := json.Marshal(p.ContactInfo)
	if err != nil {
		return nil, eris.Wrap(err, "marshal contact_info")
	}
	profileJSON, err := marshalObject(p.ProfileData)
	if err != nil {
		return nil, eris.Wrap(err, "marshal profile_data")
	}
	enrichJSON, err := marshalObject(p.EnrichmentData)
	if err != nil {
		return nil, eris.Wrap(err, "marshal enrichment_data")
	}

	return []any{
		p.ID, p.CampaignID, p.Platform, p.PlatformProfileID, p.Name, p.Headline,
		p.Location, p.CompanyName, p.CompanyURL, p.ProfileURL, contactJSON,
		profileJSON, enrichJSON, string(p.Status), p.DiscoveredAt,
	}, nil
}

// prepareLead assigns an id and creation time when missing and returns the
// encoded enrichment snapshot.
func prepareLead(lead *model.Lead, now time.Time) ([]byte, error) {
	if lead.ID == "" {
		lead.ID = uuid.New().String()
	}
	if lead.CreatedAt.IsZero() {
		lead.CreatedAt = now
	}
	enrichJSON, err := marshalObject(lead.EnrichmentData)
	if err != nil {
		return nil, eris.Wrap(err, "marshal lead enrichment_data")
	}
	return enrichJSON, nil
}

func nullableBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

func prepareLog(entry *model.EnrichmentLog, now time.Time) {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
}
