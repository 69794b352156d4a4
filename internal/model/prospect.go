package model

import (
	"strings"
	"time"
)

// ProspectStatus is the lifecycle state of a prospect.
type ProspectStatus string

const (
	ProspectStatusNew       ProspectStatus = "new"
	ProspectStatusEnriched  ProspectStatus = "enriched"
	ProspectStatusQualified ProspectStatus = "qualified"
	ProspectStatusConverted ProspectStatus = "converted"
	ProspectStatusRejected  ProspectStatus = "rejected"
)

// Valid reports whether s is a known prospect status.
func (s ProspectStatus) Valid() bool {
	switch s {
	case ProspectStatusNew, ProspectStatusEnriched, ProspectStatusQualified,
		ProspectStatusConverted, ProspectStatusRejected:
		return true
	}
	return false
}

// ContactInfo holds contact details filled in by enrichment.
type ContactInfo struct {
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// Prospect is a discovered contact that has not yet been promoted to a lead.
// (Platform, PlatformProfileID) is unique.
type Prospect struct {
	ID                string         `json:"id"`
	CampaignID        string         `json:"campaign_id"`
	Platform          string         `json:"platform"`
	PlatformProfileID string         `json:"platform_profile_id"`
	Name              string         `json:"name"`
	Headline          string         `json:"headline,omitempty"`
	Location          string         `json:"location,omitempty"`
	CompanyName       string         `json:"company_name,omitempty"`
	CompanyURL        string         `json:"company_url,omitempty"`
	ProfileURL        string         `json:"profile_url,omitempty"`
	ContactInfo       ContactInfo    `json:"contact_info"`
	ProfileData       map[string]any `json:"profile_data,omitempty"`
	EnrichmentData    map[string]any `json:"enrichment_data,omitempty"`
	ICPMatchScore     *float64       `json:"icp_match_score,omitempty"`
	QualityScore      *float64       `json:"quality_score,omitempty"`
	Status            ProspectStatus `json:"status"`
	ConvertedToLeadID *string        `json:"converted_to_lead_id,omitempty"`
	DiscoveredAt      time.Time      `json:"discovered_at"`
	EnrichedAt        *time.Time     `json:"enriched_at,omitempty"`
}

// Score returns the ICP match score, or 0 when the prospect has not been scored.
func (p *Prospect) Score() float64 {
	if p.ICPMatchScore == nil {
		return 0
	}
	return *p.ICPMatchScore
}

// Bio returns the free-text biography from the raw profile payload, if any.
func (p *Prospect) Bio() string {
	return p.profileString("bio", "summary", "about")
}

// Industry returns the industry declared on the source profile or found by
// enrichment.
func (p *Prospect) Industry() string {
	if v := p.profileString("industry", "company_industry"); v != "" {
		return v
	}
	if company, ok := p.EnrichmentData["company_info"].(map[string]any); ok {
		if s, ok := company["industry"].(string); ok {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

// JobTitle returns the enriched job title, falling back to the headline.
func (p *Prospect) JobTitle() string {
	if s, ok := p.EnrichmentData["job_title"].(string); ok && strings.TrimSpace(s) != "" {
		return strings.TrimSpace(s)
	}
	return p.Headline
}

func (p *Prospect) profileString(keys ...string) string {
	for _, k := range keys {
		if s, ok := p.ProfileData[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

// Campaign groups prospects discovered for a team against one ICP. The
// counters are maintained incrementally alongside prospect transitions.
type Campaign struct {
	ID              string    `json:"id"`
	TeamID          string    `json:"team_id"`
	ICPID           string    `json:"icp_id"`
	Name            string    `json:"name"`
	DiscoveredCount int       `json:"discovered_count"`
	QualifiedCount  int       `json:"qualified_count"`
	ConvertedCount  int       `json:"converted_count"`
	CreatedAt       time.Time `json:"created_at"`
}

// Demographics are person-level ICP criteria.
type Demographics struct {
	Titles    []string `json:"titles" yaml:"titles"`
	Locations []string `json:"locations" yaml:"locations"`
}

// Firmographics are company-level ICP criteria.
type Firmographics struct {
	Industries   []string `json:"industries" yaml:"industries"`
	CompanySizes []string `json:"company_sizes" yaml:"company_sizes"`
}

// ICP is an Ideal Customer Profile. Its embedding lives in the vector index
// under ICPNamespace(TeamID) keyed by ID.
type ICP struct {
	ID            string        `json:"id"`
	TeamID        string        `json:"team_id"`
	Name          string        `json:"name"`
	Demographics  Demographics  `json:"demographics"`
	Firmographics Firmographics `json:"firmographics"`
}

// ICPNamespace returns the vector index namespace holding a team's ICP vectors.
func ICPNamespace(teamID string) string {
	return "team_" + teamID + "_icps"
}

// EnrichmentStatus is the outcome of a single provider attempt.
type EnrichmentStatus string

const (
	EnrichmentSuccess EnrichmentStatus = "success"
	EnrichmentFailed  EnrichmentStatus = "failed"
)

// EnrichmentLog is the append-only audit row written for every provider
// attempt. Successful rows are also the quota usage source.
type EnrichmentLog struct {
	ID           string           `json:"id"`
	TeamID       string           `json:"team_id"`
	ProspectID   string           `json:"prospect_id"`
	Provider     string           `json:"provider"`
	Status       EnrichmentStatus `json:"status"`
	CreditsUsed  int              `json:"credits_used"`
	Request      []byte           `json:"request,omitempty"`
	Response     []byte           `json:"response,omitempty"`
	ErrorMessage string           `json:"error_message,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}

// Lead is a CRM-grade record created only by converting a qualified prospect.
type Lead struct {
	ID                 string         `json:"id"`
	TeamID             string         `json:"team_id"`
	ProspectID         string         `json:"prospect_id"`
	CampaignID         string         `json:"campaign_id"`
	FirstName          string         `json:"first_name"`
	LastName           string         `json:"last_name,omitempty"`
	Email              string         `json:"email,omitempty"`
	Phone              string         `json:"phone,omitempty"`
	Company            string         `json:"company,omitempty"`
	CompanyURL         string         `json:"company_url,omitempty"`
	JobTitle           string         `json:"job_title,omitempty"`
	Location           string         `json:"location,omitempty"`
	Source             string         `json:"source"`
	QualificationScore float64        `json:"qualification_score"`
	EnrichmentData     map[string]any `json:"enrichment_data,omitempty"`
	CRMID              string         `json:"crm_id,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
}

// ScoreUpdate is one prospect's freshly computed scores, persisted as a unit.
// PrevStatus is the status the scores were computed against; the write is
// rejected if the stored status has moved on.
type ScoreUpdate struct {
	ProspectID    string         `json:"prospect_id"`
	ICPMatchScore float64        `json:"icp_match_score"`
	QualityScore  float64        `json:"quality_score"`
	Breakdown     map[string]any `json:"breakdown"`
	PrevStatus    ProspectStatus `json:"prev_status"`
	Status        ProspectStatus `json:"status"`
}

// BecameQualified reports whether applying u moves the prospect into qualified.
func (u ScoreUpdate) BecameQualified() bool {
	return u.Status == ProspectStatusQualified && u.PrevStatus != ProspectStatusQualified
}

// SplitName splits a full name on whitespace. One token yields a first name
// only; with three or more tokens everything after the first is the last name.
func SplitName(full string) (first, last string) {
	parts := strings.Fields(full)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	default:
		return parts[0], strings.Join(parts[1:], " ")
	}
}

// Enrichment provider names as recorded in enrichment logs.
const (
	ProviderApollo = "apollo" // high-fidelity people match
	ProviderHunter = "hunter" // budget email finder
)
