package salesforce

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// Lead is a Salesforce Lead record.
type Lead struct {
	ID         string  `json:"Id" salesforce:"Id"`
	FirstName  string  `json:"FirstName" salesforce:"FirstName"`
	LastName   string  `json:"LastName" salesforce:"LastName"`
	Email      string  `json:"Email" salesforce:"Email"`
	Phone      string  `json:"Phone" salesforce:"Phone"`
	Company    string  `json:"Company" salesforce:"Company"`
	Title      string  `json:"Title" salesforce:"Title"`
	Website    string  `json:"Website" salesforce:"Website"`
	City       string  `json:"City" salesforce:"City"`
	LeadSource string  `json:"LeadSource" salesforce:"LeadSource"`
	Rating     string  `json:"Rating" salesforce:"Rating"`
	Status     string  `json:"Status" salesforce:"Status"`
	Score      float64 `json:"Lead_Score__c" salesforce:"Lead_Score__c"`
}

// leadFields are the SOQL fields selected for Lead queries.
var leadFields = []string{
	"Id", "FirstName", "LastName", "Email", "Phone", "Company",
	"Title", "Website", "City", "LeadSource", "Rating", "Status",
}

// CreateLead creates a Lead and returns its Salesforce ID. LastName and
// Company are required by Salesforce.
func CreateLead(ctx context.Context, c Client, fields map[string]any) (string, error) {
	if err := requireLeadFields(fields); err != nil {
		return "", err
	}
	id, err := c.InsertOne(ctx, "Lead", fields)
	if err != nil {
		return "", eris.Wrap(err, "sf: create lead")
	}
	return id, nil
}

// UpdateLead updates a Lead record with the given fields.
func UpdateLead(ctx context.Context, c Client, leadID string, fields map[string]any) error {
	if leadID == "" {
		return eris.New("sf: lead id is required")
	}
	if len(fields) == 0 {
		return eris.New("sf: no fields to update")
	}
	if err := c.UpdateOne(ctx, "Lead", leadID, fields); err != nil {
		return eris.Wrap(err, fmt.Sprintf("sf: update lead %s", leadID))
	}
	return nil
}

// FindLeadByEmail returns the Lead with the given email, or nil if none exists.
func FindLeadByEmail(ctx context.Context, c Client, email string) (*Lead, error) {
	if strings.TrimSpace(email) == "" {
		return nil, nil
	}
	soql := fmt.Sprintf(
		"SELECT %s FROM Lead WHERE Email = '%s' AND IsConverted = false LIMIT 1",
		strings.Join(leadFields, ", "),
		escapeSoql(email),
	)

	var leads []Lead
	if err := c.Query(ctx, soql, &leads); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("sf: find lead by email %s", email))
	}
	if len(leads) == 0 {
		return nil, nil
	}
	return &leads[0], nil
}

func requireLeadFields(fields map[string]any) error {
	for _, k := range []string{"LastName", "Company"} {
		if s, _ := fields[k].(string); strings.TrimSpace(s) == "" {
			return eris.New(fmt.Sprintf("sf: lead %s is required", k))
		}
	}
	return nil
}

// escapeSoql escapes single quotes in SOQL string literals to prevent injection.
func escapeSoql(s string) string {
	return strings.ReplaceAll(s, "'", "\\'")
}
