package conversion

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/pkg/salesforce"
)

const (
	// placeholderCompany fills the Company field Salesforce requires on a Lead.
	placeholderCompany = "[not provided]"
	hotRating          = 0.85
)

// SalesforceCRM pushes leads into Salesforce as Lead records.
type SalesforceCRM struct {
	client salesforce.Client
}

// NewSalesforceCRM creates a CRM backed by a Salesforce client.
func NewSalesforceCRM(client salesforce.Client) *SalesforceCRM {
	return &SalesforceCRM{client: client}
}

// PushLead creates the Salesforce lead, or updates the open lead already
// carrying the same email, and returns its Salesforce ID.
func (c *SalesforceCRM) PushLead(ctx context.Context, lead *model.Lead) (string, error) {
	fields := LeadFields(lead)

	existing, err := salesforce.FindLeadByEmail(ctx, c.client, lead.Email)
	if err != nil {
		return "", eris.Wrap(err, "crm: find existing lead")
	}
	if existing != nil {
		if err := salesforce.UpdateLead(ctx, c.client, existing.ID, fields); err != nil {
			return "", eris.Wrap(err, "crm: update lead")
		}
		return existing.ID, nil
	}

	id, err := salesforce.CreateLead(ctx, c.client, fields)
	if err != nil {
		return "", eris.Wrap(err, "crm: create lead")
	}
	return id, nil
}

// PushLeads creates leads through the collections API. The returned IDs are
// aligned with leads; failed records have an empty ID.
func (c *SalesforceCRM) PushLeads(ctx context.Context, leads []*model.Lead) ([]string, error) {
	records := make([]map[string]any, len(leads))
	for i, l := range leads {
		records[i] = LeadFields(l)
	}

	results, err := salesforce.BulkCreateLeads(ctx, c.client, records)
	ids := make([]string, len(leads))
	for i, r := range results {
		if r.Success {
			ids[i] = r.ID
		}
	}
	if err != nil {
		return ids, eris.Wrap(err, "crm: bulk create leads")
	}
	return ids, nil
}

// LeadFields maps a lead onto Salesforce Lead fields.
func LeadFields(lead *model.Lead) map[string]any {
	last := lead.LastName
	first := lead.FirstName
	if last == "" {
		last, first = first, ""
	}
	company := lead.Company
	if company == "" {
		company = placeholderCompany
	}

	fields := map[string]any{
		"LastName":      last,
		"Company":       company,
		"LeadSource":    lead.Source,
		"Rating":        rating(lead.QualificationScore),
		"Lead_Score__c": lead.QualificationScore,
	}
	optional := map[string]string{
		"FirstName": first,
		"Email":     lead.Email,
		"Phone":     lead.Phone,
		"Title":     lead.JobTitle,
		"Website":   lead.CompanyURL,
	}
	for k, v := range optional {
		if v != "" {
			fields[k] = v
		}
	}
	return fields
}

func rating(score float64) string {
	if score >= hotRating {
		return "Hot"
	}
	return "Warm"
}
