package salesforce

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
)

// maxBatchSize is the Salesforce Collections API limit per request.
const maxBatchSize = 200

// BulkCreateLeads splits records into batches of 200 (SF Collections API
// limit) and inserts them as Leads. Results are in input order. Records
// missing required fields fail locally without being sent.
func BulkCreateLeads(ctx context.Context, c Client, records []map[string]any) ([]CollectionResult, error) {
	if len(records) == 0 {
		return nil, nil
	}

	results := make([]CollectionResult, len(records))
	var sendIdx []int
	var send []map[string]any
	for i, r := range records {
		if err := requireLeadFields(r); err != nil {
			results[i] = CollectionResult{Errors: []string{err.Error()}}
			continue
		}
		sendIdx = append(sendIdx, i)
		send = append(send, r)
	}

	for start := 0; start < len(send); start += maxBatchSize {
		end := min(start+maxBatchSize, len(send))

		batch, err := c.InsertCollection(ctx, "Lead", send[start:end])
		if err != nil {
			return results, eris.Wrap(err, fmt.Sprintf("sf: bulk create leads batch %d-%d", start, end))
		}
		if len(batch) != end-start {
			return results, eris.New(fmt.Sprintf("sf: bulk create leads batch %d-%d: got %d results", start, end, len(batch)))
		}
		for j, r := range batch {
			results[sendIdx[start+j]] = r
		}
	}

	return results, nil
}
