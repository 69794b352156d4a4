package salesforce

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateLead(t *testing.T) {
	var gotObject string
	var gotFields map[string]any
	mock := &mockClient{
		insertOneFn: func(_ context.Context, sObject string, record map[string]any) (string, error) {
			gotObject = sObject
			gotFields = record
			return "00Qabc", nil
		},
	}

	id, err := CreateLead(context.Background(), mock, map[string]any{
		"FirstName": "Jane",
		"LastName":  "Doe",
		"Company":   "Acme",
	})
	require.NoError(t, err)
	assert.Equal(t, "00Qabc", id)
	assert.Equal(t, "Lead", gotObject)
	assert.Equal(t, "Jane", gotFields["FirstName"])
}

func TestCreateLead_RequiredFields(t *testing.T) {
	var called bool
	mock := &mockClient{
		insertOneFn: func(context.Context, string, map[string]any) (string, error) {
			called = true
			return "", nil
		},
	}

	_, err := CreateLead(context.Background(), mock, map[string]any{"Company": "Acme"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LastName is required")

	_, err = CreateLead(context.Background(), mock, map[string]any{"LastName": "Doe", "Company": "  "})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Company is required")
	assert.False(t, called)
}

func TestCreateLead_InsertError(t *testing.T) {
	mock := &mockClient{
		insertOneFn: func(context.Context, string, map[string]any) (string, error) {
			return "", errors.New("boom")
		},
	}
	_, err := CreateLead(context.Background(), mock, map[string]any{"LastName": "Doe", "Company": "Acme"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sf: create lead")
}

func TestUpdateLead(t *testing.T) {
	var gotID string
	mock := &mockClient{
		updateOneFn: func(_ context.Context, sObject, id string, _ map[string]any) error {
			assert.Equal(t, "Lead", sObject)
			gotID = id
			return nil
		},
	}

	require.NoError(t, UpdateLead(context.Background(), mock, "00Q1", map[string]any{"Rating": "Hot"}))
	assert.Equal(t, "00Q1", gotID)

	assert.Error(t, UpdateLead(context.Background(), mock, "", map[string]any{"Rating": "Hot"}))
	assert.Error(t, UpdateLead(context.Background(), mock, "00Q1", nil))
}

func TestFindLeadByEmail(t *testing.T) {
	var gotSOQL string
	mock := &mockClient{
		queryFn: func(_ context.Context, soql string, out any) error {
			gotSOQL = soql
			leads := out.(*[]Lead)
			*leads = []Lead{{ID: "00Q9", Email: "o'brien@acme.io", LastName: "O'Brien"}}
			return nil
		},
	}

	lead, err := FindLeadByEmail(context.Background(), mock, "o'brien@acme.io")
	require.NoError(t, err)
	require.NotNil(t, lead)
	assert.Equal(t, "00Q9", lead.ID)
	assert.Contains(t, gotSOQL, "FROM Lead WHERE Email = 'o\\'brien@acme.io'")
	assert.Contains(t, gotSOQL, "IsConverted = false")
}

func TestFindLeadByEmail_NotFound(t *testing.T) {
	mock := &mockClient{
		queryFn: func(context.Context, string, any) error { return nil },
	}
	lead, err := FindLeadByEmail(context.Background(), mock, "nobody@acme.io")
	require.NoError(t, err)
	assert.Nil(t, lead)
}

func TestFindLeadByEmail_BlankSkipsQuery(t *testing.T) {
	mock := &mockClient{
		queryFn: func(context.Context, string, any) error {
			t.Fatal("query should not run")
			return nil
		},
	}
	lead, err := FindLeadByEmail(context.Background(), mock, "  ")
	require.NoError(t, err)
	assert.Nil(t, lead)
}

func TestFindLeadByEmail_QueryError(t *testing.T) {
	mock := &mockClient{
		queryFn: func(context.Context, string, any) error { return errors.New("bad soql") },
	}
	_, err := FindLeadByEmail(context.Background(), mock, "a@b.io")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "find lead by email")
}

func TestEscapeSoql(t *testing.T) {
	assert.Equal(t, "O\\'Brien", escapeSoql("O'Brien"))
	assert.Equal(t, "plain", escapeSoql("plain"))
}
