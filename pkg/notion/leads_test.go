package notion

import (
	"context"
	"testing"

	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/danielliuzy/cold-call-machine/internal/model"
)

type MockClient struct {
	mock.Mock
}

func (m *MockClient) QueryDatabase(ctx context.Context, dbID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	args := m.Called(ctx, dbID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.DatabaseQueryResponse), args.Error(1)
}

func (m *MockClient) CreatePage(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.Page), args.Error(1)
}

func (m *MockClient) UpdatePage(ctx context.Context, pageID string, req *notionapi.PageUpdateRequest) (*notionapi.Page, error) {
	args := m.Called(ctx, pageID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.Page), args.Error(1)
}

func TestMockClientSatisfiesInterface(t *testing.T) {
	t.Parallel()
	var _ Client = (*MockClient)(nil)
}

func testLead() model.Lead {
	return model.Lead{
		ID:       "lead-1",
		Name:     "Joe's Pizza",
		Phone:    "+15550100000",
		Website:  "https://joespizza.com",
		City:     "Brooklyn",
		DedupKey: "phone_5550100000",
		Score:    72,
		Status:   model.LeadStatusQueued,
	}
}

func TestLeadProperties(t *testing.T) {
	t.Parallel()

	props := LeadProperties(testLead())

	title, ok := props["Name"].(notionapi.TitleProperty)
	require.True(t, ok)
	assert.Equal(t, "Joe's Pizza", title.Title[0].Text.Content)

	score, ok := props["Score"].(notionapi.NumberProperty)
	require.True(t, ok)
	assert.Equal(t, float64(72), score.Number)

	website, ok := props["Website"].(notionapi.URLProperty)
	require.True(t, ok)
	assert.Equal(t, "https://joespizza.com", website.URL)

	status, ok := props["Status"].(notionapi.SelectProperty)
	require.True(t, ok)
	assert.Equal(t, "queued", status.Select.Name)
}

func TestLeadProperties_NoWebsite(t *testing.T) {
	t.Parallel()

	lead := testLead()
	lead.Website = ""
	props := LeadProperties(lead)
	_, hasWebsite := props["Website"]
	assert.False(t, hasWebsite)
}

func TestExportLead_CreatesWhenMissing(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()

	mc.On("QueryDatabase", ctx, "db-1", mock.MatchedBy(func(req *notionapi.DatabaseQueryRequest) bool {
		pf, ok := req.Filter.(notionapi.PropertyFilter)
		return ok && pf.Property == "Dedup Key" && pf.RichText != nil && pf.RichText.Equals == "phone_5550100000"
	})).Return(&notionapi.DatabaseQueryResponse{}, nil).Once()

	mc.On("CreatePage", ctx, mock.MatchedBy(func(req *notionapi.PageCreateRequest) bool {
		return req.Parent.DatabaseID == notionapi.DatabaseID("db-1")
	})).Return(&notionapi.Page{ID: "page-1"}, nil).Once()

	created, err := ExportLead(ctx, mc, "db-1", testLead())
	require.NoError(t, err)
	assert.True(t, created)
	mc.AssertExpectations(t)
}

func TestExportLead_UpdatesExisting(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()

	mc.On("QueryDatabase", ctx, "db-1", mock.AnythingOfType("*notionapi.DatabaseQueryRequest")).
		Return(&notionapi.DatabaseQueryResponse{
			Results: []notionapi.Page{{ID: "page-9"}},
		}, nil).Once()

	mc.On("UpdatePage", ctx, "page-9", mock.AnythingOfType("*notionapi.PageUpdateRequest")).
		Return(&notionapi.Page{ID: "page-9"}, nil).Once()

	created, err := ExportLead(ctx, mc, "db-1", testLead())
	require.NoError(t, err)
	assert.False(t, created)
	mc.AssertExpectations(t)
}

func TestExportLeads_CountsCreated(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()

	// First lead is new, second already exists.
	mc.On("QueryDatabase", ctx, "db-1", mock.MatchedBy(func(req *notionapi.DatabaseQueryRequest) bool {
		pf, ok := req.Filter.(notionapi.PropertyFilter)
		return ok && pf.RichText.Equals == "phone_5550100000"
	})).Return(&notionapi.DatabaseQueryResponse{}, nil).Once()
	mc.On("CreatePage", ctx, mock.Anything).Return(&notionapi.Page{ID: "page-1"}, nil).Once()

	mc.On("QueryDatabase", ctx, "db-1", mock.MatchedBy(func(req *notionapi.DatabaseQueryRequest) bool {
		pf, ok := req.Filter.(notionapi.PropertyFilter)
		return ok && pf.RichText.Equals == "domain_acme.com"
	})).Return(&notionapi.DatabaseQueryResponse{
		Results: []notionapi.Page{{ID: "page-2"}},
	}, nil).Once()
	mc.On("UpdatePage", ctx, "page-2", mock.Anything).Return(&notionapi.Page{ID: "page-2"}, nil).Once()

	second := testLead()
	second.DedupKey = "domain_acme.com"

	count, err := ExportLeads(ctx, mc, "db-1", []model.Lead{testLead(), second})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	mc.AssertExpectations(t)
}

func TestExportLead_QueryError(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()

	mc.On("QueryDatabase", ctx, "db-1", mock.Anything).Return(nil, assert.AnError).Once()

	_, err := ExportLead(ctx, mc, "db-1", testLead())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "find lead")
	mc.AssertExpectations(t)
}
