package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/danielliuzy/cold-call-machine/internal/call"
	"github.com/danielliuzy/cold-call-machine/internal/classify"
	"github.com/danielliuzy/cold-call-machine/internal/discovery"
	"github.com/danielliuzy/cold-call-machine/internal/lead"
	"github.com/danielliuzy/cold-call-machine/internal/model"
	"github.com/danielliuzy/cold-call-machine/internal/store"
	"github.com/danielliuzy/cold-call-machine/pkg/places"
	"github.com/danielliuzy/cold-call-machine/pkg/vapi"
)

type MockVapi struct {
	mock.Mock
}

func (m *MockVapi) CreateCall(ctx context.Context, req vapi.CreateCallRequest) (*vapi.Call, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*vapi.Call), args.Error(1)
}

func (m *MockVapi) GetCall(ctx context.Context, callID string) (*vapi.Call, error) {
	args := m.Called(ctx, callID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*vapi.Call), args.Error(1)
}

func (m *MockVapi) ListCalls(ctx context.Context, query url.Values) ([]vapi.Call, error) {
	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]vapi.Call), args.Error(1)
}

func (m *MockVapi) CreateAssistant(ctx context.Context, req vapi.CreateAssistantRequest) (*vapi.Assistant, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*vapi.Assistant), args.Error(1)
}

func (m *MockVapi) DeleteAssistant(ctx context.Context, assistantID string) error {
	return m.Called(ctx, assistantID).Error(0)
}

var _ vapi.Client = (*MockVapi)(nil)

type MockPlaces struct {
	mock.Mock
}

func (m *MockPlaces) SearchText(ctx context.Context, query string, opts ...places.SearchOption) ([]places.Place, error) {
	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]places.Place), args.Error(1)
}

var _ places.Client = (*MockPlaces)(nil)

type env struct {
	store  *store.SQLiteStore
	vapi   *MockVapi
	places *MockPlaces
	server *Server
}

func newTestEnv(t *testing.T) *env {
	t.Helper()

	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))

	mockVapi := &MockVapi{}
	mockPlaces := &MockPlaces{}

	machine := call.NewMachine(s, call.NewOutcomeClassifier(nil, ""))
	d := discovery.New(s, mockPlaces, nil, lead.NewScorer(nil, ""), discovery.Config{})
	classifier := classify.New(nil, "")

	return &env{
		store:  s,
		vapi:   mockVapi,
		places: mockPlaces,
		server: New(s, machine, d, classifier, mockVapi),
	}
}

func (e *env) seedCall(t *testing.T) (leadID, providerCallID string) {
	t.Helper()
	ctx := context.Background()

	b, err := e.store.CreateBusiness(ctx, model.Business{
		SourceURL: "https://acmeplumbing.example",
		Name:      "Acme Plumbing",
	})
	require.NoError(t, err)

	l, err := e.store.UpsertLead(ctx, model.Lead{
		BusinessID: b.ID,
		Name:       "Joe's Pizza",
		Phone:      "(718) 555-0100",
		Address:    "123 Main St",
		City:       "Brooklyn",
		DedupKey:   "phone_7185550100",
		Status:     model.LeadStatusCalling,
	})
	require.NoError(t, err)

	c, err := e.store.CreateCall(ctx, model.Call{
		BusinessID:     b.ID,
		LeadID:         l.ID,
		ProviderCallID: "vapi_call_1",
		Status:         model.CallStatusInitiated,
	})
	require.NoError(t, err)
	return l.ID, c.ProviderCallID
}

func TestHealth(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	rec := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestWebhookBadJSON(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhook/vapi", strings.NewReader("{nope"))
	e.server.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookUnknownTypeReturns200(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhook/vapi",
		strings.NewReader(`{"type": "speech.update", "call": {"id": "whatever"}}`))
	e.server.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebhookUnknownCallReturns500(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	e.seedCall(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhook/vapi",
		strings.NewReader(`{"type": "call.started", "call": {"id": "desynced_call"}}`))
	e.server.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestWebhookLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	e := newTestEnv(t)
	leadID, providerID := e.seedCall(t)
	router := e.server.Router()

	post := func(body string) int {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook/vapi", strings.NewReader(body)))
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, post(`{"type": "call.started", "call": {"id": "`+providerID+`"}}`))
	assert.Equal(t, http.StatusOK, post(`{"type": "transcript.completed", "call": {"id": "`+providerID+`"}, "transcript": {"text": "sure, tell me more"}}`))
	assert.Equal(t, http.StatusOK, post(`{"type": "call.ended", "call": {"id": "`+providerID+`", "duration": 120, "recordingUrl": "https://rec.example/1.mp3"}}`))

	c, err := e.store.GetCallByProviderID(ctx, providerID)
	require.NoError(t, err)
	assert.Equal(t, model.CallStatusEnded, c.Status)
	assert.Equal(t, model.OutcomeInterested, c.Outcome)
	assert.InDelta(t, 0.1, c.CostUSD, 1e-9)

	l, err := e.store.GetLead(ctx, leadID)
	require.NoError(t, err)
	assert.Equal(t, model.LeadStatusReached, l.Status)
}

func TestGetCallProxy(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	e.vapi.On("GetCall", mock.Anything, "call-1").
		Return(&vapi.Call{ID: "call-1", Status: "ended"}, nil)

	rec := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/call/calls/call-1", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var c vapi.Call
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &c))
	assert.Equal(t, "call-1", c.ID)
}

func TestGetCallProxyTranslatesProviderErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		provider   int
		wantStatus int
		wantBody   string
	}{
		{"unauthorized", http.StatusUnauthorized, http.StatusUnauthorized, "Unauthorized"},
		{"not found", http.StatusNotFound, http.StatusNotFound, "Not Found"},
		{"rate limited", http.StatusTooManyRequests, http.StatusTooManyRequests, "Too Many Requests"},
		{"passthrough", http.StatusConflict, http.StatusConflict, `{"message":"conflict"}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			e := newTestEnv(t)
			e.vapi.On("GetCall", mock.Anything, "call-1").
				Return(nil, &vapi.APIError{StatusCode: tc.provider, Body: `{"message":"conflict"}`})

			rec := httptest.NewRecorder()
			e.server.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/call/calls/call-1", nil))

			assert.Equal(t, tc.wantStatus, rec.Code)
			assert.Contains(t, rec.Body.String(), tc.wantBody)
		})
	}
}

func TestListCallsProxyForwardsQuery(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	e.vapi.On("ListCalls", mock.Anything, mock.MatchedBy(func(q url.Values) bool {
		return q.Get("assistantId") == "asst-1"
	})).Return([]vapi.Call{{ID: "call-1"}}, nil)

	rec := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/call/calls?assistantId=asst-1", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var calls []vapi.Call
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &calls))
	require.Len(t, calls, 1)
	e.vapi.AssertExpectations(t)
}

func TestListCallsProxyBadGatewayOnTransportError(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	e.vapi.On("ListCalls", mock.Anything, mock.Anything).Return(nil, assert.AnError)

	rec := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/call/calls", nil))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestAnalyzeCompanyLeadsRequiresURL(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)

	for _, body := range []string{"{nope", "{}", `{"companyUrl": ""}`} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/leads/analyze-company-leads", strings.NewReader(body))
		e.server.Router().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "body %q", body)
	}
}

func TestAnalyzeCompanyLeadsStreamsNDJSON(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	e := newTestEnv(t)
	// The nil-model classifier profiles from the URL; any query works.
	e.places.On("SearchText", mock.Anything, mock.Anything).Return([]places.Place{
		{
			ID:               "pl_1",
			DisplayName:      places.Text{Text: "Joe's Pizza"},
			FormattedAddress: "123 Main St, Brooklyn, NY",
			NationalPhone:    "(718) 555-0100",
			Rating:           4.5,
			UserRatingCount:  120,
		},
		{
			ID:               "pl_2",
			DisplayName:      places.Text{Text: "Joe's Pizza Duplicate"},
			FormattedAddress: "123 Main St, Brooklyn, NY",
			NationalPhone:    "+1 718-555-0100",
		},
		{
			ID:               "pl_3",
			DisplayName:      places.Text{Text: "Maria's Tacos"},
			FormattedAddress: "456 Oak Ave, Brooklyn, NY",
			NationalPhone:    "(718) 555-0101",
		},
	}, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/leads/analyze-company-leads",
		strings.NewReader(`{"companyUrl": "https://acmeplumbing.example"}`))
	e.server.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))

	var streamed []model.Lead
	sc := bufio.NewScanner(rec.Body)
	for sc.Scan() {
		if strings.TrimSpace(sc.Text()) == "" {
			continue
		}
		var l model.Lead
		require.NoError(t, json.Unmarshal([]byte(sc.Text()), &l))
		streamed = append(streamed, l)
	}
	require.Len(t, streamed, 3, "duplicates still stream, they just collapse in storage")

	// Same phone across discovery hits collapses to one stored record.
	stored, err := e.store.ListLeads(ctx, store.LeadFilter{})
	require.NoError(t, err)
	require.Len(t, stored, 2)
	seen := map[string]bool{}
	for _, l := range stored {
		assert.False(t, seen[l.DedupKey], "dedup keys are pairwise distinct")
		seen[l.DedupKey] = true
	}
}

func TestWebhookSecretGuard(t *testing.T) {
	t.Parallel()

	srv := New(nil, nil, nil, nil, nil, WithWebhookSecret("s3cret"))
	router := srv.Router()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhook/vapi", strings.NewReader("{nope"))
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/webhook/vapi", strings.NewReader("{nope"))
	req.Header.Set("x-vapi-secret", "wrong")
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// With the right secret the request reaches the decoder.
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/webhook/vapi", strings.NewReader("{nope"))
	req.Header.Set("x-vapi-secret", "s3cret")
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
