package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/djlord-it/formrelay/internal/channel"
	"github.com/djlord-it/formrelay/internal/dispatcher"
	"github.com/djlord-it/formrelay/internal/domain"
	"github.com/djlord-it/formrelay/internal/eventlog"
	"github.com/djlord-it/formrelay/internal/store/memory"
	bus "github.com/djlord-it/formrelay/internal/transport/channel"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

var fixedNow = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

// recordingExecutor captures the submissions it receives.
type recordingExecutor struct {
	mu   sync.Mutex
	subs []domain.Submission
	err  error
}

func (e *recordingExecutor) Execute(_ context.Context, _ domain.ChannelSettings, sub domain.Submission) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subs = append(e.subs, sub)
	return e.err
}

type testServer struct {
	handler  *Handler
	configs  *memory.ConfigStore
	events   *eventlog.Log
	webhook  *recordingExecutor
	email    *recordingExecutor
	registry *channel.Registry
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		configs: memory.NewConfigStore(),
		events:  eventlog.New(memory.NewEventLog()),
		webhook: &recordingExecutor{},
		email:   &recordingExecutor{err: errors.New("smtp: 421 service not available")},
	}
	ts.registry = channel.NewRegistry().
		Register(domain.ChannelWebhook, ts.webhook).
		Register(domain.ChannelEmail, ts.email)
	d := dispatcher.New(ts.configs, ts.events, ts.registry)
	ts.handler = NewHandler(ts.configs, ts.events, d, zap.NewNop())
	ts.handler.clock = func() time.Time { return fixedNow }
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "formrelay-test/1.0")
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), "body: %s", w.Body.String())
	return v
}

func TestHandler_Health(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode[HealthResponse](t, w).Status)
}

func TestHandler_HealthVerboseDegraded(t *testing.T) {
	ts := newTestServer(t)
	ts.handler.
		WithHealthCheck("config_store", func(context.Context) error { return nil }).
		WithHealthCheck("event_log", func(context.Context) error { return errors.New("redis: connection refused") })

	w := ts.do(t, http.MethodGet, "/health?verbose=true", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	resp := decode[HealthResponse](t, w)
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "healthy", resp.Components["config_store"])
	assert.Contains(t, resp.Components["event_log"], "connection refused")
}

func TestHandler_SaveAndGetIntegration(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPut, "/forms/form-1/integrations/webhook", map[string]any{
		"enabled": true,
		"config": map[string]any{
			"url":     "https://hooks.example.com/in",
			"method":  "PUT",
			"headers": []map[string]string{{"key": "X-Source", "value": "forms"}},
		},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	saved := decode[map[string]any](t, w)
	wantID := domain.ConfigKey{FormID: "form-1", Type: domain.ChannelWebhook}.ID()
	assert.Equal(t, wantID, saved["id"])
	assert.Equal(t, "webhook", saved["type"])
	assert.Equal(t, true, saved["enabled"])

	w = ts.do(t, http.MethodGet, "/forms/form-1/integrations/webhook", nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[map[string]any](t, w)
	cfg := got["config"].(map[string]any)
	assert.Equal(t, "https://hooks.example.com/in", cfg["url"])
	assert.Equal(t, "PUT", cfg["method"])
}

func TestHandler_SaveDefaultsToEnabled(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPut, "/forms/form-1/integrations/email", map[string]any{
		"config": map[string]any{"recipients": []string{"ops@example.com"}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, decode[map[string]any](t, w)["enabled"])
}

func TestHandler_SaveOverwrites(t *testing.T) {
	ts := newTestServer(t)
	path := "/forms/form-1/integrations/email"

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPut, path, map[string]any{
		"config": map[string]any{"recipients": []string{"a@example.com"}, "subject": "First"},
	}).Code)
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPut, path, map[string]any{
		"enabled": false,
		"config":  map[string]any{"recipients": []string{"b@example.com"}},
	}).Code)

	got := decode[map[string]any](t, ts.do(t, http.MethodGet, path, nil))
	assert.Equal(t, false, got["enabled"])
	cfg := got["config"].(map[string]any)
	assert.Equal(t, []any{"b@example.com"}, cfg["recipients"])
	assert.Empty(t, cfg["subject"], "save replaces settings, it does not merge")
}

func TestHandler_SaveValidation(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		body    any
		wantErr string
	}{
		{"unknown type", "/forms/form-1/integrations/carrier-pigeon", map[string]any{"config": map[string]any{}}, "unknown channel type"},
		{"missing config", "/forms/form-1/integrations/webhook", map[string]any{"enabled": true}, "config is required"},
		{"invalid url", "/forms/form-1/integrations/webhook", map[string]any{"config": map[string]any{"url": "ftp://x"}}, "invalid integration config"},
		{"no recipients", "/forms/form-1/integrations/email", map[string]any{"config": map[string]any{"subject": "hi"}}, "recipients"},
		{"bad table", "/forms/form-1/integrations/record-store", map[string]any{"config": map[string]any{"tableName": "leads; DROP TABLE x"}}, "invalid integration config"},
		{"malformed json", "/forms/form-1/integrations/webhook", `{"config":`, "invalid json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			w := ts.do(t, http.MethodPut, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, decode[ErrorResponse](t, w).Error, tt.wantErr)
		})
	}
}

func TestHandler_SaveReservedType(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPut, "/forms/form-1/integrations/payment", map[string]any{
		"config": map[string]any{"provider": "stripe", "currency": "EUR"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	cfg := decode[map[string]any](t, w)["config"].(map[string]any)
	assert.Equal(t, "stripe", cfg["provider"])
}

func TestHandler_GetMissingIs404(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/forms/form-1/integrations/webhook", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, decode[ErrorResponse](t, w).Error, "not found")
}

func TestHandler_Delete(t *testing.T) {
	ts := newTestServer(t)
	path := "/forms/form-1/integrations/webhook"
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPut, path, map[string]any{
		"config": map[string]any{"url": "https://hooks.example.com/in"},
	}).Code)

	assert.Equal(t, http.StatusNoContent, ts.do(t, http.MethodDelete, path, nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodDelete, path, nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, path, nil).Code)
}

func TestHandler_ListEnabledAndAll(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	_, err := ts.configs.Save(ctx, domain.ConfigKey{FormID: "form-1", Type: domain.ChannelWebhook}, true,
		domain.WebhookSettings{URL: "https://hooks.example.com/in"})
	require.NoError(t, err)
	_, err = ts.configs.Save(ctx, domain.ConfigKey{FormID: "form-1", Type: domain.ChannelEmail}, false,
		domain.EmailSettings{Recipients: []string{"ops@example.com"}})
	require.NoError(t, err)
	_, err = ts.configs.Save(ctx, domain.ConfigKey{FormID: "form-2", Type: domain.ChannelEmail}, true,
		domain.EmailSettings{Recipients: []string{"ops@example.com"}})
	require.NoError(t, err)

	enabled := decode[ListIntegrationsResponse](t, ts.do(t, http.MethodGet, "/forms/form-1/integrations", nil))
	require.Len(t, enabled.Integrations, 1)
	assert.Equal(t, domain.ChannelWebhook, enabled.Integrations[0].Type)

	all := decode[map[string][]any](t, ts.do(t, http.MethodGet, "/integrations", nil))
	assert.Len(t, all["integrations"], 3)

	empty := decode[map[string][]any](t, ts.do(t, http.MethodGet, "/forms/unknown/integrations", nil))
	assert.NotNil(t, empty["integrations"])
	assert.Empty(t, empty["integrations"])
}

func TestHandler_SubmitDispatchesSynchronously(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	hook, err := ts.configs.Save(ctx, domain.ConfigKey{FormID: "form-1", Type: domain.ChannelWebhook}, true,
		domain.WebhookSettings{URL: "https://hooks.example.com/in"})
	require.NoError(t, err)
	mail, err := ts.configs.Save(ctx, domain.ConfigKey{FormID: "form-1", Type: domain.ChannelEmail}, true,
		domain.EmailSettings{Recipients: []string{"ops@example.com"}})
	require.NoError(t, err)

	w := ts.do(t, http.MethodPost, "/forms/form-1/submissions", map[string]any{
		"data": map[string]any{"name": "Ada", "email": "ada@example.com"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode[DispatchResponse](t, w)
	assert.Equal(t, "dispatched", resp.Status)
	assert.NotEmpty(t, resp.SubmissionID)
	require.NotNil(t, resp.Result)
	assert.Equal(t, dispatcher.Result{Attempted: 2, Succeeded: 1, Failed: 1}, *resp.Result)

	require.Len(t, ts.webhook.subs, 1)
	sub := ts.webhook.subs[0]
	assert.Equal(t, "form-1", sub.FormID)
	assert.Equal(t, resp.SubmissionID, sub.SubmissionID)
	assert.Equal(t, fixedNow, sub.Timestamp)
	require.NotNil(t, sub.Metadata)
	assert.Equal(t, "formrelay-test/1.0", sub.Metadata.UserAgent)
	assert.NotEmpty(t, sub.Metadata.IP)

	// Failure isolation is visible through the event endpoints.
	events := decode[ListEventsResponse](t, ts.do(t, http.MethodGet, "/integrations/"+mail.ID+"/events", nil))
	require.Len(t, events.Events, 1)
	assert.Equal(t, domain.EventError, events.Events[0].Type)
	assert.Contains(t, events.Events[0].Error, "421")

	stats := decode[StatsResponse](t, ts.do(t, http.MethodGet, "/integrations/"+hook.ID+"/stats", nil))
	assert.Equal(t, hook.ID, stats.IntegrationID)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 100, stats.SuccessRatePercent)
}

func TestHandler_SubmitKeepsCallerFields(t *testing.T) {
	ts := newTestServer(t)
	_, err := ts.configs.Save(context.Background(), domain.ConfigKey{FormID: "form-1", Type: domain.ChannelWebhook}, true,
		domain.WebhookSettings{URL: "https://hooks.example.com/in"})
	require.NoError(t, err)

	w := ts.do(t, http.MethodPost, "/forms/form-1/submissions", `{
		"submissionId": "sub_42",
		"timestamp": "2024-03-01T08:30:00Z",
		"data": {"name": "Grace"},
		"metadata": {"ip": "203.0.113.9", "location": "Lisbon"}
	}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "sub_42", decode[DispatchResponse](t, w).SubmissionID)

	require.Len(t, ts.webhook.subs, 1)
	sub := ts.webhook.subs[0]
	assert.Equal(t, time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC), sub.Timestamp)
	assert.Equal(t, "203.0.113.9", sub.Metadata.IP)
	assert.Equal(t, "Lisbon", sub.Metadata.Location)
}

func TestHandler_SubmitWithoutIntegrations(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/forms/empty-form/submissions", map[string]any{"data": map[string]any{}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, dispatcher.Result{}, *decode[DispatchResponse](t, w).Result)
}

func TestHandler_SubmitRequiresData(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/forms/form-1/submissions", map[string]any{"submissionId": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode[ErrorResponse](t, w).Error, "data is required")
}

func TestHandler_SubmitBodyTooLarge(t *testing.T) {
	ts := newTestServer(t)

	big := `{"data":{"blob":"` + strings.Repeat("x", maxRequestBodySize) + `"}}`
	w := ts.do(t, http.MethodPost, "/forms/form-1/submissions", big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

// mockConfigStore lets tests inject backend failures.
type mockConfigStore struct {
	mock.Mock
}

func (m *mockConfigStore) Save(ctx context.Context, key domain.ConfigKey, enabled bool, s domain.ChannelSettings) (domain.IntegrationConfig, error) {
	args := m.Called(ctx, key, enabled, s)
	return args.Get(0).(domain.IntegrationConfig), args.Error(1)
}

func (m *mockConfigStore) Get(ctx context.Context, key domain.ConfigKey) (domain.IntegrationConfig, error) {
	args := m.Called(ctx, key)
	return args.Get(0).(domain.IntegrationConfig), args.Error(1)
}

func (m *mockConfigStore) Delete(ctx context.Context, key domain.ConfigKey) error {
	return m.Called(ctx, key).Error(0)
}

func (m *mockConfigStore) ListEnabled(ctx context.Context, formID string) ([]domain.IntegrationConfig, error) {
	args := m.Called(ctx, formID)
	return args.Get(0).([]domain.IntegrationConfig), args.Error(1)
}

func (m *mockConfigStore) ListAll(ctx context.Context) ([]domain.IntegrationConfig, error) {
	args := m.Called(ctx)
	return args.Get(0).([]domain.IntegrationConfig), args.Error(1)
}

func TestHandler_PersistenceFailuresAre500(t *testing.T) {
	store := new(mockConfigStore)
	backendErr := domain.PersistenceError("list enabled configs", errors.New("connection refused"))
	store.On("ListEnabled", mock.Anything, "form-1").Return([]domain.IntegrationConfig(nil), backendErr)
	store.On("Save", mock.Anything, mock.Anything, true, mock.Anything).Return(domain.IntegrationConfig{}, backendErr)

	events := eventlog.New(memory.NewEventLog())
	h := NewHandler(store, events, dispatcher.New(store, events, channel.NewRegistry()), zap.NewNop())
	ts := &testServer{handler: h}

	w := ts.do(t, http.MethodPost, "/forms/form-1/submissions", map[string]any{"data": map[string]any{"a": 1}})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "failed to dispatch submission", decode[ErrorResponse](t, w).Error)

	w = ts.do(t, http.MethodPut, "/forms/form-1/integrations/webhook", map[string]any{
		"config": map[string]any{"url": "https://hooks.example.com/in"},
	})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "connection refused")

	store.AssertExpectations(t)
}

func TestHandler_SubmitAsyncEnqueues(t *testing.T) {
	ts := newTestServer(t)
	b := bus.NewSubmissionBus(1, bus.WithEmitTimeout(10*time.Millisecond))
	ts.handler.WithEnqueuer(b)

	w := ts.do(t, http.MethodPost, "/forms/form-1/submissions", map[string]any{"data": map[string]any{"n": 1}})
	require.Equal(t, http.StatusAccepted, w.Code)
	resp := decode[DispatchResponse](t, w)
	assert.Equal(t, "accepted", resp.Status)
	assert.Nil(t, resp.Result)
	assert.Equal(t, 1, b.Len())

	// Buffer is full now.
	w = ts.do(t, http.MethodPost, "/forms/form-1/submissions", map[string]any{"data": map[string]any{"n": 2}})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	queued := <-b.Channel()
	assert.Equal(t, resp.SubmissionID, queued.SubmissionID)
	assert.Empty(t, ts.webhook.subs)
}

func TestHandler_TemplatePreview(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/templates/preview", map[string]any{
		"template": "Hi {{name}}, we got {{formId}} as {{submissionId}} ({{unknown}})",
		"formId":   "contact",
		"data":     map[string]any{"name": "Ada"},
	})
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[PreviewResponse](t, w)
	assert.Equal(t, "Hi Ada, we got contact as preview ({{unknown}})", resp.Rendered)
	assert.Equal(t, []string{"formId", "name", "submissionId", "unknown"}, resp.Placeholders)
}

func TestHandler_UnknownRoute(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/jobs", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not found", decode[ErrorResponse](t, w).Error)
}

func TestHandler_NilLoggerServesRequests(t *testing.T) {
	store := memory.NewConfigStore()
	events := eventlog.New(memory.NewEventLog())
	h := NewHandler(store, events, dispatcher.New(store, events, channel.NewRegistry()), nil)
	ts := &testServer{handler: h}

	w := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodGet, "/forms/form-1/integrations/email", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
