package channel

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/djlord-it/formrelay/internal/domain"
	"github.com/djlord-it/formrelay/internal/testutil"
)

func TestChatWebhook_PostsRenderedMessage(t *testing.T) {
	var got ChatMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	settings := domain.ChatWebhookSettings{
		WebhookURL: server.URL,
		Channel:    "#leads",
		Username:   "formrelay",
		Icon:       ":inbox_tray:",
		Template:   "{{name}} signed up on {{formId}}",
	}
	sub := testutil.NewSubmission("form-1", map[string]any{"name": "Ann"})

	err := NewChatWebhook(nil).Execute(testutil.TestContext(t), settings, sub)
	require.NoError(t, err)
	assert.Equal(t, ChatMessage{
		Channel:  "#leads",
		Username: "formrelay",
		Icon:     ":inbox_tray:",
		Text:     "Ann signed up on form-1",
	}, got)
}

func TestChatWebhook_PayloadShapeIsFixed(t *testing.T) {
	var raw map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &raw)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	err := NewChatWebhook(nil).Execute(testutil.TestContext(t), domain.ChatWebhookSettings{WebhookURL: server.URL}, testutil.NewSubmission("form-1", nil))
	require.NoError(t, err)
	assert.Len(t, raw, 4)
	for _, k := range []string{"channel", "username", "icon", "text"} {
		assert.Contains(t, raw, k)
	}
	assert.Contains(t, raw["text"], "New submission for Form (sub_123)")
}

func TestChatWebhook_NonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusFound)
	}))
	defer server.Close()

	err := NewChatWebhook(nil).Execute(testutil.TestContext(t), domain.ChatWebhookSettings{WebhookURL: server.URL}, testutil.NewSubmission("form-1", nil))

	var ce *domain.ChannelError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, domain.KindChatAPI, ce.Kind)
	assert.Equal(t, http.StatusFound, ce.StatusCode)
}

func TestAutomationWebhook_PostsRawSubmission(t *testing.T) {
	var got domain.Submission
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	sub := testutil.NewSubmission("form-1", map[string]any{"note": "{{submissionId}} stays literal"})
	sub.Metadata = &domain.Metadata{IP: "10.0.0.1"}

	err := NewAutomationWebhook(nil).Execute(testutil.TestContext(t), domain.AutomationWebhookSettings{WebhookURL: server.URL}, sub)
	require.NoError(t, err)
	assert.Equal(t, "form-1", got.FormID)
	assert.Equal(t, "sub_123", got.SubmissionID)
	assert.Equal(t, "{{submissionId}} stays literal", got.Data["note"])
	require.NotNil(t, got.Metadata)
	assert.Equal(t, "10.0.0.1", got.Metadata.IP)
	assert.True(t, sub.Timestamp.Equal(got.Timestamp))
}

func TestAutomationWebhook_NonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	err := NewAutomationWebhook(nil).Execute(testutil.TestContext(t), domain.AutomationWebhookSettings{WebhookURL: server.URL}, testutil.NewSubmission("form-1", nil))

	var ce *domain.ChannelError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, domain.KindAutomation, ce.Kind)
	assert.Equal(t, 500, ce.StatusCode)
	assert.True(t, ce.Retryable())
}
