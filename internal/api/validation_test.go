package api

import (
	"errors"
	"strings"
	"testing"

	"github.com/djlord-it/formrelay/internal/domain"
)

func TestParseChannelType(t *testing.T) {
	for _, raw := range []string{"email", "webhook", "chat-webhook", "automation-webhook", "record-store", "spreadsheet-sink", "crm-sync", "mailing-list", "payment"} {
		if _, err := parseChannelType(raw); err != nil {
			t.Errorf("parseChannelType(%q) returned error: %v", raw, err)
		}
	}

	_, err := parseChannelType("sms")
	if !errors.Is(err, domain.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestDecodeSettings(t *testing.T) {
	tests := []struct {
		name    string
		typ     domain.ChannelType
		raw     string
		wantErr string
	}{
		{"valid chat", domain.ChannelChatWebhook, `{"webhookUrl":"https://chat.example.com/hook","channel":"#leads"}`, ""},
		{"valid sheet", domain.ChannelSpreadsheet, `{"spreadsheetId":"abc","worksheetName":"Leads"}`, ""},
		{"reserved passthrough", domain.ChannelCRMSync, `{"anything":true}`, ""},
		{"empty", domain.ChannelWebhook, ``, "config is required"},
		{"null", domain.ChannelWebhook, `null`, "config is required"},
		{"wrong shape", domain.ChannelEmail, `{"recipients":"ops@example.com"}`, "decode email settings"},
		{"missing sheet id", domain.ChannelSpreadsheet, `{"worksheetName":"Leads"}`, "spreadsheetId is required"},
		{"relative url", domain.ChannelAutomationWebhook, `{"webhookUrl":"/hooks/1"}`, "automation-webhook"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := decodeSettings(tt.typ, []byte(tt.raw))
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if s.ChannelType() != tt.typ {
					t.Errorf("expected %s settings, got %s", tt.typ, s.ChannelType())
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !errors.Is(err, domain.ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q should contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidateSubmission(t *testing.T) {
	if err := validateSubmission(SubmissionRequest{Data: map[string]any{}}); err != nil {
		t.Errorf("empty data map is valid, got %v", err)
	}
	if err := validateSubmission(SubmissionRequest{}); err == nil {
		t.Error("missing data should be rejected")
	}
}
