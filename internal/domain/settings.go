package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// ChannelSettings is the tagged variant carried by an IntegrationConfig.
// Each channel type has one concrete implementation; the dispatcher selects
// the executor from ChannelType().
type ChannelSettings interface {
	ChannelType() ChannelType
	Validate() error
}

type EmailSettings struct {
	Recipients []string `json:"recipients"`
	Subject    string   `json:"subject"`
	Body       string   `json:"body"`
	FromName   string   `json:"fromName,omitempty"`
	ReplyTo    string   `json:"replyTo,omitempty"`
}

func (EmailSettings) ChannelType() ChannelType { return ChannelEmail }

func (s EmailSettings) Validate() error {
	if len(s.Recipients) == 0 {
		return errors.New("recipients is required")
	}
	for _, r := range s.Recipients {
		if !strings.Contains(r, "@") {
			return fmt.Errorf("invalid recipient %q", r)
		}
	}
	return nil
}

type Header struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

const (
	AuthNone   = "none"
	AuthBearer = "bearer"
	AuthBasic  = "basic"
	AuthAPIKey = "api-key"
)

type WebhookSettings struct {
	URL          string   `json:"url"`
	Method       string   `json:"method,omitempty"`
	Headers      []Header `json:"headers,omitempty"`
	AuthType     string   `json:"authType,omitempty"`
	Token        string   `json:"token,omitempty"`
	Username     string   `json:"username,omitempty"`
	Password     string   `json:"password,omitempty"`
	APIKeyHeader string   `json:"apiKeyHeader,omitempty"`
	Payload      string   `json:"payload,omitempty"`

	// RetryOnFailure is stored for the settings UI; baseline dispatch never retries.
	RetryOnFailure bool `json:"retryOnFailure,omitempty"`
}

func (WebhookSettings) ChannelType() ChannelType { return ChannelWebhook }

func (s WebhookSettings) Validate() error {
	if err := validateHTTPURL(s.URL); err != nil {
		return fmt.Errorf("url: %w", err)
	}
	switch s.AuthType {
	case "", AuthNone, AuthBearer, AuthBasic, AuthAPIKey:
	default:
		return fmt.Errorf("unsupported authType %q", s.AuthType)
	}
	return nil
}

// HTTPMethod returns the configured method, defaulting to POST.
func (s WebhookSettings) HTTPMethod() string {
	if s.Method == "" {
		return "POST"
	}
	return strings.ToUpper(s.Method)
}

type ChatWebhookSettings struct {
	WebhookURL string `json:"webhookUrl"`
	Channel    string `json:"channel,omitempty"`
	Username   string `json:"username,omitempty"`
	Icon       string `json:"icon,omitempty"`
	Template   string `json:"template,omitempty"`
}

func (ChatWebhookSettings) ChannelType() ChannelType { return ChannelChatWebhook }

func (s ChatWebhookSettings) Validate() error {
	if err := validateHTTPURL(s.WebhookURL); err != nil {
		return fmt.Errorf("webhookUrl: %w", err)
	}
	return nil
}

type AutomationWebhookSettings struct {
	WebhookURL string `json:"webhookUrl"`
}

func (AutomationWebhookSettings) ChannelType() ChannelType { return ChannelAutomationWebhook }

func (s AutomationWebhookSettings) Validate() error {
	if err := validateHTTPURL(s.WebhookURL); err != nil {
		return fmt.Errorf("webhookUrl: %w", err)
	}
	return nil
}

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

type RecordStoreSettings struct {
	TableName string `json:"tableName"`
}

func (RecordStoreSettings) ChannelType() ChannelType { return ChannelRecordStore }

func (s RecordStoreSettings) Validate() error {
	if s.TableName == "" {
		return errors.New("tableName is required")
	}
	if !tableNamePattern.MatchString(s.TableName) {
		return fmt.Errorf("invalid tableName %q", s.TableName)
	}
	return nil
}

type SpreadsheetSettings struct {
	SpreadsheetID string `json:"spreadsheetId"`
	WorksheetName string `json:"worksheetName"`
}

func (SpreadsheetSettings) ChannelType() ChannelType { return ChannelSpreadsheet }

func (s SpreadsheetSettings) Validate() error {
	if s.SpreadsheetID == "" {
		return errors.New("spreadsheetId is required")
	}
	return nil
}

// ReservedSettings holds the raw payload of a reserved channel type.
type ReservedSettings struct {
	Type ChannelType
	Raw  map[string]any
}

func (s ReservedSettings) ChannelType() ChannelType { return s.Type }
func (s ReservedSettings) Validate() error          { return nil }

// MarshalJSON emits the raw payload only; the type travels beside it.
func (s ReservedSettings) MarshalJSON() ([]byte, error) {
	if s.Raw == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(s.Raw)
}

// EncodeSettings serializes settings for storage. The channel type is the tag
// and is stored alongside, not inside, the payload.
func EncodeSettings(s ChannelSettings) ([]byte, error) {
	return json.Marshal(s)
}

// DecodeSettings rebuilds the concrete settings for channel type t.
func DecodeSettings(t ChannelType, raw []byte) (ChannelSettings, error) {
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	switch t {
	case ChannelEmail:
		var s EmailSettings
		return decodeAs(raw, &s)
	case ChannelWebhook:
		var s WebhookSettings
		return decodeAs(raw, &s)
	case ChannelChatWebhook:
		var s ChatWebhookSettings
		return decodeAs(raw, &s)
	case ChannelAutomationWebhook:
		var s AutomationWebhookSettings
		return decodeAs(raw, &s)
	case ChannelRecordStore:
		var s RecordStoreSettings
		return decodeAs(raw, &s)
	case ChannelSpreadsheet:
		var s SpreadsheetSettings
		return decodeAs(raw, &s)
	}
	if t.Reserved() {
		m := map[string]any{}
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("%w: decode %s settings: %v", ErrInvalidConfig, t, err)
		}
		return ReservedSettings{Type: t, Raw: m}, nil
	}
	return nil, fmt.Errorf("%w: unknown channel type %q", ErrInvalidConfig, t)
}

func decodeAs[T ChannelSettings](raw []byte, dst *T) (ChannelSettings, error) {
	if err := json.Unmarshal(raw, dst); err != nil {
		return nil, fmt.Errorf("%w: decode %s settings: %v", ErrInvalidConfig, (*dst).ChannelType(), err)
	}
	return *dst, nil
}

func validateHTTPURL(rawURL string) error {
	if rawURL == "" {
		return errors.New("required")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("scheme must be http or https")
	}
	if u.Host == "" {
		return errors.New("host is required")
	}
	return nil
}
