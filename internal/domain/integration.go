package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type ChannelType string

const (
	ChannelEmail             ChannelType = "email"
	ChannelWebhook           ChannelType = "webhook"
	ChannelChatWebhook       ChannelType = "chat-webhook"
	ChannelAutomationWebhook ChannelType = "automation-webhook"
	ChannelRecordStore       ChannelType = "record-store"
	ChannelSpreadsheet       ChannelType = "spreadsheet-sink"

	// Reserved types are stored but have no executor.
	ChannelCRMSync     ChannelType = "crm-sync"
	ChannelMailingList ChannelType = "mailing-list"
	ChannelPayment     ChannelType = "payment"
)

// channelOrder is the fixed, closed list ListEnabled walks.
var channelOrder = []ChannelType{
	ChannelEmail,
	ChannelWebhook,
	ChannelChatWebhook,
	ChannelAutomationWebhook,
	ChannelRecordStore,
	ChannelSpreadsheet,
	ChannelCRMSync,
	ChannelMailingList,
	ChannelPayment,
}

// KnownChannelTypes returns every channel type the stores accept, in channel order.
func KnownChannelTypes() []ChannelType {
	out := make([]ChannelType, len(channelOrder))
	copy(out, channelOrder)
	return out
}

// Valid reports whether t belongs to the closed set of channel types.
func (t ChannelType) Valid() bool {
	return t.OrderIndex() >= 0
}

// Reserved reports whether t is accepted by the stores but never executed.
func (t ChannelType) Reserved() bool {
	switch t {
	case ChannelCRMSync, ChannelMailingList, ChannelPayment:
		return true
	}
	return false
}

// OrderIndex returns the position of t in the channel order, or -1.
func (t ChannelType) OrderIndex() int {
	for i, c := range channelOrder {
		if c == t {
			return i
		}
	}
	return -1
}

// integrationNamespace seeds the name-based UUIDs used as integration IDs.
var integrationNamespace = uuid.MustParse("8f6f2b52-3c1e-4d8e-9a57-2f4b1c0e7d31")

// ConfigKey identifies one integration configuration.
type ConfigKey struct {
	FormID string
	Type   ChannelType
}

// ID derives the stable integration ID for the key.
func (k ConfigKey) ID() string {
	name := k.FormID + "\x00" + string(k.Type)
	return uuid.NewSHA1(integrationNamespace, []byte(name)).String()
}

// CheckSettings verifies the key is well formed and that settings carry the
// tag the key expects.
func (k ConfigKey) CheckSettings(s ChannelSettings) error {
	if k.FormID == "" {
		return fmt.Errorf("%w: form id is required", ErrInvalidConfig)
	}
	if !k.Type.Valid() {
		return fmt.Errorf("%w: unknown channel type %q", ErrInvalidConfig, k.Type)
	}
	if s == nil {
		return fmt.Errorf("%w: settings are required", ErrInvalidConfig)
	}
	if s.ChannelType() != k.Type {
		return fmt.Errorf("%w: settings for %s saved under %s", ErrInvalidConfig, s.ChannelType(), k.Type)
	}
	return nil
}

type IntegrationConfig struct {
	ID      string      `json:"id"`
	FormID  string      `json:"formId"`
	Type    ChannelType `json:"type"`
	Enabled bool        `json:"enabled"`

	Settings ChannelSettings `json:"config"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (c IntegrationConfig) Key() ConfigKey {
	return ConfigKey{FormID: c.FormID, Type: c.Type}
}
