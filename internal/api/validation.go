package api

import (
	"bytes"
	"fmt"

	"github.com/djlord-it/formrelay/internal/domain"
)

func parseChannelType(raw string) (domain.ChannelType, error) {
	t := domain.ChannelType(raw)
	if !t.Valid() {
		return "", fmt.Errorf("%w: unknown channel type %q", domain.ErrInvalidConfig, raw)
	}
	return t, nil
}

// decodeSettings builds and validates the settings variant for t.
func decodeSettings(t domain.ChannelType, raw []byte) (domain.ChannelSettings, error) {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, fmt.Errorf("%w: config is required", domain.ErrInvalidConfig)
	}
	s, err := domain.DecodeSettings(t, raw)
	if err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrInvalidConfig, t, err)
	}
	return s, nil
}

func validateSubmission(req SubmissionRequest) error {
	if req.Data == nil {
		return fmt.Errorf("data is required")
	}
	return nil
}
