package channel

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/djlord-it/formrelay/internal/domain"
)

// HTTPClient is satisfied by *http.Client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

const maxDrainBytes = 64 << 10

// send issues one request and returns the response status. Transport failures
// come back as a ChannelError of the given kind, or KindTimeout when the
// context deadline fired.
func send(ctx context.Context, client HTTPClient, channel domain.ChannelType, kind domain.ChannelErrorKind, method, url string, header http.Header, body []byte) (int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, domain.NewChannelError(channel, domain.KindMalformedConfig, fmt.Errorf("create request: %w", err))
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return 0, domain.NewChannelError(channel, domain.KindTimeout, err)
		}
		return 0, domain.NewChannelError(channel, kind, fmt.Errorf("send: %w", err))
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))

	return resp.StatusCode, nil
}

func statusError(channel domain.ChannelType, kind domain.ChannelErrorKind, code int) error {
	return &domain.ChannelError{Channel: channel, Kind: kind, StatusCode: code}
}

func defaultClient(c HTTPClient) HTTPClient {
	if c == nil {
		return &http.Client{}
	}
	return c
}
