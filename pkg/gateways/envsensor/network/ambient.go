package network

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/janael-pinheiro/envsensor-gateway/pkg/entities"
	"github.com/pkg/errors"
)

const (
	DefaultAmbientURL = "http://ambidata.io"
	ambientDataPath   = "/api/v2/channels/%s/data"
	maxErrorBodyBytes = 256
)

// AmbientSink posts readings to an Ambient channel over HTTP.
type AmbientSink struct {
	baseURL string
	client  *http.Client
}

func NewAmbientSink(baseURL string, timeout time.Duration) *AmbientSink {
	if baseURL == "" {
		baseURL = DefaultAmbientURL
	}
	return &AmbientSink{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func ambientBody(device entities.Device, fields entities.Fields) ([]byte, error) {
	body := make(map[string]interface{}, len(fields)+1)
	for name, value := range fields {
		body[name] = value
	}
	body["writeKey"] = device.WriteKey
	return json.Marshal(body)
}

func (a *AmbientSink) Send(ctx context.Context, device entities.Device, fields entities.Fields) error {
	body, err := ambientBody(device, fields)
	if err != nil {
		return errors.Wrap(err, "encode ambient body")
	}

	url := a.baseURL + fmt.Sprintf(ambientDataPath, device.ChannelID)
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build ambient request")
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := a.client.Do(request)
	if err != nil {
		return transportError(err)
	}
	defer response.Body.Close()

	switch {
	case response.StatusCode >= 200 && response.StatusCode < 300:
		return nil
	case response.StatusCode == http.StatusTooManyRequests || response.StatusCode >= 500:
		return transportError(statusError(response))
	default:
		return rejectedError(statusError(response))
	}
}

func statusError(response *http.Response) error {
	text, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBodyBytes))
	return errors.Errorf("ambient status %d: %s", response.StatusCode, strings.TrimSpace(string(text)))
}

func (a *AmbientSink) Close() error {
	a.client.CloseIdleConnections()
	return nil
}
