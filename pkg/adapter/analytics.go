package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// AnalyticsEvent is a fire-and-forget usage event shipped to an external
// analytics collector.
type AnalyticsEvent struct {
	Name       string         `json:"name"`
	UserID     string         `json:"user_id"`
	Timestamp  time.Time      `json:"timestamp"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Analytics ships usage events to an external collector. Delivery is
// best-effort; callers treat errors as log-only.
type Analytics interface {
	Track(ctx context.Context, event *AnalyticsEvent) error
}

type analyticsClient struct {
	endpoint   string
	httpClient *http.Client
}

// NewAnalytics creates a client posting events to the given endpoint.
func NewAnalytics(endpoint string) Analytics {
	return &analyticsClient{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (a *analyticsClient) Track(ctx context.Context, event *AnalyticsEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return goerr.Wrap(err, "failed to marshal analytics event")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return goerr.Wrap(err, "failed to build analytics request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return goerr.Wrap(err, "failed to send analytics event")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return goerr.New("analytics collector rejected event", goerr.V("status", resp.StatusCode))
	}

	return nil
}
