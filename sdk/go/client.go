package seisreviewsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"seisreview/internal/domain"
	"seisreview/internal/review"
)

var _ review.Service = (*Client)(nil)

// Client is a minimal catalog HTTP API client.
type Client struct {
	BaseURL     string
	OperatorID  string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with its own http.Client. Timeout bounds each request.
func New(baseURL, operatorID string) *Client {
	return &Client{
		BaseURL:    baseURL,
		OperatorID: operatorID,
		HTTPClient: &http.Client{},
		Timeout:    10 * time.Second,
	}
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Conflict reports whether the catalog refused the operation because of the
// event's current state.
func (e *APIError) Conflict() bool {
	return e.StatusCode == http.StatusConflict
}

// EventList is the full catalog listing with per-state counts.
type EventList struct {
	Items []domain.SeismicEvent `json:"items"`
	Stats map[string]int        `json:"stats"`
}

// AuditEntry is one catalog audit row.
type AuditEntry struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EventID    int64          `json:"event_id,omitempty"`
	OperatorID string         `json:"operator_id"`
	Payload    map[string]any `json:"payload"`
}

// AuditPage wraps audit listings; NextAfter is zero on the last page.
type AuditPage struct {
	Items     []AuditEntry `json:"items"`
	NextAfter int64        `json:"next_after"`
}

// ListUnreviewedEvents returns events awaiting review, oldest first.
func (c *Client) ListUnreviewedEvents(ctx context.Context) ([]domain.UnreviewedEvent, error) {
	var resp struct {
		Items []domain.UnreviewedEvent `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "events/unreviewed", nil, &resp)
	return resp.Items, err
}

// ClaimEvent blocks the event for the client's operator.
func (c *Client) ClaimEvent(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodPost, eventPath(id, "claim"), nil, nil)
}

// FetchRecordedClassification returns the recorded classification of an event.
func (c *Client) FetchRecordedClassification(ctx context.Context, id int64) (domain.RecordedClassification, error) {
	var resp domain.RecordedClassification
	err := c.do(ctx, http.MethodGet, eventPath(id, "recorded-data"), nil, &resp)
	return resp, err
}

// FetchStationWaveforms returns one waveform set per station.
func (c *Client) FetchStationWaveforms(ctx context.Context, id int64) ([]domain.StationWaveformSet, error) {
	var resp struct {
		Stations []domain.StationWaveformSet `json:"stations"`
	}
	if err := c.do(ctx, http.MethodGet, eventPath(id, "seismograms"), nil, &resp); err != nil {
		return nil, err
	}
	if resp.Stations == nil {
		resp.Stations = []domain.StationWaveformSet{}
	}
	return resp.Stations, nil
}

// RejectEvent rejects an event claimed by the client's operator.
func (c *Client) RejectEvent(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodPost, eventPath(id, "reject"), nil, nil)
}

// AllEvents lists every event, optionally narrowed to one state.
func (c *Client) AllEvents(ctx context.Context, state string) (EventList, error) {
	endpoint := "events"
	if state != "" {
		endpoint += "?state=" + url.QueryEscape(state)
	}
	var resp EventList
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Audit returns a page of audit entries with id greater than after.
func (c *Client) Audit(ctx context.Context, after int64, limit int) (AuditPage, error) {
	q := url.Values{}
	if after > 0 {
		q.Set("after", fmt.Sprintf("%d", after))
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	endpoint := "audit"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp AuditPage
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Health checks the catalog liveness endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "health", nil, nil)
}

func eventPath(id int64, action string) string {
	return fmt.Sprintf("events/%d/%s", id, action)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	hc := c.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.OperatorID != "":
		req.Header.Set("X-Operator-Id", c.OperatorID)
	}
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return decodeAPIError(resp.StatusCode, b)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func decodeAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Body: string(body)}
	var env struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err == nil {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
	}
	return apiErr
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
