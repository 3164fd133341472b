package telephony

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/SandilyaSub/Receptionist/pkg/storage"
)

// DefaultRESTBaseURL is the Exotel API host used when none is configured.
const DefaultRESTBaseURL = "https://api.exotel.com"

// RESTClient fetches call metadata from the Exotel REST API.
// Safe for concurrent use.
type RESTClient struct {
	http       *http.Client
	baseURL    string
	apiKey     string
	apiToken   string
	accountSID string
}

// RESTOption is a functional option for RESTClient.
type RESTOption func(*RESTClient)

// WithRESTBaseURL overrides the default API host. Used in tests.
func WithRESTBaseURL(url string) RESTOption {
	return func(c *RESTClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) RESTOption {
	return func(c *RESTClient) {
		c.http = h
	}
}

// NewRESTClient creates a client authenticated with the given API key/token
// pair for the given account.
func NewRESTClient(apiKey, apiToken, accountSID string, opts ...RESTOption) (*RESTClient, error) {
	if apiKey == "" || apiToken == "" {
		return nil, fmt.Errorf("telephony: api key and token must not be empty")
	}
	if accountSID == "" {
		return nil, fmt.Errorf("telephony: account sid must not be empty")
	}

	c := &RESTClient{
		http:       &http.Client{Timeout: 15 * time.Second},
		baseURL:    DefaultRESTBaseURL,
		apiKey:     apiKey,
		apiToken:   apiToken,
		accountSID: accountSID,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// callEnvelope is the Exotel response wrapper around call details.
type callEnvelope struct {
	Call *struct {
		From         string `json:"From"`
		To           string `json:"To"`
		Status       string `json:"Status"`
		StartTime    string `json:"StartTime"`
		EndTime      string `json:"EndTime"`
		Duration     string `json:"Duration"`
		Price        string `json:"Price"`
		Direction    string `json:"Direction"`
		RecordingURL string `json:"RecordingUrl"`
	} `json:"Call"`
}

// FetchCall retrieves the canonical metadata for one call.
func (c *RESTClient) FetchCall(ctx context.Context, callSID string) (*storage.TelephonyCall, error) {
	if callSID == "" {
		return nil, fmt.Errorf("telephony: call sid must not be empty")
	}

	url := fmt.Sprintf("%s/v1/Accounts/%s/Calls/%s.json", c.baseURL, c.accountSID, callSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("telephony: build request: %w", err)
	}
	req.SetBasicAuth(c.apiKey, c.apiToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telephony: fetch call %s: %w", callSID, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("telephony: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("telephony: fetch call %s: status %d", callSID, resp.StatusCode)
	}

	var env callEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("telephony: parse response: %w", err)
	}
	if env.Call == nil {
		return nil, fmt.Errorf("telephony: response has no Call envelope")
	}

	return &storage.TelephonyCall{
		CallSID:      callSID,
		From:         env.Call.From,
		To:           env.Call.To,
		Status:       env.Call.Status,
		StartTime:    env.Call.StartTime,
		EndTime:      env.Call.EndTime,
		Duration:     env.Call.Duration,
		Price:        env.Call.Price,
		Direction:    env.Call.Direction,
		RecordingURL: env.Call.RecordingURL,
	}, nil
}
