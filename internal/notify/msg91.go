// Package notify renders and sends post-call WhatsApp notifications and
// records each attempt in the notifications table.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// DefaultMSG91BaseURL is the MSG91 API host used when none is configured.
const DefaultMSG91BaseURL = "https://api.msg91.com"

// templateNamespace is the WhatsApp Business template namespace all our
// templates are registered under.
const templateNamespace = "2e1d8662_869f_48e9_bb1f_5f995acb2c20"

// sendAttempts bounds the retry envelope for one template send.
const sendAttempts = 3

// Component is one body_N slot of a WhatsApp template.
type Component struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// TextComponent builds a text-typed Component.
func TextComponent(value string) Component {
	return Component{Type: "text", Value: value}
}

// Sender delivers one rendered template to one recipient.
// Implemented by MSG91Client; faked in tests.
type Sender interface {
	SendTemplate(ctx context.Context, template, to string, components map[string]Component) error
}

// MSG91Client sends WhatsApp template messages through the MSG91 bulk
// outbound endpoint. Safe for concurrent use.
type MSG91Client struct {
	http             *http.Client
	baseURL          string
	authKey          string
	integratedNumber string
	retryDelay       time.Duration
	log              *slog.Logger
}

// MSG91Option is a functional option for MSG91Client.
type MSG91Option func(*MSG91Client)

// WithMSG91BaseURL overrides the default API host. Used in tests.
func WithMSG91BaseURL(url string) MSG91Option {
	return func(c *MSG91Client) {
		c.baseURL = url
	}
}

// WithMSG91HTTPClient overrides the default HTTP client.
func WithMSG91HTTPClient(h *http.Client) MSG91Option {
	return func(c *MSG91Client) {
		c.http = h
	}
}

// WithMSG91RetryDelay overrides the base delay of the retry backoff.
func WithMSG91RetryDelay(d time.Duration) MSG91Option {
	return func(c *MSG91Client) {
		c.retryDelay = d
	}
}

// NewMSG91Client creates a client for the given auth key and integrated
// sender number.
func NewMSG91Client(authKey, integratedNumber string, log *slog.Logger, opts ...MSG91Option) (*MSG91Client, error) {
	if authKey == "" {
		return nil, fmt.Errorf("notify: msg91 auth key must not be empty")
	}
	if integratedNumber == "" {
		return nil, fmt.Errorf("notify: msg91 integrated number must not be empty")
	}
	if log == nil {
		log = slog.Default()
	}

	c := &MSG91Client{
		http:             &http.Client{Timeout: 10 * time.Second},
		baseURL:          DefaultMSG91BaseURL,
		authKey:          authKey,
		integratedNumber: integratedNumber,
		retryDelay:       time.Second,
		log:              log.With("component", "msg91"),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// bulkPayload is the MSG91 bulk outbound message envelope.
type bulkPayload struct {
	IntegratedNumber string      `json:"integrated_number"`
	ContentType      string      `json:"content_type"`
	Payload          bulkMessage `json:"payload"`
}

type bulkMessage struct {
	MessagingProduct string       `json:"messaging_product"`
	Type             string       `json:"type"`
	Template         bulkTemplate `json:"template"`
}

type bulkTemplate struct {
	Name            string          `json:"name"`
	Language        bulkLanguage    `json:"language"`
	Namespace       string          `json:"namespace"`
	ToAndComponents []bulkRecipient `json:"to_and_components"`
}

type bulkLanguage struct {
	Code   string `json:"code"`
	Policy string `json:"policy"`
}

type bulkRecipient struct {
	To         []string             `json:"to"`
	Components map[string]Component `json:"components"`
}

// SendTemplate implements Sender. Network errors and 5xx responses are
// retried with exponential backoff; 4xx responses fail immediately.
func (c *MSG91Client) SendTemplate(ctx context.Context, template, to string, components map[string]Component) error {
	body, err := json.Marshal(bulkPayload{
		IntegratedNumber: c.integratedNumber,
		ContentType:      "template",
		Payload: bulkMessage{
			MessagingProduct: "whatsapp",
			Type:             "template",
			Template: bulkTemplate{
				Name:      template,
				Language:  bulkLanguage{Code: "en", Policy: "deterministic"},
				Namespace: templateNamespace,
				ToAndComponents: []bulkRecipient{
					{To: []string{to}, Components: components},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("notify: marshal msg91 payload: %w", err)
	}

	url := c.baseURL + "/api/v5/whatsapp/whatsapp-outbound-message/bulk/"

	var lastErr error
	for attempt := range sendAttempts {
		if attempt > 0 {
			delay := c.retryDelay << (attempt - 1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return fmt.Errorf("notify: send template %q: %w", template, ctx.Err())
			}
		}

		retryable, err := c.post(ctx, url, body)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable {
			break
		}
		c.log.Warn("msg91 send failed, retrying", "template", template, "attempt", attempt+1, "error", err)
	}
	return fmt.Errorf("notify: send template %q to %s: %w", template, to, lastErr)
}

// post performs one send attempt and reports whether a failure is retryable.
func (c *MSG91Client) post(ctx context.Context, url string, body []byte) (retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("authkey", c.authKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return true, err
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode == http.StatusOK:
		return false, nil
	case resp.StatusCode >= 500:
		return true, fmt.Errorf("status %d: %s", resp.StatusCode, respBody)
	default:
		return false, fmt.Errorf("status %d: %s", resp.StatusCode, respBody)
	}
}

// Ensure MSG91Client implements Sender at compile time.
var _ Sender = (*MSG91Client)(nil)
