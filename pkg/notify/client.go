// Package notify sends customer and driver notices through the messaging gateway.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	pkgerrors "github.com/angelmondragon/courier-backend/pkg/errors"
)

const (
	ChannelSMS      = "sms"
	ChannelWhatsApp = "whatsapp"
)

const responseBodyReadLimit int64 = 1024

var (
	errBaseURLRequired = errors.New("notify base url is required")
	errAPIKeyRequired  = errors.New("notify api key is required")
)

// Sender is the surface the notification worker depends on.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Client posts messages to an SMS/WhatsApp gateway.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	sender     string
	channel    string
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func WithSender(sender string) Option {
	return func(c *Client) {
		if trimmed := strings.TrimSpace(sender); trimmed != "" {
			c.sender = trimmed
		}
	}
}

// WithChannel selects the default channel for messages that do not set one.
func WithChannel(channel string) Option {
	return func(c *Client) {
		switch strings.ToLower(strings.TrimSpace(channel)) {
		case ChannelSMS:
			c.channel = ChannelSMS
		case ChannelWhatsApp:
			c.channel = ChannelWhatsApp
		}
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient = &http.Client{Timeout: timeout}
		}
	}
}

func NewClient(baseURL, apiKey string, opts ...Option) (*Client, error) {
	trimmedURL := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmedURL == "" {
		return nil, errBaseURLRequired
	}
	trimmedKey := strings.TrimSpace(apiKey)
	if trimmedKey == "" {
		return nil, errAPIKeyRequired
	}

	client := &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    trimmedURL,
		apiKey:     trimmedKey,
		channel:    ChannelWhatsApp,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// Message is a single outbound notice. To is an E.164 phone number.
type Message struct {
	To      string `json:"to"`
	Body    string `json:"body"`
	Channel string `json:"channel,omitempty"`
	From    string `json:"from,omitempty"`
}

func (c *Client) Send(ctx context.Context, msg Message) error {
	if c == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "notify client not configured")
	}
	if strings.TrimSpace(msg.To) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "recipient is required")
	}
	if strings.TrimSpace(msg.Body) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "message body is required")
	}
	if msg.Channel == "" {
		msg.Channel = c.channel
	}
	if msg.From == "" {
		msg.From = c.sender
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marshal notify request")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build notify request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute notify request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), "notify request failed")
	}
	return nil
}
