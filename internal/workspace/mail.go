package workspace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/mail"
	"strings"
	"time"
)

// MailMessage is an outbound email.
type MailMessage struct {
	To      []string
	Cc      []string
	Bcc     []string
	Subject string
	Body    string
}

// SentReceipt is returned by the mail service on a successful send.
type SentReceipt struct {
	ID string `json:"id"`
}

// MailValidationError reports an invalid message before any request is made.
type MailValidationError struct {
	Field  string
	Reason string
}

func (e *MailValidationError) Error() string {
	return fmt.Sprintf("invalid mail message: %s %s", e.Field, e.Reason)
}

// MailClient talks to the workspace mail service.
type MailClient struct {
	baseURL string
	client  *http.Client
}

// MailOption configures a MailClient.
type MailOption func(*MailClient)

// WithMailHTTPClient sets a custom HTTP client.
func WithMailHTTPClient(c *http.Client) MailOption {
	return func(mc *MailClient) { mc.client = c }
}

func NewMailClient(baseURL string, opts ...MailOption) *MailClient {
	c := &MailClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type mailSendRequest struct {
	To      []string `json:"to"`
	Cc      []string `json:"cc,omitempty"`
	Bcc     []string `json:"bcc,omitempty"`
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
}

// Send validates msg and submits it. Validation failures surface as
// *MailValidationError without touching the network.
func (c *MailClient) Send(ctx context.Context, token string, msg MailMessage) (*SentReceipt, error) {
	if err := validateMessage(msg); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(mailSendRequest{
		To:      msg.To,
		Cc:      msg.Cc,
		Bcc:     msg.Bcc,
		Subject: msg.Subject,
		Body:    msg.Body,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}

	endpoint := c.baseURL + "/v1/messages"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apiError("mail", resp.StatusCode, body)
	}

	var receipt SentReceipt
	if err := json.Unmarshal(body, &receipt); err != nil {
		return nil, fmt.Errorf("unmarshal receipt: %w", err)
	}
	return &receipt, nil
}

func validateMessage(msg MailMessage) error {
	if len(msg.To) == 0 {
		return &MailValidationError{Field: "to", Reason: "requires at least one recipient"}
	}
	for _, field := range []struct {
		name  string
		addrs []string
	}{
		{"to", msg.To},
		{"cc", msg.Cc},
		{"bcc", msg.Bcc},
	} {
		for _, addr := range field.addrs {
			if _, err := mail.ParseAddress(addr); err != nil {
				return &MailValidationError{Field: field.name, Reason: fmt.Sprintf("contains invalid address %q", addr)}
			}
		}
	}
	if strings.TrimSpace(msg.Subject) == "" {
		return &MailValidationError{Field: "subject", Reason: "must not be blank"}
	}
	if strings.TrimSpace(msg.Body) == "" {
		return &MailValidationError{Field: "body", Reason: "must not be blank"}
	}
	return nil
}
