// Package sms sends OTP text messages through a bulkV2-style HTTP gateway.
package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"account-auth/internal/notify"
)

const (
	defaultTimeout = 15 * time.Second
	defaultBaseURL = "https://www.fast2sms.com/dev/bulkV2"
	maxErrorBody   = 512
)

// Client sends OTP SMS via the gateway's otp route.
type Client struct {
	APIKey     string
	BaseURL    string
	Sender     string
	HTTPClient *http.Client
}

// NewClient returns a client that uses the given API key and optional base URL/sender.
func NewClient(apiKey, baseURL, sender string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		APIKey:     apiKey,
		BaseURL:    baseURL,
		Sender:     sender,
		HTTPClient: &http.Client{Timeout: defaultTimeout},
	}
}

type sendRequest struct {
	Route           string `json:"route"`
	VariablesValues string `json:"variables_values"`
	Numbers         string `json:"numbers"`
	SenderID        string `json:"sender_id,omitempty"`
}

type sendResponse struct {
	Return  *bool `json:"return"`
	Message any   `json:"message"`
}

// SendOTP sends the OTP to mobile (digits only). Returns notify.ErrNotConfigured when no API key is set.
// Does not log the OTP.
func (c *Client) SendOTP(ctx context.Context, mobile, otp string) error {
	if c.APIKey == "" {
		return notify.ErrNotConfigured
	}
	raw, err := json.Marshal(sendRequest{
		Route:           "otp",
		VariablesValues: otp,
		Numbers:         mobile,
		SenderID:        c.Sender,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("authorization", c.APIKey)
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("sms: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("sms: request failed status=%d body=%s", resp.StatusCode, string(body))
	}
	// The gateway can answer 200 with {"return": false} when it rejects the message.
	var out sendResponse
	if json.Unmarshal(body, &out) == nil && out.Return != nil && !*out.Return {
		return fmt.Errorf("sms: gateway rejected message: %v", out.Message)
	}
	return nil
}
