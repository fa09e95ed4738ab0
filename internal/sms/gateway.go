package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// GatewayClient posts messages to an HTTP SMS gateway.
type GatewayClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	sender     string
}

// NewGatewayClient configures a client with sane defaults.
func NewGatewayClient(baseURL, apiKey, sender string) *GatewayClient {
	return &GatewayClient{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		sender:  sender,
	}
}

// gatewayRequest mirrors the gateway's send JSON body.
type gatewayRequest struct {
	To   string `json:"to"`
	From string `json:"from,omitempty"`
	Text string `json:"text"`
}

// gatewayResponse is the optional body returned on success.
type gatewayResponse struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

func (c *GatewayClient) Name() string { return "http" }

// Send submits one message. Any non-2xx status is an error so the dispatch
// pool retries it.
func (c *GatewayClient) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(gatewayRequest{To: msg.Phone, From: c.sender, Text: msg.Message})
	if err != nil {
		return fmt.Errorf("encode sms request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("sms gateway responded with %s: %s", resp.Status, strings.TrimSpace(string(detail)))
	}

	var payload gatewayResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil && err != io.EOF {
		return fmt.Errorf("decode sms response: %w", err)
	}
	if strings.EqualFold(payload.Status, "rejected") {
		return fmt.Errorf("sms gateway rejected message %s", payload.MessageID)
	}
	return nil
}
