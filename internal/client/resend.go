package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/salinassolar/crm-messaging/internal/model"
)

// DefaultResendURL is the Resend API base.
const DefaultResendURL = "https://api.resend.com"

// ResendClient sends email through the Resend API.
type ResendClient struct {
	baseURL string
	apiKey  string
	from    string
	client  *http.Client
}

func NewResendClient(baseURL, apiKey, from string) *ResendClient {
	return &ResendClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		from:    from,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type resendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

type resendResponse struct {
	ID string `json:"id"`
}

func (c *ResendClient) Send(ctx context.Context, msg model.QueuedMessage) (string, error) {
	from := c.from
	if msg.Payload.SenderName != "" {
		from = fmt.Sprintf("%s <%s>", msg.Payload.SenderName, c.from)
	}

	reqBody, err := json.Marshal(resendRequest{
		From:    from,
		To:      []string{msg.Recipient},
		Subject: msg.Payload.Subject,
		HTML:    msg.Payload.Body,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/emails", bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("resend: unexpected status code: %d body=%q", resp.StatusCode, string(body))
	}

	var rr resendResponse
	if err := json.Unmarshal(body, &rr); err != nil {
		return "", fmt.Errorf("resend: failed to decode json: %w body=%q", err, string(body))
	}
	if rr.ID == "" {
		return "", fmt.Errorf("resend: missing id in response body=%q", string(body))
	}

	return rr.ID, nil
}
