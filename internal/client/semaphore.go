package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/salinassolar/crm-messaging/internal/model"
)

// DefaultSemaphoreURL is the Semaphore bulk SMS endpoint.
const DefaultSemaphoreURL = "https://api.semaphore.co/api/v4/messages"

// SemaphoreClient sends SMS through the Semaphore gateway.
type SemaphoreClient struct {
	url        string
	apiKey     string
	senderName string
	client     *http.Client
}

func NewSemaphoreClient(url, apiKey, senderName string) *SemaphoreClient {
	return &SemaphoreClient{
		url:        url,
		apiKey:     apiKey,
		senderName: senderName,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type semaphoreRequest struct {
	APIKey     string `json:"apikey"`
	Number     string `json:"number"`
	Message    string `json:"message"`
	SenderName string `json:"sendername,omitempty"`
}

type semaphoreMessage struct {
	MessageID int64  `json:"message_id"`
	Status    string `json:"status"`
}

func (c *SemaphoreClient) Send(ctx context.Context, msg model.QueuedMessage) (string, error) {
	sender := msg.Payload.SenderName
	if sender == "" {
		sender = c.senderName
	}

	reqBody, err := json.Marshal(semaphoreRequest{
		APIKey:     c.apiKey,
		Number:     msg.Recipient,
		Message:    msg.Payload.Body,
		SenderName: sender,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("semaphore: unexpected status code: %d body=%q", resp.StatusCode, string(body))
	}

	// Semaphore answers with one entry per recipient.
	var msgs []semaphoreMessage
	if err := json.Unmarshal(body, &msgs); err != nil {
		return "", fmt.Errorf("semaphore: failed to decode json: %w body=%q", err, string(body))
	}
	if len(msgs) == 0 || msgs[0].MessageID == 0 {
		return "", fmt.Errorf("semaphore: missing message_id in response body=%q", string(body))
	}

	return strconv.FormatInt(msgs[0].MessageID, 10), nil
}
