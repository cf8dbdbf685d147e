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

// DefaultMetaGraphURL is the Meta Graph API base. Facebook Messenger and
// Instagram Direct share the page messages endpoint.
const DefaultMetaGraphURL = "https://graph.facebook.com/v19.0"

// MetaClient sends Facebook Messenger and Instagram Direct messages via the
// Graph API page messages endpoint.
type MetaClient struct {
	baseURL     string
	pageID      string
	accessToken string
	client      *http.Client
}

func NewMetaClient(baseURL, pageID, accessToken string) *MetaClient {
	return &MetaClient{
		baseURL:     baseURL,
		pageID:      pageID,
		accessToken: accessToken,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type metaRecipient struct {
	ID string `json:"id"`
}

type metaMessage struct {
	Text string `json:"text"`
}

type metaRequest struct {
	Recipient     metaRecipient `json:"recipient"`
	MessagingType string        `json:"messaging_type"`
	Tag           string        `json:"tag,omitempty"`
	Message       metaMessage   `json:"message"`
}

type metaResponse struct {
	RecipientID string `json:"recipient_id"`
	MessageID   string `json:"message_id"`
}

func (c *MetaClient) Send(ctx context.Context, msg model.QueuedMessage) (string, error) {
	body := metaRequest{
		Recipient:     metaRecipient{ID: msg.Recipient},
		MessagingType: "RESPONSE",
		Message:       metaMessage{Text: msg.Payload.Body},
	}
	// Human-agent sends leave the 24h window and must be tagged.
	if msg.Payload.Tag == model.TagHumanAgent {
		body.MessagingType = "MESSAGE_TAG"
		body.Tag = "HUMAN_AGENT"
	}

	reqBody, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/%s/messages?access_token=%s", c.baseURL, c.pageID, c.accessToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("meta: unexpected status code: %d body=%q", resp.StatusCode, string(respBody))
	}

	var mr metaResponse
	if err := json.Unmarshal(respBody, &mr); err != nil {
		return "", fmt.Errorf("meta: failed to decode json: %w body=%q", err, string(respBody))
	}
	if mr.MessageID == "" {
		return "", fmt.Errorf("meta: missing message_id in response body=%q", string(respBody))
	}

	return mr.MessageID, nil
}
