package sms

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Webhook posts to a generic JSON endpoint that answers 202 with a messageId.
type Webhook struct {
	url    string
	client *http.Client
}

func NewWebhook(url string) *Webhook {
	return &Webhook{
		url:    url,
		client: newHTTPClient(),
	}
}

type webhookRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	Message     string `json:"message"`
	SenderID    string `json:"senderId,omitempty"`
}

type webhookResponse struct {
	Message   string `json:"message"`
	MessageID string `json:"messageId"`
}

func (w *Webhook) Name() string { return "webhook" }

func (w *Webhook) Send(ctx context.Context, phone, content, senderID string) (Result, error) {
	code, body, err := doJSON(ctx, w.client, http.MethodPost, w.url, nil, webhookRequest{
		PhoneNumber: phone,
		Message:     content,
		SenderID:    senderID,
	})
	if err != nil {
		return Result{}, err
	}

	if code != http.StatusAccepted {
		return Result{}, fmt.Errorf("unexpected status code: %d body=%q", code, string(body))
	}

	var wr webhookResponse
	if err := json.Unmarshal(body, &wr); err != nil {
		return Result{}, fmt.Errorf("failed to decode json: %w body=%q", err, string(body))
	}
	if wr.MessageID == "" {
		return Result{}, fmt.Errorf("missing messageId in response body=%q", string(body))
	}

	return Result{MessageID: wr.MessageID}, nil
}
