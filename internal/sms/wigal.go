package sms

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// Wigal talks to the Frog v3 API. Frog does not return an id per
// destination, so the msgid we attach is reported as the message id.
type Wigal struct {
	url      string
	apiKey   string
	username string
	client   *http.Client
}

func NewWigal(url, apiKey, username string) *Wigal {
	return &Wigal{
		url:      url,
		apiKey:   apiKey,
		username: username,
		client:   newHTTPClient(),
	}
}

type wigalDestination struct {
	Destination string `json:"destination"`
	MsgID       string `json:"msgid"`
}

type wigalRequest struct {
	SenderID     string             `json:"senderid"`
	Destinations []wigalDestination `json:"destinations"`
	Message      string             `json:"message"`
	SMSType      string             `json:"smstype"`
}

type wigalResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (w *Wigal) Name() string { return "wigal" }

func (w *Wigal) Send(ctx context.Context, phone, content, senderID string) (Result, error) {
	msgID := uuid.NewString()

	code, body, err := doJSON(ctx, w.client, http.MethodPost, w.url, map[string]string{
		"API-KEY":  w.apiKey,
		"USERNAME": w.username,
	}, wigalRequest{
		SenderID:     senderID,
		Destinations: []wigalDestination{{Destination: gatewayNumber(phone), MsgID: msgID}},
		Message:      content,
		SMSType:      "text",
	})
	if err != nil {
		return Result{}, err
	}
	if !isSuccess(code) {
		return Result{}, fmt.Errorf("wigal: unexpected status code: %d body=%q", code, string(body))
	}

	var wr wigalResponse
	if err := json.Unmarshal(body, &wr); err != nil {
		return Result{}, fmt.Errorf("wigal: failed to decode json: %w body=%q", err, string(body))
	}
	if !wigalAccepted(wr.Status) {
		return Result{}, fmt.Errorf("wigal: rejected: status=%q message=%q", wr.Status, wr.Message)
	}

	return Result{MessageID: msgID}, nil
}

func wigalAccepted(status string) bool {
	switch strings.ToUpper(status) {
	case "ACCEPTD", "ACCEPTED", "SUCCESS", "OK":
		return true
	}
	return false
}
