package sms

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

type Arkesel struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewArkesel(baseURL, apiKey string) *Arkesel {
	return &Arkesel{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  newHTTPClient(),
	}
}

type arkeselSendRequest struct {
	Sender     string   `json:"sender"`
	Message    string   `json:"message"`
	Recipients []string `json:"recipients"`
}

type arkeselSendResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    []struct {
		Recipient string `json:"recipient"`
		ID        string `json:"id"`
	} `json:"data"`
}

type arkeselBalanceResponse struct {
	Status string `json:"status"`
	Data   struct {
		SMSBalance  looseString `json:"sms_balance"`
		MainBalance looseString `json:"main_balance"`
	} `json:"data"`
}

// looseString accepts both JSON strings and numbers.
type looseString string

func (s *looseString) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = looseString(v)
		return nil
	}
	*s = looseString(strings.TrimSpace(string(b)))
	return nil
}

func (a *Arkesel) Name() string { return "arkesel" }

func (a *Arkesel) headers() map[string]string {
	return map[string]string{"api-key": a.apiKey}
}

func (a *Arkesel) Send(ctx context.Context, phone, content, senderID string) (Result, error) {
	code, body, err := doJSON(ctx, a.client, http.MethodPost, a.baseURL+"/sms/send", a.headers(), arkeselSendRequest{
		Sender:     senderID,
		Message:    content,
		Recipients: []string{gatewayNumber(phone)},
	})
	if err != nil {
		return Result{}, err
	}
	if !isSuccess(code) {
		return Result{}, fmt.Errorf("arkesel: unexpected status code: %d body=%q", code, string(body))
	}

	var ar arkeselSendResponse
	if err := json.Unmarshal(body, &ar); err != nil {
		return Result{}, fmt.Errorf("arkesel: failed to decode json: %w body=%q", err, string(body))
	}
	if !strings.EqualFold(ar.Status, "success") {
		return Result{}, fmt.Errorf("arkesel: rejected: status=%q message=%q", ar.Status, ar.Message)
	}

	var id string
	if len(ar.Data) > 0 {
		id = ar.Data[0].ID
	}
	return Result{MessageID: id}, nil
}

func (a *Arkesel) Balance(ctx context.Context) (Balance, error) {
	code, body, err := doJSON(ctx, a.client, http.MethodGet, a.baseURL+"/clients/balance-details", a.headers(), nil)
	if err != nil {
		return Balance{}, err
	}
	if !isSuccess(code) {
		return Balance{}, fmt.Errorf("arkesel: unexpected status code: %d body=%q", code, string(body))
	}

	var br arkeselBalanceResponse
	if err := json.Unmarshal(body, &br); err != nil {
		return Balance{}, fmt.Errorf("arkesel: failed to decode json: %w body=%q", err, string(body))
	}
	if !strings.EqualFold(br.Status, "success") {
		return Balance{}, fmt.Errorf("arkesel: balance request failed: status=%q", br.Status)
	}

	return Balance{
		SMS:  string(br.Data.SMSBalance),
		Main: string(br.Data.MainBalance),
	}, nil
}
