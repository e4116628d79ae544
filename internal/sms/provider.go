// Package sms sends text messages through the configured gateway.
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

	"github.com/LeventeLantos/congregation-messaging/internal/config"
)

const requestTimeout = 10 * time.Second

type Result struct {
	MessageID string
}

type Provider interface {
	Name() string
	Send(ctx context.Context, phone, content, senderID string) (Result, error)
}

type Balance struct {
	SMS  string `json:"smsBalance"`
	Main string `json:"mainBalance,omitempty"`
}

type BalanceChecker interface {
	Balance(ctx context.Context) (Balance, error)
}

// New builds the provider selected by cfg.Provider.
func New(cfg config.SMSConfig) (Provider, error) {
	switch cfg.Provider {
	case config.ProviderWigal:
		return NewWigal(cfg.WigalURL, cfg.WigalAPIKey, cfg.WigalUsername), nil
	case config.ProviderArkesel:
		return NewArkesel(cfg.ArkeselURL, cfg.ArkeselAPIKey), nil
	case config.ProviderWebhook:
		return NewWebhook(cfg.WebhookURL), nil
	default:
		return nil, fmt.Errorf("unknown sms provider %q", cfg.Provider)
	}
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: requestTimeout}
}

// gatewayNumber drops the leading plus; the gateways expect 233XXXXXXXXX.
func gatewayNumber(phone string) string {
	return strings.TrimPrefix(phone, "+")
}

func doJSON(ctx context.Context, c *http.Client, method, url string, headers map[string]string, in any) (int, []byte, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return 0, nil, err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return 0, nil, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, out, nil
}

func isSuccess(code int) bool {
	return code >= 200 && code < 300
}
