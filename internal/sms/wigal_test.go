package sms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWigal_Send_Accepted(t *testing.T) {
	t.Parallel()

	var (
		got     wigalRequest
		headers http.Header
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		b, _ := readBody(r)
		_ = json.Unmarshal(b, &got)
		_, _ = w.Write([]byte(`{"status":"ACCEPTD","message":"Message Accepted For Processing"}`))
	}))
	defer srv.Close()

	res, err := NewWigal(srv.URL, "key-1", "church").Send(context.Background(), "+233501234567", "Hello", "CHURCH")
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	if headers.Get("API-KEY") != "key-1" || headers.Get("USERNAME") != "church" {
		t.Fatalf("missing auth headers: %v", headers)
	}
	if got.SenderID != "CHURCH" || got.SMSType != "text" || got.Message != "Hello" {
		t.Fatalf("unexpected request: %+v", got)
	}
	if len(got.Destinations) != 1 || got.Destinations[0].Destination != "233501234567" {
		t.Fatalf("unexpected destinations: %+v", got.Destinations)
	}
	if res.MessageID == "" || res.MessageID != got.Destinations[0].MsgID {
		t.Fatalf("expected message id %q, got %q", got.Destinations[0].MsgID, res.MessageID)
	}
}

func TestWigal_Send_Rejected(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"FAILED","message":"Insufficient balance"}`))
	}))
	defer srv.Close()

	_, err := NewWigal(srv.URL, "k", "u").Send(context.Background(), "+233501234567", "Hello", "CHURCH")
	if err == nil || !strings.Contains(err.Error(), "Insufficient balance") {
		t.Fatalf("expected rejection error, got %v", err)
	}
}

func TestWigal_Send_HTTPError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"status":"UNAUTHORIZED"}`))
	}))
	defer srv.Close()

	_, err := NewWigal(srv.URL, "k", "u").Send(context.Background(), "+233501234567", "Hello", "CHURCH")
	if err == nil || !strings.Contains(err.Error(), "unexpected status code: 401") {
		t.Fatalf("expected status error, got %v", err)
	}
}
