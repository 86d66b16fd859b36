package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPSendPostsJSON(t *testing.T) {
	var got Request
	var header string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Get("X-Workplan-Template")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n := New(srv.URL, "", time.Second)
	err := n.Send(context.Background(), Request{TemplateType: "plan_submitted", Recipients: []string{"coord@example.edu"}, Variables: map[string]any{"plan_id": "p1"}})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if header != "plan_submitted" || len(got.Recipients) != 1 || got.Variables["plan_id"] != "p1" {
		t.Fatalf("unexpected request %q %+v", header, got)
	}
}

func TestHTTPSendReportsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()
	err := New(srv.URL, "", time.Second).Send(context.Background(), Request{TemplateType: "x", Recipients: []string{"a@b"}})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestHTTPSendTimesOut(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)
	start := time.Now()
	err := New(srv.URL, "", 50*time.Millisecond).Send(context.Background(), Request{TemplateType: "x", Recipients: []string{"a@b"}})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected unavailable on timeout, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("timeout not enforced")
	}
}

func TestNewWithoutEndpointIsNoop(t *testing.T) {
	if _, ok := New("", "", 0).(Noop); !ok {
		t.Fatalf("expected noop notifier")
	}
}
