// Package notify delivers e-mail notification requests to the external mail
// service. The engine only asks for a template to be sent; rendering and
// delivery happen on the other side.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 5 * time.Second

// ErrUnavailable wraps every delivery failure.
var ErrUnavailable = errors.New("notification service unavailable")

// Request is one notification: which template and to whom.
type Request struct {
	TemplateType string         `json:"template_type"`
	Recipients   []string       `json:"recipients"`
	Variables    map[string]any `json:"variables,omitempty"`
}

type Notifier interface {
	Send(ctx context.Context, req Request) error
}

// Noop drops every request. Used when no endpoint is configured.
type Noop struct{}

func (Noop) Send(context.Context, Request) error { return nil }

// HTTP posts requests as JSON to Endpoint.
type HTTP struct {
	Endpoint string
	Secret   string
	Timeout  time.Duration
	Client   *http.Client
}

// New returns an HTTP notifier, or Noop when endpoint is empty.
func New(endpoint, secret string, timeout time.Duration) Notifier {
	if strings.TrimSpace(endpoint) == "" {
		return Noop{}
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return HTTP{Endpoint: endpoint, Secret: secret, Timeout: timeout, Client: &http.Client{Timeout: timeout}}
}

func (h HTTP) Send(ctx context.Context, req Request) error {
	if len(req.Recipients) == 0 {
		return nil
	}
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.Endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Workplan-Template", req.TemplateType)
	if strings.TrimSpace(h.Secret) != "" {
		httpReq.Header.Set("X-Workplan-Secret", h.Secret)
	}
	client := h.Client
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	res, err := client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("%w: status %d: %s", ErrUnavailable, res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
