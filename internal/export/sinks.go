package export

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

// WebhookSink posts each batch as one JSON document.
type WebhookSink struct {
	url        string
	apiKey     string
	httpClient *http.Client
}

// NewWebhookSink creates a sink posting to url with an optional bearer key.
// Server errors are retried twice before the batch counts as failed.
func NewWebhookSink(url, apiKey string) *WebhookSink {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = time.Second
	rc.Logger = nil
	rc.HTTPClient.Transport = &http.Transport{
		TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
		IdleConnTimeout: 90 * time.Second,
	}

	httpClient := rc.StandardClient()
	httpClient.Timeout = 10 * time.Second
	return &WebhookSink{
		url:        url,
		apiKey:     apiKey,
		httpClient: httpClient,
	}
}

// Name identifies the sink in logs
func (w *WebhookSink) Name() string { return "webhook" }

// Export posts the events to the webhook endpoint
func (w *WebhookSink) Export(ctx context.Context, events []Event) error {
	if w.url == "" {
		return fmt.Errorf("webhook URL not configured")
	}

	exportData := struct {
		Events     []Event `json:"events"`
		ExportTime string  `json:"export_time"`
		Count      int     `json:"count"`
	}{
		Events:     events,
		ExportTime: time.Now().UTC().Format(time.RFC3339),
		Count:      len(events),
	}

	jsonData, err := json.Marshal(exportData)
	if err != nil {
		return fmt.Errorf("failed to marshal events: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+w.apiKey)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned error status: %d", resp.StatusCode)
	}
	return nil
}

// MsgPublisher is the part of *nats.Conn the NATS sink needs
type MsgPublisher interface {
	PublishMsg(m *nats.Msg) error
}

// NATSSink publishes each event as its own message on a subject.
type NATSSink struct {
	conn    MsgPublisher
	subject string
}

// NewNATSSink creates a sink publishing to subject
func NewNATSSink(conn MsgPublisher, subject string) *NATSSink {
	return &NATSSink{conn: conn, subject: subject}
}

// Name identifies the sink in logs
func (n *NATSSink) Name() string { return "nats" }

// Export publishes every event, injecting trace context into the headers
func (n *NATSSink) Export(ctx context.Context, events []Event) error {
	for i, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("failed to marshal event %d: %w", i, err)
		}
		msg := &nats.Msg{Subject: n.subject, Data: data}
		otel.GetTextMapPropagator().Inject(ctx, (*natsHeaderCarrier)(msg))
		if err := n.conn.PublishMsg(msg); err != nil {
			return fmt.Errorf("failed to publish event %d: %w", i, err)
		}
	}
	return nil
}

// natsHeaderCarrier adapts nats.Msg headers for OTel TextMapCarrier.
type natsHeaderCarrier nats.Msg

func (c *natsHeaderCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *natsHeaderCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *natsHeaderCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}
