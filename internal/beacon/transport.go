package beacon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/gyaneshwarpardhi/engage/internal/event"
	"github.com/gyaneshwarpardhi/engage/internal/session"
)

// Payload is the body shipped to the ingestion endpoint.
type Payload struct {
	Session session.Session `json:"session"`
	Events  []event.Event   `json:"events"`
	Mode    string          `json:"mode"`
}

// Transport ships one payload. Errors are reported to the sender, which logs
// them and moves on.
type Transport interface {
	Send(ctx context.Context, p Payload) error
	Close() error
}

// HTTPDoer is the subset of *http.Client used by HTTPTransport.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPTransport POSTs payloads as JSON.
type HTTPTransport struct {
	endpoint string
	client   HTTPDoer
}

// NewHTTPTransport builds a transport with a traced client. A nil client
// falls back to one with the given timeout.
func NewHTTPTransport(endpoint string, timeout time.Duration, client HTTPDoer) *HTTPTransport {
	if client == nil {
		client = &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return &HTTPTransport{endpoint: endpoint, client: client}
}

func (t *HTTPTransport) Send(ctx context.Context, p Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal beacon: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build beacon request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("post beacon: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("post beacon: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (t *HTTPTransport) Close() error { return nil }

// MessageWriter is the subset of *kafka.Writer used by KafkaTransport.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaTransport publishes payloads to a topic keyed by session id, so every
// beacon of one visit lands on the same partition.
type KafkaTransport struct {
	writer MessageWriter
}

func NewKafkaTransport(brokers []string, topic string, timeout time.Duration) *KafkaTransport {
	return NewKafkaTransportFromWriter(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		WriteTimeout:           timeout,
		ReadTimeout:            timeout,
		MaxAttempts:            1,
	})
}

func NewKafkaTransportFromWriter(w MessageWriter) *KafkaTransport {
	return &KafkaTransport{writer: w}
}

func (t *KafkaTransport) Send(ctx context.Context, p Payload) error {
	value, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal beacon: %w", err)
	}
	return t.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(p.Session.ID),
		Value: value,
	})
}

func (t *KafkaTransport) Close() error { return t.writer.Close() }

// NopTransport discards everything.
type NopTransport struct{}

func (NopTransport) Send(context.Context, Payload) error { return nil }
func (NopTransport) Close() error                        { return nil }
