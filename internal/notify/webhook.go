package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Delivery struct {
	ExecutionID string
	URL         string
	Event       string
	Payload     []byte
	Status      int
	Err         error
}

// SignatureHeader carries "sha256=" plus the hex HMAC-SHA256 of the body.
const SignatureHeader = "X-Webhook-Signature"

// DeliveryLog records every webhook attempt.
type DeliveryLog interface {
	Record(ctx context.Context, d Delivery) error
}

// WebhookPublisher POSTs the message as JSON, signed with HMAC-SHA256 over
// the body in SignatureHeader.
type WebhookPublisher struct {
	url        string
	secret     string
	httpClient *http.Client
	log        DeliveryLog
}

func NewWebhookPublisher(url, secret string, log DeliveryLog) *WebhookPublisher {
	return &WebhookPublisher{
		url:    url,
		secret: secret,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		log: log,
	}
}

func (w *WebhookPublisher) Publish(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	status, err := w.deliver(ctx, msg.ExecutionID, payload)
	if err == nil && status >= 400 {
		err = fmt.Errorf("webhook responded %d", status)
	}
	if w.log != nil {
		if lerr := w.log.Record(ctx, Delivery{
			ExecutionID: msg.ExecutionID,
			URL:         w.url,
			Event:       EventFeedbackReady,
			Payload:     payload,
			Status:      status,
			Err:         err,
		}); lerr != nil {
			slog.Error("failed to record webhook delivery", "error", lerr)
		}
	}
	return err
}

func (w *WebhookPublisher) deliver(ctx context.Context, executionID string, payload []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Event", EventFeedbackReady)
	req.Header.Set("X-Webhook-ID", executionID)
	if w.secret != "" {
		req.Header.Set(SignatureHeader, Sign(payload, w.secret))
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("webhook delivery: %w", err)
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

// Sign returns the signature header value for payload.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return fmt.Sprintf("sha256=%s", hex.EncodeToString(mac.Sum(nil)))
}

// PostgresDeliveryLog writes attempts to webhook_deliveries.
type PostgresDeliveryLog struct {
	db *pgxpool.Pool
}

func NewPostgresDeliveryLog(db *pgxpool.Pool) *PostgresDeliveryLog {
	return &PostgresDeliveryLog{db: db}
}

func (l *PostgresDeliveryLog) Record(ctx context.Context, d Delivery) error {
	var deliveredAt *time.Time
	var errText *string
	if d.Err == nil {
		now := time.Now()
		deliveredAt = &now
	} else {
		s := d.Err.Error()
		errText = &s
	}

	_, err := l.db.Exec(ctx,
		`INSERT INTO webhook_deliveries (execution_id, url, event, payload, response_status, error, delivered_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		d.ExecutionID, d.URL, d.Event, d.Payload, d.Status, errText, deliveredAt,
	)
	if err != nil {
		return fmt.Errorf("insert webhook delivery: %w", err)
	}
	return nil
}
