package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

type memoryLog struct {
	mu         sync.Mutex
	deliveries []Delivery
}

func (l *memoryLog) Record(_ context.Context, d Delivery) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.deliveries = append(l.deliveries, d)
	return nil
}

func TestWebhookPublisher_SignsAndRecords(t *testing.T) {
	var gotBody []byte
	var gotSig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSig = r.Header.Get("X-Webhook-Signature")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	log := &memoryLog{}
	p := NewWebhookPublisher(srv.URL, "whsec_test", log)
	msg := Message{ExecutionID: "e1", SessionKey: "s", Subject: "Speech Feedback", Body: "text"}
	if err := p.Publish(context.Background(), msg); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	var decoded Message
	if err := json.Unmarshal(gotBody, &decoded); err != nil || decoded != msg {
		t.Errorf("body = %s (%v)", gotBody, err)
	}
	if gotSig != Sign(gotBody, "whsec_test") {
		t.Errorf("signature = %q", gotSig)
	}
	if len(log.deliveries) != 1 || log.deliveries[0].Status != http.StatusNoContent || log.deliveries[0].Err != nil {
		t.Errorf("deliveries = %+v", log.deliveries)
	}
}

func TestWebhookPublisher_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	log := &memoryLog{}
	p := NewWebhookPublisher(srv.URL, "", log)
	if err := p.Publish(context.Background(), Message{ExecutionID: "e1"}); err == nil {
		t.Fatal("expected error for 502")
	}
	if len(log.deliveries) != 1 || log.deliveries[0].Err == nil {
		t.Errorf("failed delivery not recorded: %+v", log.deliveries)
	}
}

type funcPublisher func(context.Context, Message) error

func (f funcPublisher) Publish(ctx context.Context, m Message) error { return f(ctx, m) }

func TestMulti_TriesAll(t *testing.T) {
	calls := 0
	ok := funcPublisher(func(context.Context, Message) error { calls++; return nil })
	bad := funcPublisher(func(context.Context, Message) error { calls++; return errors.New("down") })

	err := Multi{bad, ok}.Publish(context.Background(), Message{})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
	if err := (Multi{ok, LogPublisher{}}).Publish(context.Background(), Message{}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
