package messenger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"toonbot/internal/bot"
	"toonbot/pkg/logx"
)

type capturedSend struct {
	token   string
	payload sendMessaging
}

func newCaptureServer(t *testing.T) (*httptest.Server, chan capturedSend) {
	t.Helper()
	got := make(chan capturedSend, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		if req.URL.Path != "/me/messages" {
			t.Errorf("unexpected path %q", req.URL.Path)
		}
		var p sendMessaging
		if err := json.NewDecoder(req.Body).Decode(&p); err != nil {
			t.Errorf("decode send body: %v", err)
		}
		got <- capturedSend{token: req.URL.Query().Get("access_token"), payload: p}
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte(`{"message_id":"m1"}`))
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func startTestSender(t *testing.T, apiBase string) *Sender {
	t.Helper()
	s, err := NewSender(SenderConfig{
		AccessToken: "tok",
		APIBase:     apiBase,
		Workers:     1,
		RatePerSec:  1000,
	}, logx.Nop())
	if err != nil {
		t.Fatalf("NewSender: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	t.Cleanup(func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer stopCancel()
		s.Stop(stopCtx)
		cancel()
	})
	return s
}

func waitSend(t *testing.T, got chan capturedSend) capturedSend {
	t.Helper()
	select {
	case c := <-got:
		return c
	case <-time.After(2 * time.Second):
		t.Fatalf("send never reached the API")
		return capturedSend{}
	}
}

func TestSendTextResponse(t *testing.T) {
	srv, got := newCaptureServer(t)
	s := startTestSender(t, srv.URL)

	s.SendText(context.Background(), "user-1", "Hello!", bot.ModeOnDemand)

	c := waitSend(t, got)
	if c.token != "tok" {
		t.Fatalf("access_token = %q", c.token)
	}
	p := c.payload
	if p.MessagingType != TypeResponse {
		t.Fatalf("messaging_type = %q, want RESPONSE", p.MessagingType)
	}
	if p.Tag != "" {
		t.Fatalf("on-demand send carried tag %q", p.Tag)
	}
	if p.Recipient.ID != "user-1" || p.Message.Text != "Hello!" {
		t.Fatalf("payload = %+v", p)
	}
}

func TestSendTextScheduledCarriesTag(t *testing.T) {
	srv, got := newCaptureServer(t)
	s := startTestSender(t, srv.URL)

	s.SendText(context.Background(), "user-1", "fresh strip", bot.ModeScheduled)

	p := waitSend(t, got).payload
	if p.MessagingType != TypeMessageTag {
		t.Fatalf("messaging_type = %q, want MESSAGE_TAG", p.MessagingType)
	}
	if p.Tag != TagNonPromotionalSubscription {
		t.Fatalf("tag = %q, want NON_PROMOTIONAL_SUBSCRIPTION", p.Tag)
	}
}

func TestSendImageAttachment(t *testing.T) {
	srv, got := newCaptureServer(t)
	s := startTestSender(t, srv.URL)

	s.SendImage(context.Background(), "user-1", "https://cdn.example/strip.png", bot.ModeOnDemand)

	p := waitSend(t, got).payload
	if p.Message.Text != "" {
		t.Fatalf("image send carried text %q", p.Message.Text)
	}
	att := p.Message.Attachment
	if att == nil || att.Type != "image" {
		t.Fatalf("attachment = %+v", att)
	}
	if att.Payload.URL != "https://cdn.example/strip.png" || !att.Payload.IsReusable {
		t.Fatalf("attachment payload = %+v", att.Payload)
	}
}

func TestSenderRequiresAccessToken(t *testing.T) {
	if _, err := NewSender(SenderConfig{}, logx.Nop()); err == nil {
		t.Fatalf("NewSender accepted an empty access token")
	}
}

func TestEnqueueBeforeStartDrops(t *testing.T) {
	s, err := NewSender(SenderConfig{AccessToken: "tok"}, logx.Nop())
	if err != nil {
		t.Fatalf("NewSender: %v", err)
	}
	// Not started: the send must not block or panic.
	s.SendText(context.Background(), "user-1", "hi", bot.ModeOnDemand)
	if n := s.dropped.Load(); n != 1 {
		t.Fatalf("dropped = %d, want 1", n)
	}
}
