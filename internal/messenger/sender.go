package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"toonbot/internal/bot"
	"toonbot/pkg/logx"
)

const defaultAPIBase = "https://graph.facebook.com/v2.6"

// SenderConfig tunes the Graph API send pipeline.
type SenderConfig struct {
	AccessToken string
	// APIBase overrides the Graph API endpoint (tests).
	APIBase    string
	Workers    int
	QueueSize  int
	RatePerSec int
}

type sendJob struct {
	userID  string
	payload sendMessaging
}

// Sender posts messages to the Graph API through a rate-limited worker
// pool. It implements bot.Notifier: enqueueing never blocks the caller,
// and send failures are logged only.
type Sender struct {
	cfg  SenderConfig
	log  logx.Logger
	http *http.Client

	limiter *rate.Limiter

	mu     sync.Mutex
	queue  chan sendJob
	wg     sync.WaitGroup
	cancel context.CancelFunc

	// dropped counts sends discarded because the queue was full. Logged
	// periodically to avoid per-send spam.
	dropped atomic.Uint64
}

func NewSender(cfg SenderConfig, log logx.Logger) (*Sender, error) {
	if strings.TrimSpace(cfg.AccessToken) == "" {
		return nil, fmt.Errorf("messenger access token is empty")
	}
	if cfg.APIBase == "" {
		cfg.APIBase = defaultAPIBase
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 5
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sender{
		cfg:     cfg,
		log:     log,
		http:    &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}, nil
}

func (s *Sender) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue != nil {
		return
	}
	rctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.queue = make(chan sendJob, s.cfg.QueueSize)

	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.worker(rctx)
		}()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.dropSummary(rctx)
	}()

	s.log.Info("messenger sender started",
		logx.Int("workers", s.cfg.Workers), logx.Int("rps", s.cfg.RatePerSec))
}

// Stop cancels the workers. Queued sends are abandoned: delivery here is
// best-effort by contract.
func (s *Sender) Stop(ctx context.Context) {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.queue = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
	case <-done:
	}
}

// SendText implements bot.Notifier.
func (s *Sender) SendText(ctx context.Context, userID, text string, mode bot.Mode) {
	s.enqueue(sendJob{
		userID: userID,
		payload: sendMessaging{
			MessagingType: typeFor(mode),
			Recipient:     UserRef{ID: userID},
			Message:       sendMessage{Text: text},
			Tag:           tagFor(mode),
		},
	})
}

// SendImage implements bot.Notifier.
func (s *Sender) SendImage(ctx context.Context, userID, uri string, mode bot.Mode) {
	s.enqueue(sendJob{
		userID: userID,
		payload: sendMessaging{
			MessagingType: typeFor(mode),
			Recipient:     UserRef{ID: userID},
			Message: sendMessage{
				Attachment: &attachment{
					Type:    "image",
					Payload: attachmentPayload{URL: uri, IsReusable: true},
				},
			},
			Tag: tagFor(mode),
		},
	})
}

func typeFor(mode bot.Mode) MessagingType {
	if mode == bot.ModeScheduled {
		return TypeMessageTag
	}
	return TypeResponse
}

// Scheduled sends go out long after the user's last message, so they need
// a message tag; responses must not carry one.
func tagFor(mode bot.Mode) Tag {
	if mode == bot.ModeScheduled {
		return TagNonPromotionalSubscription
	}
	return ""
}

func (s *Sender) enqueue(j sendJob) {
	s.mu.Lock()
	q := s.queue
	s.mu.Unlock()
	if q == nil {
		s.dropped.Add(1)
		return
	}
	select {
	case q <- j:
	default:
		s.dropped.Add(1)
	}
}

func (s *Sender) worker(ctx context.Context) {
	s.mu.Lock()
	q := s.queue
	s.mu.Unlock()
	if q == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-q:
			if err := s.limiter.Wait(ctx); err != nil {
				return
			}
			s.post(ctx, j)
		}
	}
}

func (s *Sender) post(ctx context.Context, j sendJob) {
	body, err := json.Marshal(j.payload)
	if err != nil {
		s.log.Error("failed to encode message", logx.String("user", j.userID), logx.Err(err))
		return
	}

	u := s.cfg.APIBase + "/me/messages?access_token=" + url.QueryEscape(s.cfg.AccessToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		s.log.Error("failed to build send request", logx.String("user", j.userID), logx.Err(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := s.http.Do(req)
	if err != nil {
		s.log.Warn("failed to send message", logx.String("user", j.userID), logx.Err(err))
		return
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, res.Body)

	if res.StatusCode != http.StatusOK {
		s.log.Warn("send rejected",
			logx.String("user", j.userID), logx.Int("status", res.StatusCode))
		return
	}
	s.log.Debug("message sent", logx.String("user", j.userID))
}

func (s *Sender) dropSummary(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if n := s.dropped.Swap(0); n > 0 {
				s.log.Warn("outbound sends dropped (queue full)", logx.Uint64("count", n))
			}
			return
		case <-ticker.C:
			if n := s.dropped.Swap(0); n > 0 {
				s.log.Warn("outbound sends dropped (queue full)", logx.Uint64("count", n))
			}
		}
	}
}
