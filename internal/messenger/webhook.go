package messenger

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"toonbot/internal/bot"
	"toonbot/pkg/logx"
)

// WebhookConfig controls the inbound HTTP server.
type WebhookConfig struct {
	Addr        string
	VerifyToken string
	QueueSize   int
}

// Webhook serves the Messenger verification handshake and page events.
//
// Events are acknowledged immediately and handed to the router on a
// background dispatcher; the platform resends events that are not
// acknowledged quickly.
type Webhook struct {
	cfg    WebhookConfig
	router *bot.Router
	log    logx.Logger

	srv    *http.Server
	events chan Entry

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup

	dropped atomic.Uint64
}

func NewWebhook(cfg WebhookConfig, router *bot.Router, log logx.Logger) *Webhook {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 128
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	w := &Webhook{
		cfg:    cfg,
		router: router,
		log:    log,
		events: make(chan Entry, cfg.QueueSize),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/webhook", w.handleWebhook)
	mux.HandleFunc("/health", w.handleHealth)
	w.srv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return w
}

// Handler exposes the HTTP handler for tests.
func (w *Webhook) Handler() http.Handler { return w.srv.Handler }

func (w *Webhook) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", w.cfg.Addr)
	if err != nil {
		return err
	}

	rctx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.cancel = cancel
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.dispatch(rctx)
	}()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := w.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			w.log.Error("webhook server failed", logx.Err(err))
		}
	}()

	w.log.Info("webhook listening", logx.String("addr", ln.Addr().String()))
	return nil
}

func (w *Webhook) Stop(ctx context.Context) {
	_ = w.srv.Shutdown(ctx)
	w.mu.Lock()
	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
	case <-done:
	}
}

func (w *Webhook) handleWebhook(rw http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		w.verify(rw, req)
	case http.MethodPost:
		w.receive(rw, req)
	default:
		rw.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// verify answers the webhook registration handshake: the platform calls
// with the shared verify token and expects the challenge echoed back.
func (w *Webhook) verify(rw http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	mode := q.Get("hub.mode")
	token := q.Get("hub.verify_token")
	challenge := q.Get("hub.challenge")

	if mode == "subscribe" && token == w.cfg.VerifyToken {
		w.log.Info("webhook verification successful")
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte(challenge))
		return
	}
	w.log.Warn("webhook verification failed")
	rw.WriteHeader(http.StatusForbidden)
}

func (w *Webhook) receive(rw http.ResponseWriter, req *http.Request) {
	var ev Event
	if err := json.NewDecoder(req.Body).Decode(&ev); err != nil {
		w.log.Warn("bad webhook body", logx.Err(err))
		rw.WriteHeader(http.StatusBadRequest)
		return
	}
	if ev.Object != "page" {
		rw.WriteHeader(http.StatusNotFound)
		return
	}

	for _, entry := range ev.Entry {
		select {
		case w.events <- entry:
		default:
			w.dropped.Add(1)
		}
	}

	// Ack now; processing continues on the dispatcher.
	rw.WriteHeader(http.StatusOK)
	_, _ = rw.Write([]byte("EVENT_RECEIVED"))
}

func (w *Webhook) handleHealth(rw http.ResponseWriter, req *http.Request) {
	rw.WriteHeader(http.StatusOK)
	_, _ = rw.Write([]byte("OK"))
}

func (w *Webhook) dispatch(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := w.dropped.Swap(0); n > 0 {
				w.log.Warn("inbound events dropped (queue full)",
					logx.Uint64("count", n), logx.Int("chan_cap", cap(w.events)))
			}
		case entry := <-w.events:
			for _, m := range entry.Messaging {
				switch {
				case m.Message != nil:
					w.router.HandleText(ctx, m.Sender.ID, m.Message.Text)
				case m.Postback != nil:
					w.router.HandlePostback(ctx, m.Sender.ID, m.Postback.Payload)
				default:
					w.log.Debug("unknown messaging kind", logx.String("user", m.Sender.ID))
				}
			}
		}
	}
}
