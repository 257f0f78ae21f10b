package bot

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"toonbot/pkg/logx"
)

// Patterns are checked in order; "unsubscribe" must be tested before
// "subscribe" because the latter matches both.
var (
	reHelp         = regexp.MustCompile(`(?i)help`)
	reShowSubs     = regexp.MustCompile(`(?i)show subscription`)
	reUnsubscribe  = regexp.MustCompile(`(?i)unsubscribe`)
	reSubscribe    = regexp.MustCompile(`(?i)subscribe`)
	reNotification = regexp.MustCompile(`(?i)notification`)
	reUpdate       = regexp.MustCompile(`(?i)update`)
	reOn           = regexp.MustCompile(`(?i)^on$`)
	reOff          = regexp.MustCompile(`(?i)^off$`)
)

// startAction is the postback payload action sent by the platform's
// "Get Started" button.
const startAction = "START"

type postbackPayload struct {
	Action string `json:"action"`
}

// Router maps normalized inbound text and postbacks onto engine calls.
type Router struct {
	engine *Engine
	log    logx.Logger
}

func NewRouter(engine *Engine, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{engine: engine, log: log}
}

// HandleText routes one text message from a user.
func (r *Router) HandleText(ctx context.Context, userID, text string) {
	log := r.log.With(logx.String("user", userID))
	var err error
	switch {
	case reHelp.MatchString(text):
		log.Info("received help message")
		r.engine.Help(ctx, userID)
	case reShowSubs.MatchString(text):
		err = r.engine.ShowSubscriptions(ctx, userID)
	case reUnsubscribe.MatchString(text):
		if name, ok := argOf(text); ok {
			log.Info("received unsubscribe message", logx.String("feed", name))
			err = r.engine.Unsubscribe(ctx, userID, name)
		} else {
			log.Info("received unsubscribe message with no feed name")
			r.engine.Unknown(ctx, userID)
		}
	case reSubscribe.MatchString(text):
		if name, ok := argOf(text); ok {
			log.Info("received subscribe message", logx.String("feed", name))
			err = r.engine.Subscribe(ctx, userID, name)
		} else {
			log.Info("received subscribe message with no feed name")
			r.engine.Unknown(ctx, userID)
		}
	case reNotification.MatchString(text):
		arg, ok := argOf(text)
		switch {
		case ok && reOn.MatchString(arg):
			log.Info("received enable notification message")
			err = r.engine.SetNotification(ctx, userID, true)
		case ok && reOff.MatchString(arg):
			log.Info("received disable notification message")
			err = r.engine.SetNotification(ctx, userID, false)
		default:
			log.Info("received notification message with unknown flag")
			r.engine.Unknown(ctx, userID)
		}
	case reUpdate.MatchString(text):
		log.Info("received update message")
		err = r.engine.SendUpdate(ctx, userID, ModeOnDemand)
	default:
		log.Info("received unknown message")
		r.engine.Unknown(ctx, userID)
	}
	if err != nil {
		log.Error("command failed", logx.Err(err))
	}
}

// HandlePostback routes one postback event (button press) from a user.
func (r *Router) HandlePostback(ctx context.Context, userID, payload string) {
	log := r.log.With(logx.String("user", userID))
	var p postbackPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		log.Warn("bad postback payload", logx.Err(err))
		return
	}
	switch p.Action {
	case startAction:
		log.Info("received start action")
		if err := r.engine.GetStarted(ctx, userID); err != nil {
			log.Error("get started failed", logx.Err(err))
		}
	default:
		log.Info("received unknown postback action", logx.String("action", p.Action))
	}
}

// argOf extracts the argument of a one-argument command
// ("subscribe xkcd" -> "xkcd").
func argOf(text string) (string, bool) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) < 2 {
		return "", false
	}
	return fields[1], true
}
