package bot

import (
	"context"
	"sort"
	"strings"

	"toonbot/internal/feed"
	"toonbot/internal/storage"
	"toonbot/pkg/logx"
)

// Mode distinguishes the two delivery triggers.
type Mode int

const (
	// ModeOnDemand is an explicit user request; the bot replies even when
	// there is nothing new.
	ModeOnDemand Mode = iota
	// ModeScheduled is the periodic sweep; nothing new means no message.
	ModeScheduled
)

// Notifier delivers messages to a user. Implementations are
// fire-and-forget: failures are logged on their side and never surface
// into the engine's control flow.
type Notifier interface {
	SendText(ctx context.Context, userID, text string, mode Mode)
	SendImage(ctx context.Context, userID, uri string, mode Mode)
}

const lineBreak = "\n"

var commands = []string{
	"help - display a list of things you can ask me.",
	"show subscription - display comic feeds you're subscribed to.",
	"subscribe [feed] - subscribe to a comic feed.",
	"unsubscribe [feed] - unsubscribe from a comic feed.",
	"notification [on/off] - enable/disable comic update notifications.",
	"update - send comic update.",
}

// Engine decides, per user, whether a new comic update exists across their
// subscriptions, which one to deliver next, and records the delivery.
type Engine struct {
	store    storage.Store
	fetcher  feed.Fetcher
	notifier Notifier
	defaults []string
	log      logx.Logger
}

func NewEngine(store storage.Store, fetcher feed.Fetcher, notifier Notifier, defaults []string, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{
		store:    store,
		fetcher:  fetcher,
		notifier: notifier,
		defaults: defaults,
		log:      log,
	}
}

// GetStarted registers a user, subscribes them to the default feeds and
// sends the welcome message.
func (e *Engine) GetStarted(ctx context.Context, userID string) error {
	if _, err := e.store.UpsertUser(ctx, userID); err != nil {
		return err
	}
	for _, name := range e.defaults {
		if err := e.subscribe(ctx, userID, name); err != nil {
			return err
		}
	}
	msg := "Welcome! Enjoy the comics." + lineBreak + `Type "help" for more info.`
	e.notifier.SendText(ctx, userID, msg, ModeOnDemand)
	return nil
}

// Help lists everything the user can ask.
func (e *Engine) Help(ctx context.Context, userID string) {
	msgs := append([]string{"You can ask me these things..."}, commands...)
	e.notifier.SendText(ctx, userID, strings.Join(msgs, lineBreak+lineBreak), ModeOnDemand)
}

// Unknown replies to unrecognized input.
func (e *Engine) Unknown(ctx context.Context, userID string) {
	e.notifier.SendText(ctx, userID, `Sorry I don't understand. Type "help" for more info.`, ModeOnDemand)
}

// ShowSubscriptions lists the feeds the user is subscribed to.
func (e *Engine) ShowSubscriptions(ctx context.Context, userID string) error {
	subs, err := e.store.SubscriptionsByUser(ctx, userID)
	if err != nil {
		return err
	}
	if len(subs) == 0 {
		e.notifier.SendText(ctx, userID, "You have no subscriptions.", ModeOnDemand)
		return nil
	}
	names := make([]string, 0, len(subs))
	for _, s := range subs {
		names = append(names, s.FeedName)
	}
	e.notifier.SendText(ctx, userID, "You are subscribed to: "+strings.Join(names, ", "), ModeOnDemand)
	return nil
}

// Subscribe subscribes the user to a feed, creating the feed row on first
// use, and confirms. Subscribing twice is a no-op.
func (e *Engine) Subscribe(ctx context.Context, userID, name string) error {
	if err := e.subscribe(ctx, userID, name); err != nil {
		return err
	}
	e.notifier.SendText(ctx, userID, "You've subscribed to "+name, ModeOnDemand)
	return nil
}

func (e *Engine) subscribe(ctx context.Context, userID, name string) error {
	// Users can subscribe before ever hitting Get Started.
	if _, err := e.store.UpsertUser(ctx, userID); err != nil {
		return err
	}
	f, err := e.store.GetOrCreateFeed(ctx, name)
	if err != nil {
		return err
	}
	return e.store.AddSubscription(ctx, userID, f.ID)
}

// Unsubscribe removes the user's subscription and garbage-collects the
// feed when nobody else follows it. Unsubscribing from an unknown feed
// reports "not subscribed" rather than erroring.
func (e *Engine) Unsubscribe(ctx context.Context, userID, name string) error {
	f, ok, err := e.store.GetFeed(ctx, name)
	if err != nil {
		return err
	}
	if !ok {
		e.notifier.SendText(ctx, userID, "You're not subscribed to "+name, ModeOnDemand)
		return nil
	}
	if err := e.store.RemoveSubscription(ctx, userID, f.ID); err != nil {
		return err
	}
	remaining, err := e.store.SubscriptionsByFeed(ctx, f.ID)
	if err != nil {
		return err
	}
	if len(remaining) == 0 {
		if err := e.store.DeleteFeed(ctx, f.ID); err != nil {
			return err
		}
	}
	e.notifier.SendText(ctx, userID, "You've unsubscribed from "+name, ModeOnDemand)
	return nil
}

// SetNotification flips the user's broadcast opt-in and confirms.
func (e *Engine) SetNotification(ctx context.Context, userID string, enabled bool) error {
	if err := e.store.SetNotification(ctx, userID, enabled); err != nil {
		return err
	}
	msg := "Notification is now disabled."
	if enabled {
		msg = "Notification is now enabled."
	}
	e.notifier.SendText(ctx, userID, msg, ModeOnDemand)
	return nil
}

// candidate pairs a subscription with its open delivery record, if any.
type candidate struct {
	sub  storage.Subscription
	open *storage.DeliveryRecord
}

// ComputeNextUpdate walks the user's subscriptions in staleness order
// (never-delivered feeds first, then oldest last delivery) and returns the
// first feed whose current latest item differs from what the user already
// received. At most one update is computed per call.
func (e *Engine) ComputeNextUpdate(ctx context.Context, userID string) (storage.Feed, feed.Item, bool, error) {
	subs, err := e.store.SubscriptionsByUser(ctx, userID)
	if err != nil {
		return storage.Feed{}, feed.Item{}, false, err
	}
	open, err := e.store.OpenDeliveriesByUser(ctx, userID)
	if err != nil {
		return storage.Feed{}, feed.Item{}, false, err
	}

	byFeed := make(map[int64]*storage.DeliveryRecord, len(open))
	for i := range open {
		byFeed[open[i].FeedID] = &open[i]
	}
	cands := make([]candidate, 0, len(subs))
	for _, s := range subs {
		cands = append(cands, candidate{sub: s, open: byFeed[s.FeedID]})
	}
	// Never-delivered feeds are the most overdue; among the rest, the
	// oldest delivery goes first.
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i].open, cands[j].open
		switch {
		case a == nil:
			return b != nil
		case b == nil:
			return false
		default:
			return a.DeliveredFrom.Before(b.DeliveredFrom)
		}
	})

	for _, c := range cands {
		item, ok, err := e.fetcher.Latest(ctx, c.sub.FeedName)
		if err != nil {
			// A failing or empty source is the same thing: nothing to send.
			e.log.Warn("feed fetch failed",
				logx.String("feed", c.sub.FeedName), logx.Err(err))
			continue
		}
		if !ok {
			continue
		}
		if c.open == nil || c.open.ItemID != item.ID {
			return storage.Feed{ID: c.sub.FeedID, Name: c.sub.FeedName}, item, true, nil
		}
	}
	return storage.Feed{}, feed.Item{}, false, nil
}

// SendUpdate delivers the next undelivered item, if any. The send is
// attempted before the delivery is recorded: a crash in between resends on
// the next cycle instead of silently dropping (at-least-once).
func (e *Engine) SendUpdate(ctx context.Context, userID string, mode Mode) error {
	f, item, ok, err := e.ComputeNextUpdate(ctx, userID)
	if err != nil {
		return err
	}
	if !ok {
		if mode == ModeOnDemand {
			e.notifier.SendText(ctx, userID, "No comic updates.", mode)
		}
		return nil
	}

	e.notifier.SendImage(ctx, userID, item.URI, mode)
	if err := e.store.RecordDelivery(ctx, userID, f.ID, item.ID); err != nil {
		return err
	}
	e.log.Info("update delivered",
		logx.String("user", userID),
		logx.String("feed", f.Name),
		logx.String("item", item.ID))
	return nil
}
