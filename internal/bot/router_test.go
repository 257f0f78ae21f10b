package bot

import (
	"context"
	"strings"
	"testing"

	"toonbot/internal/feed"
	"toonbot/pkg/logx"
)

func testLogger() logx.Logger { return logx.Nop() }

func newTestRouter(t *testing.T) (*Router, *fakeStore, *fakeNotifier) {
	t.Helper()
	store := newFakeStore()
	fetcher := &fakeFetcher{results: map[string]fetchResult{
		"toons": {item: feed.Item{ID: "t1", URI: "http://img/t1"}, ok: true},
	}}
	e, n := newTestEngine(store, fetcher, "toons")
	return NewRouter(e, testLogger()), store, n
}

func lastText(n *fakeNotifier) string {
	if len(n.sent) == 0 {
		return ""
	}
	return n.sent[len(n.sent)-1].text
}

func TestRouterCommands(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string // substring of the last reply
	}{
		{"help", "help", "You can ask me"},
		{"help is case-insensitive", "HELP", "You can ask me"},
		{"show subscriptions empty", "show subscription", "no subscriptions"},
		{"subscribe", "subscribe toons", "You've subscribed to toons"},
		{"subscribe without argument", "subscribe", "don't understand"},
		{"unsubscribe unknown", "unsubscribe ghost", "not subscribed"},
		{"notification on", "notification on", "enabled"},
		{"notification off", "notification off", "disabled"},
		{"notification garbage", "notification maybe", "don't understand"},
		{"gibberish", "what is this", "don't understand"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _, n := newTestRouter(t)
			r.HandleText(context.Background(), "u1", tt.text)
			if got := lastText(n); !strings.Contains(got, tt.want) {
				t.Fatalf("reply %q does not contain %q", got, tt.want)
			}
		})
	}
}

func TestRouterUnsubscribeBeforeSubscribe(t *testing.T) {
	// "unsubscribe toons" matches the subscribe pattern too; the router
	// must route it as an unsubscribe.
	r, store, _ := newTestRouter(t)
	ctx := context.Background()
	r.HandleText(ctx, "u1", "subscribe toons")
	if len(store.subs["u1"]) != 1 {
		t.Fatalf("subscribe did not stick")
	}
	r.HandleText(ctx, "u1", "unsubscribe toons")
	if len(store.subs["u1"]) != 0 {
		t.Fatalf("unsubscribe routed as subscribe")
	}
}

func TestRouterUpdateDelivers(t *testing.T) {
	r, _, n := newTestRouter(t)
	ctx := context.Background()
	r.HandleText(ctx, "u1", "subscribe toons")
	r.HandleText(ctx, "u1", "update")
	imgs := n.images()
	if len(imgs) != 1 || imgs[0].uri != "http://img/t1" {
		t.Fatalf("expected an image delivery, got %+v", n.sent)
	}
	if imgs[0].mode != ModeOnDemand {
		t.Fatalf("on-demand update sent with mode %v", imgs[0].mode)
	}
}

func TestRouterStartPostback(t *testing.T) {
	r, store, n := newTestRouter(t)
	r.HandlePostback(context.Background(), "u1", `{"action":"START"}`)
	if _, ok := store.users["u1"]; !ok {
		t.Fatalf("start postback did not register the user")
	}
	if len(store.subs["u1"]) != 1 {
		t.Fatalf("start postback did not subscribe defaults")
	}
	if !strings.Contains(lastText(n), "Welcome") {
		t.Fatalf("expected welcome reply, got %q", lastText(n))
	}
}

func TestRouterBadPostbackIgnored(t *testing.T) {
	r, store, n := newTestRouter(t)
	r.HandlePostback(context.Background(), "u1", `not json`)
	if len(store.users) != 0 || len(n.sent) != 0 {
		t.Fatalf("bad postback must be ignored")
	}
}
