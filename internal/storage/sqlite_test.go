package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"toonbot/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "toonbot.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestUpsertUserKeepsFlag(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	u, err := st.UpsertUser(ctx, "u1")
	if err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}
	if !u.Notify {
		t.Fatalf("new user should default to notifications enabled")
	}

	if err := st.SetNotification(ctx, "u1", false); err != nil {
		t.Fatalf("SetNotification: %v", err)
	}
	u, err = st.UpsertUser(ctx, "u1")
	if err != nil {
		t.Fatalf("second UpsertUser: %v", err)
	}
	if u.Notify {
		t.Fatalf("upsert overwrote the notification flag")
	}
}

func TestSetNotificationUnknownUserIsNoop(t *testing.T) {
	st := openTestStore(t)
	if err := st.SetNotification(context.Background(), "ghost", true); err != nil {
		t.Fatalf("SetNotification on unknown user: %v", err)
	}
}

func TestGetOrCreateFeedIdempotent(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	f1, err := st.GetOrCreateFeed(ctx, "toons")
	if err != nil {
		t.Fatalf("GetOrCreateFeed: %v", err)
	}
	f2, err := st.GetOrCreateFeed(ctx, "toons")
	if err != nil {
		t.Fatalf("second GetOrCreateFeed: %v", err)
	}
	if f1.ID != f2.ID {
		t.Fatalf("same name produced different feeds: %d != %d", f1.ID, f2.ID)
	}

	_, ok, err := st.GetFeed(ctx, "ghost")
	if err != nil {
		t.Fatalf("GetFeed: %v", err)
	}
	if ok {
		t.Fatalf("unknown feed reported as found")
	}
}

func TestSubscriptionsRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if _, err := st.UpsertUser(ctx, "u1"); err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}
	f, err := st.GetOrCreateFeed(ctx, "toons")
	if err != nil {
		t.Fatalf("GetOrCreateFeed: %v", err)
	}

	if err := st.AddSubscription(ctx, "u1", f.ID); err != nil {
		t.Fatalf("AddSubscription: %v", err)
	}
	// Duplicate subscribe is a no-op.
	if err := st.AddSubscription(ctx, "u1", f.ID); err != nil {
		t.Fatalf("duplicate AddSubscription: %v", err)
	}

	subs, err := st.SubscriptionsByUser(ctx, "u1")
	if err != nil {
		t.Fatalf("SubscriptionsByUser: %v", err)
	}
	if len(subs) != 1 || subs[0].FeedName != "toons" {
		t.Fatalf("unexpected subscriptions: %+v", subs)
	}

	byFeed, err := st.SubscriptionsByFeed(ctx, f.ID)
	if err != nil {
		t.Fatalf("SubscriptionsByFeed: %v", err)
	}
	if len(byFeed) != 1 || byFeed[0].UserID != "u1" {
		t.Fatalf("unexpected feed subscribers: %+v", byFeed)
	}
}

func TestDeleteFeedCascades(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if _, err := st.UpsertUser(ctx, "u1"); err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}
	f, err := st.GetOrCreateFeed(ctx, "toons")
	if err != nil {
		t.Fatalf("GetOrCreateFeed: %v", err)
	}
	if err := st.AddSubscription(ctx, "u1", f.ID); err != nil {
		t.Fatalf("AddSubscription: %v", err)
	}
	if err := st.RecordDelivery(ctx, "u1", f.ID, "t1"); err != nil {
		t.Fatalf("RecordDelivery: %v", err)
	}

	if err := st.DeleteFeed(ctx, f.ID); err != nil {
		t.Fatalf("DeleteFeed: %v", err)
	}

	subs, err := st.SubscriptionsByUser(ctx, "u1")
	if err != nil {
		t.Fatalf("SubscriptionsByUser: %v", err)
	}
	if len(subs) != 0 {
		t.Fatalf("subscriptions survived feed delete: %+v", subs)
	}
	open, err := st.OpenDeliveriesByUser(ctx, "u1")
	if err != nil {
		t.Fatalf("OpenDeliveriesByUser: %v", err)
	}
	if len(open) != 0 {
		t.Fatalf("deliveries survived feed delete: %+v", open)
	}
}

func TestRecordDeliveryOpenInvariant(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if _, err := st.UpsertUser(ctx, "u1"); err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}
	f, err := st.GetOrCreateFeed(ctx, "toons")
	if err != nil {
		t.Fatalf("GetOrCreateFeed: %v", err)
	}
	if err := st.AddSubscription(ctx, "u1", f.ID); err != nil {
		t.Fatalf("AddSubscription: %v", err)
	}

	if err := st.RecordDelivery(ctx, "u1", f.ID, "t1"); err != nil {
		t.Fatalf("RecordDelivery t1: %v", err)
	}
	if err := st.RecordDelivery(ctx, "u1", f.ID, "t2"); err != nil {
		t.Fatalf("RecordDelivery t2: %v", err)
	}

	open, err := st.OpenDeliveriesByUser(ctx, "u1")
	if err != nil {
		t.Fatalf("OpenDeliveriesByUser: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("expected exactly one open record, got %d", len(open))
	}
	if open[0].ItemID != "t2" {
		t.Fatalf("open record item = %s, want t2", open[0].ItemID)
	}
	if !open[0].Open() {
		t.Fatalf("open record not marked open: %+v", open[0])
	}

	// Re-delivering an item seen before reopens its old ledger row.
	if err := st.RecordDelivery(ctx, "u1", f.ID, "t1"); err != nil {
		t.Fatalf("RecordDelivery t1 again: %v", err)
	}
	open, err = st.OpenDeliveriesByUser(ctx, "u1")
	if err != nil {
		t.Fatalf("OpenDeliveriesByUser: %v", err)
	}
	if len(open) != 1 || open[0].ItemID != "t1" {
		t.Fatalf("expected t1 reopened as the only open record, got %+v", open)
	}
}

func TestBroadcastClockRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	_, ok, err := st.BroadcastClock(ctx)
	if err != nil {
		t.Fatalf("BroadcastClock: %v", err)
	}
	if ok {
		t.Fatalf("fresh store should have no broadcast clock")
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	if err := st.SetBroadcastClock(ctx, now); err != nil {
		t.Fatalf("SetBroadcastClock: %v", err)
	}
	got, ok, err := st.BroadcastClock(ctx)
	if err != nil {
		t.Fatalf("BroadcastClock: %v", err)
	}
	if !ok {
		t.Fatalf("clock missing after set")
	}
	if !got.Equal(now) {
		t.Fatalf("clock = %v, want %v", got, now)
	}

	// Overwrite.
	later := now.Add(time.Hour)
	if err := st.SetBroadcastClock(ctx, later); err != nil {
		t.Fatalf("second SetBroadcastClock: %v", err)
	}
	got, _, err = st.BroadcastClock(ctx)
	if err != nil {
		t.Fatalf("BroadcastClock: %v", err)
	}
	if !got.Equal(later) {
		t.Fatalf("clock = %v, want %v", got, later)
	}
}
