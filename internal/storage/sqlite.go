package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"toonbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

const timeFormat = time.RFC3339Nano

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

// Open initializes the SQLite store, creating the database file and schema
// as needed.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) UpsertUser(ctx context.Context, id string) (User, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO users(id, notify) VALUES(?, 1)`, id)
	if err != nil {
		return User{}, fmt.Errorf("upsert user: %w", err)
	}
	var u User
	var notify int
	err = s.db.QueryRowContext(ctx,
		`SELECT id, notify FROM users WHERE id = ?`, id).Scan(&u.ID, &notify)
	if err != nil {
		return User{}, fmt.Errorf("load user %q: %w", id, err)
	}
	u.Notify = notify != 0
	return u, nil
}

func (s *sqliteStore) SetNotification(ctx context.Context, id string, enabled bool) error {
	// Unknown users are a no-op, not an error.
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET notify = ? WHERE id = ?`, boolInt(enabled), id)
	if err != nil {
		return fmt.Errorf("set notification: %w", err)
	}
	return nil
}

func (s *sqliteStore) Users(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, notify FROM users`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		var notify int
		if err := rows.Scan(&u.ID, &notify); err != nil {
			return nil, err
		}
		u.Notify = notify != 0
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *sqliteStore) GetOrCreateFeed(ctx context.Context, name string) (Feed, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO feeds(name) VALUES(?)`, name)
	if err != nil {
		return Feed{}, fmt.Errorf("create feed: %w", err)
	}
	f, ok, err := s.GetFeed(ctx, name)
	if err != nil {
		return Feed{}, err
	}
	if !ok {
		return Feed{}, fmt.Errorf("feed %q missing after insert", name)
	}
	return f, nil
}

func (s *sqliteStore) GetFeed(ctx context.Context, name string) (Feed, bool, error) {
	var f Feed
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name FROM feeds WHERE name = ?`, name).Scan(&f.ID, &f.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return Feed{}, false, nil
	}
	if err != nil {
		return Feed{}, false, fmt.Errorf("get feed %q: %w", name, err)
	}
	return f, true, nil
}

func (s *sqliteStore) DeleteFeed(ctx context.Context, feedID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM feeds WHERE id = ?`, feedID)
	if err != nil {
		return fmt.Errorf("delete feed %d: %w", feedID, err)
	}
	return nil
}

func (s *sqliteStore) AddSubscription(ctx context.Context, userID string, feedID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO subscriptions(user_id, feed_id) VALUES(?, ?)`,
		userID, feedID)
	if err != nil {
		return fmt.Errorf("add subscription: %w", err)
	}
	return nil
}

func (s *sqliteStore) RemoveSubscription(ctx context.Context, userID string, feedID int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM subscriptions WHERE user_id = ? AND feed_id = ?`,
		userID, feedID)
	if err != nil {
		return fmt.Errorf("remove subscription: %w", err)
	}
	return nil
}

func (s *sqliteStore) SubscriptionsByUser(ctx context.Context, userID string) ([]Subscription, error) {
	return s.subscriptions(ctx, `s.user_id = ?`, userID)
}

func (s *sqliteStore) SubscriptionsByFeed(ctx context.Context, feedID int64) ([]Subscription, error) {
	return s.subscriptions(ctx, `s.feed_id = ?`, feedID)
}

func (s *sqliteStore) subscriptions(ctx context.Context, where string, arg any) ([]Subscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.user_id, s.feed_id, f.name
		 FROM subscriptions s
		 INNER JOIN feeds f ON s.feed_id = f.id
		 WHERE `+where, arg)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []Subscription
	for rows.Next() {
		var sub Subscription
		if err := rows.Scan(&sub.UserID, &sub.FeedID, &sub.FeedName); err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (s *sqliteStore) RecordDelivery(ctx context.Context, userID string, feedID int64, itemID string) error {
	now := time.Now().UTC().Format(timeFormat)
	sentinel := openSentinel.Format(timeFormat)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record delivery: %w", err)
	}
	defer tx.Rollback()

	// Close the prior open record, if any.
	if _, err := tx.ExecContext(ctx,
		`UPDATE deliveries SET delivered_to = ?
		 WHERE user_id = ? AND feed_id = ? AND delivered_to = ?`,
		now, userID, feedID, sentinel); err != nil {
		return fmt.Errorf("close open delivery: %w", err)
	}

	// Re-delivering an item that appeared before reopens its old row instead
	// of violating the ledger's primary key.
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO deliveries(user_id, feed_id, item_id, delivered_from, delivered_to)
		 VALUES(?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, feed_id, item_id)
		 DO UPDATE SET delivered_from = excluded.delivered_from, delivered_to = excluded.delivered_to`,
		userID, feedID, itemID, now, sentinel); err != nil {
		return fmt.Errorf("insert open delivery: %w", err)
	}

	return tx.Commit()
}

func (s *sqliteStore) OpenDeliveriesByUser(ctx context.Context, userID string) ([]DeliveryRecord, error) {
	sentinel := openSentinel.Format(timeFormat)
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, feed_id, item_id, delivered_from, delivered_to
		 FROM deliveries
		 WHERE user_id = ? AND delivered_to = ?`,
		userID, sentinel)
	if err != nil {
		return nil, fmt.Errorf("list open deliveries: %w", err)
	}
	defer rows.Close()

	var recs []DeliveryRecord
	for rows.Next() {
		var r DeliveryRecord
		var from, to string
		if err := rows.Scan(&r.UserID, &r.FeedID, &r.ItemID, &from, &to); err != nil {
			return nil, err
		}
		if r.DeliveredFrom, err = time.Parse(timeFormat, from); err != nil {
			return nil, fmt.Errorf("bad delivered_from %q: %w", from, err)
		}
		if r.DeliveredTo, err = time.Parse(timeFormat, to); err != nil {
			return nil, fmt.Errorf("bad delivered_to %q: %w", to, err)
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

func (s *sqliteStore) BroadcastClock(ctx context.Context) (time.Time, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT last_run FROM broadcast_clock WHERE id = 1`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("broadcast clock: %w", err)
	}
	t, err := time.Parse(timeFormat, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("bad broadcast clock %q: %w", raw, err)
	}
	return t, true, nil
}

func (s *sqliteStore) SetBroadcastClock(ctx context.Context, t time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO broadcast_clock(id, last_run) VALUES(1, ?)
		 ON CONFLICT(id) DO UPDATE SET last_run = excluded.last_run`,
		t.UTC().Format(timeFormat))
	if err != nil {
		return fmt.Errorf("set broadcast clock: %w", err)
	}
	return nil
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
