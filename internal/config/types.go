package config

import (
	"errors"
	"fmt"
	"strings"
)

type Config struct {
	Messenger MessengerConfig `json:"messenger"`
	Feeds     FeedsConfig     `json:"feeds"`
	Fetcher   FetcherConfig   `json:"fetcher,omitempty"`
	Broadcast BroadcastConfig `json:"broadcast"`
	Storage   StorageConfig   `json:"storage"`
	Logging   LoggingConfig   `json:"logging"`
}

// MessengerConfig controls the webhook ingress and the Graph API sender.
//
// VerifyToken is the shared secret echoed back during the webhook
// verification handshake. AccessToken is the page access token used for
// outbound sends (do not log it).
type MessengerConfig struct {
	Addr        string `json:"addr"`
	VerifyToken string `json:"verify_token"`
	AccessToken string `json:"access_token"`

	// APIBase overrides the Graph API endpoint. Leave empty for production;
	// tests point it at a local server.
	APIBase string `json:"api_base,omitempty"`

	// Sender pipeline tuning. Zero values pick defaults.
	Workers    int `json:"workers,omitempty"`
	QueueSize  int `json:"queue_size,omitempty"`
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

// FeedsConfig names the comic feeds users can subscribe to.
//
// URLTemplate maps a feed name to its RSS/Atom URL and must contain
// exactly one %s placeholder. Defaults are subscribed automatically when
// a user first talks to the bot.
type FeedsConfig struct {
	URLTemplate string   `json:"url_template"`
	Defaults    []string `json:"defaults,omitempty"`
}

// FetcherConfig tunes the outbound feed fetcher.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type FetcherConfig struct {
	Timeout    string `json:"timeout,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// BroadcastConfig controls the scheduled update sweep.
//
// Interval is a Go duration string; the sweep is skipped when the
// persisted broadcast clock is younger than Interval, so frequent
// restarts do not replay a broadcast.
type BroadcastConfig struct {
	Enabled    bool   `json:"enabled"`
	Interval   string `json:"interval,omitempty"`
	Workers    int    `json:"workers,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
	Timezone   string `json:"timezone,omitempty"`
}

// StorageConfig controls the SQLite store.
type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// Validate checks cross-field requirements and duration syntax.
// It is also used as the watch-time validator so a bad edit never
// replaces a good running config.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(c.Messenger.VerifyToken) == "" {
		return errors.New("messenger.verify_token is required")
	}
	if strings.TrimSpace(c.Messenger.AccessToken) == "" {
		return errors.New("messenger.access_token is required")
	}
	tpl := c.Feeds.URLTemplate
	if strings.Count(tpl, "%s") != 1 {
		return fmt.Errorf("feeds.url_template must contain exactly one %%s placeholder, got %q", tpl)
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		return errors.New("storage.path is required")
	}
	for _, f := range []struct{ path, raw string }{
		{"fetcher.timeout", c.Fetcher.Timeout},
		{"broadcast.interval", c.Broadcast.Interval},
		{"storage.busy_timeout", c.Storage.BusyTimeout},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	return nil
}
