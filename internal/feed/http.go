package feed

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/time/rate"

	"toonbot/pkg/logx"
)

// HTTPConfig tunes the RSS/Atom fetcher.
type HTTPConfig struct {
	// URLTemplate maps a feed name to its URL; must contain one %s.
	URLTemplate string
	// Timeout bounds a single fetch. A non-responding source is reported
	// as an error, which callers treat as "no item".
	Timeout time.Duration
	// RatePerSec throttles outbound fetches across all feeds.
	RatePerSec int
}

// HTTPFetcher fetches a feed over HTTP and parses it with gofeed.
type HTTPFetcher struct {
	cfg     HTTPConfig
	client  *http.Client
	parser  *gofeed.Parser
	limiter *rate.Limiter
	log     logx.Logger
}

func NewHTTPFetcher(cfg HTTPConfig, log logx.Logger) (*HTTPFetcher, error) {
	if strings.Count(cfg.URLTemplate, "%s") != 1 {
		return nil, fmt.Errorf("feed url template must contain exactly one %%s, got %q", cfg.URLTemplate)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 2
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &HTTPFetcher{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		parser:  gofeed.NewParser(),
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		log:     log,
	}, nil
}

func (f *HTTPFetcher) Latest(ctx context.Context, name string) (Item, bool, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return Item{}, false, err
	}

	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	url := fmt.Sprintf(f.cfg.URLTemplate, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Item{}, false, err
	}
	req.Header.Set("User-Agent", "toonbot/1.0")

	res, err := f.client.Do(req)
	if err != nil {
		return Item{}, false, fmt.Errorf("%w: %s: %v", ErrFetch, name, err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return Item{}, false, fmt.Errorf("%w: %s: unexpected status %d", ErrFetch, name, res.StatusCode)
	}

	parsed, err := f.parser.Parse(res.Body)
	if err != nil {
		return Item{}, false, fmt.Errorf("%w: %s: %v", ErrFetch, name, err)
	}

	latest := latestEntry(parsed)
	if latest == nil {
		f.log.Debug("feed has no entries", logx.String("feed", name))
		return Item{}, false, nil
	}

	it := Item{ID: entryID(latest), URI: entryImage(latest)}
	if it.ID == "" {
		return Item{}, false, nil
	}
	f.log.Debug("fetched latest entry",
		logx.String("feed", name), logx.String("item", it.ID))
	return it, true, nil
}

// latestEntry prefers the newest published entry; feeds without usable
// dates fall back to document order (newest first by convention).
func latestEntry(f *gofeed.Feed) *gofeed.Item {
	if len(f.Items) == 0 {
		return nil
	}
	best := f.Items[0]
	for _, it := range f.Items[1:] {
		if it.PublishedParsed != nil && best.PublishedParsed != nil &&
			it.PublishedParsed.After(*best.PublishedParsed) {
			best = it
		}
	}
	return best
}

func entryID(it *gofeed.Item) string {
	if it.GUID != "" {
		return it.GUID
	}
	return it.Link
}

func entryImage(it *gofeed.Item) string {
	if it.Image != nil && it.Image.URL != "" {
		return it.Image.URL
	}
	for _, enc := range it.Enclosures {
		if strings.HasPrefix(enc.Type, "image/") && enc.URL != "" {
			return enc.URL
		}
	}
	return it.Link
}
