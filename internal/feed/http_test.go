package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"toonbot/pkg/logx"
)

const rssBody = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>Example Strip</title>
  <link>https://comics.example/strip</link>
  <item>
    <title>Monday</title>
    <link>https://comics.example/strip/2026-08-31</link>
    <guid>strip-2026-08-31</guid>
    <pubDate>Mon, 31 Aug 2026 06:00:00 GMT</pubDate>
    <enclosure url="https://cdn.example/strip/2026-08-31.png" type="image/png" length="1000"/>
  </item>
  <item>
    <title>Tuesday</title>
    <link>https://comics.example/strip/2026-09-01</link>
    <guid>strip-2026-09-01</guid>
    <pubDate>Tue, 01 Sep 2026 06:00:00 GMT</pubDate>
    <enclosure url="https://cdn.example/strip/2026-09-01.png" type="image/png" length="1000"/>
  </item>
</channel>
</rss>`

const emptyRSSBody = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>Empty</title></channel></rss>`

func newFeedServer(t *testing.T, bodies map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		body, ok := bodies[req.URL.Path]
		if !ok {
			rw.WriteHeader(http.StatusNotFound)
			return
		}
		rw.Header().Set("Content-Type", "application/rss+xml")
		_, _ = rw.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestFetcher(t *testing.T, baseURL string) *HTTPFetcher {
	t.Helper()
	f, err := NewHTTPFetcher(HTTPConfig{
		URLTemplate: baseURL + "/%s/rss",
		RatePerSec:  1000,
	}, logx.Nop())
	if err != nil {
		t.Fatalf("NewHTTPFetcher: %v", err)
	}
	return f
}

func TestLatestPicksNewestEntry(t *testing.T) {
	srv := newFeedServer(t, map[string]string{"/strip/rss": rssBody})
	f := newTestFetcher(t, srv.URL)

	it, ok, err := f.Latest(context.Background(), "strip")
	if err != nil || !ok {
		t.Fatalf("Latest = %v, %v, %v", it, ok, err)
	}
	if it.ID != "strip-2026-09-01" {
		t.Fatalf("latest item = %q, want the newest published entry", it.ID)
	}
	if it.URI != "https://cdn.example/strip/2026-09-01.png" {
		t.Fatalf("item image = %q", it.URI)
	}
}

func TestLatestEmptyFeed(t *testing.T) {
	srv := newFeedServer(t, map[string]string{"/empty/rss": emptyRSSBody})
	f := newTestFetcher(t, srv.URL)

	_, ok, err := f.Latest(context.Background(), "empty")
	if err != nil {
		t.Fatalf("empty feed returned error: %v", err)
	}
	if ok {
		t.Fatalf("empty feed reported an item")
	}
}

func TestLatestHTTPError(t *testing.T) {
	srv := newFeedServer(t, nil)
	f := newTestFetcher(t, srv.URL)

	_, ok, err := f.Latest(context.Background(), "missing")
	if !errors.Is(err, ErrFetch) || ok {
		t.Fatalf("404 not surfaced as fetch error: ok=%v err=%v", ok, err)
	}
}

func TestLatestFallsBackToLinkID(t *testing.T) {
	noGUID := `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>NoGUID</title>
<item><title>One</title><link>https://comics.example/one</link></item>
</channel></rss>`
	srv := newFeedServer(t, map[string]string{"/noguid/rss": noGUID})
	f := newTestFetcher(t, srv.URL)

	it, ok, err := f.Latest(context.Background(), "noguid")
	if err != nil || !ok {
		t.Fatalf("Latest = %v, %v, %v", it, ok, err)
	}
	if it.ID != "https://comics.example/one" {
		t.Fatalf("item id = %q, want the entry link", it.ID)
	}
}

func TestNewHTTPFetcherRejectsBadTemplate(t *testing.T) {
	for _, tpl := range []string{"", "https://x.example/rss", "%s/%s"} {
		if _, err := NewHTTPFetcher(HTTPConfig{URLTemplate: tpl}, logx.Nop()); err == nil {
			t.Fatalf("template %q accepted", tpl)
		}
	}
}
