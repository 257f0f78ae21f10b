package feed

import (
	"context"
	"errors"
)

// ErrFetch wraps transport, HTTP status and parse failures from a source.
var ErrFetch = errors.New("feed fetch failed")

// Item is the most recent entry of a feed.
type Item struct {
	// ID identifies the item within its feed (GUID or permalink).
	ID string
	// URI points at the image to send, falling back to the entry link.
	URI string
}

// Fetcher returns a feed's single most recent item.
//
// (Item{}, false, nil) means the feed currently has nothing. Errors are
// transport or parse failures; callers treat them the same as "nothing"
// and must not abort a sweep over them.
type Fetcher interface {
	Latest(ctx context.Context, name string) (Item, bool, error)
}
