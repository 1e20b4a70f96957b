package feedclient

import (
	"context"
	"sync"
	"time"

	"backend-silksong/internal/posts"
)

// ScrollThreshold is how close to the bottom, in pixels, a scroll must get
// before the next page loads.
const ScrollThreshold = 50

type Loader interface {
	ListFeed(ctx context.Context, query, cursor string, pageSize int) (posts.Page, error)
}

// Feed is infinite-scroll state for one search box. At most one page load is
// in flight; changing the query discards results of older loads.
type Feed struct {
	loader   Loader
	pageSize int
	debounce *Debouncer

	mu      sync.Mutex
	gen     uint64
	query   string
	cursor  string
	items   []posts.EnrichedPost
	done    bool
	loading bool
	err     error
}

func NewFeed(loader Loader, pageSize int, debounce time.Duration) *Feed {
	if pageSize <= 0 {
		pageSize = posts.DefaultPageSize
	}
	return &Feed{
		loader:   loader,
		pageSize: pageSize,
		debounce: NewDebouncer(debounce),
	}
}

// SetQuery restarts the feed for q once typing settles, then loads the
// first page.
func (f *Feed) SetQuery(q string) {
	f.debounce.Trigger(func() {
		f.Reset(q)
		_, _ = f.LoadMore(context.Background())
	})
}

// Reset clears the feed for a new query. Loads already in flight are
// ignored when they return.
func (f *Feed) Reset(q string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gen++
	f.query = q
	f.cursor = ""
	f.items = nil
	f.done = false
	f.loading = false
	f.err = nil
}

// LoadMore fetches the next page unless one is loading or the feed is done.
// It reports whether a result was applied.
func (f *Feed) LoadMore(ctx context.Context) (bool, error) {
	f.mu.Lock()
	if f.loading || f.done {
		f.mu.Unlock()
		return false, nil
	}
	f.loading = true
	gen, query, cursor := f.gen, f.query, f.cursor
	f.mu.Unlock()

	page, err := f.loader.ListFeed(ctx, query, cursor, f.pageSize)

	f.mu.Lock()
	defer f.mu.Unlock()
	if gen != f.gen {
		return false, nil
	}
	f.loading = false
	if err != nil {
		f.err = err
		return true, err
	}
	f.err = nil
	f.items = append(f.items, page.Items...)
	f.cursor = page.Cursor
	f.done = page.IsDone
	return true, nil
}

// OnScroll loads the next page when the viewport is within ScrollThreshold
// of the bottom.
func (f *Feed) OnScroll(ctx context.Context, scrollTop, clientHeight, scrollHeight float64) (bool, error) {
	if scrollTop+clientHeight < scrollHeight-ScrollThreshold {
		return false, nil
	}
	return f.LoadMore(ctx)
}

func (f *Feed) Items() []posts.EnrichedPost {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]posts.EnrichedPost(nil), f.items...)
}

func (f *Feed) Query() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.query
}

func (f *Feed) Done() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.done
}

func (f *Feed) Loading() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loading
}

func (f *Feed) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Close cancels a pending debounced query.
func (f *Feed) Close() {
	f.debounce.Cancel()
}
