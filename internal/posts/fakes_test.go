package posts

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"backend-silksong/internal/shared/apperr"
	"backend-silksong/internal/users"
)

// memStore orders posts exactly like the Postgres scan.
type memStore struct {
	mu    sync.Mutex
	posts []Post
	seq   int64
	clock time.Time
	tick  time.Duration
	err   error
}

func newMemStore() *memStore {
	return &memStore{clock: time.Date(2025, 9, 4, 12, 0, 0, 0, time.UTC), tick: time.Second}
}

func (m *memStore) Insert(_ context.Context, p Post) (Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return Post{}, m.err
	}
	m.seq++
	m.clock = m.clock.Add(m.tick)
	p.Seq = m.seq
	p.CreatedAt = m.clock
	m.posts = append(m.posts, p)
	return p, nil
}

func (m *memStore) Get(_ context.Context, id string) (Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.posts {
		if p.ID == id {
			return p, nil
		}
	}
	return Post{}, apperr.ErrNotFound
}

func (m *memStore) ScanDesc(_ context.Context, after *Position, limit int) ([]Post, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, false, m.err
	}
	sorted := append([]Post(nil), m.posts...)
	sort.Slice(sorted, func(i, j int) bool { return before(sorted[i].Position(), sorted[j].Position()) })

	var out []Post
	for _, p := range sorted {
		if after != nil && !before(*after, p.Position()) {
			continue
		}
		out = append(out, p)
		if len(out) > limit {
			return out[:limit], false, nil
		}
	}
	return out, true, nil
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.posts)
}

// before reports whether a comes earlier than b in (created_at DESC, seq DESC).
func before(a, b Position) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.Seq > b.Seq
}

type fakeDirectory struct {
	users map[string]users.User
	err   error
	calls int
}

func (f *fakeDirectory) Lookup(_ context.Context, ids []string) (map[string]users.User, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := map[string]users.User{}
	for _, id := range ids {
		if u, ok := f.users[id]; ok {
			out[id] = u
		}
	}
	return out, nil
}

type fakeResolver struct {
	blobs map[string]bool
	err   error
}

func (f *fakeResolver) ResolveURLs(_ context.Context, ids []string) (map[string]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := map[string]string{}
	for _, id := range ids {
		if f.blobs[id] {
			out[id] = "https://blobs.test/" + id
		}
	}
	return out, nil
}

type recordingNotifier struct {
	got []EnrichedPost
	err error
}

func (r *recordingNotifier) PostCreated(_ context.Context, p EnrichedPost) error {
	r.got = append(r.got, p)
	return r.err
}

var errUpstream = apperr.Upstream(errors.New("boom"))
