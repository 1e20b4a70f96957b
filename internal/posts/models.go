package posts

import (
	"context"
	"time"

	"backend-silksong/internal/users"
)

// Post is a stored document. Seq records insertion order and breaks
// created_at ties.
type Post struct {
	ID        string    `json:"id"`
	Seq       int64     `json:"-"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	ImageID   *string   `json:"image_id,omitempty"`
	AuthorID  string    `json:"author_id"`
	CreatedAt time.Time `json:"created_at"`
}

// EnrichedPost is the read-side wire shape.
type EnrichedPost struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Content    string    `json:"content"`
	AuthorID   string    `json:"author_id"`
	AuthorName string    `json:"author_name"`
	ImageID    *string   `json:"image_id,omitempty"`
	ImageURL   *string   `json:"image_url"`
	CreatedAt  time.Time `json:"created_at"`
}

// EventPostCreated names the change-feed event emitted after CreatePost.
const EventPostCreated = "post.created"

// Event is the change-feed envelope pushed to websocket clients and NATS.
type Event struct {
	Type string       `json:"type"`
	Post EnrichedPost `json:"post"`
}

type Page struct {
	Items  []EnrichedPost `json:"items"`
	Cursor string         `json:"cursor"`
	IsDone bool           `json:"is_done"`
}

type CreatePostInput struct {
	Title   string  `json:"title"`
	Content string  `json:"content"`
	ImageID *string `json:"image_id,omitempty"`
}

// Position is a point in (created_at DESC, seq DESC) order.
type Position struct {
	CreatedAt time.Time
	Seq       int64
}

func (p Post) Position() Position {
	return Position{CreatedAt: p.CreatedAt, Seq: p.Seq}
}

// Store persists posts and scans them newest first.
type Store interface {
	Insert(ctx context.Context, p Post) (Post, error)
	Get(ctx context.Context, id string) (Post, error)
	// ScanDesc returns up to limit posts strictly after the given position
	// (nil starts at the newest) and whether the scan reached the end.
	ScanDesc(ctx context.Context, after *Position, limit int) ([]Post, bool, error)
}

type AuthorDirectory interface {
	Lookup(ctx context.Context, ids []string) (map[string]users.User, error)
}

type ImageResolver interface {
	ResolveURLs(ctx context.Context, ids []string) (map[string]string, error)
}

// Notifier is told about every post after it is stored.
type Notifier interface {
	PostCreated(ctx context.Context, post EnrichedPost) error
}
