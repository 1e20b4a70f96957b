package posts

import (
	"context"
	"strings"

	"backend-silksong/internal/shared/apperr"
	"backend-silksong/internal/users"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

const (
	DefaultPageSize = 5
	MaxPageSize     = 50
	// SearchScanCap bounds Search: only this many of the newest posts are
	// scanned, so older matches are never returned.
	SearchScanCap = 50
)

type Options struct {
	DefaultPageSize int
	MaxPageSize     int
	SearchScanCap   int
	CursorSecret    string
}

type Service struct {
	store     Store
	authors   AuthorDirectory
	images    ImageResolver
	notifiers []Notifier
	cursors   cursorCodec
	opts      Options
}

// NewService wires the read and write paths. authors and images may be nil,
// in which case every post gets the fallback name and no image URL.
func NewService(store Store, authors AuthorDirectory, images ImageResolver, opts Options, notifiers ...Notifier) *Service {
	if opts.DefaultPageSize <= 0 {
		opts.DefaultPageSize = DefaultPageSize
	}
	if opts.MaxPageSize <= 0 {
		opts.MaxPageSize = MaxPageSize
	}
	if opts.SearchScanCap <= 0 {
		opts.SearchScanCap = SearchScanCap
	}
	return &Service{
		store:     store,
		authors:   authors,
		images:    images,
		notifiers: lo.Compact(notifiers),
		cursors:   cursorCodec{secret: []byte(opts.CursorSecret)},
		opts:      opts,
	}
}

// ListFeed returns one page of posts newest first. The page holds the
// matches among pageSize scanned posts, so it may be short or empty while
// IsDone is still false; callers continue with the returned cursor.
func (s *Service) ListFeed(ctx context.Context, query, cursor string, pageSize int) (Page, error) {
	after, err := s.cursors.Decode(cursor)
	if err != nil {
		return Page{}, apperr.Invalid(err.Error())
	}

	scanned, done, err := s.store.ScanDesc(ctx, after, s.pageSize(pageSize))
	if err != nil {
		return Page{}, err
	}

	next := cursor
	if len(scanned) > 0 {
		next = s.cursors.Encode(scanned[len(scanned)-1].Position())
	}
	return Page{
		Items:  s.enrich(ctx, filterPosts(scanned, normalizeQuery(query))),
		Cursor: next,
		IsDone: done,
	}, nil
}

// Search filters the newest SearchScanCap posts and returns at most limit
// matches. It never looks further back than the cap.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]EnrichedPost, error) {
	if limit <= 0 || limit > s.opts.SearchScanCap {
		limit = s.opts.SearchScanCap
	}
	scanned, _, err := s.store.ScanDesc(ctx, nil, s.opts.SearchScanCap)
	if err != nil {
		return nil, err
	}
	matches := filterPosts(scanned, normalizeQuery(query))
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return s.enrich(ctx, matches), nil
}

func (s *Service) GetPost(ctx context.Context, id string) (EnrichedPost, error) {
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return EnrichedPost{}, err
	}
	return s.enrich(ctx, []Post{p})[0], nil
}

// CreatePost stores the input verbatim under callerID and returns the new id.
func (s *Service) CreatePost(ctx context.Context, callerID string, input CreatePostInput) (string, error) {
	if callerID == "" {
		return "", apperr.ErrUnauthenticated
	}

	stored, err := s.store.Insert(ctx, Post{
		ID:       uuid.NewString(),
		Title:    input.Title,
		Content:  input.Content,
		ImageID:  input.ImageID,
		AuthorID: callerID,
	})
	if err != nil {
		return "", err
	}

	if len(s.notifiers) > 0 {
		enriched := s.enrich(ctx, []Post{stored})[0]
		for _, n := range s.notifiers {
			if err := n.PostCreated(ctx, enriched); err != nil {
				log.Warn().Err(err).Str("post_id", stored.ID).Msg("post notifier failed")
			}
		}
	}
	return stored.ID, nil
}

func (s *Service) pageSize(n int) int {
	switch {
	case n <= 0:
		return s.opts.DefaultPageSize
	case n > s.opts.MaxPageSize:
		return s.opts.MaxPageSize
	default:
		return n
	}
}

// enrich attaches author names and image URLs. Lookup failures degrade to
// the fallback name and a null URL.
func (s *Service) enrich(ctx context.Context, posts []Post) []EnrichedPost {
	var authors map[string]users.User
	if s.authors != nil && len(posts) > 0 {
		ids := lo.Map(posts, func(p Post, _ int) string { return p.AuthorID })
		found, err := s.authors.Lookup(ctx, ids)
		if err != nil {
			log.Warn().Err(err).Msg("author lookup failed, using fallback names")
		}
		authors = found
	}

	var urls map[string]string
	imageIDs := lo.FilterMap(posts, func(p Post, _ int) (string, bool) {
		return lo.FromPtr(p.ImageID), lo.FromPtr(p.ImageID) != ""
	})
	if s.images != nil && len(imageIDs) > 0 {
		resolved, err := s.images.ResolveURLs(ctx, imageIDs)
		if err != nil {
			log.Warn().Err(err).Msg("image resolution failed, omitting urls")
		}
		urls = resolved
	}

	return lo.Map(posts, func(p Post, _ int) EnrichedPost {
		name := users.DefaultDisplayName
		if u, ok := authors[p.AuthorID]; ok {
			name = u.DisplayName()
		}
		var imageURL *string
		if u, ok := urls[lo.FromPtr(p.ImageID)]; ok {
			imageURL = &u
		}
		return EnrichedPost{
			ID:         p.ID,
			Title:      p.Title,
			Content:    p.Content,
			AuthorID:   p.AuthorID,
			AuthorName: name,
			ImageID:    p.ImageID,
			ImageURL:   imageURL,
			CreatedAt:  p.CreatedAt,
		}
	})
}

func normalizeQuery(q string) string {
	return strings.ToLower(strings.TrimSpace(q))
}

// filterPosts keeps posts whose title or content contains q. q must already
// be normalized; the empty query keeps everything.
func filterPosts(posts []Post, q string) []Post {
	if q == "" {
		return posts
	}
	return lo.Filter(posts, func(p Post, _ int) bool {
		return strings.Contains(strings.ToLower(p.Title), q) ||
			strings.Contains(strings.ToLower(p.Content), q)
	})
}
