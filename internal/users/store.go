package users

import (
	"context"
	"errors"
	"time"

	"backend-silksong/internal/db"
	"backend-silksong/internal/shared/apperr"

	"github.com/dgraph-io/ristretto"
	"github.com/eko/gocache/lib/v4/cache"
	"github.com/eko/gocache/lib/v4/store"
	ristretto_store "github.com/eko/gocache/store/ristretto/v4"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

type Store struct {
	db    db.Querier
	cache *cache.Cache[User]
	ttl   time.Duration
}

// NewStore returns a read-only user directory. A nil cache disables caching.
func NewStore(db db.Querier, c *cache.Cache[User], ttl time.Duration) *Store {
	return &Store{db: db, cache: c, ttl: ttl}
}

// NewMemoryCache builds the in-process author cache.
func NewMemoryCache() (*cache.Cache[User], error) {
	client, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     1_000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return cache.New[User](ristretto_store.NewRistretto(client)), nil
}

func (s *Store) Get(ctx context.Context, id string) (User, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, name, email, created_at
		FROM users WHERE id = $1
	`, id)
	var u User
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, apperr.ErrNotFound
		}
		return User{}, apperr.Upstream(err)
	}
	s.remember(ctx, u)
	return u, nil
}

// Lookup batch-loads users by id. Unknown ids are absent from the result.
func (s *Store) Lookup(ctx context.Context, ids []string) (map[string]User, error) {
	found := make(map[string]User, len(ids))
	var missing []string
	for _, id := range lo.Uniq(ids) {
		if id == "" {
			continue
		}
		if s.cache != nil {
			if u, err := s.cache.Get(ctx, id); err == nil {
				found[id] = u
				continue
			}
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return found, nil
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, name, email, created_at
		FROM users WHERE id = ANY($1)
	`, missing)
	if err != nil {
		return found, apperr.Upstream(err)
	}
	defer rows.Close()

	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.CreatedAt); err != nil {
			return found, apperr.Upstream(err)
		}
		found[u.ID] = u
		s.remember(ctx, u)
	}
	if err := rows.Err(); err != nil {
		return found, apperr.Upstream(err)
	}
	return found, nil
}

func (s *Store) remember(ctx context.Context, u User) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, u.ID, u, store.WithExpiration(s.ttl), store.WithCost(1)); err != nil {
		log.Debug().Err(err).Str("user_id", u.ID).Msg("author cache set failed")
	}
}
