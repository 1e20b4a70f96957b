package posts

import (
	"context"
	"errors"

	"backend-silksong/internal/db"
	"backend-silksong/internal/shared/apperr"

	"github.com/jackc/pgx/v5"
)

const postColumns = `id, seq, title, content, image_id, author_id, created_at`

type PostgresStore struct {
	db db.Querier
}

func NewPostgresStore(db db.Querier) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Insert(ctx context.Context, p Post) (Post, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO posts (id, title, content, image_id, author_id)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING seq, created_at
	`, p.ID, p.Title, p.Content, p.ImageID, p.AuthorID)
	if err := row.Scan(&p.Seq, &p.CreatedAt); err != nil {
		return Post{}, apperr.Upstream(err)
	}
	return p, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Post, error) {
	row := s.db.QueryRow(ctx, `SELECT `+postColumns+` FROM posts WHERE id = $1`, id)
	var p Post
	if err := row.Scan(&p.ID, &p.Seq, &p.Title, &p.Content, &p.ImageID, &p.AuthorID, &p.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Post{}, apperr.ErrNotFound
		}
		return Post{}, apperr.Upstream(err)
	}
	return p, nil
}

// ScanDesc probes one row past limit to learn whether the scan is done.
func (s *PostgresStore) ScanDesc(ctx context.Context, after *Position, limit int) ([]Post, bool, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if after == nil {
		rows, err = s.db.Query(ctx, `
			SELECT `+postColumns+`
			FROM posts
			ORDER BY created_at DESC, seq DESC
			LIMIT $1
		`, limit+1)
	} else {
		rows, err = s.db.Query(ctx, `
			SELECT `+postColumns+`
			FROM posts
			WHERE (created_at, seq) < ($1, $2)
			ORDER BY created_at DESC, seq DESC
			LIMIT $3
		`, after.CreatedAt, after.Seq, limit+1)
	}
	if err != nil {
		return nil, false, apperr.Upstream(err)
	}
	defer rows.Close()

	var out []Post
	for rows.Next() {
		var p Post
		if err := rows.Scan(&p.ID, &p.Seq, &p.Title, &p.Content, &p.ImageID, &p.AuthorID, &p.CreatedAt); err != nil {
			return nil, false, apperr.Upstream(err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, false, apperr.Upstream(err)
	}

	if len(out) > limit {
		return out[:limit], false, nil
	}
	return out, true, nil
}
