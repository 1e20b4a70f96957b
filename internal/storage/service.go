package storage

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"backend-silksong/internal/db"
	"backend-silksong/internal/shared/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

const uploadKeyPrefix = "upload:"

var errBadSignature = fmt.Errorf("%w: invalid or expired blob signature", apperr.ErrUnauthenticated)

type Service struct {
	db        db.Querier
	redis     *redis.Client
	secret    []byte
	baseURL   string
	uploadTTL time.Duration
	blobTTL   time.Duration
	now       func() time.Time
}

func NewService(db db.Querier, rdb *redis.Client, opts Options) *Service {
	return &Service{
		db:        db,
		redis:     rdb,
		secret:    []byte(opts.Secret),
		baseURL:   strings.TrimRight(opts.PublicBaseURL, "/"),
		uploadTTL: opts.UploadURLTTL,
		blobTTL:   opts.BlobURLTTL,
		now:       time.Now,
	}
}

// IssueUploadTarget hands out a one-shot upload token bound to callerID.
func (s *Service) IssueUploadTarget(ctx context.Context, callerID string) (UploadTarget, error) {
	if callerID == "" {
		return UploadTarget{}, apperr.ErrUnauthenticated
	}
	if s.redis == nil {
		return UploadTarget{}, apperr.Upstream(errors.New("upload tokens need redis"))
	}

	token := uuid.NewString()
	if err := s.redis.Set(ctx, uploadKeyPrefix+token, callerID, s.uploadTTL).Err(); err != nil {
		return UploadTarget{}, apperr.Upstream(err)
	}
	return UploadTarget{
		URL:       s.baseURL + "/storage/upload/" + token,
		Token:     token,
		Method:    http.MethodPost,
		ExpiresAt: s.now().Add(s.uploadTTL),
	}, nil
}

// Upload consumes token and stores data as a new blob owned by the token's caller.
// A token is only spent once its blob is saved.
func (s *Service) Upload(ctx context.Context, token, contentType string, data []byte) (string, error) {
	if s.redis == nil {
		return "", apperr.Upstream(errors.New("upload tokens need redis"))
	}
	if len(data) == 0 {
		return "", apperr.Invalid("empty upload")
	}

	key := uploadKeyPrefix + token
	var ttl *redis.DurationCmd
	var owner *redis.StringCmd
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		ttl = pipe.PTTL(ctx, key)
		owner = pipe.GetDel(ctx, key)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", apperr.Upstream(err)
	}
	ownerID, err := owner.Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("%w: unknown or expired upload token", apperr.ErrUnauthenticated)
	}
	if err != nil {
		return "", apperr.Upstream(err)
	}
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	id := uuid.NewString()
	_, err = s.db.Exec(ctx, `
		INSERT INTO blobs (id, owner_id, content_type, size, data)
		VALUES ($1,$2,$3,$4,$5)
	`, id, ownerID, contentType, int64(len(data)), data)
	if err != nil {
		s.restoreToken(ctx, key, ownerID, ttl.Val())
		return "", apperr.Upstream(err)
	}
	return id, nil
}

// restoreToken puts a consumed token back for whatever lifetime it had left.
func (s *Service) restoreToken(ctx context.Context, key, ownerID string, remaining time.Duration) {
	if remaining <= 0 {
		return
	}
	if err := s.redis.SetNX(ctx, key, ownerID, remaining).Err(); err != nil {
		log.Warn().Err(err).Msg("restore upload token")
	}
}

// ResolveURLs returns signed download URLs for the ids that name existing blobs.
func (s *Service) ResolveURLs(ctx context.Context, ids []string) (map[string]string, error) {
	ids = lo.Compact(lo.Uniq(ids))
	urls := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return urls, nil
	}

	rows, err := s.db.Query(ctx, `SELECT id FROM blobs WHERE id = ANY($1)`, ids)
	if err != nil {
		return urls, apperr.Upstream(err)
	}
	defer rows.Close()

	exp := s.now().Add(s.blobTTL)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return urls, apperr.Upstream(err)
		}
		urls[id] = s.SignedURL(id, exp)
	}
	if err := rows.Err(); err != nil {
		return urls, apperr.Upstream(err)
	}
	return urls, nil
}

func (s *Service) SignedURL(id string, exp time.Time) string {
	unix := strconv.FormatInt(exp.Unix(), 10)
	q := url.Values{}
	q.Set("exp", unix)
	q.Set("sig", s.sign(id, unix))
	return s.baseURL + "/storage/blobs/" + url.PathEscape(id) + "?" + q.Encode()
}

// Open verifies a signed URL's parameters and loads the blob.
func (s *Service) Open(ctx context.Context, id, exp, sig string) (Blob, error) {
	unix, err := strconv.ParseInt(exp, 10, 64)
	if err != nil || s.now().Unix() > unix {
		return Blob{}, errBadSignature
	}
	if !hmac.Equal([]byte(sig), []byte(s.sign(id, exp))) {
		return Blob{}, errBadSignature
	}

	b := Blob{ID: id}
	err = s.db.QueryRow(ctx, `
		SELECT owner_id, content_type, size, data, created_at
		FROM blobs WHERE id = $1
	`, id).Scan(&b.OwnerID, &b.ContentType, &b.Size, &b.Data, &b.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Blob{}, apperr.ErrNotFound
	}
	if err != nil {
		return Blob{}, apperr.Upstream(err)
	}
	return b, nil
}

func (s *Service) sign(id, exp string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(id + "::" + exp))
	return hex.EncodeToString(mac.Sum(nil))
}
