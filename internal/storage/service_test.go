package storage

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"backend-silksong/internal/shared/apperr"

	"github.com/alicebob/miniredis/v2"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/redis/go-redis/v9"
)

var errSave = errors.New("save error")

func newTestService(t *testing.T) (*Service, pgxmock.PgxPoolIface, *miniredis.Miniredis) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	t.Cleanup(mock.Close)

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	svc := NewService(mock, rdb, Options{
		Secret:        "blob-secret",
		PublicBaseURL: "http://localhost:8080/",
		UploadURLTTL:  time.Hour,
		BlobURLTTL:    time.Hour,
	})
	return svc, mock, mr
}

func TestIssueUploadTarget(t *testing.T) {
	svc, _, mr := newTestService(t)

	target, err := svc.IssueUploadTarget(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if target.Method != "POST" || target.Token == "" {
		t.Fatalf("unexpected target %+v", target)
	}
	if target.URL != "http://localhost:8080/storage/upload/"+target.Token {
		t.Fatalf("unexpected url %s", target.URL)
	}
	owner, err := mr.Get("upload:" + target.Token)
	if err != nil || owner != "user-1" {
		t.Fatalf("expected token bound to caller, got %q (%v)", owner, err)
	}
	if ttl := mr.TTL("upload:" + target.Token); ttl != time.Hour {
		t.Fatalf("expected one hour ttl, got %s", ttl)
	}
}

func TestIssueUploadTargetUnauthenticated(t *testing.T) {
	svc, _, mr := newTestService(t)

	_, err := svc.IssueUploadTarget(context.Background(), "")
	if !errors.Is(err, apperr.ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
	if len(mr.Keys()) != 0 {
		t.Fatalf("expected no token to be stored")
	}
}

func TestIssueUploadTargetWithoutRedis(t *testing.T) {
	svc := NewService(nil, nil, Options{})
	_, err := svc.IssueUploadTarget(context.Background(), "user-1")
	if !errors.Is(err, apperr.ErrUpstreamUnavailable) {
		t.Fatalf("expected upstream error, got %v", err)
	}
}

func TestUploadConsumesToken(t *testing.T) {
	svc, mock, _ := newTestService(t)
	ctx := context.Background()

	target, err := svc.IssueUploadTarget(ctx, "user-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	mock.ExpectExec(`INSERT INTO blobs`).
		WithArgs(pgxmock.AnyArg(), "user-1", "image/png", int64(3), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	id, err := svc.Upload(ctx, target.Token, "image/png", []byte{1, 2, 3})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if id == "" {
		t.Fatalf("expected blob id")
	}

	if _, err := svc.Upload(ctx, target.Token, "image/png", []byte{1}); !errors.Is(err, apperr.ErrUnauthenticated) {
		t.Fatalf("expected reused token to be rejected, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUploadSniffsContentType(t *testing.T) {
	svc, mock, _ := newTestService(t)
	ctx := context.Background()

	target, _ := svc.IssueUploadTarget(ctx, "user-1")
	png := []byte("\x89PNG\r\n\x1a\n0000")

	mock.ExpectExec(`INSERT INTO blobs`).
		WithArgs(pgxmock.AnyArg(), "user-1", "image/png", int64(len(png)), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	if _, err := svc.Upload(ctx, target.Token, "", png); err != nil {
		t.Fatalf("upload: %v", err)
	}
}

func TestUploadEmptyBody(t *testing.T) {
	svc, _, mr := newTestService(t)
	ctx := context.Background()

	target, _ := svc.IssueUploadTarget(ctx, "user-1")
	if _, err := svc.Upload(ctx, target.Token, "image/png", nil); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if !mr.Exists("upload:" + target.Token) {
		t.Fatalf("expected token to survive an empty upload")
	}
}

func TestUploadExpiredToken(t *testing.T) {
	svc, _, mr := newTestService(t)
	ctx := context.Background()

	target, _ := svc.IssueUploadTarget(ctx, "user-1")
	mr.FastForward(2 * time.Hour)

	if _, err := svc.Upload(ctx, target.Token, "image/png", []byte{1}); !errors.Is(err, apperr.ErrUnauthenticated) {
		t.Fatalf("expected expired token to be rejected, got %v", err)
	}
}

func TestUploadSaveError(t *testing.T) {
	svc, mock, mr := newTestService(t)
	ctx := context.Background()

	target, _ := svc.IssueUploadTarget(ctx, "user-1")
	mock.ExpectExec(`INSERT INTO blobs`).
		WithArgs(pgxmock.AnyArg(), "user-1", "image/png", int64(1), pgxmock.AnyArg()).
		WillReturnError(errSave)

	if _, err := svc.Upload(ctx, target.Token, "image/png", []byte{1}); !errors.Is(err, apperr.ErrUpstreamUnavailable) {
		t.Fatalf("expected upstream error, got %v", err)
	}

	owner, err := mr.Get("upload:" + target.Token)
	if err != nil || owner != "user-1" {
		t.Fatalf("expected token restored after failed save, got %q %v", owner, err)
	}
	if ttl := mr.TTL("upload:" + target.Token); ttl <= 0 || ttl > time.Hour {
		t.Fatalf("expected remaining ttl kept, got %v", ttl)
	}

	mock.ExpectExec(`INSERT INTO blobs`).
		WithArgs(pgxmock.AnyArg(), "user-1", "image/png", int64(1), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	if _, err := svc.Upload(ctx, target.Token, "image/png", []byte{1}); err != nil {
		t.Fatalf("retry with restored token: %v", err)
	}
	if mr.Exists("upload:" + target.Token) {
		t.Fatalf("expected token consumed after successful save")
	}
}

func TestResolveURLs(t *testing.T) {
	svc, mock, _ := newTestService(t)

	mock.ExpectQuery(`SELECT id FROM blobs WHERE id = ANY`).
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("blob-1"))

	urls, err := svc.ResolveURLs(context.Background(), []string{"blob-1", "gone", "blob-1", ""})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(urls) != 1 {
		t.Fatalf("expected only existing blobs, got %v", urls)
	}
	u, err := url.Parse(urls["blob-1"])
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	if u.Path != "/storage/blobs/blob-1" || u.Query().Get("sig") == "" {
		t.Fatalf("unexpected url %s", urls["blob-1"])
	}
}

func TestResolveURLsEmpty(t *testing.T) {
	svc := NewService(nil, nil, Options{})
	urls, err := svc.ResolveURLs(context.Background(), []string{""})
	if err != nil || len(urls) != 0 {
		t.Fatalf("expected empty result, got %v (%v)", urls, err)
	}
}

func TestResolveURLsQueryError(t *testing.T) {
	svc, mock, _ := newTestService(t)

	mock.ExpectQuery(`SELECT id FROM blobs`).
		WithArgs(pgxmock.AnyArg()).
		WillReturnError(errSave)

	if _, err := svc.ResolveURLs(context.Background(), []string{"blob-1"}); !errors.Is(err, apperr.ErrUpstreamUnavailable) {
		t.Fatalf("expected upstream error, got %v", err)
	}
}

func signedParams(t *testing.T, svc *Service, id string, exp time.Time) (string, string) {
	t.Helper()
	u, err := url.Parse(svc.SignedURL(id, exp))
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	return u.Query().Get("exp"), u.Query().Get("sig")
}

func TestOpen(t *testing.T) {
	svc, mock, _ := newTestService(t)
	exp, sig := signedParams(t, svc, "blob-1", time.Now().Add(time.Minute))

	mock.ExpectQuery(`FROM blobs WHERE id = \$1`).
		WithArgs("blob-1").
		WillReturnRows(pgxmock.NewRows([]string{"owner_id", "content_type", "size", "data", "created_at"}).
			AddRow("user-1", "image/png", int64(2), []byte{7, 8}, time.Now()))

	blob, err := svc.Open(context.Background(), "blob-1", exp, sig)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if blob.ContentType != "image/png" || len(blob.Data) != 2 {
		t.Fatalf("unexpected blob %+v", blob)
	}
}

func TestOpenRejectsBadSignature(t *testing.T) {
	svc, _, _ := newTestService(t)
	exp, sig := signedParams(t, svc, "blob-1", time.Now().Add(time.Minute))

	cases := map[string][3]string{
		"other id":    {"blob-2", exp, sig},
		"tampered":    {"blob-1", exp, strings.Repeat("0", len(sig))},
		"bad expiry":  {"blob-1", "soon", sig},
		"expired":     {"blob-1", strconv.FormatInt(time.Now().Add(-time.Minute).Unix(), 10), sig},
		"missing sig": {"blob-1", exp, ""},
	}
	for name, tc := range cases {
		if _, err := svc.Open(context.Background(), tc[0], tc[1], tc[2]); !errors.Is(err, apperr.ErrUnauthenticated) {
			t.Fatalf("%s: expected unauthenticated, got %v", name, err)
		}
	}
}

func TestOpenNotFound(t *testing.T) {
	svc, mock, _ := newTestService(t)
	exp, sig := signedParams(t, svc, "gone", time.Now().Add(time.Minute))

	mock.ExpectQuery(`FROM blobs WHERE id = \$1`).
		WithArgs("gone").
		WillReturnRows(pgxmock.NewRows([]string{"owner_id", "content_type", "size", "data", "created_at"}))

	if _, err := svc.Open(context.Background(), "gone", exp, sig); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
