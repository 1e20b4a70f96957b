// Package feedclient is the presentation-side contract for the posts API:
// an HTTP client plus the debounce and infinite-scroll state a UI needs.
package feedclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"backend-silksong/internal/posts"
	"backend-silksong/internal/shared/apperr"
	"backend-silksong/internal/storage"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Client struct {
	baseURL string
	http    *http.Client
	token   string
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithToken sets the bearer access token sent on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) ListFeed(ctx context.Context, query, cursor string, pageSize int) (posts.Page, error) {
	q := url.Values{}
	if query != "" {
		q.Set("q", query)
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if pageSize > 0 {
		q.Set("page_size", strconv.Itoa(pageSize))
	}
	var page posts.Page
	err := c.do(ctx, http.MethodGet, "/posts?"+q.Encode(), "", nil, &page)
	return page, err
}

func (c *Client) Search(ctx context.Context, query string, limit int) ([]posts.EnrichedPost, error) {
	q := url.Values{}
	q.Set("q", query)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out struct {
		Items []posts.EnrichedPost `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "/posts/search?"+q.Encode(), "", nil, &out)
	return out.Items, err
}

func (c *Client) CreatePost(ctx context.Context, input posts.CreatePostInput) (string, error) {
	body, err := json.Marshal(input)
	if err != nil {
		return "", err
	}
	var out struct {
		ID string `json:"id"`
	}
	err = c.do(ctx, http.MethodPost, "/posts", "application/json", bytes.NewReader(body), &out)
	return out.ID, err
}

func (c *Client) IssueUploadTarget(ctx context.Context) (storage.UploadTarget, error) {
	var target storage.UploadTarget
	err := c.do(ctx, http.MethodPost, "/storage/upload-url", "", nil, &target)
	return target, err
}

// UploadImage sends raw bytes to target and returns the stored blob id.
func (c *Client) UploadImage(ctx context.Context, target storage.UploadTarget, contentType string, data io.Reader) (string, error) {
	method := target.Method
	if method == "" {
		method = http.MethodPost
	}
	var out struct {
		StorageID string `json:"storage_id"`
	}
	err := c.doURL(ctx, method, target.URL, contentType, data, &out)
	return out.StorageID, err
}

// Draft is what a user fills in before publishing.
type Draft struct {
	Title       string
	Content     string
	Image       io.Reader
	ContentType string
}

// Publish trims and checks the draft, uploads the image if any, then creates
// the post. A failed create after a successful upload leaves the blob for
// the server's orphan sweep.
func (c *Client) Publish(ctx context.Context, d Draft) (string, error) {
	title := strings.TrimSpace(d.Title)
	content := strings.TrimSpace(d.Content)
	if title == "" || content == "" {
		return "", apperr.Invalid("title and content are required")
	}

	input := posts.CreatePostInput{Title: title, Content: content}
	if d.Image != nil {
		target, err := c.IssueUploadTarget(ctx)
		if err != nil {
			return "", fmt.Errorf("issue upload target: %w", err)
		}
		id, err := c.UploadImage(ctx, target, d.ContentType, d.Image)
		if err != nil {
			return "", fmt.Errorf("upload image: %w", err)
		}
		input.ImageID = &id
	}
	return c.CreatePost(ctx, input)
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	return c.doURL(ctx, method, c.baseURL+path, contentType, body, out)
}

func (c *Client) doURL(ctx context.Context, method, rawURL, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return apperr.Upstream(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return statusError(resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// statusError maps an API status back onto the shared error taxonomy.
func statusError(code int, msg string) error {
	if msg == "" {
		msg = http.StatusText(code)
	}
	switch {
	case code == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", apperr.ErrUnauthenticated, msg)
	case code == http.StatusNotFound:
		return fmt.Errorf("%w: %s", apperr.ErrNotFound, msg)
	case code == http.StatusBadRequest:
		return fmt.Errorf("%w: %s", apperr.ErrInvalidInput, msg)
	default:
		return fmt.Errorf("%w: status %d: %s", apperr.ErrUpstreamUnavailable, code, msg)
	}
}
