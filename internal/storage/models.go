package storage

import "time"

// UploadTarget tells a client where to send raw image bytes.
type UploadTarget struct {
	URL       string    `json:"url"`
	Token     string    `json:"token"`
	Method    string    `json:"method"`
	ExpiresAt time.Time `json:"expires_at"`
}

type Blob struct {
	ID          string
	OwnerID     string
	ContentType string
	Size        int64
	Data        []byte
	CreatedAt   time.Time
}

type Options struct {
	Secret        string
	PublicBaseURL string
	UploadURLTTL  time.Duration
	BlobURLTTL    time.Duration
}
