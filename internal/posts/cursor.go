package posts

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

const cursorDelimiter = "::"

var errBadCursor = errors.New("malformed cursor")

// cursorCodec turns scan positions into opaque signed tokens:
// base64url(created_at::seq::hmac).
type cursorCodec struct {
	secret []byte
}

func (c cursorCodec) Encode(p Position) string {
	payload := p.CreatedAt.UTC().Format(time.RFC3339Nano) + cursorDelimiter + strconv.FormatInt(p.Seq, 10)
	signed := payload + cursorDelimiter + c.sign(payload)
	return base64.RawURLEncoding.EncodeToString([]byte(signed))
}

// Decode returns nil for the empty cursor.
func (c cursorCodec) Decode(cursor string) (*Position, error) {
	if cursor == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, errBadCursor
	}
	parts := strings.Split(string(raw), cursorDelimiter)
	if len(parts) != 3 {
		return nil, errBadCursor
	}
	payload := parts[0] + cursorDelimiter + parts[1]
	if !hmac.Equal([]byte(parts[2]), []byte(c.sign(payload))) {
		return nil, errBadCursor
	}

	createdAt, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return nil, errBadCursor
	}
	seq, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return nil, errBadCursor
	}
	return &Position{CreatedAt: createdAt, Seq: seq}, nil
}

func (c cursorCodec) sign(payload string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
