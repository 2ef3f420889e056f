package pagination

import (
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 250
)

var ErrInvalidToken = errors.New("invalid_page_token")

// Pagination binds keyset query parameters.
type Pagination struct {
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size"`
}

// Size clamps the requested page size to [1, MaxPageSize].
func (p Pagination) Size() int {
	switch {
	case p.PageSize <= 0:
		return DefaultPageSize
	case p.PageSize > MaxPageSize:
		return MaxPageSize
	default:
		return p.PageSize
	}
}

// Keyset is the position of the last row of a page in (created_at, id)
// order. Append-only tables page stably on it.
type Keyset struct {
	CreatedAt time.Time
	ID        snowflake.ID
}

// Encode renders "<unix nanos>.<id>" as an opaque URL-safe token.
func (k Keyset) Encode() string {
	raw := strconv.FormatInt(k.CreatedAt.UnixNano(), 10) + "." + k.ID.String()
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// Decode parses a token produced by Encode. An empty token means the first
// page and yields nil.
func Decode(token string) (*Keyset, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, ErrInvalidToken
	}
	nanos, id, ok := strings.Cut(string(raw), ".")
	if !ok {
		return nil, ErrInvalidToken
	}
	ts, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil || ts <= 0 {
		return nil, ErrInvalidToken
	}
	parsed, err := snowflake.ParseString(id)
	if err != nil || parsed <= 0 {
		return nil, ErrInvalidToken
	}
	return &Keyset{CreatedAt: time.Unix(0, ts).UTC(), ID: parsed}, nil
}

type PageInfo struct {
	NextPageToken string `json:"next_page_token,omitempty"`
	HasMore       bool   `json:"has_more"`
}

// Trim cuts the lookahead row a repository fetches past limit and points the
// next page after the last kept row.
func Trim[T any](rows []T, limit int, keyset func(T) Keyset) ([]T, PageInfo) {
	if limit <= 0 || len(rows) <= limit {
		return rows, PageInfo{}
	}
	rows = rows[:limit]
	return rows, PageInfo{
		HasMore:       true,
		NextPageToken: keyset(rows[len(rows)-1]).Encode(),
	}
}
