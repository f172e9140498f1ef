package model

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PageToken is the opaque cursor handed back to callers. It encodes the
// (created_at, id) position of the last row served; listings sort strictly
// by (created_at ASC, id ASC) so the next page resumes after it.
type PageToken struct {
	CreatedAt time.Time `json:"created-at"`
	ID        uuid.UUID `json:"id"`
}

// Encode renders the token as an opaque string.
func (t PageToken) Encode() string {
	raw, _ := json.Marshal(t)
	return base64.RawURLEncoding.EncodeToString(raw)
}

// DecodePageToken parses an opaque page token string.
func DecodePageToken(s string) (PageToken, error) {
	var t PageToken
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return t, fmt.Errorf("invalid page token: %w", err)
	}
	if err := json.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("invalid page token: %w", err)
	}
	return t, nil
}

// Page wraps one page of results. NextPageToken is empty iff the page was
// not full, signalling the end of the listing.
type Page[T any] struct {
	Items         []T
	NextPageToken string
}
