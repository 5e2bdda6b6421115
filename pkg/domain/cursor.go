package domain

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

// Cursor marks a position in the CreatedAt-ascending ticket ordering. The ID
// breaks ties between tickets created in the same instant so iteration never
// skips or repeats a record within one page.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// EncodeCursor renders the position as the opaque token handed to callers.
func EncodeCursor(c Cursor) string {
	raw := c.CreatedAt.UTC().Format(time.RFC3339Nano) + "|" + c.ID
	return base64.URLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses a caller-supplied token. An empty token is the start of
// the iteration; a malformed one is a ValidationError.
func DecodeCursor(token string) (Cursor, error) {
	if token == "" {
		return Cursor{}, nil
	}
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, ValidationError{Field: "cursor", Reason: "malformed cursor"}
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 || parts[1] == "" {
		return Cursor{}, ValidationError{Field: "cursor", Reason: "malformed cursor"}
	}
	ts, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return Cursor{}, ValidationError{Field: "cursor", Reason: "malformed cursor"}
	}
	return Cursor{CreatedAt: ts, ID: parts[1]}, nil
}

// After reports whether the ticket sorts strictly after the cursor position.
func (c Cursor) After(t Ticket) bool {
	if t.CreatedAt.After(c.CreatedAt) {
		return true
	}
	if t.CreatedAt.Equal(c.CreatedAt) {
		return t.ID > c.ID
	}
	return false
}

// Zero reports whether the cursor is the start-of-iteration marker.
func (c Cursor) Zero() bool {
	return c.CreatedAt.IsZero() && c.ID == ""
}

// String implements fmt.Stringer for log output without leaking the token.
func (c Cursor) String() string {
	if c.Zero() {
		return "cursor(start)"
	}
	return fmt.Sprintf("cursor(%s,%s)", c.CreatedAt.Format(time.RFC3339Nano), c.ID)
}
