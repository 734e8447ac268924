// Package sync implements the mirroring engine: per-conversation workers that
// page remote history into the store, and a scheduler that decides which
// conversations to sync each cycle.
package sync

import (
	"fmt"
	"strings"
)

// Position is the decoded form of a cursor token. Three shapes exist:
//
//	""                                  beginning of history
//	"<watermark>"                       everything up to watermark is mirrored
//	"<watermark>|<pending>|<cursor>"    a window in flight: pending is the
//	                                    newest ts seen in the window, cursor
//	                                    resumes its next page
//
// The remote pages a window newest-first, so the watermark only collapses to
// pending once the window's final page has been merged and advanced.
type Position struct {
	Watermark  string
	Pending    string
	PageCursor string
}

// ParsePosition decodes a stored cursor token.
func ParsePosition(token string) (Position, error) {
	if token == "" {
		return Position{}, nil
	}
	parts := strings.Split(token, "|")
	switch len(parts) {
	case 1:
		return Position{Watermark: parts[0]}, nil
	case 3:
		if parts[1] == "" || parts[2] == "" {
			return Position{}, fmt.Errorf("malformed cursor token %q", token)
		}
		return Position{Watermark: parts[0], Pending: parts[1], PageCursor: parts[2]}, nil
	default:
		return Position{}, fmt.Errorf("malformed cursor token %q", token)
	}
}

// Token encodes the position back into its stored form.
func (p Position) Token() string {
	if p.PageCursor == "" {
		return p.Watermark
	}
	return p.Watermark + "|" + p.Pending + "|" + p.PageCursor
}

// InFlight reports whether the position is mid-window.
func (p Position) InFlight() bool { return p.PageCursor != "" }

// advance computes the next position after one merged page. newestTS is the
// newest message ts on the page; nextCursor is the remote's cursor for the
// window's next page ("" when this was the final page).
//
// Slack ts strings within one workspace era compare lexicographically, which
// is why plain string comparison keeps the watermark monotone.
func (p Position) advance(newestTS, nextCursor string) Position {
	pending := p.Pending
	if newestTS > pending {
		pending = newestTS
	}
	if nextCursor != "" {
		return Position{Watermark: p.Watermark, Pending: pending, PageCursor: nextCursor}
	}
	// Final page: collapse pending into the durable watermark.
	watermark := p.Watermark
	if pending > watermark {
		watermark = pending
	}
	return Position{Watermark: watermark}
}
