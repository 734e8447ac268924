package slackapi

import (
	"errors"
	"fmt"

	"github.com/backscroll/backscroll/internal/ratelimit"
	"github.com/slack-go/slack"
)

// TransientError wraps failures worth retrying: network faults, 5xx-level
// responses, timeouts, and throttling.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError wraps failures that no amount of retrying will fix:
// deleted conversations, revoked access, missing scopes. The worker marks
// the conversation failed for the run without touching its cursor.
type PermanentError struct {
	Op     string
	Reason string
	Err    error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("%s: permanent (%s): %v", e.Op, e.Reason, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// IsPermanent reports whether err carries a PermanentError anywhere in its
// chain.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// Slack error strings that mean a conversation is gone for good (for this
// token, at least).
var permanentReasons = map[string]bool{
	"channel_not_found": true,
	"not_in_channel":    true,
	"is_archived":       true,
	"user_not_found":    true,
	"account_inactive":  true,
	"invalid_auth":      true,
	"token_revoked":     true,
	"token_expired":     true,
	"missing_scope":     true,
	"not_authed":        true,
}

// classify maps a slack-go error onto the sync taxonomy. Throttling signals
// are reported to the limiter before being surfaced as transient so the
// shared budget reflects the remote's hint.
func (c *Client) classify(op string, class ratelimit.Class, err error) error {
	var rle *slack.RateLimitedError
	if errors.As(err, &rle) {
		c.limiter.ReportThrottle(class, rle.RetryAfter)
		return &TransientError{Op: op, Err: err}
	}
	if permanentReasons[err.Error()] {
		return &PermanentError{Op: op, Reason: err.Error(), Err: err}
	}
	return &TransientError{Op: op, Err: err}
}
