// Package slackapi wraps the Slack Web API behind the narrow, read-only
// surface the sync engine needs. Every remote call passes through the shared
// rate limiter first. The adapter deliberately exposes no call that mutates
// remote state: no mark-read, no posting.
package slackapi

import (
	"context"
	"fmt"
	"strings"

	"github.com/backscroll/backscroll/internal/ratelimit"
	"github.com/backscroll/backscroll/internal/store"
	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

// Identity describes the authenticated user and team.
type Identity struct {
	UserID   string
	UserName string
	TeamID   string
	TeamName string
	TeamURL  string
}

// HistoryPage is one page of a channel's history window. Slack returns
// windows newest-page-first; NewestTS is the newest message ts on this page.
type HistoryPage struct {
	Records    []store.Record
	NextCursor string
	HasMore    bool
	NewestTS   string
}

// Options tunes the client. APIURL overrides the Slack endpoint for tests.
type Options struct {
	APIURL   string
	PageSize int
}

// Client is the rate-limited Slack adapter.
type Client struct {
	api      *slack.Client
	limiter  *ratelimit.Limiter
	logger   *zap.Logger
	pageSize int

	selfID  string
	teamURL string
}

// New creates a client for the given user token. The limiter is a required
// constructor dependency; there is no ambient global.
func New(token string, limiter *ratelimit.Limiter, logger *zap.Logger, opts Options) *Client {
	sopts := []slack.Option{}
	if opts.APIURL != "" {
		sopts = append(sopts, slack.OptionAPIURL(opts.APIURL))
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		api:      slack.New(token, sopts...),
		limiter:  limiter,
		logger:   logger,
		pageSize: pageSize,
	}
}

// Authenticate verifies the token and captures the self identity used for
// self-DM detection and permalinks.
func (c *Client) Authenticate(ctx context.Context) (Identity, error) {
	if err := c.limiter.Acquire(ctx, ratelimit.ClassMetadata); err != nil {
		return Identity{}, err
	}
	resp, err := c.api.AuthTestContext(ctx)
	if err != nil {
		return Identity{}, c.classify("auth.test", ratelimit.ClassMetadata, err)
	}
	c.selfID = resp.UserID
	c.teamURL = strings.TrimSuffix(resp.URL, "/")
	return Identity{
		UserID:   resp.UserID,
		UserName: resp.User,
		TeamID:   resp.TeamID,
		TeamName: resp.Team,
		TeamURL:  c.teamURL,
	}, nil
}

// SelfID returns the authenticated user ID ("" before Authenticate).
func (c *Client) SelfID() string { return c.selfID }

// ListChannels enumerates every conversation the user is a member of,
// paging through conversations.list internally. Archived channels are
// included; the scheduler decides what to do with them.
func (c *Client) ListChannels(ctx context.Context) ([]store.Channel, error) {
	var channels []store.Channel
	cursor := ""

	for {
		if err := c.limiter.Acquire(ctx, ratelimit.ClassMetadata); err != nil {
			return nil, err
		}
		chans, next, err := c.api.GetConversationsContext(ctx, &slack.GetConversationsParameters{
			Types:           []string{"public_channel", "private_channel", "mpim", "im"},
			ExcludeArchived: false,
			Limit:           c.pageSize,
			Cursor:          cursor,
		})
		if err != nil {
			return nil, c.classify("conversations.list", ratelimit.ClassMetadata, err)
		}

		for _, ch := range chans {
			// DMs have no is_member flag; treat them as joined.
			if !ch.IsMember && !ch.IsIM && !ch.IsMpIM {
				continue
			}
			channels = append(channels, c.toChannel(ch))
		}

		if next == "" {
			return channels, nil
		}
		cursor = next
	}
}

// HistoryPage fetches one page of channel history. oldest bounds the window
// at the durable watermark; cursor resumes a window already in flight.
func (c *Client) HistoryPage(ctx context.Context, channelID, oldest, cursor string) (*HistoryPage, error) {
	if err := c.limiter.Acquire(ctx, ratelimit.ClassHistory); err != nil {
		return nil, err
	}
	resp, err := c.api.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
		ChannelID: channelID,
		Oldest:    oldest,
		Cursor:    cursor,
		Limit:     c.pageSize,
	})
	if err != nil {
		return nil, c.classify("conversations.history", ratelimit.ClassHistory, err)
	}

	page := &HistoryPage{
		Records: make([]store.Record, 0, len(resp.Messages)),
		HasMore: resp.HasMore,
	}
	if resp.ResponseMetaData.NextCursor != "" {
		page.NextCursor = resp.ResponseMetaData.NextCursor
	} else {
		page.HasMore = false
	}
	for _, msg := range resp.Messages {
		rec := toRecord(channelID, msg)
		if rec.Message.TS > page.NewestTS {
			page.NewestTS = rec.Message.TS
		}
		page.Records = append(page.Records, rec)
	}
	return page, nil
}

// ThreadReplies fetches every message in a thread, parent included. The
// parent comes back with its current reaction set, which keeps parent
// reactions fresh even when the parent is older than the sync watermark.
func (c *Client) ThreadReplies(ctx context.Context, channelID, threadTS string) ([]store.Record, error) {
	var records []store.Record
	cursor := ""

	for {
		if err := c.limiter.Acquire(ctx, ratelimit.ClassHistory); err != nil {
			return nil, err
		}
		msgs, hasMore, next, err := c.api.GetConversationRepliesContext(ctx, &slack.GetConversationRepliesParameters{
			ChannelID: channelID,
			Timestamp: threadTS,
			Cursor:    cursor,
			Limit:     c.pageSize,
		})
		if err != nil {
			return nil, c.classify("conversations.replies", ratelimit.ClassHistory, err)
		}
		for _, msg := range msgs {
			records = append(records, toRecord(channelID, msg))
		}
		if !hasMore || next == "" {
			return records, nil
		}
		cursor = next
	}
}

// UserInfo fetches one user profile snapshot.
func (c *Client) UserInfo(ctx context.Context, userID string) (*store.User, error) {
	if err := c.limiter.Acquire(ctx, ratelimit.ClassMetadata); err != nil {
		return nil, err
	}
	u, err := c.api.GetUserInfoContext(ctx, userID)
	if err != nil {
		return nil, c.classify("users.info", ratelimit.ClassMetadata, err)
	}
	return &store.User{
		ID:          u.ID,
		Name:        u.Name,
		RealName:    u.RealName,
		DisplayName: u.Profile.DisplayName,
		IsBot:       u.IsBot,
		Deleted:     u.Deleted,
		TZ:          u.TZ,
	}, nil
}

// MessageLink builds a permalink for a mirrored message.
func MessageLink(teamURL, channelID, ts, threadTS string) string {
	link := fmt.Sprintf("%s/archives/%s/p%s", strings.TrimSuffix(teamURL, "/"), channelID, strings.ReplaceAll(ts, ".", ""))
	if threadTS != "" && threadTS != ts {
		link += "?thread_ts=" + threadTS
	}
	return link
}

func (c *Client) toChannel(ch slack.Channel) store.Channel {
	out := store.Channel{
		ID:         ch.ID,
		Name:       ch.Name,
		IsArchived: ch.IsArchived,
	}
	switch {
	case ch.IsIM:
		out.Kind = store.KindIM
		out.PeerUserID = ch.User
		out.IsSelfDM = ch.User != "" && ch.User == c.selfID
	case ch.IsMpIM:
		out.Kind = store.KindMpIM
	case ch.IsPrivate:
		out.Kind = store.KindPrivate
	default:
		out.Kind = store.KindPublic
	}
	if ch.Latest != nil {
		out.LastActivityTS = ch.Latest.Timestamp
	}
	return out
}

func toRecord(channelID string, msg slack.Message) store.Record {
	userID := msg.User
	if userID == "" {
		userID = msg.BotID
	}
	rec := store.Record{
		Message: store.Message{
			ChannelID:  channelID,
			TS:         msg.Timestamp,
			UserID:     userID,
			Text:       msg.Text,
			ThreadTS:   msg.ThreadTimestamp,
			ReplyCount: msg.ReplyCount,
			IsEdited:   msg.Edited != nil,
			Subtype:    msg.SubType,
		},
	}
	for _, r := range msg.Reactions {
		for _, uid := range r.Users {
			rec.Reactions = append(rec.Reactions, store.Reaction{Name: r.Name, UserID: uid})
		}
	}
	return rec
}
