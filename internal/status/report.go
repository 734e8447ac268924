// Package status summarizes the mirror into prioritized attention items.
// Everything here reads the local store only; the remote API and the rate
// limiter are never involved.
package status

import (
	"fmt"
	"time"

	"github.com/backscroll/backscroll/internal/slackapi"
	"github.com/backscroll/backscroll/internal/store"
	"go.uber.org/zap"
)

// Priority ranks attention items.
type Priority string

const (
	Critical Priority = "CRITICAL"
	High     Priority = "HIGH"
	Medium   Priority = "MEDIUM"
	Low      Priority = "LOW"
)

// Item is one thing that may need the user's attention.
type Item struct {
	Priority  Priority
	Kind      string // mention | dm | thread_reply
	Channel   string // display name: "#general", "DM: @alice", "Group DM: x"
	ChannelID string
	Sender    string
	TS        string
	Text      string
	Permalink string
}

// Report is the aggregated attention summary for a time window.
type Report struct {
	Since         time.Time
	Mentions      int
	PendingDMs    int
	ActiveThreads int
	Items         []Item
}

// Aggregator builds reports from the mirror.
type Aggregator struct {
	db     *store.DB
	logger *zap.Logger
}

// NewAggregator creates an aggregator over the given store.
func NewAggregator(db *store.DB, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{db: db, logger: logger}
}

// Report collects mentions, DMs, and thread activity since the given time.
// Mentions are CRITICAL unless the user already replied in that thread (then
// LOW); DMs from others are HIGH; replies in threads the user participated in
// are MEDIUM.
func (a *Aggregator) Report(since time.Time) (*Report, error) {
	selfID, err := a.db.GetMeta(store.MetaSelfUserID)
	if err != nil {
		return nil, fmt.Errorf("read self id: %w", err)
	}
	teamURL, err := a.db.GetMeta(store.MetaTeamURL)
	if err != nil {
		return nil, fmt.Errorf("read team url: %w", err)
	}

	rep := &Report{Since: since}
	sinceMs := since.UnixMilli()
	seen := map[string]bool{}

	mentions, err := a.db.MentionsSince(selfID, sinceMs, 50)
	if err != nil {
		return nil, fmt.Errorf("mentions: %w", err)
	}
	for _, m := range mentions {
		item, err := a.item(m, teamURL, "mention")
		if err != nil {
			return nil, err
		}
		item.Priority = Critical
		threadTS := m.ThreadTS
		if threadTS == "" {
			threadTS = m.TS
		}
		replied, err := a.db.HasUserReplied(selfID, m.ChannelID, threadTS, m.TS)
		if err != nil {
			return nil, err
		}
		if replied {
			item.Priority = Low
		} else {
			rep.Mentions++
		}
		seen[m.ChannelID+"/"+m.TS] = true
		rep.Items = append(rep.Items, item)
	}

	dms, err := a.db.DMsSince(sinceMs, 50)
	if err != nil {
		return nil, fmt.Errorf("dms: %w", err)
	}
	for _, m := range dms {
		if m.UserID == selfID || seen[m.ChannelID+"/"+m.TS] {
			continue
		}
		item, err := a.item(m, teamURL, "dm")
		if err != nil {
			return nil, err
		}
		item.Priority = High
		rep.PendingDMs++
		seen[m.ChannelID+"/"+m.TS] = true
		rep.Items = append(rep.Items, item)
	}

	replies, err := a.db.ThreadRepliesSince(selfID, sinceMs, 100)
	if err != nil {
		return nil, fmt.Errorf("thread replies: %w", err)
	}
	activeThreads := map[string]bool{}
	for _, m := range replies {
		activeThreads[m.ChannelID+"/"+m.ThreadTS] = true
		if seen[m.ChannelID+"/"+m.TS] {
			continue
		}
		item, err := a.item(m, teamURL, "thread_reply")
		if err != nil {
			return nil, err
		}
		item.Priority = Medium
		seen[m.ChannelID+"/"+m.TS] = true
		rep.Items = append(rep.Items, item)
	}
	rep.ActiveThreads = len(activeThreads)

	return rep, nil
}

func (a *Aggregator) item(m store.Message, teamURL, kind string) (Item, error) {
	channel, err := a.db.ChannelDisplayName(m.ChannelID)
	if err != nil {
		return Item{}, err
	}
	sender, err := a.db.UserDisplayName(m.UserID)
	if err != nil {
		return Item{}, err
	}
	return Item{
		Kind:      kind,
		Channel:   channel,
		ChannelID: m.ChannelID,
		Sender:    sender,
		TS:        m.TS,
		Text:      m.Text,
		Permalink: slackapi.MessageLink(teamURL, m.ChannelID, m.TS, m.ThreadTS),
	}, nil
}
