// Package model holds the types shared by the feed poller and the
// starboard engine.
package model

import "time"

// FeedTarget is one configured destination of an announcement feed.
type FeedTarget struct {
	URL       string
	ChannelID string
	RoleID    string
}

// FeedRecord is the persisted watermark of a feed, keyed by its URL.
type FeedRecord struct {
	ID          string `db:"id" json:"id"`
	LastUpdated int64  `db:"last_updated_time" json:"last_updated_time"`
}

// LastUpdatedTime returns the watermark as a UTC time.
func (r FeedRecord) LastUpdatedTime() time.Time {
	return time.UnixMilli(r.LastUpdated).UTC()
}

type FeedEntry struct {
	ID        string
	Title     string
	Link      string
	Authors   []string
	Content   string
	Published time.Time
}

// Millis returns the entry timestamp in milliseconds since the Unix epoch.
func (e FeedEntry) Millis() int64 {
	return e.Published.UnixMilli()
}

type ReactionKind int

const (
	ReactionAdded ReactionKind = iota
	ReactionRemoved
	ReactionsCleared
)

func (k ReactionKind) String() string {
	switch k {
	case ReactionAdded:
		return "add"
	case ReactionRemoved:
		return "remove"
	case ReactionsCleared:
		return "remove_all"
	default:
		return "unknown"
	}
}

// ReactionEvent is a reaction change delivered by the chat gateway.
// AuthorID is only guaranteed for ReactionAdded events.
type ReactionEvent struct {
	Kind        ReactionKind
	MessageID   string
	ChannelID   string
	GuildID     string
	ReactorID   string
	AuthorID    string
	Emoji       string
	MessageTime time.Time
}

type StarboardEntry struct {
	MessageID          string `db:"message_id"`
	StarboardMessageID string `db:"starboard_id"`
	Posted             bool   `db:"posted"`
}

// ChatMessage is the subset of a chat message needed to render a starboard post.
type ChatMessage struct {
	ID            string
	ChannelID     string
	GuildID       string
	AuthorID      string
	AuthorName    string
	AuthorAvatar  string
	Content       string
	Timestamp     time.Time
	AttachmentURL string
	TopEmoji      string
}
