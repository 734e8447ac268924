package store

// Channel kinds as reported by the remote side.
const (
	KindPublic  = "public"
	KindPrivate = "private"
	KindIM      = "im"
	KindMpIM    = "mpim"
)

// Channel represents a mirrored conversation. Rows are created on first
// discovery and updated on re-discovery; the sync engine never deletes them.
type Channel struct {
	ID             string
	Name           string
	Kind           string
	IsArchived     bool
	IsSelfDM       bool
	PeerUserID     string
	LastActivityTS string
}

// User represents a profile snapshot.
type User struct {
	ID          string
	Name        string
	RealName    string
	DisplayName string
	IsBot       bool
	Deleted     bool
	TZ          string
}

// Message represents a mirrored message. Natural key is (channel_id, ts);
// identity fields never change, mutable fields follow the remote on re-sight.
type Message struct {
	ID         int64
	ChannelID  string
	TS         string
	UserID     string
	Text       string
	ThreadTS   string
	ReplyCount int
	IsEdited   bool
	Subtype    string
	CreatedAt  int64
}

// Reaction is one (emoji, user) pair on a message. The remote reports the
// full current set, so batches replace reactions wholesale per message.
type Reaction struct {
	Name   string
	UserID string
}

// Record is one fetched message together with its current reaction set.
type Record struct {
	Message   Message
	Reactions []Reaction
}

// IndexEntry identifies a message row whose text awaits embedding.
type IndexEntry struct {
	MessageID int64
	Text      string
}

// Cursor is the durable fetch position for one channel, exclusively owned
// by the sync engine. Position "" means beginning of history.
type Cursor struct {
	ChannelID     string
	Position      string
	LastSyncedAt  int64
	LastAttemptAt int64
	FailureCount  int
}

// SearchResult holds a message with a keyword-match snippet and bm25 rank.
type SearchResult struct {
	Message Message
	Snippet string
	Rank    float64
}

// EmbeddingRow is a stored message vector.
type EmbeddingRow struct {
	MessageID int64
	Model     string
	Vector    []float32
}
