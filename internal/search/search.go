// Package search queries the mirror with hybrid retrieval: FTS5 keyword
// matches fused with cosine similarity over stored embeddings. With indexing
// off it degrades to keyword-only.
package search

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/backscroll/backscroll/internal/embed"
	"github.com/backscroll/backscroll/internal/slackapi"
	"github.com/backscroll/backscroll/internal/store"
	"go.uber.org/zap"
)

// rrfK is the reciprocal-rank-fusion damping constant. 60 is the standard
// value from the original RRF paper and works fine at mirror scale.
const rrfK = 60

// Result is one fused search hit.
type Result struct {
	Message   store.Message
	Channel   string
	Sender    string
	Snippet   string
	Score     float64
	Match     string // text | vector | hybrid
	Permalink string
}

// Searcher runs hybrid queries over the mirror. A nil embedder disables the
// vector half.
type Searcher struct {
	db       *store.DB
	embedder embed.Embedder
	logger   *zap.Logger
}

// New creates a searcher.
func New(db *store.DB, embedder embed.Embedder, logger *zap.Logger) *Searcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Searcher{db: db, embedder: embedder, logger: logger}
}

// Search fuses keyword and vector hits with reciprocal-rank fusion and
// returns the top limit results.
func (s *Searcher) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = 10
	}
	candidates := limit * 3

	keyword, err := s.db.SearchMessagesFTS(query, candidates)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}

	var vector []store.EmbeddingRow
	if s.embedder != nil {
		vector, err = s.vectorHits(ctx, query, candidates)
		if err != nil {
			// Vector trouble degrades to keyword-only rather than failing
			// the query.
			s.logger.Warn("vector search degraded", zap.Error(err))
			vector = nil
		}
	}

	type fused struct {
		score   float64
		snippet string
		matches int
	}
	byID := map[int64]*fused{}

	for rank, hit := range keyword {
		f := byID[hit.Message.ID]
		if f == nil {
			f = &fused{}
			byID[hit.Message.ID] = f
		}
		f.score += 1.0 / float64(rrfK+rank+1)
		f.snippet = hit.Snippet
		f.matches |= 1
	}
	for rank, hit := range vector {
		f := byID[hit.MessageID]
		if f == nil {
			f = &fused{}
			byID[hit.MessageID] = f
		}
		f.score += 1.0 / float64(rrfK+rank+1)
		f.matches |= 2
	}

	ids := make([]int64, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := byID[ids[i]], byID[ids[j]]
		if a.score != b.score {
			return a.score > b.score
		}
		return ids[i] < ids[j]
	})
	if len(ids) > limit {
		ids = ids[:limit]
	}

	teamURL, err := s.db.GetMeta(store.MetaTeamURL)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(ids))
	for _, id := range ids {
		m, err := s.db.GetMessageByID(id)
		if err != nil {
			return nil, err
		}
		if m == nil {
			continue
		}
		channel, err := s.db.ChannelDisplayName(m.ChannelID)
		if err != nil {
			return nil, err
		}
		sender, err := s.db.UserDisplayName(m.UserID)
		if err != nil {
			return nil, err
		}
		f := byID[id]
		match := "text"
		switch f.matches {
		case 2:
			match = "vector"
		case 3:
			match = "hybrid"
		}
		results = append(results, Result{
			Message:   *m,
			Channel:   channel,
			Sender:    sender,
			Snippet:   f.snippet,
			Score:     f.score,
			Match:     match,
			Permalink: slackapi.MessageLink(teamURL, m.ChannelID, m.TS, m.ThreadTS),
		})
	}
	return results, nil
}

// vectorHits embeds the query and scores every stored vector, brute force.
func (s *Searcher) vectorHits(ctx context.Context, query string, limit int) ([]store.EmbeddingRow, error) {
	vecs, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embedder returned %d vectors for one query", len(vecs))
	}
	q := vecs[0]

	rows, err := s.db.AllEmbeddings()
	if err != nil {
		return nil, err
	}

	type scored struct {
		row store.EmbeddingRow
		sim float64
	}
	hits := make([]scored, 0, len(rows))
	for _, r := range rows {
		sim := cosine(q, r.Vector)
		if !math.IsNaN(sim) {
			hits = append(hits, scored{row: r, sim: sim})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].sim != hits[j].sim {
			return hits[i].sim > hits[j].sim
		}
		return hits[i].row.MessageID < hits[j].row.MessageID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}

	out := make([]store.EmbeddingRow, len(hits))
	for i, h := range hits {
		out[i] = h.row
	}
	return out, nil
}

func cosine(a []float32, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.NaN()
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return math.NaN()
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
