package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"imagesearch/internal/metrics"
	"imagesearch/internal/models"
	"imagesearch/internal/ranking"
	"imagesearch/internal/store"
)

const DefaultMaxTopK = 100

type Searcher struct {
	store    store.Store
	embedder Embedder
	ranker   ranking.Ranker
	metrics  metrics.Recorder
	maxTopK  int
}

// NewSearcher builds a searcher; maxTopK silently clamps larger requests.
func NewSearcher(s store.Store, emb Embedder, r ranking.Ranker, rec metrics.Recorder, maxTopK int) *Searcher {
	if rec == nil {
		rec = metrics.Noop{}
	}
	if maxTopK < 1 {
		maxTopK = DefaultMaxTopK
	}
	return &Searcher{store: s, embedder: emb, ranker: r, metrics: rec, maxTopK: maxTopK}
}

func (s *Searcher) RankerName() string { return s.ranker.Name() }

// Search embeds query and returns at most topK matches ordered by
// descending score, ties by ascending id. It fails with ErrIndexEmpty when
// no image has an embedding.
func (s *Searcher) Search(ctx context.Context, query string, topK int) (matches []models.Match, err error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, invalidArgf("query must not be empty")
	}
	if topK < 1 {
		return nil, invalidArgf("top_k must be >= 1, got %d", topK)
	}
	topK = min(topK, s.maxTopK)

	start := time.Now()
	defer func() {
		if !errors.Is(err, ErrIndexEmpty) {
			s.metrics.ObserveSearch(s.ranker.Name(), time.Since(start), err)
		}
	}()

	embedded, err := s.store.CountEmbedded(ctx)
	if err != nil {
		return nil, fmt.Errorf("count embedded: %w", err)
	}
	if embedded == 0 {
		return nil, ErrIndexEmpty
	}

	vec, err := s.embedder.EmbedText(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	matches, err = s.ranker.Rank(ctx, vec, topK)
	if err != nil {
		return nil, fmt.Errorf("rank with %s: %w", s.ranker.Name(), err)
	}
	models.SortMatches(matches)
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}
