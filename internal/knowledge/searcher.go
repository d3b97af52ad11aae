// Package knowledge ranks an agent's knowledge entries against a free
// text query so generated replies can be grounded in them.
package knowledge

import (
	"context"
	"fmt"

	"github.com/nhle/mailagent/internal/model"
)

// Snippet is a ranked knowledge excerpt with its source label.
type Snippet struct {
	Source string
	Title  string
	Text   string
	Score  float64
}

// Source lists the knowledge available to an agent.
type Source interface {
	GetKnowledge(ctx context.Context, agentID string) ([]model.KnowledgeEntry, error)
}

// Searcher rebuilds a BM25 index per query. Agent corpora are small and
// change at runtime, so nothing is cached.
type Searcher struct {
	src         Source
	titleWeight int
}

func NewSearcher(src Source) *Searcher {
	return &Searcher{src: src, titleWeight: 2}
}

// Search returns at most limit snippets for the agent, best first.
func (s *Searcher) Search(ctx context.Context, agentID, query string, limit int) ([]Snippet, error) {
	entries, err := s.src.GetKnowledge(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("loading knowledge for %s: %w", agentID, err)
	}
	if len(entries) == 0 {
		return nil, nil
	}

	docs := make([]document, len(entries))
	for i, e := range entries {
		docs[i] = document{fields: []field{
			{text: e.Title, weight: s.titleWeight},
			{text: e.Text, weight: 1},
		}}
	}

	hits := newIndex(docs).search(query, limit)
	snippets := make([]Snippet, len(hits))
	for i, h := range hits {
		e := entries[h.doc]
		snippets[i] = Snippet{Source: e.Source, Title: e.Title, Text: e.Text, Score: h.score}
	}
	return snippets, nil
}
