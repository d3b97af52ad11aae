package knowledge

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailagent/internal/model"
)

type staticSource []model.KnowledgeEntry

func (s staticSource) GetKnowledge(_ context.Context, agentID string) ([]model.KnowledgeEntry, error) {
	var out []model.KnowledgeEntry
	for _, e := range s {
		if e.AgentID == agentID {
			out = append(out, e)
		}
	}
	return out, nil
}

type failingSource struct{}

func (failingSource) GetKnowledge(context.Context, string) ([]model.KnowledgeEntry, error) {
	return nil, errors.New("db down")
}

var corpus = staticSource{
	{AgentID: "a", Source: "faq", Title: "Refund policy", Text: "Refunds are issued within five business days of the return."},
	{AgentID: "a", Source: "faq", Title: "Shipping", Text: "We ship worldwide. Delivery takes one to two weeks."},
	{AgentID: "a", Source: "handbook", Title: "Office hours", Text: "Support answers email Monday to Friday."},
	{AgentID: "b", Source: "faq", Title: "Refund policy", Text: "No refunds."},
}

func TestSearchRanksTitleMatchesFirst(t *testing.T) {
	s := NewSearcher(corpus)

	got, err := s.Search(context.Background(), "a", "When will I get my refund?", 3)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, "Refund policy", got[0].Title)
	assert.Equal(t, "faq", got[0].Source)
	assert.Greater(t, got[0].Score, 0.0)
}

func TestSearchLimitAndNoMatch(t *testing.T) {
	s := NewSearcher(corpus)
	ctx := context.Background()

	got, err := s.Search(ctx, "a", "refund shipping email", 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = s.Search(ctx, "a", "zebra", 3)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = s.Search(ctx, "nobody", "refund", 3)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSearchPropagatesSourceErrors(t *testing.T) {
	_, err := NewSearcher(failingSource{}).Search(context.Background(), "a", "refund", 3)
	assert.ErrorContains(t, err, "db down")
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"hello", "world", "42"}, tokenize("Hello, a World! 42"))
}
