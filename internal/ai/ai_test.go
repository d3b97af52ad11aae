package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailagent/internal/knowledge"
	"github.com/nhle/mailagent/internal/model"
)

func TestFormatReplyDefaultTemplate(t *testing.T) {
	got := FormatReply(nil, "Ann", "  Your refund is on its way.  ", "Support Bot")
	assert.Equal(t, "Dear Ann,\n\nYour refund is on its way.\n\nBest regards,\nSupport Bot", got)
}

func TestFormatReplyAgentTemplate(t *testing.T) {
	tmpl := &model.ReplyTemplate{
		Body:       "Hi {{sender}}!\n{{body}}\n-- {{agentName}} ({{bestRegard}})",
		BestRegard: "Cheers",
		Signature:  "The Team",
	}
	got := FormatReply(tmpl, "Bob", "Done.", "ignored")
	assert.Equal(t, "Hi Bob!\nDone.\n-- The Team (Cheers)", got)

	greetingOnly := &model.ReplyTemplate{Greeting: "Hello"}
	assert.Equal(t, "Hello Sir or Madam,\n\nOk\n\nBest regards,\nAgent", FormatReply(greetingOnly, "", "Ok", "Agent"))
}

func TestClaudeDraft(t *testing.T) {
	var got apiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("x-api-key"))
		assert.Equal(t, apiVersion, r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(apiResponse{
			Content: []apiContentBlock{{Type: "text", Text: "  Refunds take five days.  "}},
		})
	}))
	defer srv.Close()

	c := NewClaude("key", srv.URL, "", 0)
	text, err := c.Draft(context.Background(), DraftRequest{
		AgentName: "Support",
		Subject:   "Refund",
		Body:      "Where is my refund?",
		Snippets:  []knowledge.Snippet{{Source: "faq", Title: "Refunds", Text: "Five business days."}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Refunds take five days.", text)
	assert.Equal(t, defaultModel, got.Model)
	assert.Contains(t, got.System, "Five business days.")
	require.Len(t, got.Messages, 1)
	assert.Contains(t, got.Messages[0].Content[0].Text, "Where is my refund?")
}

func TestClaudeDraftAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"type":"rate_limit_error","message":"slow down"}}`))
	}))
	defer srv.Close()

	_, err := NewClaude("key", srv.URL, "", 0).Draft(context.Background(), DraftRequest{})
	assert.EqualError(t, err, "API error (429): slow down")
}

type stubGenerator struct {
	calls int
	err   error
	text  string
}

func (s *stubGenerator) Draft(context.Context, DraftRequest) (string, error) {
	s.calls++
	return s.text, s.err
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	stub := &stubGenerator{err: errors.New("boom")}
	b := NewBreakerGenerator(stub, 2, time.Hour, zerolog.Nop())
	ctx := context.Background()

	_, err := b.Draft(ctx, DraftRequest{})
	assert.EqualError(t, err, "boom")
	_, err = b.Draft(ctx, DraftRequest{})
	assert.EqualError(t, err, "boom")

	_, err = b.Draft(ctx, DraftRequest{})
	assert.ErrorIs(t, err, ErrGeneratorUnavailable)
	assert.Equal(t, 2, stub.calls)
	assert.Equal(t, "open", b.State())
}

func TestFallbackGenerator(t *testing.T) {
	ctx := context.Background()
	req := DraftRequest{Subject: "Refund", Snippets: []knowledge.Snippet{{Text: "Refunds take five days."}}}

	ok := NewFallbackGenerator(&stubGenerator{text: "generated"}, zerolog.Nop())
	text, err := ok.Draft(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "generated", text)

	failing := NewFallbackGenerator(&stubGenerator{err: ErrGeneratorUnavailable}, zerolog.Nop())
	text, err = failing.Draft(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "Thank you for your email regarding \"Refund\".\n\nRefunds take five days.\n\nWe will follow up if anything else is needed.", text)
}
