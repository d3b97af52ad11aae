// Package ai drafts email replies.
package ai

import (
	"context"
	"errors"
	"strings"

	"github.com/nhle/mailagent/internal/knowledge"
	"github.com/nhle/mailagent/internal/model"
)

// ErrGeneratorUnavailable is returned while the circuit breaker is open.
var ErrGeneratorUnavailable = errors.New("reply generator unavailable")

// DraftRequest carries what a generator needs to write a reply body.
type DraftRequest struct {
	AgentName  string
	SenderName string
	Subject    string
	Body       string
	Snippets   []knowledge.Snippet
}

// Generator writes the body of a reply. The result excludes greeting and
// signature; FormatReply adds those.
type Generator interface {
	Draft(ctx context.Context, req DraftRequest) (string, error)
}

// DefaultTemplate is used when an agent has no reply template.
const DefaultTemplate = "Dear {{sender}},\n\n{{body}}\n\n{{bestRegard}},\n{{agentName}}"

const defaultBestRegard = "Best regards"

// FormatReply renders body through the agent's template, or through
// DefaultTemplate when tmpl is nil or has no body.
func FormatReply(tmpl *model.ReplyTemplate, sender, body, agentName string) string {
	layout := DefaultTemplate
	bestRegard := defaultBestRegard
	if tmpl != nil {
		if strings.TrimSpace(tmpl.Body) != "" {
			layout = tmpl.Body
		}
		if tmpl.BestRegard != "" {
			bestRegard = tmpl.BestRegard
		}
		if tmpl.Signature != "" {
			agentName = tmpl.Signature
		}
	}
	if sender == "" {
		sender = "Sir or Madam"
	}
	if tmpl != nil && tmpl.Greeting != "" && layout == DefaultTemplate {
		layout = tmpl.Greeting + " {{sender}},\n\n{{body}}\n\n{{bestRegard}},\n{{agentName}}"
	}

	r := strings.NewReplacer(
		"{{sender}}", sender,
		"{{body}}", strings.TrimSpace(body),
		"{{bestRegard}}", bestRegard,
		"{{agentName}}", agentName,
	)
	return r.Replace(layout)
}
