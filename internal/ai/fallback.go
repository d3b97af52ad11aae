package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// FallbackGenerator uses the primary generator and, when it fails, a
// plain acknowledgement built from the best knowledge snippet.
type FallbackGenerator struct {
	primary Generator
	log     zerolog.Logger
}

func NewFallbackGenerator(primary Generator, log zerolog.Logger) *FallbackGenerator {
	return &FallbackGenerator{primary: primary, log: log}
}

func (f *FallbackGenerator) Draft(ctx context.Context, req DraftRequest) (string, error) {
	if f.primary != nil {
		text, err := f.primary.Draft(ctx, req)
		if err == nil {
			return text, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		f.log.Warn().Err(err).Str("subject", req.Subject).Msg("reply generation failed, using fallback text")
	}
	return TemplateDraft(req), nil
}

// TemplateDraft writes a short reply without a language model.
func TemplateDraft(req DraftRequest) string {
	var sb strings.Builder
	subject := strings.TrimSpace(req.Subject)
	if subject != "" {
		fmt.Fprintf(&sb, "Thank you for your email regarding %q.", subject)
	} else {
		sb.WriteString("Thank you for your email.")
	}
	if len(req.Snippets) > 0 {
		sb.WriteString("\n\n")
		sb.WriteString(strings.TrimSpace(req.Snippets[0].Text))
	}
	sb.WriteString("\n\nWe will follow up if anything else is needed.")
	return sb.String()
}
