package email

import (
	"bytes"
	"errors"
	"fmt"
	"html"
	"io"
	"regexp"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/microcosm-cc/bluemonday"

	"github.com/nhle/mailagent/internal/model"
)

// ParseMessage parses a raw RFC 5322 message and derives its mail UUID.
// The text/plain part is preferred; HTML-only messages are flattened
// to text.
func ParseMessage(raw []byte) (model.ParsedMail, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return model.ParsedMail{}, fmt.Errorf("reading message: %w", err)
	}
	defer mr.Close()

	h := mr.Header
	parsed := model.ParsedMail{}

	if from, err := h.AddressList("From"); err == nil {
		for _, a := range from {
			parsed.From = append(parsed.From, model.Address{Name: a.Name, Address: strings.ToLower(a.Address)})
		}
	}
	if subject, err := h.Subject(); err == nil {
		parsed.Subject = subject
	} else {
		parsed.Subject = h.Get("Subject")
	}
	if date, err := h.Date(); err == nil {
		parsed.Date = date
	}
	if id, err := h.MessageID(); err == nil {
		parsed.MessageID = id
	}
	if refs, err := h.MsgIDList("References"); err == nil {
		parsed.References = refs
	}
	if irt, err := h.MsgIDList("In-Reply-To"); err == nil && len(irt) > 0 {
		parsed.InReplyTo = irt[0]
	}
	parsed.ThreadID = threadRoot(parsed)

	text, htmlBody := readBodies(mr)
	if strings.TrimSpace(text) != "" {
		parsed.Body = strings.TrimSpace(text)
	} else {
		parsed.Body = htmlToText(htmlBody)
	}

	parsed.MailUUID, err = DeriveMailUUID(parsed.MessageID)
	if err != nil {
		return parsed, err
	}
	return parsed, nil
}

// threadRoot is the first message of the conversation as far as the
// headers tell.
func threadRoot(m model.ParsedMail) string {
	switch {
	case len(m.References) > 0:
		return m.References[0]
	case m.InReplyTo != "":
		return m.InReplyTo
	default:
		return m.MessageID
	}
}

func readBodies(mr *mail.Reader) (text, htmlBody string) {
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return text, htmlBody
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return text, htmlBody
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := h.ContentType()
		body, readErr := io.ReadAll(part.Body)
		if readErr != nil {
			continue
		}
		switch {
		case strings.HasPrefix(contentType, "text/plain") && text == "":
			text = string(body)
		case strings.HasPrefix(contentType, "text/html") && htmlBody == "":
			htmlBody = string(body)
		case contentType == "" && text == "":
			text = string(body)
		}
	}
}

var (
	textPolicy     = bluemonday.StrictPolicy()
	blockBreak     = regexp.MustCompile(`(?i)<\s*(br\s*/?|/p|/div|/li|/tr|/h[1-6])\s*>`)
	styleOrScript  = regexp.MustCompile(`(?is)<(style|script)[^>]*>.*?</(style|script)>`)
	blankLines     = regexp.MustCompile(`\n{3,}`)
	trailingSpaces = regexp.MustCompile(`[ \t]+\n`)
)

// htmlToText strips markup from an HTML body, keeping line structure.
func htmlToText(s string) string {
	if s == "" {
		return ""
	}
	s = styleOrScript.ReplaceAllString(s, "")
	s = blockBreak.ReplaceAllString(s, "$0\n")
	s = textPolicy.Sanitize(s)
	s = html.UnescapeString(s)
	s = strings.ReplaceAll(s, "\u00a0", " ")
	s = trailingSpaces.ReplaceAllString(s, "\n")
	s = blankLines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
