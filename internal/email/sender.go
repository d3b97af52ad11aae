package email

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/yuin/goldmark"

	"github.com/nhle/mailagent/internal/clock"
	"github.com/nhle/mailagent/internal/metrics"
	"github.com/nhle/mailagent/internal/model"
)

// Attachment is a file carried by an outgoing message.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// OutgoingMessage is one message to send. Addresses may carry display
// names ("Ann <ann@example.com>").
type OutgoingMessage struct {
	From        string
	To          []string
	Cc          []string
	Bcc         []string
	Subject     string
	Text        string
	HTML        string
	InReplyTo   string
	References  []string
	Attachments []Attachment
}

// SendResult describes the outcome of a Send.
type SendResult struct {
	Success   bool     `json:"success"`
	MessageID string   `json:"message_id,omitempty"`
	Accepted  []string `json:"accepted,omitempty"`
	Rejected  []string `json:"rejected,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// Delivery is a composed message handed to a Transport.
type Delivery struct {
	From       model.Address
	Recipients []string
	MessageID  string
	Message    *OutgoingMessage
	Raw        []byte
}

// Receipt is what a transport reports back.
type Receipt struct {
	MessageID string
	Accepted  []string
	Rejected  []string
}

// Transport moves a composed message to the provider.
type Transport interface {
	Deliver(ctx context.Context, d *Delivery) (*Receipt, error)
}

// NewTransport picks the transport configured for cfg.
func NewTransport(cfg model.OutgoingConfig) Transport {
	if cfg.Transport == model.TransportAPI {
		return NewAPITransport(cfg.APIURL, cfg.APIKey, nil)
	}
	return NewSMTPTransport(cfg.MailboxCredentials, 30*time.Second)
}

// Sender sends single messages. It never retries; callers decide.
type Sender struct {
	from      model.Address
	transport Transport
	markdown  goldmark.Markdown
	clock     clock.Clock
	log       zerolog.Logger
	metrics   *metrics.Metrics
}

func newSender(cfg model.OutgoingConfig, transport Transport, clk clock.Clock, log zerolog.Logger, m *metrics.Metrics) *Sender {
	from := cfg.From
	if from == "" {
		from = cfg.User
	}
	s := &Sender{
		from:      model.Address{Name: cfg.FromName, Address: from},
		transport: transport,
		clock:     clk,
		log:       log.With().Str("component", "sender").Logger(),
		metrics:   m,
	}
	if cfg.RenderMarkdown {
		s.markdown = goldmark.New()
	}
	return s
}

// Send composes msg and hands it to the transport once.
func (s *Sender) Send(ctx context.Context, msg OutgoingMessage) (SendResult, error) {
	res, err := s.send(ctx, &msg)
	s.metrics.ReplySent(err == nil)
	if err != nil {
		res.Success = false
		res.Error = err.Error()
		s.log.Warn().Err(err).Strs("to", msg.To).Msg("send failed")
		return res, err
	}
	s.log.Info().Str("message_id", res.MessageID).Strs("accepted", res.Accepted).Msg("message sent")
	return res, nil
}

func (s *Sender) send(ctx context.Context, msg *OutgoingMessage) (SendResult, error) {
	from := s.from
	if msg.From != "" {
		addr, err := mail.ParseAddress(msg.From)
		if err != nil {
			return SendResult{}, fmt.Errorf("parsing from address: %w", err)
		}
		from = model.Address{Name: addr.Name, Address: addr.Address}
	}
	if from.Address == "" {
		return SendResult{}, errors.New("missing from address")
	}

	var recipients []string
	for _, list := range [][]string{msg.To, msg.Cc, msg.Bcc} {
		for _, r := range list {
			addr, err := mail.ParseAddress(r)
			if err != nil {
				return SendResult{}, fmt.Errorf("parsing recipient %q: %w", r, err)
			}
			recipients = append(recipients, addr.Address)
		}
	}
	if len(recipients) == 0 {
		return SendResult{}, errors.New("no recipients")
	}

	if msg.HTML == "" && s.markdown != nil && msg.Text != "" {
		var buf bytes.Buffer
		if err := s.markdown.Convert([]byte(msg.Text), &buf); err != nil {
			s.log.Debug().Err(err).Msg("markdown rendering failed, sending text only")
		} else {
			msg.HTML = buf.String()
		}
	}

	messageID := newMessageID(from.Address)
	raw, err := composeMessage(from, msg, messageID, s.clock.Now())
	if err != nil {
		return SendResult{}, err
	}

	rec, err := s.transport.Deliver(ctx, &Delivery{
		From:       from,
		Recipients: recipients,
		MessageID:  messageID,
		Message:    msg,
		Raw:        raw,
	})
	if err != nil {
		res := SendResult{MessageID: messageID}
		if rec != nil {
			res.Accepted, res.Rejected = rec.Accepted, rec.Rejected
		}
		return res, err
	}

	res := SendResult{
		Success:   true,
		MessageID: messageID,
		Accepted:  rec.Accepted,
		Rejected:  rec.Rejected,
	}
	if rec.MessageID != "" {
		res.MessageID = rec.MessageID
	}
	return res, nil
}

func newMessageID(from string) string {
	domain := "localhost"
	if i := strings.LastIndex(from, "@"); i >= 0 && i < len(from)-1 {
		domain = from[i+1:]
	}
	return uuid.NewString() + "@" + domain
}

// composeMessage renders msg as RFC 5322. Bcc never appears in headers.
func composeMessage(from model.Address, msg *OutgoingMessage, messageID string, date time.Time) ([]byte, error) {
	var h mail.Header
	h.SetDate(date)
	h.SetAddressList("From", []*mail.Address{{Name: from.Name, Address: from.Address}})

	to, err := parseAddressList(msg.To)
	if err != nil {
		return nil, err
	}
	h.SetAddressList("To", to)
	if len(msg.Cc) > 0 {
		cc, err := parseAddressList(msg.Cc)
		if err != nil {
			return nil, err
		}
		h.SetAddressList("Cc", cc)
	}
	h.SetSubject(msg.Subject)
	h.SetMessageID(messageID)
	if msg.InReplyTo != "" {
		h.SetMsgIDList("In-Reply-To", []string{normalizeMessageID(msg.InReplyTo)})
	}
	if len(msg.References) > 0 {
		refs := make([]string, 0, len(msg.References))
		for _, r := range msg.References {
			if r = normalizeMessageID(r); r != "" {
				refs = append(refs, r)
			}
		}
		h.SetMsgIDList("References", refs)
	}

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("creating message writer: %w", err)
	}

	tw, err := mw.CreateInline()
	if err != nil {
		return nil, fmt.Errorf("creating inline part: %w", err)
	}
	if err := writeInline(tw, "text/plain", msg.Text); err != nil {
		return nil, err
	}
	if msg.HTML != "" {
		if err := writeInline(tw, "text/html", msg.HTML); err != nil {
			return nil, err
		}
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("closing inline part: %w", err)
	}

	for _, a := range msg.Attachments {
		var ah mail.AttachmentHeader
		ct := a.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		ah.SetContentType(ct, nil)
		ah.SetFilename(a.Filename)
		w, err := mw.CreateAttachment(ah)
		if err != nil {
			return nil, fmt.Errorf("creating attachment %s: %w", a.Filename, err)
		}
		if _, err := w.Write(a.Data); err != nil {
			return nil, fmt.Errorf("writing attachment %s: %w", a.Filename, err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("closing attachment %s: %w", a.Filename, err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("closing message: %w", err)
	}
	return buf.Bytes(), nil
}

func writeInline(tw *mail.InlineWriter, contentType, body string) error {
	var h mail.InlineHeader
	h.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	w, err := tw.CreatePart(h)
	if err != nil {
		return fmt.Errorf("creating %s part: %w", contentType, err)
	}
	if _, err := io.WriteString(w, body); err != nil {
		return fmt.Errorf("writing %s part: %w", contentType, err)
	}
	return w.Close()
}

func parseAddressList(list []string) ([]*mail.Address, error) {
	out := make([]*mail.Address, 0, len(list))
	for _, s := range list {
		addr, err := mail.ParseAddress(s)
		if err != nil {
			return nil, fmt.Errorf("parsing address %q: %w", s, err)
		}
		out = append(out, addr)
	}
	return out, nil
}

// ReplySubject prefixes subject with "Re: " unless it already has one.
func ReplySubject(subject string) string {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(subject)), "re:") {
		return subject
	}
	return "Re: " + subject
}
