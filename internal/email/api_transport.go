package email

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"time"
)

// APITransport delivers through an HTTP mail provider that accepts a
// JSON message and a bearer key.
type APITransport struct {
	url    string
	apiKey string
	http   *http.Client
}

func NewAPITransport(url, apiKey string, httpClient *http.Client) *APITransport {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &APITransport{url: url, apiKey: apiKey, http: httpClient}
}

type apiAttachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type,omitempty"`
	Content     string `json:"content"`
}

type apiMessage struct {
	From        string            `json:"from"`
	To          []string          `json:"to"`
	Cc          []string          `json:"cc,omitempty"`
	Bcc         []string          `json:"bcc,omitempty"`
	Subject     string            `json:"subject"`
	Text        string            `json:"text,omitempty"`
	HTML        string            `json:"html,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Attachments []apiAttachment   `json:"attachments,omitempty"`
}

type apiResponse struct {
	ID       string   `json:"id"`
	Rejected []string `json:"rejected,omitempty"`
}

func (t *APITransport) Deliver(ctx context.Context, d *Delivery) (*Receipt, error) {
	msg := d.Message
	body := apiMessage{
		From:    d.From.String(),
		To:      msg.To,
		Cc:      msg.Cc,
		Bcc:     msg.Bcc,
		Subject: msg.Subject,
		Text:    msg.Text,
		HTML:    msg.HTML,
		Headers: map[string]string{"Message-ID": "<" + d.MessageID + ">"},
	}
	if msg.InReplyTo != "" {
		body.Headers["In-Reply-To"] = "<" + normalizeMessageID(msg.InReplyTo) + ">"
	}
	if len(msg.References) > 0 {
		var refs bytes.Buffer
		for i, r := range msg.References {
			if i > 0 {
				refs.WriteByte(' ')
			}
			refs.WriteString("<" + normalizeMessageID(r) + ">")
		}
		body.Headers["References"] = refs.String()
	}
	for _, a := range msg.Attachments {
		body.Attachments = append(body.Attachments, apiAttachment{
			Filename:    a.Filename,
			ContentType: a.ContentType,
			Content:     base64.StdEncoding.EncodeToString(a.Data),
		})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.apiKey)

	resp, err := t.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, &AuthError{User: d.From.Address, Message: fmt.Sprintf("API error (%d): %s", resp.StatusCode, respBody)}
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, respBody)
	}

	var out apiResponse
	if len(bytes.TrimSpace(respBody)) > 0 {
		if err := json.Unmarshal(respBody, &out); err != nil {
			return nil, fmt.Errorf("parsing response: %w", err)
		}
	}

	rec := &Receipt{MessageID: out.ID, Rejected: out.Rejected}
	for _, r := range d.Recipients {
		if !slices.Contains(out.Rejected, r) {
			rec.Accepted = append(rec.Accepted, r)
		}
	}
	return rec, nil
}
