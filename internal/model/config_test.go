package model

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 24*time.Hour, cfg.Session.InitialWindow)
	assert.Equal(t, 25, cfg.Session.InitialCap)
	assert.Equal(t, 10, cfg.Session.ChunkSize)
	assert.True(t, cfg.Session.MarkSeen)
	assert.Equal(t, 5, cfg.Session.MaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.Session.BaseDelay)
	assert.Equal(t, 5*time.Minute, cfg.Health.Interval)
	assert.Equal(t, 15*time.Minute, cfg.Health.StaleAfter)
	assert.Equal(t, 2*time.Second, cfg.Health.Debounce)
	assert.Equal(t, 5, cfg.Dispatcher.MinBatch)
	assert.Equal(t, 20, cfg.Dispatcher.MaxBatch)
	assert.Equal(t, 2500*time.Millisecond, cfg.Dispatcher.ShortDelay)
	assert.Equal(t, 7*24*time.Hour, cfg.Workflow.ConfirmLookback)
	assert.Empty(t, cfg.Mailboxes)
}

func TestLoadConfigMailboxes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
session:
  max_attempts: 3
  base_delay: 1s
mailboxes:
  - user_id: u1
    incoming:
      host: imap.example.com
      port: 993
      user: alice@example.com
    outgoing:
      host: smtp.example.com
      port: 465
      user: alice@example.com
      from: alice@example.com
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Session.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Session.BaseDelay)
	require.Len(t, cfg.Mailboxes, 1)
	mb := cfg.Mailboxes[0]
	assert.Equal(t, "u1", mb.RoomID)
	require.NotNil(t, mb.Incoming)
	assert.Equal(t, "INBOX", mb.Incoming.Mailbox)
	assert.Equal(t, SecurityTLS, mb.Incoming.Security)
	assert.Equal(t, "imap.example.com:993", mb.Incoming.Addr())
	require.NotNil(t, mb.Outgoing)
	assert.Equal(t, TransportSMTP, mb.Outgoing.Transport)
}

func TestCredentialValidation(t *testing.T) {
	creds := MailboxCredentials{Host: "h", Port: 993, User: "u", Secret: "s"}
	require.NoError(t, creds.Validate())

	creds.Secret = ""
	assert.EqualError(t, creds.Validate(), "secret is required")

	out := OutgoingConfig{Transport: TransportAPI, APIURL: "https://mail.example.com", From: "a@b.c"}
	assert.EqualError(t, out.Validate(), "api_key is required")
	out.APIKey = "k"
	assert.NoError(t, out.Validate())
}

func TestPendingReplyActive(t *testing.T) {
	now := time.Now()
	p := PendingReply{Status: PendingStatusPending, ExpiresAt: now.Add(time.Hour)}
	assert.True(t, p.Active(now))
	assert.False(t, p.Active(now.Add(2*time.Hour)))
	p.Status = PendingStatusSent
	assert.False(t, p.Active(now))
}
