package credential

import (
	"testing"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVaultRoundTrip(t *testing.T) {
	v := NewVault(keyring.NewArrayKeyring(nil))

	require.NoError(t, v.Set(IMAPKey("ann@example.com"), "s3cret"))
	got, err := v.Get("imap-ann@example.com")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", got)

	require.NoError(t, v.Delete(IMAPKey("ann@example.com")))
	_, err = v.Get(IMAPKey("ann@example.com"))
	assert.ErrorIs(t, err, ErrMissing)
}

func TestResolvePrefersInline(t *testing.T) {
	v := NewVault(keyring.NewArrayKeyring([]keyring.Item{{Key: SMTPKey("u"), Data: []byte("from-ring")}}))

	got, err := v.Resolve("inline", SMTPKey("u"))
	require.NoError(t, err)
	assert.Equal(t, "inline", got)

	got, err = v.Resolve("", SMTPKey("u"))
	require.NoError(t, err)
	assert.Equal(t, "from-ring", got)

	_, err = v.Resolve("", MailAPIKey("u"))
	assert.ErrorIs(t, err, ErrMissing)

	var nilVault *Vault
	_, err = nilVault.Resolve("", ClaudeAPIKey)
	assert.ErrorIs(t, err, ErrMissing)
}
