package credential

import (
	"errors"
	"fmt"

	"github.com/99designs/keyring"
)

const serviceName = "mailagent"

// ClaudeAPIKey is the keyring entry holding the Anthropic API key.
const ClaudeAPIKey = "claude-api-key"

// ErrMissing is returned by Resolve when neither an inline value nor a
// keyring entry exists.
var ErrMissing = errors.New("credential not found")

// IMAPKey names the keyring entry for a user's incoming mailbox secret.
func IMAPKey(user string) string { return "imap-" + user }

// SMTPKey names the keyring entry for a user's outgoing mailbox secret.
func SMTPKey(user string) string { return "smtp-" + user }

// MailAPIKey names the keyring entry for a user's mail API key.
func MailAPIKey(user string) string { return "mail-api-" + user }

// Vault reads and writes secrets in a keyring.
type Vault struct {
	ring keyring.Keyring
}

// Open returns a Vault backed by the OS keyring, falling back to an
// encrypted file under ~/.config/mailagent/credentials.
func Open() (*Vault, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/mailagent/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("mailagent-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return &Vault{ring: ring}, nil
}

// NewVault wraps an already opened keyring.
func NewVault(ring keyring.Keyring) *Vault {
	return &Vault{ring: ring}
}

// Get retrieves a credential value by key.
func (v *Vault) Get(key string) (string, error) {
	item, err := v.ring.Get(key)
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return "", fmt.Errorf("getting credential %q: %w", key, ErrMissing)
		}
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}
	return string(item.Data), nil
}

// Set stores a credential value by key.
func (v *Vault) Set(key, value string) error {
	err := v.ring.Set(keyring.Item{
		Key:   key,
		Data:  []byte(value),
		Label: serviceName + " " + key,
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}
	return nil
}

// Delete removes a credential by key.
func (v *Vault) Delete(key string) error {
	if err := v.ring.Remove(key); err != nil {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}
	return nil
}

// Resolve returns inline when set, otherwise the keyring value for key.
func (v *Vault) Resolve(inline, key string) (string, error) {
	if inline != "" {
		return inline, nil
	}
	if v == nil {
		return "", fmt.Errorf("credential %q: %w", key, ErrMissing)
	}
	return v.Get(key)
}
