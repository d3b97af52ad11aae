package email

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// mailNamespace scopes name-based mail UUIDs.
var mailNamespace = uuid.MustParse("5b0f2f6e-8f7a-4c35-9a52-3d1e6f0c9b41")

var canonicalUUID = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[1-5][0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

// DeriveMailUUID maps a Message-ID to a stable UUID. The same Message-ID,
// with or without angle brackets, always yields the same value. Messages
// without a Message-ID get a random UUID.
func DeriveMailUUID(messageID string) (string, error) {
	id := normalizeMessageID(messageID)

	var u uuid.UUID
	if id == "" {
		var err error
		u, err = uuid.NewRandom()
		if err != nil {
			return "", fmt.Errorf("generating mail uuid: %w", err)
		}
	} else {
		u = uuid.NewSHA1(mailNamespace, []byte(id))
	}

	s := u.String()
	if err := ValidateMailUUID(s); err != nil {
		return "", err
	}
	return s, nil
}

// ValidateMailUUID accepts only lowercase hyphenated RFC 4122 UUIDs.
func ValidateMailUUID(s string) error {
	if !canonicalUUID.MatchString(s) {
		return fmt.Errorf("%w: %q", ErrInvalidMailUUID, s)
	}
	if _, err := uuid.Parse(s); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMailUUID, err)
	}
	return nil
}

func normalizeMessageID(id string) string {
	id = strings.TrimSpace(id)
	id = strings.TrimPrefix(id, "<")
	id = strings.TrimSuffix(id, ">")
	return strings.TrimSpace(id)
}
