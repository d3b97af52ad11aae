package email

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/emersion/go-imap/v2"
)

var (
	// ErrIncomingDisabled is returned by receive operations when the
	// client was built without incoming configuration.
	ErrIncomingDisabled = errors.New("incoming mail is not configured")

	// ErrOutgoingDisabled is returned by Send when the client was built
	// without outgoing configuration.
	ErrOutgoingDisabled = errors.New("outgoing mail is not configured")

	// ErrMailboxRejected is returned when the mailbox refused the
	// credentials and the session stays disabled until Reset.
	ErrMailboxRejected = errors.New("mailbox rejected the credentials")

	// ErrInvalidMailUUID marks a derived mail identifier that is not a
	// canonical UUID. Such messages are dropped.
	ErrInvalidMailUUID = errors.New("invalid mail uuid")

	errIdleEnded = errors.New("server ended IDLE")
)

// AuthError indicates that the mail server rejected the credentials.
type AuthError struct {
	User    string
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error (%s): %s", e.User, e.Message)
}

func (e *AuthError) Unwrap() error { return e.Err }

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// ErrorClass decides how a session reacts to a failure.
type ErrorClass int

const (
	ClassOther ErrorClass = iota
	ClassNetwork
	ClassAuth
)

func (c ErrorClass) String() string {
	switch c {
	case ClassAuth:
		return "auth"
	case ClassNetwork:
		return "network"
	default:
		return "other"
	}
}

var networkFragments = []string{
	"use of closed network connection",
	"connection reset",
	"connection refused",
	"broken pipe",
	"unexpected eof",
	"i/o timeout",
	"no such host",
	"network is unreachable",
}

// Classify sorts err into auth, network or other failures.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassOther
	}
	if IsAuthError(err) {
		return ClassAuth
	}
	var imapErr *imap.Error
	if errors.As(err, &imapErr) {
		switch imapErr.Code {
		case imap.ResponseCodeAuthenticationFailed, imap.ResponseCodeAuthorizationFailed:
			return ClassAuth
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassNetwork
	}
	switch {
	case errors.Is(err, net.ErrClosed),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, errIdleEnded):
		return ClassNetwork
	}

	msg := strings.ToLower(err.Error())
	for _, frag := range networkFragments {
		if strings.Contains(msg, frag) {
			return ClassNetwork
		}
	}
	return ClassOther
}

// loginError turns a server refusal of LOGIN into an AuthError. Other
// failures, like the connection dropping mid-login, stay transient.
func loginError(user string, err error) error {
	var imapErr *imap.Error
	if errors.As(err, &imapErr) {
		return &AuthError{
			User:    user,
			Message: fmt.Sprintf("authentication failed: %v", err),
			Err:     err,
		}
	}
	return fmt.Errorf("logging in as %s: %w", user, err)
}
