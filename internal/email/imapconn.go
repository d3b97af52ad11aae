package email

import (
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/nhle/mailagent/internal/model"
)

// imapClient is the subset of *imapclient.Client the session drives.
type imapClient interface {
	Login(username, password string) commandWaiter
	Logout() commandWaiter
	Close() error
	Select(mailbox string, options *imap.SelectOptions) selectWaiter
	UIDSearch(criteria *imap.SearchCriteria, options *imap.SearchOptions) searchWaiter
	Fetch(numSet imap.NumSet, options *imap.FetchOptions) fetchWaiter
	Store(numSet imap.NumSet, store *imap.StoreFlags, options *imap.StoreOptions) fetchWaiter
	Idle() (idleCommand, error)
}

type commandWaiter interface {
	Wait() error
}

type selectWaiter interface {
	Wait() (*imap.SelectData, error)
}

type searchWaiter interface {
	Wait() (*imap.SearchData, error)
}

type fetchWaiter interface {
	Collect() ([]*imapclient.FetchMessageBuffer, error)
	Close() error
}

type idleCommand interface {
	Close() error
	Wait() error
}

type imapClientWrapper struct {
	*imapclient.Client
}

func (w *imapClientWrapper) Login(username, password string) commandWaiter {
	return w.Client.Login(username, password)
}

func (w *imapClientWrapper) Logout() commandWaiter {
	return w.Client.Logout()
}

func (w *imapClientWrapper) Select(mailbox string, options *imap.SelectOptions) selectWaiter {
	return w.Client.Select(mailbox, options)
}

func (w *imapClientWrapper) UIDSearch(criteria *imap.SearchCriteria, options *imap.SearchOptions) searchWaiter {
	return w.Client.UIDSearch(criteria, options)
}

func (w *imapClientWrapper) Fetch(numSet imap.NumSet, options *imap.FetchOptions) fetchWaiter {
	return w.Client.Fetch(numSet, options)
}

func (w *imapClientWrapper) Store(numSet imap.NumSet, store *imap.StoreFlags, options *imap.StoreOptions) fetchWaiter {
	return w.Client.Store(numSet, store, options)
}

func (w *imapClientWrapper) Idle() (idleCommand, error) {
	cmd, err := w.Client.Idle()
	if err != nil {
		return nil, err
	}
	return cmd, nil
}

// dialFunc opens an unauthenticated connection. onNewMail is invoked
// whenever the server reports a change in the selected mailbox size.
type dialFunc func(creds model.MailboxCredentials, timeout time.Duration, onNewMail func()) (imapClient, error)

func dialIMAP(creds model.MailboxCredentials, timeout time.Duration, onNewMail func()) (imapClient, error) {
	opts := &imapclient.Options{
		Dialer:    &net.Dialer{Timeout: timeout},
		TLSConfig: &tls.Config{ServerName: creds.Host},
		UnilateralDataHandler: &imapclient.UnilateralDataHandler{
			Mailbox: func(data *imapclient.UnilateralDataMailbox) {
				if data.NumMessages != nil {
					onNewMail()
				}
			},
		},
	}

	var (
		c   *imapclient.Client
		err error
	)
	switch creds.Security {
	case model.SecurityStartTLS:
		c, err = imapclient.DialStartTLS(creds.Addr(), opts)
	case model.SecurityNone:
		c, err = imapclient.DialInsecure(creds.Addr(), opts)
	default:
		c, err = imapclient.DialTLS(creds.Addr(), opts)
	}
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", creds.Addr(), err)
	}
	return &imapClientWrapper{Client: c}, nil
}
