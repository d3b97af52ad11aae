package email

import (
	"context"
	"fmt"
	"net"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/nhle/mailagent/internal/model"
)

type fakeMailbox struct {
	mu       sync.Mutex
	messages map[imap.UID][]byte
	seen     []imap.UID
	searches int
	storeErr error
}

func newFakeMailbox() *fakeMailbox {
	return &fakeMailbox{messages: make(map[imap.UID][]byte)}
}

func (m *fakeMailbox) add(uid imap.UID, raw []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[uid] = raw
}

func (m *fakeMailbox) sortedUIDs() []imap.UID {
	uids := make([]imap.UID, 0, len(m.messages))
	for uid := range m.messages {
		uids = append(uids, uid)
	}
	slices.Sort(uids)
	return uids
}

func (m *fakeMailbox) searchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.searches
}

func (m *fakeMailbox) seenUIDs() []imap.UID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.seen)
}

type fakeServer struct {
	box *fakeMailbox

	mu       sync.Mutex
	dials    int
	dialErr  error
	loginErr error
	gate     chan struct{}
	clients  []*fakeIMAPClient
}

func newFakeServer() *fakeServer {
	return &fakeServer{box: newFakeMailbox()}
}

func (s *fakeServer) dial(_ model.MailboxCredentials, _ time.Duration, onNewMail func()) (imapClient, error) {
	s.mu.Lock()
	s.dials++
	gate, dialErr, loginErr := s.gate, s.dialErr, s.loginErr
	s.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if dialErr != nil {
		return nil, dialErr
	}
	c := &fakeIMAPClient{
		box:      s.box,
		loginErr: loginErr,
		notify:   onNewMail,
		closed:   make(chan struct{}),
	}
	s.mu.Lock()
	s.clients = append(s.clients, c)
	s.mu.Unlock()
	return c, nil
}

func (s *fakeServer) dialCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dials
}

func (s *fakeServer) setDialErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dialErr = err
}

func (s *fakeServer) lastClient() *fakeIMAPClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.clients) == 0 {
		return nil
	}
	return s.clients[len(s.clients)-1]
}

// deliver adds a message and raises the EXISTS notification on the
// newest connection.
func (s *fakeServer) deliver(uid imap.UID, raw []byte) {
	s.box.add(uid, raw)
	if c := s.lastClient(); c != nil {
		c.notify()
	}
}

type fakeIMAPClient struct {
	box       *fakeMailbox
	loginErr  error
	notify    func()
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	logouts int
	idles   int
}

func (c *fakeIMAPClient) Login(_, _ string) commandWaiter { return &fakeCommand{err: c.loginErr} }

func (c *fakeIMAPClient) Logout() commandWaiter {
	c.mu.Lock()
	c.logouts++
	c.mu.Unlock()
	return &fakeCommand{}
}

func (c *fakeIMAPClient) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeIMAPClient) Select(_ string, _ *imap.SelectOptions) selectWaiter {
	c.box.mu.Lock()
	defer c.box.mu.Unlock()
	next := imap.UID(1)
	if uids := c.box.sortedUIDs(); len(uids) > 0 {
		next = uids[len(uids)-1] + 1
	}
	return &fakeSelect{data: &imap.SelectData{UIDNext: next}}
}

// UIDSearch mimics servers that answer "N:*" with the newest message
// even when its UID is below N.
func (c *fakeIMAPClient) UIDSearch(criteria *imap.SearchCriteria, _ *imap.SearchOptions) searchWaiter {
	c.box.mu.Lock()
	defer c.box.mu.Unlock()
	c.box.searches++

	all := c.box.sortedUIDs()
	var out []imap.UID
	if criteria != nil && len(criteria.UID) > 0 && len(criteria.UID[0]) > 0 {
		start := criteria.UID[0][0].Start
		for _, uid := range all {
			if uid >= start {
				out = append(out, uid)
			}
		}
		if len(out) == 0 && len(all) > 0 {
			out = all[len(all)-1:]
		}
	} else {
		out = all
	}
	return &fakeSearch{data: &imap.SearchData{All: imap.UIDSetNum(out...)}}
}

func (c *fakeIMAPClient) Fetch(numSet imap.NumSet, _ *imap.FetchOptions) fetchWaiter {
	set, ok := numSet.(imap.UIDSet)
	if !ok {
		return &fakeFetch{err: fmt.Errorf("unexpected num set %T", numSet)}
	}
	uids, _ := set.Nums()

	c.box.mu.Lock()
	defer c.box.mu.Unlock()
	var bufs []*imapclient.FetchMessageBuffer
	for _, uid := range uids {
		raw, ok := c.box.messages[uid]
		if !ok {
			continue
		}
		bufs = append(bufs, &imapclient.FetchMessageBuffer{
			SeqNum:       uint32(uid),
			UID:          uid,
			InternalDate: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
			BodySection: []imapclient.FetchBodySectionBuffer{{
				Section: bodySection,
				Bytes:   append([]byte(nil), raw...),
			}},
		})
	}
	return &fakeFetch{bufs: bufs}
}

func (c *fakeIMAPClient) Store(numSet imap.NumSet, _ *imap.StoreFlags, _ *imap.StoreOptions) fetchWaiter {
	c.box.mu.Lock()
	defer c.box.mu.Unlock()
	if c.box.storeErr != nil {
		return &fakeFetch{err: c.box.storeErr}
	}
	if set, ok := numSet.(imap.UIDSet); ok {
		uids, _ := set.Nums()
		c.box.seen = append(c.box.seen, uids...)
	}
	return &fakeFetch{}
}

func (c *fakeIMAPClient) Idle() (idleCommand, error) {
	select {
	case <-c.closed:
		return nil, net.ErrClosed
	default:
	}
	c.mu.Lock()
	c.idles++
	c.mu.Unlock()
	return &fakeIdle{done: make(chan struct{}), conn: c.closed}, nil
}

func (c *fakeIMAPClient) logoutCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logouts
}

func (c *fakeIMAPClient) idleCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.idles
}

type fakeIdle struct {
	done chan struct{}
	once sync.Once
	conn chan struct{}
}

func (i *fakeIdle) Close() error {
	i.once.Do(func() { close(i.done) })
	return nil
}

func (i *fakeIdle) Wait() error {
	select {
	case <-i.done:
		return nil
	case <-i.conn:
		return net.ErrClosed
	}
}

type fakeCommand struct{ err error }

func (c *fakeCommand) Wait() error { return c.err }

type fakeSelect struct {
	data *imap.SelectData
	err  error
}

func (s *fakeSelect) Wait() (*imap.SelectData, error) { return s.data, s.err }

type fakeSearch struct {
	err  error
	data *imap.SearchData
}

func (s *fakeSearch) Wait() (*imap.SearchData, error) { return s.data, s.err }

type fakeFetch struct {
	err  error
	bufs []*imapclient.FetchMessageBuffer
}

func (f *fakeFetch) Collect() ([]*imapclient.FetchMessageBuffer, error) { return f.bufs, f.err }
func (f *fakeFetch) Close() error                                       { return f.err }

type recordingHandler struct {
	mu    sync.Mutex
	mails []model.ParsedMail
}

func (h *recordingHandler) HandleMail(_ context.Context, mail model.ParsedMail) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.mails = append(h.mails, mail)
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.mails)
}

func (h *recordingHandler) subjects() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.mails))
	for _, m := range h.mails {
		out = append(out, m.Subject)
	}
	slices.Sort(out)
	return out
}

// scriptedOracle answers from a script, then repeats its last answer.
type scriptedOracle struct {
	mu      sync.Mutex
	answers []bool
}

func onlineOracle() *scriptedOracle { return &scriptedOracle{answers: []bool{true}} }

func (o *scriptedOracle) IsUserConnected(context.Context, string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	v := o.answers[0]
	if len(o.answers) > 1 {
		o.answers = o.answers[1:]
	}
	return v
}

func (o *scriptedOracle) set(v bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.answers = []bool{v}
}

// gatedOracle reports everyone online and, while held, parks each caller
// until release is closed.
type gatedOracle struct {
	calls   atomic.Int32
	held    atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func (o *gatedOracle) IsUserConnected(context.Context, string) bool {
	o.calls.Add(1)
	if o.held.Load() {
		o.entered <- struct{}{}
		<-o.release
	}
	return true
}

func rawMessage(id, from, subject, body string) []byte {
	return []byte(fmt.Sprintf(
		"From: %s\r\nTo: agent@example.com\r\nSubject: %s\r\nMessage-ID: <%s>\r\n"+
			"Date: Fri, 01 Mar 2024 09:00:00 +0000\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n",
		from, subject, id, body))
}
