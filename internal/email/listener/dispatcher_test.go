package listener

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailagent/internal/clock"
	"github.com/nhle/mailagent/internal/model"
	"github.com/nhle/mailagent/internal/store"
	"github.com/nhle/mailagent/tests/testutil"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type memoryRecorder struct {
	mu     sync.Mutex
	stored []model.Memory
	// failOnce lists mail UUIDs whose first write fails.
	failOnce map[string]bool
}

func (r *memoryRecorder) CreateMemory(_ context.Context, m model.Memory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failOnce[m.Email.MailUUID] {
		delete(r.failOnce, m.Email.MailUUID)
		return errors.New("database is locked")
	}
	r.stored = append(r.stored, m)
	return nil
}

func (r *memoryRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.stored)
}

type notificationRecorder struct {
	mu    sync.Mutex
	fail  int
	notes []model.Notification
}

func (r *notificationRecorder) CreateNotification(_ context.Context, n model.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail > 0 {
		r.fail--
		return errors.New("notification store down")
	}
	r.notes = append(r.notes, n)
	return nil
}

func (r *notificationRecorder) all() []model.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Notification(nil), r.notes...)
}

func testConfig() Config {
	return Config{
		UserID:           "u1",
		AgentID:          "agent-1",
		RoomID:           "room-1",
		ImportantSenders: []string{"boss@example.com", "@vip.example.com"},
		UrgentKeywords:   []string{"urgent", "asap"},
		DispatcherConfig: model.DispatcherConfig{
			MinBatch:        5,
			MaxBatch:        20,
			BusyThreshold:   10,
			ShortDelay:      2500 * time.Millisecond,
			LongDelay:       10 * time.Second,
			RegularInterval: time.Minute,
		},
	}
}

func mail(i int, from, subject string) model.ParsedMail {
	return model.ParsedMail{
		MailUUID:  fmt.Sprintf("00000000-0000-4000-8000-%012d", i),
		From:      []model.Address{{Address: from}},
		Subject:   subject,
		Body:      "body",
		MessageID: fmt.Sprintf("m%d@example.com", i),
	}
}

func TestBatchSizeAndDelay(t *testing.T) {
	d := New(testConfig(), &memoryRecorder{}, &notificationRecorder{})

	assert.Equal(t, 5, d.batchSize(1))
	assert.Equal(t, 5, d.batchSize(10))
	assert.Equal(t, 6, d.batchSize(11))
	assert.Equal(t, 15, d.batchSize(30))
	assert.Equal(t, 20, d.batchSize(100))

	assert.Equal(t, 10*time.Second, d.flushDelay(10))
	assert.Equal(t, 2500*time.Millisecond, d.flushDelay(11))
}

func TestFullBatchFlushesWithoutTimer(t *testing.T) {
	clk := clock.Fake(epoch)
	mem := &memoryRecorder{}
	d := New(testConfig(), mem, &notificationRecorder{}, WithClock(clk))
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		d.HandleMail(ctx, mail(i, "ann@example.com", "hello"))
	}
	assert.Zero(t, mem.count())
	assert.Equal(t, 4, d.Pending())

	d.HandleMail(ctx, mail(5, "ann@example.com", "hello"))
	assert.Equal(t, 5, mem.count())
	assert.Zero(t, d.Pending())
}

func TestTimerFlushesPartialBatch(t *testing.T) {
	clk := clock.Fake(epoch)
	mem := &memoryRecorder{}
	d := New(testConfig(), mem, &notificationRecorder{}, WithClock(clk))
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		d.HandleMail(ctx, mail(i, "ann@example.com", "hello"))
	}
	clk.Advance(10*time.Second - time.Millisecond)
	assert.Zero(t, mem.count())

	clk.Advance(time.Millisecond)
	assert.Equal(t, 3, mem.count())
	assert.Zero(t, d.Pending())
}

func TestFailedWriteIsRequeued(t *testing.T) {
	clk := clock.Fake(epoch)
	mem := &memoryRecorder{failOnce: map[string]bool{mail(2, "", "").MailUUID: true}}
	d := New(testConfig(), mem, &notificationRecorder{}, WithClock(clk))
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		d.HandleMail(ctx, mail(i, "ann@example.com", "hello"))
	}
	assert.Equal(t, 4, mem.count())
	require.Equal(t, 1, d.Pending())

	clk.Advance(10 * time.Second)
	assert.Equal(t, 5, mem.count())
	assert.Zero(t, d.Pending())
}

func TestImportantMailBypassesDigest(t *testing.T) {
	clk := clock.Fake(epoch)
	notes := &notificationRecorder{}
	d := New(testConfig(), &memoryRecorder{}, notes, WithClock(clk))
	ctx := context.Background()

	d.HandleMail(ctx, mail(1, "boss@example.com", "Quarterly numbers"))
	d.HandleMail(ctx, mail(2, "ceo@vip.example.com", "hi"))
	d.HandleMail(ctx, mail(3, "ann@example.com", "Need this ASAP"))
	d.HandleMail(ctx, mail(4, "bob@example.com", "lunch?"))

	got := notes.all()
	require.Len(t, got, 3)
	for _, n := range got {
		assert.Equal(t, model.NotificationImportant, n.Kind)
	}
	assert.Equal(t, mail(1, "", "").MailUUID, got[0].MailUUID)
	assert.Contains(t, got[0].Message, "Quarterly numbers")

	clk.Advance(time.Minute)
	got = notes.all()
	require.Len(t, got, 4)
	assert.Equal(t, model.NotificationDigest, got[3].Kind)
	assert.Equal(t, "You have 1 new email\n- bob@example.com: lunch?", got[3].Message)
}

func TestDigestAggregatesAndRetries(t *testing.T) {
	clk := clock.Fake(epoch)
	notes := &notificationRecorder{fail: 1}
	d := New(testConfig(), &memoryRecorder{}, notes, WithClock(clk))
	ctx := context.Background()

	d.HandleMail(ctx, mail(1, "a@example.com", "one"))
	d.HandleMail(ctx, mail(2, "b@example.com", "two"))
	clk.Advance(30 * time.Second)
	d.HandleMail(ctx, mail(3, "c@example.com", "three"))

	clk.Advance(30 * time.Second)
	assert.Empty(t, notes.all(), "first digest attempt fails")

	clk.Advance(time.Minute)
	got := notes.all()
	require.Len(t, got, 1)
	assert.Contains(t, got[0].Message, "You have 3 new emails")
	assert.Contains(t, got[0].Message, "- c@example.com: three")
}

func TestMemoryShape(t *testing.T) {
	clk := clock.Fake(epoch)
	mem := &memoryRecorder{}
	d := New(testConfig(), mem, &notificationRecorder{}, WithClock(clk))

	m := mail(7, "ann@example.com", "Re: plan")
	m.Body = "Sounds good.\n\n-----Original Message-----\nFrom: agent\nOld text"
	m.ThreadID = "root@example.com"
	d.HandleMail(context.Background(), m)
	d.Flush(context.Background())

	require.Equal(t, 1, mem.count())
	got := mem.stored[0]
	assert.Equal(t, model.CollectionEmails, got.Collection)
	assert.Equal(t, "room-1", got.RoomID)
	assert.Equal(t, "Sounds good.", got.Text)
	assert.Equal(t, m.MailUUID, got.Email.MailUUID)
	assert.Equal(t, "root@example.com", got.Email.ThreadID)
	assert.Equal(t, epoch, got.CreatedAt)

	again := d.buildMemory(m)
	assert.Equal(t, got.ID, again.ID, "memory id is stable per room and mail")
}

func TestCleanBody(t *testing.T) {
	assert.Equal(t, "Hi", CleanBody("Hi\n\n---------- Forwarded message ---------\nFrom: x"))
	assert.Equal(t, "Yes", CleanBody("Yes\r\n> -----Original Message-----\r\n> old"))
	assert.Equal(t, "no separator", CleanBody("  no separator \n"))

	fwd := "---------- Forwarded message ---------\nFrom: x\n\nbody"
	assert.Equal(t, fwd, CleanBody(fwd))
}

func TestStopDrainsQueues(t *testing.T) {
	clk := clock.Fake(epoch)
	mem := &memoryRecorder{}
	notes := &notificationRecorder{}
	d := New(testConfig(), mem, notes, WithClock(clk))
	ctx := context.Background()

	d.HandleMail(ctx, mail(1, "ann@example.com", "one"))
	d.HandleMail(ctx, mail(2, "ann@example.com", "two"))
	d.Stop(ctx)

	assert.Equal(t, 2, mem.count())
	require.Len(t, notes.all(), 1)
	assert.Zero(t, clk.PendingCount())

	d.HandleMail(ctx, mail(3, "ann@example.com", "late"))
	assert.Zero(t, d.Pending())
	d.Stop(ctx)
}

func TestDispatcherWithSQLiteStore(t *testing.T) {
	st := testutil.NewTestStore(t)
	clk := clock.Fake(epoch)
	d := New(testConfig(), st, st, WithClock(clk))
	ctx := context.Background()

	m := mail(1, "boss@example.com", "urgent: contract")
	d.HandleMail(ctx, m)
	d.HandleMail(ctx, m)
	d.Flush(ctx)

	mems, err := st.GetMemories(ctx, store.MemoryFilter{RoomID: "room-1", Collection: model.CollectionEmails})
	require.NoError(t, err)
	require.Len(t, mems, 1, "reprocessing the same mail does not duplicate it")
	assert.True(t, mems[0].Email.Important)

	notes, err := st.GetUnreadNotifications(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, notes, 2)
}
