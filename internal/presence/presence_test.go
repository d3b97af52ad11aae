package presence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailagent/internal/clock"
	"github.com/nhle/mailagent/internal/store"
)

type fakeRecorder struct {
	flags map[string]bool
	err   error
}

func (r *fakeRecorder) SetUserConnected(_ context.Context, userID string, connected bool, _ time.Time) error {
	if r.flags == nil {
		r.flags = map[string]bool{}
	}
	r.flags[userID] = connected
	return nil
}

func (r *fakeRecorder) IsUserConnected(_ context.Context, userID string) (bool, error) {
	if r.err != nil {
		return false, r.err
	}
	v, ok := r.flags[userID]
	if !ok {
		return false, store.ErrNotFound
	}
	return v, nil
}

func TestStoreOracleFailsOpen(t *testing.T) {
	ctx := context.Background()
	rec := &fakeRecorder{}
	o := NewStoreOracle(rec, zerolog.Nop())

	assert.True(t, o.IsUserConnected(ctx, "unknown"))

	require.NoError(t, rec.SetUserConnected(ctx, "u", false, time.Now()))
	assert.False(t, o.IsUserConnected(ctx, "u"))

	rec.err = errors.New("db locked")
	assert.True(t, o.IsUserConnected(ctx, "u"))
}

func TestMemoryFeedDeliversAndCancels(t *testing.T) {
	f := NewMemoryFeed()
	ctx := context.Background()

	ch, cancel := f.Subscribe(ctx, "u")
	other, cancelOther := f.Subscribe(ctx, "v")
	defer cancelOther()

	require.NoError(t, f.Announce(ctx, Update{UserID: "u", IsConnected: true}))
	select {
	case u := <-ch:
		assert.True(t, u.IsConnected)
	case <-time.After(time.Second):
		t.Fatal("no update delivered")
	}
	select {
	case <-other:
		t.Fatal("update leaked to another user")
	default:
	}

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, f.Subscribers("u"))
}

func TestMemoryFeedClosesOnContextDone(t *testing.T) {
	f := NewMemoryFeed()
	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := f.Subscribe(ctx, "u")
	cancel()

	select {
	case _, open := <-ch:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("subscription not closed")
	}
}

func TestPublisherRecordsAndAnnounces(t *testing.T) {
	rec := &fakeRecorder{}
	feed := NewMemoryFeed()
	ctx := context.Background()
	ch, cancel := feed.Subscribe(ctx, "u")
	defer cancel()

	p := NewPublisher(rec, clock.Fake(time.Now()), feed)
	require.NoError(t, p.SetConnected(ctx, "u", false))

	assert.False(t, rec.flags["u"])
	u := <-ch
	assert.Equal(t, Update{UserID: "u", IsConnected: false}, u)
}

func TestDecodeUpdate(t *testing.T) {
	u, err := decodeUpdate("u", `{"isConnected":true}`)
	require.NoError(t, err)
	assert.Equal(t, Update{UserID: "u", IsConnected: true}, u)

	_, err = decodeUpdate("u", `{}`)
	assert.Error(t, err)
	_, err = decodeUpdate("u", `nope`)
	assert.Error(t, err)

	assert.Equal(t, "mailagent:presence:u", ChannelName("mailagent", "u"))
}

type fakeKV map[string]*redis.StringCmd

func (kv fakeKV) Get(_ context.Context, key string) *redis.StringCmd {
	if cmd, ok := kv[key]; ok {
		return cmd
	}
	return redis.NewStringResult("", redis.Nil)
}

func TestRedisOracle(t *testing.T) {
	ctx := context.Background()
	o := &RedisOracle{
		kv: fakeKV{
			keyName("p", "off"):  redis.NewStringResult("0", nil),
			keyName("p", "on"):   redis.NewStringResult("1", nil),
			keyName("p", "down"): redis.NewStringResult("", errors.New("connection refused")),
		},
		prefix: "p",
		log:    zerolog.Nop(),
	}

	assert.False(t, o.IsUserConnected(ctx, "off"))
	assert.True(t, o.IsUserConnected(ctx, "on"))
	assert.True(t, o.IsUserConnected(ctx, "down"))
	assert.True(t, o.IsUserConnected(ctx, "missing"))
}
