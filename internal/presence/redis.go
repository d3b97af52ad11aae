package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ChannelName is the pub/sub channel carrying a user's updates.
func ChannelName(prefix, userID string) string {
	return prefix + ":presence:" + userID
}

func keyName(prefix, userID string) string {
	return prefix + ":presence-state:" + userID
}

// RedisFeed subscribes to and publishes presence updates over Redis
// pub/sub. Each message is JSON `{"isConnected":bool}`.
type RedisFeed struct {
	client *redis.Client
	prefix string
	log    zerolog.Logger
}

func NewRedisFeed(client *redis.Client, prefix string, log zerolog.Logger) *RedisFeed {
	return &RedisFeed{
		client: client,
		prefix: prefix,
		log:    log.With().Str("component", "presence-redis").Logger(),
	}
}

func (f *RedisFeed) Subscribe(ctx context.Context, userID string) (<-chan Update, func()) {
	ps := f.client.Subscribe(ctx, ChannelName(f.prefix, userID))
	out := make(chan Update, subscriberBuffer)
	stop := make(chan struct{})

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(stop)
			if err := ps.Close(); err != nil {
				f.log.Debug().Err(err).Str("user", userID).Msg("closing presence subscription")
			}
		})
	}

	go func() {
		defer close(out)
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				cancel()
				return
			case <-stop:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				u, err := decodeUpdate(userID, msg.Payload)
				if err != nil {
					f.log.Warn().Err(err).Str("user", userID).Msg("dropping malformed presence message")
					continue
				}
				select {
				case out <- u:
				case <-stop:
					return
				}
			}
		}
	}()

	return out, cancel
}

// Announce stores the flag and publishes it.
func (f *RedisFeed) Announce(ctx context.Context, u Update) error {
	payload, err := json.Marshal(Update{IsConnected: u.IsConnected})
	if err != nil {
		return fmt.Errorf("encoding presence update: %w", err)
	}
	val := "0"
	if u.IsConnected {
		val = "1"
	}
	pipe := f.client.TxPipeline()
	pipe.Set(ctx, keyName(f.prefix, u.UserID), val, 0)
	pipe.Publish(ctx, ChannelName(f.prefix, u.UserID), payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publishing presence for %s: %w", u.UserID, err)
	}
	return nil
}

func decodeUpdate(userID, payload string) (Update, error) {
	var raw struct {
		IsConnected *bool `json:"isConnected"`
	}
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return Update{}, err
	}
	if raw.IsConnected == nil {
		return Update{}, errors.New("missing isConnected")
	}
	return Update{UserID: userID, IsConnected: *raw.IsConnected}, nil
}

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// RedisOracle reads the flag RedisFeed.Announce stores.
type RedisOracle struct {
	kv     stringGetter
	prefix string
	log    zerolog.Logger
}

func NewRedisOracle(client *redis.Client, prefix string, log zerolog.Logger) *RedisOracle {
	return &RedisOracle{kv: client, prefix: prefix, log: log.With().Str("component", "presence-redis").Logger()}
}

// IsUserConnected fails open on missing keys and Redis errors.
func (o *RedisOracle) IsUserConnected(ctx context.Context, userID string) bool {
	val, err := o.kv.Get(ctx, keyName(o.prefix, userID)).Result()
	if errors.Is(err, redis.Nil) {
		return true
	}
	if err != nil {
		o.log.Warn().Err(err).Str("user", userID).Msg("presence lookup failed, assuming connected")
		return true
	}
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "0", "false", "offline":
		return false
	default:
		return true
	}
}
