// Package presence answers whether a user is currently online and
// streams changes to that flag.
package presence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/nhle/mailagent/internal/clock"
	"github.com/nhle/mailagent/internal/store"
)

// Update is a connectivity change for one user.
type Update struct {
	UserID      string `json:"userId,omitempty"`
	IsConnected bool   `json:"isConnected"`
}

// Oracle reports whether a user is online. Implementations fail open:
// when they cannot tell, they answer true.
type Oracle interface {
	IsUserConnected(ctx context.Context, userID string) bool
}

// Feed delivers connectivity updates for a user until the returned
// cancel func is called or ctx ends.
type Feed interface {
	Subscribe(ctx context.Context, userID string) (<-chan Update, func())
}

// Announcer broadcasts an update to subscribers.
type Announcer interface {
	Announce(ctx context.Context, u Update) error
}

// Recorder persists the connectivity flag.
type Recorder interface {
	SetUserConnected(ctx context.Context, userID string, connected bool, at time.Time) error
	IsUserConnected(ctx context.Context, userID string) (bool, error)
}

// StoreOracle reads the flag from the database.
type StoreOracle struct {
	rec Recorder
	log zerolog.Logger
}

func NewStoreOracle(rec Recorder, log zerolog.Logger) *StoreOracle {
	return &StoreOracle{rec: rec, log: log.With().Str("component", "presence").Logger()}
}

// IsUserConnected treats users without a recorded flag as online.
func (o *StoreOracle) IsUserConnected(ctx context.Context, userID string) bool {
	connected, err := o.rec.IsUserConnected(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return true
	}
	if err != nil {
		o.log.Warn().Err(err).Str("user", userID).Msg("presence lookup failed, assuming connected")
		return true
	}
	return connected
}

// Publisher records a connectivity change and announces it.
type Publisher struct {
	rec        Recorder
	announcers []Announcer
	clock      clock.Clock
}

func NewPublisher(rec Recorder, clk clock.Clock, announcers ...Announcer) *Publisher {
	return &Publisher{rec: rec, announcers: announcers, clock: clk}
}

// SetConnected stores the flag, then announces it on every announcer.
func (p *Publisher) SetConnected(ctx context.Context, userID string, connected bool) error {
	if err := p.rec.SetUserConnected(ctx, userID, connected, p.clock.Now()); err != nil {
		return err
	}
	u := Update{UserID: userID, IsConnected: connected}
	var errs []error
	for _, a := range p.announcers {
		if err := a.Announce(ctx, u); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("announcing presence for %s: %w", userID, err)
	}
	return nil
}
