// Package session owns the long-lived connection used by serve mode: one
// client at a time, reconnected after a fixed delay and mirrored into the
// status indicator.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/thebranchdriftcatalyst/sbdeck/internal/action"
	"github.com/thebranchdriftcatalyst/sbdeck/internal/metrics"
	"github.com/thebranchdriftcatalyst/sbdeck/internal/status"
	"github.com/thebranchdriftcatalyst/sbdeck/internal/streamerbot"
)

// Session is a reconnecting connection plus the dispatcher bound to it
type Session struct {
	opts           streamerbot.Options
	reconnectDelay time.Duration
	indicator      *status.Indicator
	base           zerolog.Logger
	logger         zerolog.Logger

	mu         sync.RWMutex
	client     *streamerbot.Client
	dispatcher *action.Dispatcher
}

// New creates a session. Nothing is dialed until Connect or Run.
func New(opts streamerbot.Options, reconnectDelay time.Duration, indicator *status.Indicator, logger zerolog.Logger) *Session {
	s := &Session{
		opts:           opts,
		reconnectDelay: reconnectDelay,
		indicator:      indicator,
		base:           logger,
		logger:         logger.With().Str("component", "session").Logger(),
	}
	s.client, s.dispatcher = s.newClient(opts)
	return s
}

func (s *Session) newClient(opts streamerbot.Options) (*streamerbot.Client, *action.Dispatcher) {
	client := streamerbot.NewClient(opts, s.base)
	client.OnEvent = func(ev streamerbot.Event) {
		s.logger.Debug().Str("source", ev.Source).Str("type", ev.Type).Msg("Event")
	}
	s.indicator.Mirror(client)
	return client, action.NewDispatcher(client, s.base)
}

// Connect disconnects the current client, builds a fresh one from the
// session options and connects it.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	old := s.client
	s.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			s.logger.Debug().Err(err).Msg("Closing previous client")
		}
	}

	s.mu.Lock()
	s.client, s.dispatcher = s.newClient(s.opts)
	client := s.client
	s.mu.Unlock()

	return client.Connect(ctx)
}

// Run connects and keeps the session connected until ctx is done. After a
// failed attempt or a lost connection it waits the reconnect delay.
func (s *Session) Run(ctx context.Context) error {
	s.logger.Info().
		Str("url", s.options().URL()).
		Dur("reconnect_delay", s.reconnectDelay).
		Msg("Starting session")

	for {
		if err := s.Connect(ctx); err != nil {
			s.logger.Warn().Err(err).Dur("retry_in", s.reconnectDelay).Msg("Connect failed")
		} else {
			select {
			case <-ctx.Done():
				s.Close()
				return ctx.Err()
			case <-s.current().Done():
				s.logger.Warn().Dur("retry_in", s.reconnectDelay).Msg("Connection lost")
			}
		}

		select {
		case <-ctx.Done():
			s.Close()
			return ctx.Err()
		case <-time.After(s.reconnectDelay):
			metrics.ReconnectsTotal.Inc()
		}
	}
}

// SetPassword replaces the password and drops the current socket so Run
// reconnects with the new value.
func (s *Session) SetPassword(password string) {
	s.mu.Lock()
	s.opts.Password = password
	client := s.client
	s.mu.Unlock()

	s.logger.Info().Msg("Password updated, reconnecting")
	if err := client.Close(); err != nil {
		s.logger.Debug().Err(err).Msg("Closing client after password change")
	}
}

// Dispatch submits one action request on the current connection
func (s *Session) Dispatch(ctx context.Context, req action.Request) (*action.Outcome, error) {
	s.mu.RLock()
	d := s.dispatcher
	s.mu.RUnlock()
	return d.Dispatch(ctx, req)
}

// Actions lists the actions defined on the server
func (s *Session) Actions(ctx context.Context) ([]streamerbot.Action, error) {
	return s.current().GetActions(ctx)
}

// Status returns the indicator snapshot
func (s *Session) Status() status.Snapshot {
	return s.indicator.Snapshot()
}

// IsConnected reports whether the current client has an open socket
func (s *Session) IsConnected() bool {
	return s.current().IsConnected()
}

// Info returns the server identity from the last handshake
func (s *Session) Info() streamerbot.ServerInfo {
	return s.current().Info()
}

// Close disconnects the current client
func (s *Session) Close() error {
	return s.current().Close()
}

func (s *Session) current() *streamerbot.Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client
}

func (s *Session) options() streamerbot.Options {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.opts
}
