package session_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thebranchdriftcatalyst/sbdeck/internal/action"
	"github.com/thebranchdriftcatalyst/sbdeck/internal/metrics"
	"github.com/thebranchdriftcatalyst/sbdeck/internal/session"
	"github.com/thebranchdriftcatalyst/sbdeck/internal/status"
	"github.com/thebranchdriftcatalyst/sbdeck/internal/streamerbot"
	"github.com/thebranchdriftcatalyst/sbdeck/internal/streamerbot/sbtest"
)

const shoutoutID = "0b6e2c1a-6a0f-4a51-9d3c-6f2f4f0f7a11"

func newServer(t *testing.T) *sbtest.Server {
	t.Helper()
	srv := sbtest.NewServer(streamerbot.Action{ID: shoutoutID, Name: "Shoutout", Enabled: true})
	t.Cleanup(srv.Close)
	return srv
}

func runSession(t *testing.T, s *session.Session) (cancel func(), done <-chan error) {
	t.Helper()
	ctx, cancelFn := context.WithCancel(context.Background())
	ch := make(chan error, 1)
	go func() { ch <- s.Run(ctx) }()
	t.Cleanup(cancelFn)
	return cancelFn, ch
}

func TestSession_ConnectAndDispatch(t *testing.T) {
	srv := newServer(t)
	ind := status.NewIndicator(zerolog.Nop())
	s := session.New(srv.Options(), time.Second, ind, zerolog.Nop())
	defer s.Close()

	_, err := s.Dispatch(context.Background(), action.Request{Ref: "Shoutout"})
	assert.ErrorIs(t, err, streamerbot.ErrNotConnected)
	assert.Empty(t, srv.Requests(streamerbot.RequestDoAction))

	require.NoError(t, s.Connect(context.Background()))
	assert.True(t, s.IsConnected())
	assert.Equal(t, status.Connected, s.Status().State)
	assert.Equal(t, "sbtest", s.Info().Name)

	out, err := s.Dispatch(context.Background(), action.Request{Ref: "shoutout", Payload: `{"user":"a"}`, IgnoreCase: true})
	require.NoError(t, err)
	assert.Equal(t, shoutoutID, out.ActionID)

	actions, err := s.Actions(context.Background())
	require.NoError(t, err)
	assert.Len(t, actions, 1)
}

func TestSession_ConnectReplacesClient(t *testing.T) {
	srv := newServer(t)
	s := session.New(srv.Options(), time.Second, status.NewIndicator(zerolog.Nop()), zerolog.Nop())
	defer s.Close()

	require.NoError(t, s.Connect(context.Background()))
	require.NoError(t, s.Connect(context.Background()))
	assert.True(t, s.IsConnected())
	assert.Equal(t, status.Connected, s.Status().State, "closing the old client must not leave the indicator disconnected")
}

func TestSession_RunReconnects(t *testing.T) {
	srv := newServer(t)
	ind := status.NewIndicator(zerolog.Nop())
	s := session.New(srv.Options(), 20*time.Millisecond, ind, zerolog.Nop())

	before := testutil.ToFloat64(metrics.ReconnectsTotal)
	cancel, done := runSession(t, s)

	require.Eventually(t, s.IsConnected, 2*time.Second, 10*time.Millisecond)

	srv.DropConnections()
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.ReconnectsTotal) > before && ind.Current() == status.Connected
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.False(t, s.IsConnected())
	assert.Equal(t, status.Disconnected, ind.Current())
}

func TestSession_PasswordRotation(t *testing.T) {
	srv := newServer(t)
	srv.SetPassword("rotated")
	ind := status.NewIndicator(zerolog.Nop())

	opts := srv.Options()
	opts.Password = "stale"
	s := session.New(opts, 20*time.Millisecond, ind, zerolog.Nop())
	runSession(t, s)

	assert.Eventually(t, func() bool { return ind.Current() == status.Error }, 2*time.Second, 10*time.Millisecond)
	assert.False(t, s.IsConnected())

	s.SetPassword("rotated")
	assert.Eventually(t, s.IsConnected, 2*time.Second, 10*time.Millisecond)
}
