package action

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/thebranchdriftcatalyst/sbdeck/internal/metrics"
	"github.com/thebranchdriftcatalyst/sbdeck/internal/streamerbot"
)

// ErrNoSendMechanism is returned when the primary call failed and the
// connection cannot carry a raw frame.
var ErrNoSendMechanism = errors.New("no send mechanism available for fallback")

// Error kinds used in logs and metrics
const (
	KindConnection = "connection"
	KindAction     = "action"
)

// Invoker performs the high-level DoAction call
type Invoker interface {
	DoAction(ctx context.Context, ref streamerbot.ActionRef, args map[string]any) (*streamerbot.Response, error)
}

// FrameSender can write a raw request frame directly onto the socket
type FrameSender interface {
	SendFrame(v any) error
}

// Conn is what a dispatcher needs from a live connection
type Conn interface {
	Invoker
	Lister
	IsConnected() bool
}

// Request is one user submission
type Request struct {
	Ref        string
	Payload    string
	IgnoreCase bool
}

// Outcome describes a completed submission
type Outcome struct {
	ActionID string                `json:"action_id"`
	Response *streamerbot.Response `json:"-"`
	Fallback bool                  `json:"fallback"`
	FrameID  string                `json:"frame_id,omitempty"`
	Duration time.Duration         `json:"duration"`
}

// Dispatcher validates, resolves and invokes actions
type Dispatcher struct {
	conn     Conn
	resolver *Resolver
	logger   zerolog.Logger
}

// NewDispatcher creates a dispatcher bound to one connection
func NewDispatcher(conn Conn, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		conn:     conn,
		resolver: NewResolver(conn, logger),
		logger:   logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Dispatch runs one submission: payload validation, reference resolution,
// the DoAction call and, if that call could not be made, exactly one
// raw-frame fallback. A reply from the server, including a rejection, is
// final. Every failure is logged here before it is returned.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*Outcome, error) {
	start := time.Now()

	if !d.conn.IsConnected() {
		return nil, d.reject(KindConnection, streamerbot.ErrNotConnected, "Not connected")
	}

	obj, err := ParsePayload(req.Payload)
	if err != nil {
		return nil, d.reject(KindAction, err, "Invalid JSON payload")
	}
	args, err := WrapPayload(obj)
	if err != nil {
		return nil, d.reject(KindAction, err, "Invalid JSON payload")
	}

	actionID, err := d.resolver.Resolve(ctx, req.Ref, req.IgnoreCase)
	if err != nil {
		return nil, d.reject(Kind(err), err, "Action reference could not be resolved")
	}

	d.logger.Info().
		Str("action_id", actionID).
		Interface("args_preview", obj).
		Msg("DoAction →")

	ref := streamerbot.ActionRef{ID: actionID}
	resp, err := d.conn.DoAction(ctx, ref, args)
	if err == nil {
		metrics.DispatchTotal.WithLabelValues("success").Inc()
		d.logger.Info().
			Str("action_id", actionID).
			RawJSON("response", responseJSON(resp)).
			Dur("duration", time.Since(start)).
			Msg("DoAction ←")
		return &Outcome{ActionID: actionID, Response: resp, Duration: time.Since(start)}, nil
	}

	if !callUnavailable(err) {
		metrics.DispatchTotal.WithLabelValues("failure").Inc()
		metrics.ErrorsTotal.WithLabelValues(Kind(err)).Inc()
		wrapped := fmt.Errorf("do action %s: %w", actionID, err)
		d.logger.Error().
			Err(wrapped).
			Str("kind", Kind(err)).
			Str("action_id", actionID).
			RawJSON("response", responseJSON(resp)).
			Msg("DoAction failed")
		return nil, wrapped
	}

	d.logger.Warn().Err(err).Str("action_id", actionID).Msg("DoAction call unavailable, trying raw frame")

	frameID, fbErr := d.fallback(ref, args)
	if fbErr != nil {
		metrics.DispatchTotal.WithLabelValues("failure").Inc()
		metrics.ErrorsTotal.WithLabelValues(Kind(err)).Inc()
		combined := fmt.Errorf("do action %s: %w (fallback: %w)", actionID, err, fbErr)
		d.logger.Error().Err(combined).Str("kind", Kind(err)).Str("action_id", actionID).Msg("DoAction failed")
		return nil, combined
	}

	metrics.DispatchTotal.WithLabelValues("fallback").Inc()
	d.logger.Info().
		Str("action_id", actionID).
		Str("frame_id", frameID).
		Msg("DoAction raw frame sent")
	return &Outcome{ActionID: actionID, Fallback: true, FrameID: frameID, Duration: time.Since(start)}, nil
}

// callUnavailable reports whether the DoAction request never reached the
// server. Server replies and timeouts are not retried as a raw frame.
func callUnavailable(err error) bool {
	return errors.Is(err, streamerbot.ErrNotConnected) || errors.Is(err, streamerbot.ErrSendFailed)
}

// fallback makes the single raw-frame attempt
func (d *Dispatcher) fallback(ref streamerbot.ActionRef, args map[string]any) (string, error) {
	sender, ok := d.conn.(FrameSender)
	if !ok {
		metrics.FallbackTotal.WithLabelValues("unavailable").Inc()
		return "", ErrNoSendMechanism
	}

	frame := streamerbot.Request{
		Request: streamerbot.RequestDoAction,
		ID:      uuid.NewString(),
		Action:  &ref,
		Args:    args,
	}
	if err := sender.SendFrame(frame); err != nil {
		metrics.FallbackTotal.WithLabelValues("failed").Inc()
		return "", err
	}
	metrics.FallbackTotal.WithLabelValues("sent").Inc()
	return frame.ID, nil
}

func (d *Dispatcher) reject(kind string, err error, msg string) error {
	metrics.DispatchTotal.WithLabelValues("rejected").Inc()
	metrics.ErrorsTotal.WithLabelValues(kind).Inc()
	d.logger.Error().Err(err).Str("kind", kind).Msg(msg)
	return err
}

// Kind classifies err as a connection or action error
func Kind(err error) string {
	if errors.Is(err, streamerbot.ErrNotConnected) {
		return KindConnection
	}
	return KindAction
}

func responseJSON(resp *streamerbot.Response) []byte {
	if resp == nil {
		return []byte("null")
	}
	if len(resp.Raw) > 0 {
		return resp.Raw
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return []byte("null")
	}
	return data
}
