// Package status mirrors the connection lifecycle into a single active state.
package status

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/thebranchdriftcatalyst/sbdeck/internal/metrics"
	"github.com/thebranchdriftcatalyst/sbdeck/internal/streamerbot"
)

// State is one of the three connection states
type State string

const (
	Disconnected State = "disconnected"
	Connected    State = "connected"
	Error        State = "error"
)

// States lists every state in display order
var States = []State{Connected, Disconnected, Error}

// Snapshot is a point-in-time copy of the indicator
type Snapshot struct {
	State State     `json:"state"`
	Text  string    `json:"text"`
	Since time.Time `json:"since"`
}

// Indicator holds exactly one active state
type Indicator struct {
	mu     sync.RWMutex
	state  State
	text   string
	since  time.Time
	logger zerolog.Logger
}

// NewIndicator creates an indicator in the disconnected state
func NewIndicator(logger zerolog.Logger) *Indicator {
	i := &Indicator{logger: logger.With().Str("component", "status").Logger()}
	i.Set(Disconnected, "Disconnected")
	return i
}

// Set makes s the only active state. The gauges are written under the
// lock so they always agree with Current.
func (i *Indicator) Set(s State, text string) {
	i.mu.Lock()
	prev := i.state
	i.state = s
	i.text = text
	i.since = time.Now()
	for _, st := range States {
		v := 0.0
		if st == s {
			v = 1
		}
		metrics.ConnectionState.WithLabelValues(string(st)).Set(v)
	}
	i.mu.Unlock()

	if prev != s {
		i.logger.Debug().Str("from", string(prev)).Str("to", string(s)).Str("text", text).Msg("Status changed")
	}
}

// Current returns the active state
func (i *Indicator) Current() State {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.state
}

// Snapshot returns a copy of the indicator
func (i *Indicator) Snapshot() Snapshot {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return Snapshot{State: i.state, Text: i.text, Since: i.since}
}

// Mirror wires a client's connection callbacks into the indicator.
// Callbacks already set on the client still run after the status update.
func (i *Indicator) Mirror(c *streamerbot.Client) {
	prevOpen, prevClose, prevErr := c.OnOpen, c.OnClose, c.OnError

	c.OnOpen = func() {
		i.Set(Connected, "Connected")
		if prevOpen != nil {
			prevOpen()
		}
	}
	c.OnClose = func() {
		i.Set(Disconnected, "Disconnected")
		if prevClose != nil {
			prevClose()
		}
	}
	c.OnError = func(err error) {
		i.Set(Error, "Connection error: "+err.Error())
		if prevErr != nil {
			prevErr(err)
		}
	}
}
