package streamerbot

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Request kinds understood by the automation server
const (
	RequestHello        = "Hello"
	RequestAuthenticate = "Authenticate"
	RequestGetActions   = "GetActions"
	RequestDoAction     = "DoAction"
)

const (
	StatusOK    = "ok"
	StatusError = "error"
)

// ErrNotConnected is returned when no socket is open or the socket closed
// before a response arrived.
var ErrNotConnected = errors.New("not connected")

// ErrSendFailed is returned when a request frame could not be written, so
// the server never saw it.
var ErrSendFailed = errors.New("write failed")

// ErrPasswordRequired is returned when the server demands authentication
// and no password was configured.
var ErrPasswordRequired = errors.New("server requires authentication but no password is configured")

// Action describes a server-side action as returned by GetActions
type Action struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Group          string `json:"group,omitempty"`
	Enabled        bool   `json:"enabled"`
	SubactionCount int    `json:"subaction_count,omitempty"`
}

// ActionRef identifies the action in a DoAction request. Either field may be set.
type ActionRef struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

// Request is a single request frame
type Request struct {
	Request        string         `json:"request"`
	ID             string         `json:"id"`
	Action         *ActionRef     `json:"action,omitempty"`
	Args           map[string]any `json:"args,omitempty"`
	Authentication string         `json:"authentication,omitempty"`
}

// Response is a correlated response frame
type Response struct {
	ID      string   `json:"id"`
	Status  string   `json:"status"`
	Error   string   `json:"error,omitempty"`
	Actions []Action `json:"actions,omitempty"`
	Count   int      `json:"count,omitempty"`

	// Raw holds the frame as received
	Raw json.RawMessage `json:"-"`
}

// Hello is sent by the server right after the socket opens
type Hello struct {
	Timestamp      string          `json:"timestamp"`
	Session        string          `json:"session"`
	Request        string          `json:"request"`
	Info           ServerInfo      `json:"info"`
	Authentication *Authentication `json:"authentication,omitempty"`
}

// ServerInfo contains instance metadata from the Hello frame
type ServerInfo struct {
	InstanceID string `json:"instanceId"`
	Name       string `json:"name"`
	OS         string `json:"os"`
	Version    string `json:"version"`
}

// Authentication carries the challenge for password-protected servers
type Authentication struct {
	Challenge string `json:"challenge"`
	Salt      string `json:"salt"`
}

// Event is an unsolicited event frame
type Event struct {
	Timestamp string          `json:"timestamp"`
	Source    string          `json:"source"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// envelope is used to classify incoming frames before full decoding
type envelope struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Event     *struct {
		Source string `json:"source"`
		Type   string `json:"type"`
	} `json:"event"`
	Data json.RawMessage `json:"data"`
}

// ServerError is returned when the server answers with status "error"
type ServerError struct {
	Request string
	Message string
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s failed: server returned status error", e.Request)
	}
	return fmt.Sprintf("%s failed: %s", e.Request, e.Message)
}
