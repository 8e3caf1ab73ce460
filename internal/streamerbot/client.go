// Package streamerbot implements a client for the Streamer.bot WebSocket
// control protocol: handshake and authentication, request/response
// correlation, action listing and invocation.
package streamerbot

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/thebranchdriftcatalyst/sbdeck/internal/metrics"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Maximum message size allowed from peer. Action lists can be large.
	maxMessageSize = 4 << 20

	defaultRequestTimeout = 10 * time.Second
)

// Options configures the connection to the automation server
type Options struct {
	Host           string
	Port           int
	Endpoint       string // defaults to "/"
	Scheme         string // ws or wss, defaults to ws
	Password       string
	RequestTimeout time.Duration
	Dialer         *websocket.Dialer
}

// URL returns the WebSocket URL the client dials
func (o Options) URL() string {
	scheme := o.Scheme
	if scheme == "" {
		scheme = "ws"
	}
	endpoint := o.Endpoint
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	u := url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(o.Host, strconv.Itoa(o.Port)),
		Path:   endpoint,
	}
	return u.String()
}

// conn is one open socket. A reconnect replaces it.
type conn struct {
	ws      *websocket.Conn
	done    chan struct{}
	closing atomic.Bool
	writeMu sync.Mutex
}

func (cn *conn) writeJSON(v any) error {
	cn.writeMu.Lock()
	defer cn.writeMu.Unlock()
	cn.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return cn.ws.WriteJSON(v)
}

// Client handles communication with the automation server.
//
// Callbacks run synchronously on the goroutine that observed the change and
// must not call Close.
type Client struct {
	opts   Options
	logger zerolog.Logger

	mu   sync.RWMutex
	cur  *conn
	info ServerInfo

	pendingMu sync.Mutex
	pending   map[string]chan *Response

	// Callbacks
	OnOpen  func()
	OnClose func()
	OnError func(error)
	OnEvent func(Event)
}

// NewClient creates a new client. It does not connect.
func NewClient(opts Options, logger zerolog.Logger) *Client {
	return &Client{
		opts:    opts,
		logger:  logger.With().Str("component", "streamerbot-client").Logger(),
		pending: make(map[string]chan *Response),
	}
}

// Connect opens the socket, completes the Hello/Authenticate handshake and
// starts the read loop. An already open socket is closed first.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.Close(); err != nil {
		c.logger.Debug().Err(err).Msg("Closing previous connection")
	}

	target := c.opts.URL()
	c.logger.Info().Str("url", target).Msg("Connecting to automation server")

	dialer := c.opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	ws, _, err := dialer.DialContext(ctx, target, nil)
	if err != nil {
		return c.fail(fmt.Errorf("dial %s: %w", target, err))
	}
	ws.SetReadLimit(maxMessageSize)

	hello, err := c.handshake(ctx, ws)
	if err != nil {
		ws.Close()
		return c.fail(err)
	}

	cn := &conn{ws: ws, done: make(chan struct{})}
	c.mu.Lock()
	c.cur = cn
	c.info = hello.Info
	c.mu.Unlock()

	go c.readLoop(cn)

	c.logger.Info().
		Str("url", target).
		Str("server", hello.Info.Name).
		Str("version", hello.Info.Version).
		Bool("authenticated", hello.Authentication != nil).
		Msg("WebSocket open")

	if c.OnOpen != nil {
		c.OnOpen()
	}
	return nil
}

func (c *Client) fail(err error) error {
	metrics.ErrorsTotal.WithLabelValues("connection").Inc()
	c.logger.Error().Err(err).Msg("Connection failed")
	if c.OnError != nil {
		c.OnError(err)
	}
	return err
}

func (c *Client) handshake(ctx context.Context, ws *websocket.Conn) (*Hello, error) {
	deadline := time.Now().Add(c.requestTimeout())
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	ws.SetReadDeadline(deadline)
	defer ws.SetReadDeadline(time.Time{})

	var hello Hello
	if err := ws.ReadJSON(&hello); err != nil {
		return nil, fmt.Errorf("read hello: %w", err)
	}
	if hello.Request != RequestHello {
		return nil, fmt.Errorf("unexpected first frame %q, want %s", hello.Request, RequestHello)
	}
	if hello.Authentication == nil {
		return &hello, nil
	}
	if c.opts.Password == "" {
		return nil, ErrPasswordRequired
	}

	req := Request{
		Request:        RequestAuthenticate,
		ID:             uuid.NewString(),
		Authentication: authResponse(c.opts.Password, hello.Authentication),
	}
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ws.WriteJSON(req); err != nil {
		return nil, fmt.Errorf("send authenticate: %w", err)
	}

	for {
		var resp Response
		if err := ws.ReadJSON(&resp); err != nil {
			return nil, fmt.Errorf("read authenticate response: %w", err)
		}
		if resp.ID != req.ID {
			continue
		}
		if resp.Status == StatusError {
			return nil, &ServerError{Request: RequestAuthenticate, Message: resp.Error}
		}
		return &hello, nil
	}
}

func (c *Client) readLoop(cn *conn) {
	defer close(cn.done)

	var readErr error
	for {
		_, data, err := cn.ws.ReadMessage()
		if err != nil {
			readErr = err
			break
		}
		c.handleFrame(data)
	}

	c.mu.Lock()
	if c.cur == cn {
		c.cur = nil
	}
	c.mu.Unlock()

	if !cn.closing.Load() && !websocket.IsCloseError(readErr, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		metrics.ErrorsTotal.WithLabelValues("connection").Inc()
		c.logger.Error().Err(readErr).Msg("WebSocket error")
		if c.OnError != nil {
			c.OnError(readErr)
		}
	}

	c.logger.Info().Msg("WebSocket closed")
	if c.OnClose != nil {
		c.OnClose()
	}
}

func (c *Client) handleFrame(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to parse frame")
		return
	}

	if env.Event != nil {
		ev := Event{
			Timestamp: env.Timestamp,
			Source:    env.Event.Source,
			Type:      env.Event.Type,
			Data:      env.Data,
		}
		c.logger.Debug().Str("source", ev.Source).Str("type", ev.Type).Msg("Event received")
		if c.OnEvent != nil {
			c.OnEvent(ev)
		}
		return
	}

	if env.ID == "" {
		c.logger.Debug().RawJSON("frame", data).Msg("Ignoring uncorrelated frame")
		return
	}

	c.pendingMu.Lock()
	ch, ok := c.pending[env.ID]
	if ok {
		delete(c.pending, env.ID)
	}
	c.pendingMu.Unlock()

	if !ok {
		c.logger.Debug().Str("id", env.ID).Msg("Response for unknown request")
		return
	}

	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		resp = Response{ID: env.ID, Status: StatusError, Error: fmt.Sprintf("malformed response: %v", err)}
	}
	resp.Raw = append(json.RawMessage(nil), data...)
	ch <- &resp
}

// Request sends a frame and waits for the response carrying the same id.
// An empty id is filled with a fresh UUID.
func (c *Client) Request(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()
	defer func() {
		metrics.RequestDuration.WithLabelValues(req.Request).Observe(time.Since(start).Seconds())
	}()

	c.mu.RLock()
	cn := c.cur
	c.mu.RUnlock()
	if cn == nil {
		metrics.RequestsTotal.WithLabelValues(req.Request, "not_connected").Inc()
		return nil, fmt.Errorf("%s: %w", req.Request, ErrNotConnected)
	}

	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	ch := make(chan *Response, 1)
	c.pendingMu.Lock()
	c.pending[req.ID] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, req.ID)
		c.pendingMu.Unlock()
	}()

	if err := cn.writeJSON(req); err != nil {
		metrics.RequestsTotal.WithLabelValues(req.Request, "error").Inc()
		return nil, fmt.Errorf("send %s: %w: %w", req.Request, ErrSendFailed, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout())
	defer cancel()

	select {
	case resp := <-ch:
		return c.finish(req, resp)
	case <-cn.done:
		select {
		case resp := <-ch:
			return c.finish(req, resp)
		default:
		}
		metrics.RequestsTotal.WithLabelValues(req.Request, "not_connected").Inc()
		return nil, fmt.Errorf("%s: %w", req.Request, ErrNotConnected)
	case <-ctx.Done():
		metrics.RequestsTotal.WithLabelValues(req.Request, "timeout").Inc()
		return nil, fmt.Errorf("%s: %w", req.Request, ctx.Err())
	}
}

func (c *Client) finish(req *Request, resp *Response) (*Response, error) {
	if resp.Status == StatusError {
		metrics.RequestsTotal.WithLabelValues(req.Request, "error").Inc()
		return resp, &ServerError{Request: req.Request, Message: resp.Error}
	}
	metrics.RequestsTotal.WithLabelValues(req.Request, "ok").Inc()
	return resp, nil
}

// GetActions retrieves all actions defined on the server
func (c *Client) GetActions(ctx context.Context) ([]Action, error) {
	resp, err := c.Request(ctx, &Request{Request: RequestGetActions})
	if err != nil {
		return nil, err
	}
	return resp.Actions, nil
}

// DoAction invokes an action with the given arguments
func (c *Client) DoAction(ctx context.Context, ref ActionRef, args map[string]any) (*Response, error) {
	return c.Request(ctx, &Request{
		Request: RequestDoAction,
		Action:  &ref,
		Args:    args,
	})
}

// SendFrame writes a raw frame onto the open socket without waiting for a
// response.
func (c *Client) SendFrame(v any) error {
	c.mu.RLock()
	cn := c.cur
	c.mu.RUnlock()
	if cn == nil {
		return ErrNotConnected
	}
	if err := cn.writeJSON(v); err != nil {
		return fmt.Errorf("send frame: %w", err)
	}
	return nil
}

// IsConnected returns current connection state
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cur != nil
}

// Done returns a channel closed when the current socket closes. It returns
// a closed channel when not connected.
func (c *Client) Done() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.cur == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.cur.done
}

// Info returns the server metadata from the last Hello frame
func (c *Client) Info() ServerInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.info
}

// Close closes the socket and waits for the read loop to finish
func (c *Client) Close() error {
	c.mu.Lock()
	cn := c.cur
	c.cur = nil
	c.mu.Unlock()

	if cn == nil {
		return nil
	}

	cn.closing.Store(true)
	_ = cn.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	err := cn.ws.Close()

	select {
	case <-cn.done:
	case <-time.After(writeWait):
		c.logger.Warn().Msg("Read loop did not stop after close")
	}
	return err
}

func (c *Client) requestTimeout() time.Duration {
	if c.opts.RequestTimeout > 0 {
		return c.opts.RequestTimeout
	}
	return defaultRequestTimeout
}
