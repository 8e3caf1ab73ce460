// Package sbtest provides an in-process automation server speaking the
// WebSocket control protocol, for use in tests.
package sbtest

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/thebranchdriftcatalyst/sbdeck/internal/streamerbot"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server is a fake automation server
type Server struct {
	*httptest.Server

	mu            sync.Mutex
	actions       []streamerbot.Action
	password      string
	doActionError string
	silent        map[string]bool
	requests      []streamerbot.Request
	frames        []json.RawMessage
	conns         map[*peer]bool
}

type peer struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (p *peer) send(v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ws.WriteJSON(v)
}

// NewServer starts a server exposing the given actions
func NewServer(actions ...streamerbot.Action) *Server {
	s := &Server{
		actions: actions,
		silent:  make(map[string]bool),
		conns:   make(map[*peer]bool),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// Options returns client options pointing at this server
func (s *Server) Options() streamerbot.Options {
	addr := s.Listener.Addr().(*net.TCPAddr)
	s.mu.Lock()
	defer s.mu.Unlock()
	return streamerbot.Options{
		Host:     addr.IP.String(),
		Port:     addr.Port,
		Password: s.password,
	}
}

// SetPassword enables the authentication challenge
func (s *Server) SetPassword(password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.password = password
}

// SetDoActionError makes every DoAction answer with status "error"
func (s *Server) SetDoActionError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doActionError = msg
}

// Silence makes the server record but never answer requests of a kind
func (s *Server) Silence(kind string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.silent[kind] = true
}

// Requests returns the recorded requests of a kind, or all when kind is empty
func (s *Server) Requests(kind string) []streamerbot.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []streamerbot.Request
	for _, r := range s.requests {
		if kind == "" || r.Request == kind {
			out = append(out, r)
		}
	}
	return out
}

// Frames returns every frame received, as sent by the client
func (s *Server) Frames() []json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]json.RawMessage(nil), s.frames...)
}

// Emit sends an event frame to every connected client
func (s *Server) Emit(source, typ string, data any) {
	frame := map[string]any{
		"timestamp": "2024-01-01T00:00:00Z",
		"event":     map[string]string{"source": source, "type": typ},
		"data":      data,
	}
	for _, p := range s.peers() {
		p.send(frame)
	}
}

// DropConnections closes every socket without a close frame
func (s *Server) DropConnections() {
	for _, p := range s.peers() {
		p.ws.Close()
	}
}

func (s *Server) peers() []*peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*peer, 0, len(s.conns))
	for p := range s.conns {
		out = append(out, p)
	}
	return out
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	p := &peer{ws: ws}

	s.mu.Lock()
	s.conns[p] = true
	password := s.password
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, p)
		s.mu.Unlock()
		ws.Close()
	}()

	hello := streamerbot.Hello{
		Timestamp: "2024-01-01T00:00:00Z",
		Session:   "test-session",
		Request:   streamerbot.RequestHello,
		Info:      streamerbot.ServerInfo{InstanceID: "test", Name: "sbtest", Version: "0.2.5"},
	}
	auth := &streamerbot.Authentication{Challenge: "challenge-token", Salt: "salt-token"}
	if password != "" {
		hello.Authentication = auth
	}
	if err := p.send(hello); err != nil {
		return
	}
	authenticated := password == ""

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var req streamerbot.Request
		if err := json.Unmarshal(data, &req); err != nil {
			continue
		}

		s.mu.Lock()
		s.requests = append(s.requests, req)
		s.frames = append(s.frames, append(json.RawMessage(nil), data...))
		silent := s.silent[req.Request]
		actions := append([]streamerbot.Action(nil), s.actions...)
		doActionError := s.doActionError
		s.mu.Unlock()

		if silent {
			continue
		}

		resp := map[string]any{"id": req.ID, "status": streamerbot.StatusOK}
		switch {
		case req.Request == streamerbot.RequestAuthenticate:
			if req.Authentication != Expected(password, auth) {
				resp["status"] = streamerbot.StatusError
				resp["error"] = "Authentication failed"
				p.send(resp)
				return
			}
			authenticated = true
		case !authenticated:
			resp["status"] = streamerbot.StatusError
			resp["error"] = "Not authenticated"
		case req.Request == streamerbot.RequestGetActions:
			resp["actions"] = actions
			resp["count"] = len(actions)
		case req.Request == streamerbot.RequestDoAction:
			if doActionError != "" {
				resp["status"] = streamerbot.StatusError
				resp["error"] = doActionError
			}
		default:
			resp["status"] = streamerbot.StatusError
			resp["error"] = "Unknown request"
		}
		if err := p.send(resp); err != nil {
			return
		}
	}
}

// Expected computes the authentication value a client must send
func Expected(password string, auth *streamerbot.Authentication) string {
	secret := sha256.Sum256([]byte(password + auth.Salt))
	secretB64 := base64.StdEncoding.EncodeToString(secret[:])
	sum := sha256.Sum256([]byte(secretB64 + auth.Challenge))
	return base64.StdEncoding.EncodeToString(sum[:])
}
