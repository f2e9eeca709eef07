// Package servicetest provides an in-process techread service for tests.
// It speaks the token, catalog, stream and payload endpoints and replays
// a scripted reply for every submission.
package servicetest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/spherical/techread/internal/config"
	"github.com/spherical/techread/internal/domain"
	"github.com/spherical/techread/internal/transport"
)

const (
	ClientID = "test-client"
	Username = "tester@example.com"
	Password = "correct-horse"
)

// CloseAbruptly makes the server drop the connection without a close frame.
const CloseAbruptly = -1

// Reply is what the service streams back for one submission.
type Reply struct {
	Messages []*domain.ResponseMessage

	// CloseCode ends the stream; zero means a normal closure.
	CloseCode int

	// Hold keeps the connection open after the messages until the client
	// closes it.
	Hold bool
}

// Script decides the reply for a submission.
type Script func(req *domain.Request) Reply

// Server is a scripted techread service.
type Server struct {
	*httptest.Server

	mu            sync.Mutex
	script        Script
	catalog       []byte
	catalogFails  int
	catalogHits   int
	tokenRequests int
	requests      []*domain.Request
	payloads      map[string][]byte
	clientClosed  chan struct{}
}

// New starts a service that answers every submission with an empty stream.
func New() *Server {
	s := &Server{
		script:       func(*domain.Request) Reply { return Reply{} },
		catalog:      []byte(`[]`),
		payloads:     map[string][]byte{},
		clientClosed: make(chan struct{}, 16),
	}

	r := chi.NewRouter()
	r.Post("/oauth2/token", s.handleToken)
	r.Get("/v1/asks", s.handleCatalog)
	r.Get("/v1/stream", s.handleStream)
	r.Get("/payloads/{id}", s.handlePayload)

	s.Server = httptest.NewServer(r)
	return s
}

// Config returns a client configuration pointing at this server with valid
// credentials.
func (s *Server) Config() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Service.AuthURL = s.URL + "/oauth2/token"
	cfg.Service.HTTPSURL = s.URL
	cfg.Service.WSSURL = s.WebsocketURL()
	cfg.Service.DialTimeout = 5 * time.Second
	cfg.Service.MaxRetries = 2
	cfg.Credentials = config.CredentialsConfig{
		ClientID: ClientID,
		Username: Username,
		Password: Password,
	}
	cfg.Observability.LogLevel = "disabled"
	return cfg
}

// WebsocketURL is the stream endpoint.
func (s *Server) WebsocketURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/v1/stream"
}

// SetScript replaces the reply script.
func (s *Server) SetScript(script Script) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script = script
}

// Respond answers every submission with the given messages and a normal close.
func (s *Server) Respond(msgs ...*domain.ResponseMessage) {
	s.SetScript(func(*domain.Request) Reply { return Reply{Messages: msgs} })
}

// SetCatalog sets the raw JSON body of the catalog endpoint.
func (s *Server) SetCatalog(raw string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalog = []byte(raw)
}

// FailCatalog makes the next n catalog requests return 503.
func (s *Server) FailCatalog(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalogFails = n
}

// AddPayload serves data under /payloads/{id} and returns its URL.
func (s *Server) AddPayload(id string, data []byte) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads[id] = data
	return s.URL + "/payloads/" + id
}

// Requests returns the submissions received so far.
func (s *Server) Requests() []*domain.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*domain.Request(nil), s.requests...)
}

// CatalogHits counts successful catalog responses.
func (s *Server) CatalogHits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.catalogHits
}

// TokenRequests counts token endpoint calls.
func (s *Server) TokenRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokenRequests
}

// ClientClosed is signalled each time a held stream sees the client go away.
func (s *Server) ClientClosed() <-chan struct{} {
	return s.clientClosed
}

func tokenFor(username string) string {
	return "token-" + username
}

func (s *Server) authorized(r *http.Request) bool {
	return r.Header.Get("Authorization") == "Bearer "+tokenFor(Username)
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.tokenRequests++
	s.mu.Unlock()

	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}

	if r.PostForm.Get("grant_type") != "password" || r.PostForm.Get("client_id") != ClientID {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_client"})
		return
	}
	if r.PostForm.Get("username") != Username || r.PostForm.Get("password") != Password {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": tokenFor(Username),
		"token_type":   "bearer",
		"expires_in":   3600,
		"username":     Username,
	})
}

func (s *Server) handleCatalog(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	if s.catalogFails > 0 {
		s.catalogFails--
		s.mu.Unlock()
		http.Error(w, "catalog warming up", http.StatusServiceUnavailable)
		return
	}
	s.catalogHits++
	body := s.catalog
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

func (s *Server) handlePayload(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	s.mu.Lock()
	data, ok := s.payloads[chi.URLParam(r, "id")]
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(data)
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	_, data, err := conn.ReadMessage()
	if err != nil {
		return
	}

	req, err := transport.DecodeRequest(data)
	if err != nil {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseProtocolError, err.Error()))
		return
	}

	s.mu.Lock()
	s.requests = append(s.requests, req)
	script := s.script
	s.mu.Unlock()

	reply := script(req)

	for _, msg := range reply.Messages {
		frame, err := transport.EncodeMessage(msg)
		if err != nil {
			return
		}
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			return
		}
	}

	if reply.Hold {
		// Wait for the client to close its side.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.clientClosed <- struct{}{}
				return
			}
		}
	}

	switch reply.CloseCode {
	case CloseAbruptly:
		return
	case 0:
		reply.CloseCode = websocket.CloseNormalClosure
	}

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(reply.CloseCode, ""),
		time.Now().Add(time.Second))
	// Drain until the client answers the close handshake.
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
