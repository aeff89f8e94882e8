// Package transport serves client WebSocket connections and the HTTP API.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/matheus3301/pigeon/internal/auth"
	"github.com/matheus3301/pigeon/internal/chat"
	"github.com/matheus3301/pigeon/internal/stats"
	"github.com/matheus3301/pigeon/internal/store"
	"go.uber.org/ratelimit"
	"go.uber.org/zap"
)

// Store is the read side of the durable store used by the HTTP API.
type Store interface {
	FindUserByUsername(ctx context.Context, username string) (*store.User, error)
	FindMessagesBetween(ctx context.Context, a, b string, p store.Page) ([]store.Message, error)
	ListConversations(ctx context.Context, userID string) ([]store.Conversation, error)
	ListFriends(ctx context.Context, userID string) ([]store.User, error)
}

// Options configures the server.
type Options struct {
	Listen           string
	HandshakeTimeout time.Duration
	EventsPerSecond  int
	SendQueueSize    int
	AllowedOrigins   []string
}

// Server owns the HTTP listener and every live client connection.
type Server struct {
	opts     Options
	hub      *chat.Hub
	auth     *auth.Authenticator
	store    Store
	stats    *stats.Collector
	logger   *zap.Logger
	upgrader websocket.Upgrader

	httpServer *http.Server
	listener   net.Listener

	// live holds every upgraded connection, including ones a newer
	// connection of the same user has replaced in the presence registry.
	mu      sync.Mutex
	live    map[*wsConn]struct{}
	closing bool
	conns   sync.WaitGroup
}

// NewServer creates a server. Nothing listens until Start.
func NewServer(opts Options, hub *chat.Hub, a *auth.Authenticator, s Store, st *stats.Collector, logger *zap.Logger) *Server {
	if opts.SendQueueSize <= 0 {
		opts.SendQueueSize = 256
	}
	srv := &Server{
		opts:   opts,
		hub:    hub,
		auth:   a,
		store:  s,
		stats:  st,
		logger: logger,
		live:   make(map[*wsConn]struct{}),
	}
	srv.upgrader = websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: opts.HandshakeTimeout,
		CheckOrigin:      srv.checkOrigin,
	}
	srv.httpServer = &http.Server{
		Handler:           srv.Router(),
		ReadHeaderTimeout: opts.HandshakeTimeout,
	}
	return srv
}

// Router returns the HTTP routes.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	api.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost)

	authed := api.NewRoute().Subrouter()
	authed.Use(s.requireAuth)
	authed.HandleFunc("/messages", s.handleSendMessage).Methods(http.MethodPost)
	authed.HandleFunc("/messages/conversations", s.handleConversations).Methods(http.MethodGet)
	authed.HandleFunc("/messages/{userId}", s.handleHistory).Methods(http.MethodGet)
	authed.HandleFunc("/messages/{messageId}/status", s.handleMessageStatus).Methods(http.MethodPut)
	authed.HandleFunc("/friends", s.handleFriends).Methods(http.MethodGet)
	authed.HandleFunc("/users/online", s.handleOnline).Methods(http.MethodGet)
	authed.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	return r
}

// Start binds the listen address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.opts.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.opts.Listen, err)
	}
	s.listener = ln
	s.logger.Info("http server starting", zap.String("addr", ln.Addr().String()))

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server failed", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop refuses new requests, closes every client connection and waits for
// their disconnect handling to finish or ctx to end.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("http server stopping")
	err := s.httpServer.Shutdown(ctx)

	closed := s.closeAll()
	done := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("client connections drained", zap.Int("closed", closed))
	case <-ctx.Done():
		s.logger.Warn("client connections still draining", zap.Error(ctx.Err()))
	}
	return err
}

// track records c as live. It returns false once the server is closing.
func (s *Server) track(c *wsConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.live[c] = struct{}{}
	s.conns.Add(1)
	return true
}

func (s *Server) untrack(c *wsConn) {
	s.mu.Lock()
	delete(s.live, c)
	s.mu.Unlock()
	s.conns.Done()
}

// closeAll closes every live connection and refuses new ones. Their read
// loops then run the normal disconnect path.
func (s *Server) closeAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closing = true
	for c := range s.live {
		_ = c.Close()
	}
	return len(s.live)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return slices.Contains(s.opts.AllowedOrigins, "*") || slices.Contains(s.opts.AllowedOrigins, origin)
}

// bearerToken reads the credential from the Authorization header or, for
// browsers that cannot set headers on a WebSocket, the token query parameter.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// authenticate validates the request credential within the handshake window.
func (s *Server) authenticate(r *http.Request) (*store.User, error) {
	ctx := r.Context()
	if s.opts.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.HandshakeTimeout)
		defer cancel()
	}
	return s.auth.Authenticate(ctx, bearerToken(r))
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	user, err := s.authenticate(r)
	if err != nil {
		s.logger.Info("connection refused", zap.String("remote", r.RemoteAddr), zap.Error(err))
		writeAuthError(w, err)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.logger.Debug("upgrade failed", zap.String("user_id", user.ID), zap.Error(err))
		return
	}

	limiter := ratelimit.NewUnlimited()
	if s.opts.EventsPerSecond > 0 {
		limiter = ratelimit.New(s.opts.EventsPerSecond, ratelimit.WithoutSlack)
	}
	c := newConn(ws, user, s.opts.SendQueueSize, limiter, s.logger)
	if !s.track(c) {
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
		_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGraceWait))
		_ = ws.Close()
		return
	}
	defer s.untrack(c)

	// Connection lifetime work outlives the upgrade request.
	ctx := context.WithoutCancel(r.Context())
	gen := s.hub.Connect(ctx, c)
	go c.writePump()
	c.readLoop(ctx, func(ctx context.Context, frame []byte) {
		s.hub.HandleFrame(ctx, c, frame)
	})
	s.hub.Disconnect(ctx, c, gen)
}
