package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/matheus3301/pigeon/internal/auth"
	"github.com/matheus3301/pigeon/internal/chat"
	"github.com/matheus3301/pigeon/internal/protocol"
	"github.com/matheus3301/pigeon/internal/store"
	"go.uber.org/zap"
)

type ctxKey struct{}

func userFrom(ctx context.Context) *store.User {
	u, _ := ctx.Value(ctxKey{}).(*store.User)
	return u
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeAuthError maps an authentication failure to its HTTP response.
func writeAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthenticated", Message: "Authentication required"})
	case errors.Is(err, auth.ErrCredentialExpired):
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "credential_expired", Message: "Token expired"})
	case errors.Is(err, auth.ErrInvalidCredential):
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid_credential", Message: "Invalid token"})
	case errors.Is(err, auth.ErrIdentityNotFound):
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "identity_not_found", Message: "User not found"})
	case errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusRequestTimeout, errorResponse{Error: "handshake_timeout"})
	default:
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal"})
	}
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := s.authenticate(r)
		if err != nil {
			writeAuthError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, user)))
	})
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "OK", Timestamp: time.Now()})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string      `json:"token"`
	User  *store.User `json:"user"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_request", Message: "Malformed body"})
		return
	}
	if req.Username == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_request", Message: "Username and password are required"})
		return
	}

	u, err := s.store.FindUserByUsername(r.Context(), req.Username)
	if err != nil {
		s.logger.Error("login lookup failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal"})
		return
	}
	if u == nil || !store.CheckPassword(u, req.Password) {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid_credentials", Message: "Invalid username or password"})
		return
	}

	token, err := s.auth.Issue(u.ID)
	if err != nil {
		s.logger.Error("issue token failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal"})
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: token, User: u})
}

// writeChatError maps a messaging failure to its HTTP response. Store
// details stay in the log.
func writeChatError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chat.ErrInvalidRequest):
		msg := strings.TrimPrefix(err.Error(), chat.ErrInvalidRequest.Error()+": ")
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_request", Message: msg})
	case errors.Is(err, chat.ErrNotAuthorized):
		writeJSON(w, http.StatusForbidden, errorResponse{Error: "not_authorized", Message: "You can only message friends"})
	case errors.Is(err, chat.ErrRecipientNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "recipient_not_found", Message: "Recipient not found"})
	case errors.Is(err, chat.ErrMessageNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "message_not_found", Message: "Message not found"})
	default:
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal"})
	}
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	me := userFrom(r.Context())
	var req protocol.SendMessageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16<<10)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_request", Message: "Malformed body"})
		return
	}
	msg, err := s.hub.SendAs(r.Context(), me, req)
	if err != nil {
		writeChatError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

type statusRequest struct {
	Status store.MessageStatus `json:"status"`
}

type statusResponse struct {
	MessageID string              `json:"messageId"`
	Status    store.MessageStatus `json:"status"`
}

// handleMessageStatus moves a message to delivered or read for its
// recipient. A message the caller did not receive answers 404 like a
// missing one.
func (s *Server) handleMessageStatus(w http.ResponseWriter, r *http.Request) {
	me := userFrom(r.Context())
	var req statusRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1024)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_request", Message: "Malformed body"})
		return
	}
	msg, err := s.hub.Acknowledge(r.Context(), me.ID, mux.Vars(r)["messageId"], req.Status)
	if err != nil {
		writeChatError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{MessageID: msg.ID, Status: msg.Status})
}

func (s *Server) handleFriends(w http.ResponseWriter, r *http.Request) {
	me := userFrom(r.Context())
	friends, err := s.store.ListFriends(r.Context(), me.ID)
	if err != nil {
		s.logger.Error("friends query failed", zap.String("user_id", me.ID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal"})
		return
	}
	if friends == nil {
		friends = []store.User{}
	}
	writeJSON(w, http.StatusOK, friends)
}

type historyResponse struct {
	Messages []store.Message `json:"messages"`
	Limit    int             `json:"limit"`
	Offset   int             `json:"offset"`
}

// handleHistory returns the messages between the caller and userId. Reading
// history never changes message status.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	me := userFrom(r.Context())
	peer := mux.Vars(r)["userId"]

	page, err := parsePage(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}

	msgs, err := s.store.FindMessagesBetween(r.Context(), me.ID, peer, page)
	if err != nil {
		s.logger.Error("history query failed", zap.String("user_id", me.ID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal"})
		return
	}
	if msgs == nil {
		msgs = []store.Message{}
	}
	writeJSON(w, http.StatusOK, historyResponse{Messages: msgs, Limit: page.Limit, Offset: page.Offset})
}

func parsePage(r *http.Request) (store.Page, error) {
	q := r.URL.Query()
	page := store.Page{Limit: 50, Order: store.NewestFirst}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 200 {
			return page, errors.New("limit must be between 1 and 200")
		}
		page.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return page, errors.New("offset must be a non-negative integer")
		}
		page.Offset = n
	}
	switch o := store.Order(q.Get("order")); o {
	case "":
	case store.OldestFirst, store.NewestFirst:
		page.Order = o
	default:
		return page, errors.New("order must be asc or desc")
	}
	return page, nil
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	me := userFrom(r.Context())
	convs, err := s.store.ListConversations(r.Context(), me.ID)
	if err != nil {
		s.logger.Error("conversations query failed", zap.String("user_id", me.ID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal"})
		return
	}
	if convs == nil {
		convs = []store.Conversation{}
	}
	writeJSON(w, http.StatusOK, convs)
}

func (s *Server) handleOnline(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.hub.Online())
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.stats.Snapshot())
}
