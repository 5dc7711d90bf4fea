package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/tcriess/lightspeed-rooms/auth"
	"github.com/tcriess/lightspeed-rooms/filter"
	"github.com/tcriess/lightspeed-rooms/globals"
	"github.com/tcriess/lightspeed-rooms/persistence"
	"github.com/tcriess/lightspeed-rooms/types"
	"github.com/tcriess/lightspeed-rooms/ws"
)

type contextKey int

const userKey contextKey = iota

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// PostMessageRequest is the body of POST /messages. Author is ignored, the authenticated nick is used.
type PostMessageRequest struct {
	Room    string `json:"room"`
	Author  string `json:"author"`
	Message string `json:"message"`
}

// RegisterRequest is the body of POST /auth/register.
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest is the body of POST /auth/login. Email may also hold the username, Username is used if Email is
// empty.
type LoginRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type AccountResponse struct {
	Id       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// AuthResponse is returned by register and login, the token is used for /ws and /messages.
type AuthResponse struct {
	Token string          `json:"token"`
	User  AccountResponse `json:"user"`
}

// Server is the HTTP surface: the websocket endpoint, the history endpoints and, if accounts are configured,
// registration and login.
type Server struct {
	hub      *ws.Hub
	auth     *auth.Authenticator
	accounts *auth.Accounts
	upgrader websocket.Upgrader
	router   *mux.Router
}

// NewServer creates the server. accounts may be nil, the /auth routes are not available then.
func NewServer(hub *ws.Hub, authenticator *auth.Authenticator, accounts *auth.Accounts) *Server {
	s := &Server{
		hub:      hub,
		auth:     authenticator,
		accounts: accounts,
		upgrader: websocket.Upgrader{
			CheckOrigin: originChecker(hub.Cfg.ChatConfig.AllowedOrigins),
		},
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	router := mux.NewRouter()
	router.HandleFunc("/", s.healthHandler).Methods(http.MethodGet)
	if s.accounts != nil {
		router.HandleFunc("/auth/register", s.registerHandler).Methods(http.MethodPost)
		router.HandleFunc("/auth/login", s.loginHandler).Methods(http.MethodPost)
	}

	authed := router.NewRoute().Subrouter()
	authed.Use(s.authMiddleware)
	authed.HandleFunc("/ws", s.websocketHandler).Methods(http.MethodGet)
	authed.HandleFunc("/messages/{room}", s.historyHandler).Methods(http.MethodGet)
	authed.HandleFunc("/messages", s.postMessageHandler).Methods(http.MethodPost)
	s.router = router
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// originChecker allows all origins if none are configured.
func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	origins := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		origins[strings.ToLower(strings.TrimRight(origin, "/"))] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		_, ok := origins[strings.ToLower(u.Scheme+"://"+u.Host)]
		return ok
	}
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := s.auth.Authenticate(r.Context(), auth.CredentialFromRequest(r))
		if err != nil {
			globals.AppLogger.Debug("authentication failed", "path", r.URL.Path, "error", err)
			writeError(w, http.StatusUnauthorized, "authentication failed", err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, user)))
	})
}

// UserFromContext returns the user set by the auth middleware.
func UserFromContext(ctx context.Context) (types.User, bool) {
	user, ok := ctx.Value(userKey).(types.User)
	return user, ok
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("lightspeed-rooms is running\n"))
}

// Handle incoming websockets
func (s *Server) websocketHandler(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFromContext(r.Context())

	// Upgrade HTTP request to Websocket
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		globals.AppLogger.Error("websocket upgrade error", "error", err)
		return
	}

	c := ws.NewClient(s.hub, conn)
	// the request context is not canceled for hijacked connections, the client ends with the connection
	err = c.Serve(context.Background(), user)
	if err != nil {
		globals.AppLogger.Error("could not serve websocket", "user", user.Nick, "error", err)
	}
}

func (s *Server) historyHandler(w http.ResponseWriter, r *http.Request) {
	roomName := mux.Vars(r)["room"]
	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		var err error
		limit, err = strconv.Atoi(l)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit", err)
			return
		}
	}
	messages, err := s.hub.History(r.Context(), roomName, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not get message history", err)
		return
	}
	if messages == nil {
		messages = make([]*types.Message, 0)
	}
	writeJSON(w, http.StatusOK, messages)
}

func (s *Server) postMessageHandler(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFromContext(r.Context())
	req := PostMessageRequest{}
	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	msg, err := s.hub.PostMessage(r.Context(), user, req.Room, req.Message)
	if err != nil {
		status := http.StatusInternalServerError
		if isPolicyError(err) {
			status = http.StatusBadRequest
		}
		writeError(w, status, "could not store message", err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) registerHandler(w http.ResponseWriter, r *http.Request) {
	req := RegisterRequest{}
	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	account, token, err := s.accounts.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, persistence.ErrUserExists):
			writeError(w, http.StatusBadRequest, "user already exists", nil)
		case isValidationError(err):
			writeError(w, http.StatusBadRequest, err.Error(), nil)
		default:
			globals.AppLogger.Error("registration failed", "username", req.Username, "error", err)
			writeError(w, http.StatusInternalServerError, "server error during registration", err)
		}
		return
	}
	writeJSON(w, http.StatusCreated, authResponse(account, token))
}

func (s *Server) loginHandler(w http.ResponseWriter, r *http.Request) {
	req := LoginRequest{}
	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	login := req.Email
	if login == "" {
		login = req.Username
	}
	account, token, err := s.accounts.Login(r.Context(), login, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			writeError(w, http.StatusBadRequest, "invalid credentials", nil)
		case errors.Is(err, auth.ErrMissingFields):
			writeError(w, http.StatusBadRequest, "email and password are required", nil)
		default:
			globals.AppLogger.Error("login failed", "login", login, "error", err)
			writeError(w, http.StatusInternalServerError, "server error during login", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, authResponse(account, token))
}

func authResponse(account *types.Account, token string) AuthResponse {
	return AuthResponse{
		Token: token,
		User: AccountResponse{
			Id:       account.Id,
			Username: account.Username,
			Email:    account.Email,
		},
	}
}

func isValidationError(err error) bool {
	for _, target := range []error{auth.ErrMissingFields, auth.ErrInvalidEmail, auth.ErrInvalidUsername, auth.ErrInvalidPassword} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func isPolicyError(err error) bool {
	for _, target := range []error{filter.ErrEmptyRoom, filter.ErrEmptyMessage, filter.ErrMessageTooLong, filter.ErrRejected} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		globals.AppLogger.Error("could not write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Message: message}
	if err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, status, resp)
}
