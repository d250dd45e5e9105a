package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	gorilla "github.com/gorilla/websocket"

	"schoolchat/internal/config"
	"schoolchat/internal/db"
	"schoolchat/internal/logger"
	"schoolchat/internal/models"
	"schoolchat/internal/websocket"
)

type contextKey string

const (
	userContextKey contextKey = "user"
	authCookieName            = "auth_token"
)

type Handlers struct {
	db       *db.DB
	hub      *websocket.Hub
	cfg      *config.Config
	logger   *logger.Logger
	validate *validator.Validate
	trans    ut.Translator
	upgrader gorilla.Upgrader
}

func NewHandlers(database *db.DB, hub *websocket.Hub, cfg *config.Config, log *logger.Logger) *Handlers {
	if log == nil {
		log = logger.Discard()
	}
	validate, trans := newValidator()
	h := &Handlers{
		db:       database,
		hub:      hub,
		cfg:      cfg,
		logger:   log,
		validate: validate,
		trans:    trans,
	}
	h.upgrader = gorilla.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			// non-browser clients send no Origin
			return origin == "" || origin == cfg.AllowedOrigin
		},
	}
	return h
}

func (h *Handlers) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(h.WithCORS)

	// websocket upgrades need the raw ResponseWriter, so no request logging
	r.Get("/ws", h.HandleWebSocket)

	r.Group(func(r chi.Router) {
		r.Use(h.logRequests)

		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		r.Route("/api", func(r chi.Router) {
			r.Post("/auth/register", h.HandleRegister)
			r.Post("/auth/login", h.HandleLogin)

			r.Group(func(r chi.Router) {
				r.Use(h.WithAuth)

				r.Get("/auth/me", h.HandleMe)
				r.Post("/auth/logout", h.HandleLogout)

				r.Get("/connections/search", h.HandleSearchUsers)
				r.Post("/connections/send", h.HandleSendRequest)
				r.Post("/connections/respond", h.HandleRespondRequest)
				r.Get("/connections/list", h.HandleConnections)
				r.Get("/connections/requests", h.HandlePendingRequests)

				r.Get("/messages/unread", h.HandleUnreadCounts)
				r.Get("/messages/{peerID}", h.HandleMessages)
				r.Put("/messages/{peerID}/read", h.HandleMarkMessagesRead)
				r.Post("/messages", h.HandleSendMessage)

				r.Get("/notifications", h.HandleNotifications)
				r.Put("/notifications/read-all", h.HandleMarkAllNotificationsRead)
				r.Put("/notifications/{id}/read", h.HandleMarkNotificationRead)

				r.With(h.WithAdmin).Get("/admin/users", h.HandleListUsers)
			})
		})
	})

	return r
}

// Middleware

func (h *Handlers) WithAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			if cookie, err := r.Cookie(authCookieName); err == nil {
				token = cookie.Value
			}
		}
		if token == "" {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		user, err := h.userFromToken(r.Context(), token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// WithAdmin must run after WithAuth.
func (h *Handlers) WithAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user := currentUser(r); user == nil || !user.IsAdmin() {
			writeError(w, http.StatusForbidden, "Admins only")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handlers) WithCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Upgrade") == "websocket" {
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("Access-Control-Allow-Origin", h.cfg.AllowedOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Credentials", "true")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (h *Handlers) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := newLoggingResponseWriter(w)
		next.ServeHTTP(lrw, r)
		h.logger.Printf("Completed %s %s %d %s in %v",
			r.Method, r.URL.Path, lrw.statusCode,
			http.StatusText(lrw.statusCode),
			time.Since(start))
	})
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func newLoggingResponseWriter(w http.ResponseWriter) *loggingResponseWriter {
	return &loggingResponseWriter{w, http.StatusOK}
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func currentUser(r *http.Request) *models.User {
	user, _ := r.Context().Value(userContextKey).(*models.User)
	return user
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// HandleWebSocket upgrades an authenticated request. Browsers cannot set
// headers on websocket requests, so the token may come as ?token=.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = bearerToken(r.Header.Get("Authorization"))
	}
	if token == "" {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	user, err := h.userFromToken(r.Context(), token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed for %s: %v", user.ID, err)
		return
	}

	client := websocket.NewClient(h.hub, conn, user.ID, user.Name)
	if !h.hub.Join(client) {
		conn.Close()
		return
	}
	go client.WritePump()
	go client.ReadPump()
}
