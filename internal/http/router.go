package httpx

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ShejanMahamud/atg-task-2-server/internal/domain"
	"github.com/ShejanMahamud/atg-task-2-server/internal/service/auth"
	"github.com/ShejanMahamud/atg-task-2-server/internal/service/post"
	"github.com/ShejanMahamud/atg-task-2-server/internal/ws"
	"github.com/ShejanMahamud/atg-task-2-server/pkg/config"
)

const (
	routeRegister      = "register"
	routeLogin         = "login"
	routePostWrite     = "post_write"
	routeAccountWrite  = "account_write"
	healthCheckTimeout = 2 * time.Second
	sseHeartbeat       = 25 * time.Second
	maxBodyBytes       = 1 << 20
)

// Router wires HTTP endpoints to services.
type Router struct {
	mux        *mux.Router
	logger     *slog.Logger
	auth       auth.Service
	posts      post.Service
	hub        *ws.Hub
	upgrader   websocket.Upgrader
	limiter    RateLimiter
	rateWindow time.Duration
	authLimit  int
	writeLimit int
	origins    map[string]struct{}
	anyOrigin  bool
	policy     AccessPolicy
	dbHealth   func(context.Context) error
	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
	likeToggles        *prometheus.CounterVec
}

// AccessPolicy selects which mutations require a bearer token.
type AccessPolicy struct {
	// RequireAuthAllMutations gates the comment and delete routes.
	RequireAuthAllMutations bool
	// EnforcePostOwnership also gates post creation so authors can be stamped.
	EnforcePostOwnership bool
}

// Option customises a Router.
type Option func(*Router)

// WithRegistry registers metrics on reg and serves them from reg instead of the global registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(r *Router) {
		r.registerer = reg
		r.gatherer = reg
	}
}

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, authSvc auth.Service, postSvc post.Service, hub *ws.Hub, limiter RateLimiter, cfg config.APIConfig, dbHealth func(context.Context) error, opts ...Option) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		mux:        mux.NewRouter(),
		logger:     logger,
		auth:       authSvc,
		posts:      postSvc,
		hub:        hub,
		limiter:    limiter,
		rateWindow: cfg.RateLimitWindow,
		authLimit:  cfg.RateLimitAuth,
		writeLimit: cfg.RateLimitWrite,
		origins:    make(map[string]struct{}),
		policy: AccessPolicy{
			RequireAuthAllMutations: cfg.RequireAuthAllMutations,
			EnforcePostOwnership:    cfg.EnforcePostOwnership,
		},
		dbHealth:   dbHealth,
		registerer: prometheus.DefaultRegisterer,
		gatherer:   prometheus.DefaultGatherer,
	}
	for _, origin := range cfg.CORSOrigins {
		if origin == "*" {
			r.anyOrigin = true
			continue
		}
		r.origins[strings.TrimRight(origin, "/")] = struct{}{}
	}
	r.upgrader = websocket.Upgrader{CheckOrigin: r.checkOrigin}
	for _, opt := range opts {
		opt(r)
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP applies panic recovery and CORS around the route table.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("request panic", "method", req.Method, "path", req.URL.Path, "panic", p, "stack", string(debug.Stack()))
			writeMessage(w, http.StatusInternalServerError, "Internal server error")
		}
	}()
	if r.applyCORS(w, req) {
		return
	}
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.Use(r.audit)
	r.mux.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		writeMessage(w, http.StatusNotFound, "Not Found")
	})
	r.mux.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		writeMessage(w, http.StatusMethodNotAllowed, "Method Not Allowed")
	})

	mutationsGated := r.policy.RequireAuthAllMutations || r.policy.EnforcePostOwnership

	r.mux.HandleFunc("/", r.handleRoot).Methods(http.MethodGet)
	r.mux.HandleFunc("/healthz", r.handleHealthz).Methods(http.MethodGet)
	r.mux.Handle("/metrics", promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	r.mux.HandleFunc("/register", r.withRateLimit(routeRegister, r.authLimit, rateLimitKeyIP, r.handleRegister)).Methods(http.MethodPost)
	r.mux.HandleFunc("/login", r.withRateLimit(routeLogin, r.authLimit, rateLimitKeyIP, r.handleLogin)).Methods(http.MethodPost)

	r.mux.HandleFunc("/posts", r.handleListPosts).Methods(http.MethodGet)
	r.mux.HandleFunc("/posts", r.requireAuthIf(r.policy.EnforcePostOwnership,
		r.withRateLimit(routePostWrite, r.writeLimit, r.rateLimitKeyUser, r.handleCreatePost))).Methods(http.MethodPost)

	r.mux.HandleFunc("/forget_password/{email}", r.requireAuth(
		r.withRateLimit(routeAccountWrite, r.writeLimit, r.rateLimitKeyUser, r.handleResetPassword))).Methods(http.MethodPatch)
	r.mux.HandleFunc("/like/{id}", r.requireAuth(
		r.withRateLimit(routePostWrite, r.writeLimit, r.rateLimitKeyUser, r.handleToggleLike))).Methods(http.MethodPatch)
	r.mux.HandleFunc("/comment/{id}", r.requireAuthIf(mutationsGated,
		r.withRateLimit(routePostWrite, r.writeLimit, r.rateLimitKeyUser, r.handleAddComment))).Methods(http.MethodPatch)
	r.mux.HandleFunc("/post/{id}", r.requireAuth(
		r.withRateLimit(routePostWrite, r.writeLimit, r.rateLimitKeyUser, r.handleUpdatePost))).Methods(http.MethodPatch)
	r.mux.HandleFunc("/post/{id}", r.requireAuthIf(mutationsGated,
		r.withRateLimit(routePostWrite, r.writeLimit, r.rateLimitKeyUser, r.handleDeletePost))).Methods(http.MethodDelete)

	r.mux.HandleFunc("/ws/posts", r.handleFeedWS).Methods(http.MethodGet)
	r.mux.HandleFunc("/events/posts", r.handleFeedSSE).Methods(http.MethodGet)
}

func (r *Router) handleRoot(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"server_status": "Server Running"})
}

func (r *Router) handleListPosts(w http.ResponseWriter, req *http.Request) {
	docs, err := r.posts.List(req.Context())
	if err != nil {
		r.logger.Error("list posts failed", "error", err)
		writeEnvelope(w, http.StatusInternalServerError, false, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "posts": docs})
}

func (r *Router) handleRegister(w http.ResponseWriter, req *http.Request) {
	var payload auth.RegisterInput
	if err := decodeJSON(w, req, &payload); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if _, err := r.auth.Register(req.Context(), payload); err != nil {
		if errors.Is(err, auth.ErrUserExists) {
			writeMessage(w, http.StatusBadRequest, "User already exists")
			return
		}
		r.logger.Error("registration failed", "error", err)
		writeMessage(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeEnvelope(w, http.StatusCreated, true, "User registered successfully")
}

// handleLogin answers 200 for every outcome so callers cannot tell which credential was wrong.
func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	var payload struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeJSON(w, req, &payload); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	token, _, err := r.auth.Login(req.Context(), payload.Username, payload.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeEnvelope(w, http.StatusOK, false, "Invalid credentials")
			return
		}
		r.logger.Error("login failed", "error", err)
		writeMessage(w, http.StatusOK, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":   token,
		"success": true,
		"message": "Successfully Logged In",
	})
}

// handleCreatePost stores the body verbatim. Malformed payloads and store
// errors answer 400 with a plain-text body.
func (r *Router) handleCreatePost(w http.ResponseWriter, req *http.Request) {
	doc, err := domain.DecodeDocument(http.MaxBytesReader(w, req.Body, maxBodyBytes))
	if err != nil {
		writeText(w, http.StatusBadRequest, "Something Went Wrong!")
		return
	}
	id, err := r.posts.Create(req.Context(), doc, optionalProfile(req.Context()))
	if err != nil {
		r.logger.Warn("create post failed", "error", err)
		writeText(w, http.StatusBadRequest, "Something Went Wrong!")
		return
	}
	if id == "" {
		writeEnvelope(w, http.StatusOK, false, "Post Submitted Failed")
		return
	}
	writeEnvelope(w, http.StatusOK, true, "Post Submitted Successfully")
}

func (r *Router) handleResetPassword(w http.ResponseWriter, req *http.Request) {
	email := mux.Vars(req)["email"]
	var payload struct {
		Password string `json:"password"`
	}
	if err := decodeJSON(w, req, &payload); err != nil {
		writeEnvelope(w, http.StatusInternalServerError, false, "Internal server error")
		return
	}
	modified, err := r.auth.ResetPassword(req.Context(), email, payload.Password)
	if err != nil {
		writeEnvelope(w, http.StatusInternalServerError, false, "Internal server error")
		return
	}
	if !modified {
		writeEnvelope(w, http.StatusOK, false, "Password Reset Failed!")
		return
	}
	writeEnvelope(w, http.StatusOK, true, "Password Reset Successfully!")
}

func (r *Router) handleToggleLike(w http.ResponseWriter, req *http.Request) {
	profile, ok := profileFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing for like toggle", "path", req.URL.Path)
		writeEnvelope(w, http.StatusInternalServerError, false, "Internal Server Error")
		return
	}
	res, err := r.posts.ToggleLike(req.Context(), mux.Vars(req)["id"], profile.ID)
	if err != nil {
		if errors.Is(err, post.ErrPostNotFound) {
			writeEnvelope(w, http.StatusNotFound, false, "Post not found")
			return
		}
		r.logger.Error("like toggle failed", "error", err)
		writeEnvelope(w, http.StatusInternalServerError, false, "Internal Server Error")
		return
	}
	if !res.Modified {
		writeEnvelope(w, http.StatusBadRequest, false, "Failed to update post")
		return
	}
	r.recordLikeToggle(res.Liked)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Post updated successfully",
		"liked":   res.Liked,
		"likes":   res.Likes,
	})
}

func (r *Router) handleAddComment(w http.ResponseWriter, req *http.Request) {
	var payload struct {
		CommentInfo json.RawMessage `json:"commentInfo"`
	}
	if err := decodeJSON(w, req, &payload); err != nil {
		writeEnvelope(w, http.StatusOK, false, "Comment Failed!")
		return
	}
	info, err := domain.DecodeObject(payload.CommentInfo)
	if err != nil {
		writeEnvelope(w, http.StatusOK, false, "Comment Failed!")
		return
	}
	added, err := r.posts.AddComment(req.Context(), mux.Vars(req)["id"], info)
	if err != nil {
		r.logger.Error("add comment failed", "error", err)
		writeEnvelope(w, http.StatusInternalServerError, false, "Internal server error")
		return
	}
	if !added {
		writeEnvelope(w, http.StatusOK, false, "Comment Failed!")
		return
	}
	writeEnvelope(w, http.StatusOK, true, "Comment Added!")
}

// handleUpdatePost replaces content. Without ownership enforcement any authenticated user may edit any post.
func (r *Router) handleUpdatePost(w http.ResponseWriter, req *http.Request) {
	var payload struct {
		NewContent json.RawMessage `json:"newContent"`
	}
	if err := decodeJSON(w, req, &payload); err != nil {
		writeEnvelope(w, http.StatusOK, false, "Post Updated Failed!")
		return
	}
	content, err := domain.DecodeValue(payload.NewContent)
	if err != nil {
		writeEnvelope(w, http.StatusOK, false, "Post Updated Failed!")
		return
	}
	updated, err := r.posts.UpdateContent(req.Context(), mux.Vars(req)["id"], optionalProfile(req.Context()), content)
	if err != nil {
		r.logger.Error("update post failed", "error", err)
		writeEnvelope(w, http.StatusInternalServerError, false, "Internal server error")
		return
	}
	if !updated {
		writeEnvelope(w, http.StatusOK, false, "Post Updated Failed!")
		return
	}
	writeEnvelope(w, http.StatusOK, true, "Post Updated Successfully!")
}

func (r *Router) handleDeletePost(w http.ResponseWriter, req *http.Request) {
	deleted, err := r.posts.Delete(req.Context(), mux.Vars(req)["id"], optionalProfile(req.Context()))
	if err != nil {
		r.logger.Error("delete post failed", "error", err)
		writeEnvelope(w, http.StatusInternalServerError, false, "Internal server error")
		return
	}
	if !deleted {
		writeEnvelope(w, http.StatusOK, false, "Something Wrong!")
		return
	}
	writeEnvelope(w, http.StatusOK, true, "Successfully Deleted!")
}

func feedTopic(req *http.Request) string {
	if postID := strings.TrimSpace(req.URL.Query().Get("post_id")); postID != "" {
		return ws.PostTopic(postID)
	}
	return ws.FeedTopic
}

func (r *Router) handleFeedWS(w http.ResponseWriter, req *http.Request) {
	if r.hub == nil {
		writeMessage(w, http.StatusServiceUnavailable, "feed unavailable")
		return
	}
	topic := feedTopic(req)
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.hub.Register(topic, client)
	go func() {
		defer func() {
			r.hub.Unregister(topic, client)
			client.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (r *Router) handleFeedSSE(w http.ResponseWriter, req *http.Request) {
	if r.hub == nil {
		writeMessage(w, http.StatusServiceUnavailable, "feed unavailable")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeMessage(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	topic := feedTopic(req)
	client := ws.NewSSEClient(w, flusher, r.logger)
	r.hub.Register(topic, client)
	defer r.hub.Unregister(topic, client)

	ticker := time.NewTicker(sseHeartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-req.Context().Done():
			client.Close()
			return
		case <-client.Done():
			return
		case <-ticker.C:
			if err := client.Heartbeat(); err != nil {
				return
			}
		}
	}
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func decodeJSON(w http.ResponseWriter, req *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, req.Body, maxBodyBytes)).Decode(v)
}

// applyCORS sets CORS headers for allowed origins and answers preflight requests.
// It reports whether the request was fully handled.
func (r *Router) applyCORS(w http.ResponseWriter, req *http.Request) bool {
	origin := req.Header.Get("Origin")
	if origin == "" {
		return false
	}
	if !r.originAllowed(origin) {
		if req.Method == http.MethodOptions {
			w.WriteHeader(http.StatusForbidden)
			return true
		}
		return false
	}
	headers := w.Header()
	headers.Set("Access-Control-Allow-Origin", origin)
	headers.Add("Vary", "Origin")
	if req.Method == http.MethodOptions && req.Header.Get("Access-Control-Request-Method") != "" {
		headers.Set("Access-Control-Allow-Methods", "GET,HEAD,PUT,PATCH,POST,DELETE")
		headers.Set("Access-Control-Allow-Headers", "Authorization,Content-Type,X-Request-ID")
		w.WriteHeader(http.StatusNoContent)
		return true
	}
	return false
}

func (r *Router) originAllowed(origin string) bool {
	if r.anyOrigin {
		return true
	}
	_, ok := r.origins[strings.TrimRight(origin, "/")]
	return ok
}

func (r *Router) checkOrigin(req *http.Request) bool {
	origin := req.Header.Get("Origin")
	return origin == "" || r.originAllowed(origin)
}

// audit logs one line per request and records request metrics under the matched route template.
func (r *Router) audit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		reqID := strings.TrimSpace(req.Header.Get("X-Request-ID"))
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", reqID)

		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next.ServeHTTP(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		route := req.URL.Path
		if current := mux.CurrentRoute(req); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		duration := time.Since(start)
		r.recordRequestMetrics(req.Method, route, status, duration)

		actor := "anonymous"
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"route", route,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
			"request_id", reqID,
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if profile, ok := profileFromContext(ctx); ok {
			actor = "user"
			fields = append(fields, "user_id", profile.ID)
		}
		fields = append(fields, "actor", actor)

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	if sr.status == 0 {
		sr.status = code
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		if ip := strings.TrimSpace(strings.Split(forwarded, ",")[0]); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}
