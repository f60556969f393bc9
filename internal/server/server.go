package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/cors"

	"github.com/GriffinCanCode/emotalk/backend/platform/internal/lang"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/orchestrator"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/router"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/store"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/syncx"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/trace"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/window"
)

// Options configures a Server.
type Options struct {
	Manager           *orchestrator.Manager
	Router            *router.Router
	Sink              store.Sink
	Languages         *syncx.RWGuard[*lang.Table]
	CollectDuration   time.Duration // REST window length
	AllowedOrigins    []string
	ReadLimit         int64
	RateLimitMessages int
	RateLimitWindow   time.Duration
}

// Server handles HTTP and WebSocket connections.
type Server struct {
	opts Options
}

// New creates a new server.
func New(opts Options) *Server {
	if opts.CollectDuration <= 0 {
		opts.CollectDuration = router.DefaultCollectDuration
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = DefaultReadLimit
	}
	if opts.Sink == nil {
		opts.Sink = store.Nop{}
	}
	return &Server{opts: opts}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// WebSocket endpoint
	mux.HandleFunc("/ws", s.handleWebSocket)

	// REST API
	mux.HandleFunc("POST /api/emotion/start", s.handleEmotionStart)
	mux.HandleFunc("GET /api/emotion/result", s.handleEmotionResult)
	mux.HandleFunc("POST /start-emotion", s.handleEmotionStart)
	mux.HandleFunc("GET /emotion-result", s.handleLegacyResult)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	c := cors.New(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})
	// Apply middleware: trace -> CORS
	return c.Handler(trace.Middleware(mux))
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.opts.AllowedOrigins,
	})
	if err != nil {
		trace.Logger(r.Context()).Error("websocket accept error", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()
	conn.SetReadLimit(s.opts.ReadLimit)

	sess := s.opts.Manager.NewSession("")
	defer s.opts.Manager.CloseSession(sess.ID)

	ctx := trace.WithSession(r.Context(), sess.ID)
	log := trace.Logger(ctx)
	log.Info("websocket connected", "remote", r.RemoteAddr)

	wc := newConn(conn, newRateLimiter(s.opts.RateLimitMessages, s.opts.RateLimitWindow))
	err = s.opts.Router.Serve(ctx, sess, wc)
	log.Info("websocket disconnected", "reason", err)
}

type messageResponse struct {
	Message string `json:"message"`
}

func (s *Server) handleEmotionStart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	shared := s.opts.Manager.Shared()
	h, err := shared.Window().Start(s.opts.CollectDuration)
	if err != nil {
		trace.Logger(ctx).Info("emotion window not started", "error", err)
		writeJSON(w, http.StatusConflict, router.NewError(router.TypeCollection, err))
		return
	}

	go func() {
		sum, ok := <-h.Done()
		if !ok {
			return
		}
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
		defer cancel()
		if err := s.opts.Sink.Save(saveCtx, store.SummaryRecord(shared.ID, sum)); err != nil {
			trace.Logger(saveCtx).Warn("summary persist failed", "error", err)
		}
	}()

	secs := strconv.FormatFloat(s.opts.CollectDuration.Seconds(), 'f', -1, 64)
	writeJSON(w, http.StatusOK, messageResponse{
		Message: "Emotion collection started for " + secs + " seconds.",
	})
}

func (s *Server) handleEmotionResult(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, router.SummaryMessage{
		Status: router.StatusSuccess,
		Type:   router.TypeSummary,
		Data:   s.lastSummary(),
	})
}

// handleLegacyResult answers with the bare dominant label.
func (s *Server) handleLegacyResult(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.lastSummary().DominantLabel)
}

func (s *Server) lastSummary() window.Summary {
	return s.opts.Manager.Shared().Window().Last()
}

type healthResponse struct {
	State string `json:"status"`
	orchestrator.Status
	Languages []lang.Code `json:"languages,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{State: "ok", Status: s.opts.Manager.Status()}
	if s.opts.Languages != nil {
		resp.Languages = s.opts.Languages.Get().Codes()
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
