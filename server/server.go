package server

import (
	"log/slog"
	"net/http"

	"golang.org/x/sync/semaphore"

	"nano-chat-go/engine"
	"nano-chat-go/model"
	"nano-chat-go/store"
)

// Config holds the HTTP layer settings
type Config struct {
	// Addr is the listen address, e.g. ":8000".
	Addr string

	// UploadsDir is where uploaded images are written and served from.
	UploadsDir string

	// AllowedOrigin is echoed in CORS headers. Browsers connect
	// from a separately served frontend during development.
	AllowedOrigin string

	// MaxConcurrent bounds the number of generations running at once
	// across all connections. Further requests wait for a slot.
	MaxConcurrent int64
}

// DefaultConfig returns the settings used when flags are absent
func DefaultConfig() Config {
	return Config{
		Addr:          ":8000",
		UploadsDir:    "uploads",
		AllowedOrigin: "http://localhost:3000",
		MaxConcurrent: 4,
	}
}

// Server wires the model registry, conversation store and generation
// engine behind HTTP and websocket endpoints.
type Server struct {
	cfg       Config
	store     *store.Store
	registry  *model.Registry
	engineCfg *engine.Config
	slots     *semaphore.Weighted
	clients   *ClientRegistry
	logger    *slog.Logger
}

// New creates a server. A nil logger falls back to slog.Default.
func New(cfg Config, st *store.Store, registry *model.Registry, engineCfg *engine.Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultConfig().MaxConcurrent
	}
	if engineCfg == nil {
		engineCfg = engine.NewConfig()
	}
	return &Server{
		cfg:       cfg,
		store:     st,
		registry:  registry,
		engineCfg: engineCfg,
		slots:     semaphore.NewWeighted(cfg.MaxConcurrent),
		clients:   NewClientRegistry(),
		logger:    logger,
	}
}

// Handler builds the route table
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/models", s.handleModels)
	mux.HandleFunc("GET /api/conversations", s.handleConversations)
	mux.HandleFunc("DELETE /api/conversations/{id}", s.handleDeleteConversation)
	mux.HandleFunc("GET /api/chat/{id}/messages", s.handleMessages)
	mux.HandleFunc("POST /api/upload-image", s.handleUploadImage)

	mux.HandleFunc("GET /api/ws/vision/{model}", s.handleVisionSocket)
	mux.HandleFunc("GET /api/ws/{model}", s.handleChatSocket)

	mux.Handle("GET /uploads/", http.StripPrefix("/uploads/",
		http.FileServer(http.Dir(s.cfg.UploadsDir))))

	return s.withCORS(mux)
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.cfg.AllowedOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
