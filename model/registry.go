package model

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"

	"nano-chat-go/engine"
)

// GenerationDefaults are the per-model sampling defaults applied when the
// client omits a parameter.
type GenerationDefaults struct {
	Temperature float64 `json:"temperature"`
	TopK        int     `json:"top_k"`
	TopP        float64 `json:"top_p"`
	MaxTokens   int     `json:"max_tokens"`
}

// ModelConfig describes one entry of the model catalog file
type ModelConfig struct {
	ID          string             `json:"id"`
	Type        string             `json:"type"` // "onnx" or "mock"
	Path        string             `json:"path"`
	Vision      bool               `json:"vision"`
	Description string             `json:"description"`
	Defaults    GenerationDefaults `json:"defaults"`

	// Response and StepDelayMS only apply to mock models
	Response    string `json:"response"`
	StepDelayMS int    `json:"step_delay_ms"`
}

// Model is a loaded model: its runner and tokenizer plus catalog metadata
type Model struct {
	ID        string
	Vision    bool
	Defaults  GenerationDefaults
	Runner    engine.ModelRunner
	Tokenizer engine.Tokenizer
}

// Close releases the model's runtime resources
func (m *Model) Close() error {
	if closer, ok := m.Tokenizer.(io.Closer); ok {
		closer.Close()
	}
	return m.Runner.Close()
}

// Info describes a catalog entry for the models listing endpoint
type Info struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Vision      bool   `json:"vision"`
	Loaded      bool   `json:"loaded"`
	Description string `json:"description,omitempty"`
}

// Registry is the model catalog: configured entries plus lazily loaded
// instances. Loading is serialized; a model is loaded at most once.
type Registry struct {
	mu      sync.Mutex
	configs map[string]ModelConfig
	loaded  map[string]*Model
	logger  *slog.Logger
}

// NewRegistry builds a registry from model configs
func NewRegistry(configs []ModelConfig, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}

	byID := make(map[string]ModelConfig, len(configs))
	for _, cfg := range configs {
		if cfg.ID == "" {
			return nil, fmt.Errorf("model config with empty id")
		}
		if _, dup := byID[cfg.ID]; dup {
			return nil, fmt.Errorf("duplicate model id %q", cfg.ID)
		}
		switch cfg.Type {
		case "onnx", "mock":
		default:
			return nil, fmt.Errorf("model %q: unsupported type %q", cfg.ID, cfg.Type)
		}
		byID[cfg.ID] = cfg
	}

	return &Registry{
		configs: byID,
		loaded:  make(map[string]*Model),
		logger:  logger,
	}, nil
}

// LoadRegistryFile reads the model catalog from a JSON file
func LoadRegistryFile(path string, logger *slog.Logger) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model catalog: %w", err)
	}

	var catalog struct {
		Models []ModelConfig `json:"models"`
	}
	if err := json.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("failed to parse model catalog: %w", err)
	}

	return NewRegistry(catalog.Models, logger)
}

// Get returns the model for id, loading it on first use
func (r *Registry) Get(id string) (*Model, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.loaded[id]; ok {
		return m, nil
	}

	cfg, ok := r.configs[id]
	if !ok {
		return nil, fmt.Errorf("model %q not registered", id)
	}

	start := time.Now()
	m, err := r.load(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load model %q: %w", id, err)
	}
	r.logger.Info("model loaded", "model", id, "type", cfg.Type, "duration", time.Since(start))

	r.loaded[id] = m
	return m, nil
}

func (r *Registry) load(cfg ModelConfig) (*Model, error) {
	m := &Model{
		ID:       cfg.ID,
		Vision:   cfg.Vision,
		Defaults: cfg.Defaults,
	}

	switch cfg.Type {
	case "mock":
		response := cfg.Response
		if response == "" {
			response = "This is a canned response from the mock model."
		}
		runner := engine.NewMockModelRunner(response)
		runner.StepDelay = time.Duration(cfg.StepDelayMS) * time.Millisecond
		m.Runner = runner
		m.Tokenizer = engine.NewMockTokenizer()

	case "onnx":
		tokenizer, err := NewHFTokenizer(cfg.Path)
		if err != nil {
			return nil, err
		}

		weightsPath := filepath.Join(cfg.Path, "model.onnx")
		if err := warmWeights(weightsPath); err != nil {
			tokenizer.Close()
			return nil, err
		}

		if cfg.Vision {
			runner, err := NewVisionONNXRunner(weightsPath, tokenizer.VocabSize())
			if err != nil {
				tokenizer.Close()
				return nil, err
			}
			m.Runner = runner
		} else {
			runner, err := NewONNXRunner(weightsPath, tokenizer.VocabSize())
			if err != nil {
				tokenizer.Close()
				return nil, err
			}
			m.Runner = runner
		}
		m.Tokenizer = tokenizer
	}

	return m, nil
}

// warmWeights streams the weight file through the page cache with a
// progress bar, so the first request does not pay the cold-read cost.
func warmWeights(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open weights: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat weights: %w", err)
	}

	bar := progressbar.DefaultBytes(info.Size(), "loading "+filepath.Base(path))
	if _, err := io.Copy(io.Discard, io.TeeReader(f, bar)); err != nil {
		return fmt.Errorf("failed to read weights: %w", err)
	}

	return nil
}

// Unload closes a loaded model and frees its slot. Unloading a model
// that was never loaded is a no-op.
func (r *Registry) Unload(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.loaded[id]
	if !ok {
		return nil
	}

	delete(r.loaded, id)
	if err := m.Close(); err != nil {
		return fmt.Errorf("failed to close model %q: %w", id, err)
	}

	r.logger.Info("model unloaded", "model", id)
	return nil
}

// IsVision reports whether the catalog entry supports image input
func (r *Registry) IsVision(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cfg, ok := r.configs[id]
	return ok && cfg.Vision
}

// List returns catalog entries sorted by id
func (r *Registry) List() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()

	infos := make([]Info, 0, len(r.configs))
	for id, cfg := range r.configs {
		_, isLoaded := r.loaded[id]
		infos = append(infos, Info{
			ID:          id,
			Type:        cfg.Type,
			Vision:      cfg.Vision,
			Loaded:      isLoaded,
			Description: cfg.Description,
		})
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Close unloads every loaded model
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for id, m := range r.loaded {
		if err := m.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(r.loaded, id)
	}
	return firstErr
}
