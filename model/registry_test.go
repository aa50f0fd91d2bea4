package model

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nano-chat-go/engine"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry([]ModelConfig{
		{ID: "mock-chat", Type: "mock", Response: "hello from mock", Description: "test model"},
		{ID: "mock-vision", Type: "mock", Vision: true},
	}, slog.New(slog.NewTextHandler(os.Stderr, nil)))
	require.NoError(t, err)
	return r
}

func TestRegistryGetLoadsLazily(t *testing.T) {
	r := testRegistry(t)

	infos := r.List()
	require.Len(t, infos, 2)
	assert.False(t, infos[0].Loaded)

	m, err := r.Get("mock-chat")
	require.NoError(t, err)
	assert.Equal(t, "mock-chat", m.ID)
	assert.NotNil(t, m.Runner)
	assert.NotNil(t, m.Tokenizer)

	// Second Get returns the same instance
	again, err := r.Get("mock-chat")
	require.NoError(t, err)
	assert.Same(t, m, again)

	infos = r.List()
	assert.True(t, infos[0].Loaded, "mock-chat should report loaded")
}

func TestRegistryUnknownModel(t *testing.T) {
	r := testRegistry(t)

	_, err := r.Get("nope")
	assert.Error(t, err)
}

func TestRegistryUnload(t *testing.T) {
	r := testRegistry(t)

	_, err := r.Get("mock-chat")
	require.NoError(t, err)

	require.NoError(t, r.Unload("mock-chat"))
	require.NoError(t, r.Unload("mock-chat"), "unloading twice is a no-op")

	infos := r.List()
	assert.False(t, infos[0].Loaded)
}

func TestRegistryIsVision(t *testing.T) {
	r := testRegistry(t)

	assert.True(t, r.IsVision("mock-vision"))
	assert.False(t, r.IsVision("mock-chat"))
	assert.False(t, r.IsVision("missing"))
}

func TestRegistryRejectsBadConfig(t *testing.T) {
	_, err := NewRegistry([]ModelConfig{{ID: "x", Type: "gguf"}}, nil)
	assert.Error(t, err, "unsupported type must be rejected")

	_, err = NewRegistry([]ModelConfig{
		{ID: "x", Type: "mock"},
		{ID: "x", Type: "mock"},
	}, nil)
	assert.Error(t, err, "duplicate ids must be rejected")
}

func TestLoadRegistryFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "models.json")
	catalog := `{"models": [{"id": "m1", "type": "mock", "response": "scripted reply", "defaults": {"temperature": 0.5, "max_tokens": 64}}]}`
	require.NoError(t, os.WriteFile(path, []byte(catalog), 0o644))

	r, err := LoadRegistryFile(path, nil)
	require.NoError(t, err)

	m, err := r.Get("m1")
	require.NoError(t, err)
	assert.Equal(t, 0.5, m.Defaults.Temperature)
	assert.Equal(t, 64, m.Defaults.MaxTokens)

	// The mock model round-trips through a real session
	session := engine.NewSession(engine.NewConfig(), m.Runner, m.Tokenizer)
	prompt, err := m.Tokenizer.Encode("user: hi\nassistant: ")
	require.NoError(t, err)

	result, err := session.Run(context.Background(), prompt, engine.NewSamplingParams(), func(engine.Token) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, "scripted reply", result.Text)
}

func TestLoadRegistryFileMissing(t *testing.T) {
	_, err := LoadRegistryFile(filepath.Join(t.TempDir(), "absent.json"), nil)
	assert.Error(t, err)
}
