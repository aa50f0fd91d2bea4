package engine

import (
	"testing"
)

// countingTokenizer wraps MockTokenizer and counts Encode calls so tests
// can observe prefix reuse.
type countingTokenizer struct {
	*MockTokenizer
	encodes int
}

func (c *countingTokenizer) Encode(text string) ([]int, error) {
	c.encodes++
	return c.MockTokenizer.Encode(text)
}

func TestPromptCacheEncodesFullHistory(t *testing.T) {
	cache := NewPromptCache(16)
	tk := NewMockTokenizer()

	messages := []ChatMessage{
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi there"},
		{Role: "user", Content: "how are you?"},
	}

	got, err := cache.EncodeHistory(tk, messages)
	if err != nil {
		t.Fatalf("EncodeHistory failed: %v", err)
	}

	want, _ := tk.Encode(FormatPrompt(messages))
	if len(got) != len(want) {
		t.Fatalf("Expected %d tokens, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Token %d: expected %d, got %d", i, want[i], got[i])
		}
	}
}

func TestPromptCacheReusesPrefix(t *testing.T) {
	cache := NewPromptCache(16)
	tk := &countingTokenizer{MockTokenizer: NewMockTokenizer()}

	history := []ChatMessage{
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi there"},
	}

	if _, err := cache.EncodeHistory(tk, history); err != nil {
		t.Fatalf("EncodeHistory failed: %v", err)
	}
	// Two messages plus the assistant cue
	if tk.encodes != 3 {
		t.Fatalf("Expected 3 encodes on first turn, got %d", tk.encodes)
	}

	history = append(history,
		ChatMessage{Role: "user", Content: "and now?"},
	)

	tk.encodes = 0
	if _, err := cache.EncodeHistory(tk, history); err != nil {
		t.Fatalf("EncodeHistory failed: %v", err)
	}
	// Only the new message and the cue are encoded
	if tk.encodes != 2 {
		t.Errorf("Expected 2 encodes on second turn, got %d", tk.encodes)
	}

	if cache.Len() != 3 {
		t.Errorf("Expected 3 cached entries, got %d", cache.Len())
	}
}

func TestPromptCacheInvalidatesEditedHistory(t *testing.T) {
	cache := NewPromptCache(16)
	tk := NewMockTokenizer()

	first := []ChatMessage{
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi"},
	}
	if _, err := cache.EncodeHistory(tk, first); err != nil {
		t.Fatalf("EncodeHistory failed: %v", err)
	}

	// Same length, different content: hash chain must diverge at index 1
	edited := []ChatMessage{
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "HI"},
	}
	got, err := cache.EncodeHistory(tk, edited)
	if err != nil {
		t.Fatalf("EncodeHistory failed: %v", err)
	}

	want, _ := tk.Encode(FormatPrompt(edited))
	if joinInts(got) != joinInts(want) {
		t.Errorf("Edited history produced wrong tokens: %q vs %q", joinInts(got), joinInts(want))
	}
}

func TestPromptCacheZeroCapacity(t *testing.T) {
	cache := NewPromptCache(0)
	tk := NewMockTokenizer()

	messages := []ChatMessage{{Role: "user", Content: "hello"}}
	got, err := cache.EncodeHistory(tk, messages)
	if err != nil {
		t.Fatalf("EncodeHistory failed: %v", err)
	}

	want, _ := tk.Encode(FormatPrompt(messages))
	if len(got) != len(want) {
		t.Errorf("Expected %d tokens, got %d", len(want), len(got))
	}

	if cache.Len() != 0 {
		t.Errorf("Zero-capacity cache should stay empty, got %d entries", cache.Len())
	}
}

func joinInts(ids []int) string {
	out := make([]byte, 0, len(ids))
	for _, id := range ids {
		out = append(out, byte(id))
	}
	return string(out)
}
