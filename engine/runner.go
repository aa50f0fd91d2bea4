package engine

import (
	"strings"
	"time"
)

// ModelRunner is an interface for driving one decode step of a model.
// Implementations wrap an ML runtime (ONNX Runtime, an HTTP inference
// server, ...) and are responsible for sampling the next token from the
// logits produced for the sequence's last position.
type ModelRunner interface {
	// Step runs one forward pass over the sequence and returns the
	// sampled next token ID.
	Step(seq *Sequence) (int, error)

	// Close cleans up resources
	Close() error
}

// Image is a preprocessed image tensor handed to vision-capable runners.
type Image struct {
	Data  []float32
	Shape []int64
}

// VisionRunner is implemented by runners that condition generation on an
// image in addition to the token sequence.
type VisionRunner interface {
	ModelRunner

	// StepWithImage runs one forward pass conditioned on the image.
	StepWithImage(seq *Sequence, img *Image) (int, error)
}

// Tokenizer is an interface for tokenizing text
type Tokenizer interface {
	// Encode converts text to token IDs
	Encode(text string) ([]int, error)

	// Decode converts token IDs to text
	Decode(tokenIDs []int) (string, error)

	// EOSTokenID returns the EOS token ID
	EOSTokenID() int
}

// mockEOS sits just past the byte range used by MockTokenizer.
const mockEOS = 256

// MockModelRunner replays a scripted completion one token per step.
// Together with MockTokenizer it gives deterministic end-to-end sessions
// without a model runtime, for tests and for running the server without
// weights on disk.
type MockModelRunner struct {
	eosID  int
	script []int

	// StepDelay throttles decoding to mimic real model latency.
	StepDelay time.Duration
}

// NewMockModelRunner creates a runner that emits the UTF-8 bytes of text
// as tokens, then EOS.
func NewMockModelRunner(text string) *MockModelRunner {
	script := make([]int, 0, len(text))
	for _, b := range []byte(text) {
		script = append(script, int(b))
	}
	return &MockModelRunner{
		eosID:  mockEOS,
		script: script,
	}
}

// Step returns the next scripted token, or EOS once the script is spent
func (m *MockModelRunner) Step(seq *Sequence) (int, error) {
	if m.StepDelay > 0 {
		time.Sleep(m.StepDelay)
	}

	n := seq.NumCompletionTokens()
	if n >= len(m.script) {
		return m.eosID, nil
	}
	return m.script[n], nil
}

// StepWithImage ignores the image; the mock has no vision conditioning
func (m *MockModelRunner) StepWithImage(seq *Sequence, img *Image) (int, error) {
	return m.Step(seq)
}

// Close cleans up resources
func (m *MockModelRunner) Close() error {
	return nil
}

// MockTokenizer is a byte-level tokenizer: every byte of the input is one
// token, so Encode/Decode round-trip any text exactly. Multi-byte runes
// therefore span several tokens, which exercises the session's UTF-8
// boundary handling.
type MockTokenizer struct{}

// NewMockTokenizer creates a new mock tokenizer
func NewMockTokenizer() *MockTokenizer {
	return &MockTokenizer{}
}

// Encode converts text to one token per byte
func (t *MockTokenizer) Encode(text string) ([]int, error) {
	tokens := make([]int, len(text))
	for i, b := range []byte(text) {
		tokens[i] = int(b)
	}
	return tokens, nil
}

// Decode converts byte tokens back to text, skipping special tokens
func (t *MockTokenizer) Decode(tokenIDs []int) (string, error) {
	var sb strings.Builder
	for _, id := range tokenIDs {
		if id < 0 || id > 255 {
			continue
		}
		sb.WriteByte(byte(id))
	}
	return sb.String(), nil
}

// EOSTokenID returns the EOS token ID
func (t *MockTokenizer) EOSTokenID() int {
	return mockEOS
}
