package engine

import "fmt"

// SamplingParams holds the sampling parameters for a generation turn
type SamplingParams struct {
	Temperature float64
	TopK        int
	TopP        float64
	MaxTokens   int
	IgnoreEOS   bool
}

// SamplingOption is a functional option for SamplingParams
type SamplingOption func(*SamplingParams)

// NewSamplingParams creates a new SamplingParams with default values.
// It panics on invalid values; callers building params from untrusted
// client input should go through ClampSamplingParams first.
func NewSamplingParams(opts ...SamplingOption) *SamplingParams {
	sp := &SamplingParams{
		Temperature: 0.7,
		TopK:        0,
		TopP:        0.9,
		MaxTokens:   256,
		IgnoreEOS:   false,
	}

	for _, opt := range opts {
		opt(sp)
	}

	if err := sp.validate(); err != nil {
		panic(err)
	}

	return sp
}

// validate checks if the sampling parameters are valid
func (sp *SamplingParams) validate() error {
	if sp.Temperature < 0 {
		return fmt.Errorf("temperature must be >= 0, got %f", sp.Temperature)
	}
	if sp.TopP <= 0 || sp.TopP > 1 {
		return fmt.Errorf("top_p must be in (0, 1], got %f", sp.TopP)
	}
	if sp.TopK < 0 {
		return fmt.Errorf("top_k must be >= 0, got %d", sp.TopK)
	}
	if sp.MaxTokens < 1 {
		return fmt.Errorf("max_tokens must be >= 1, got %d", sp.MaxTokens)
	}
	return nil
}

// ClampSamplingParams builds valid sampling parameters from raw client
// values, clamping anything out of range instead of failing the turn.
func ClampSamplingParams(temperature, topP float64, topK, maxTokens int) *SamplingParams {
	if temperature < 0 {
		temperature = 0
	}
	if temperature > 2 {
		temperature = 2
	}
	if topP <= 0 || topP > 1 {
		topP = 0.9
	}
	if topK < 0 {
		topK = 0
	}
	if maxTokens < 1 {
		maxTokens = 256
	}
	return &SamplingParams{
		Temperature: temperature,
		TopK:        topK,
		TopP:        topP,
		MaxTokens:   maxTokens,
	}
}

// WithTemperature sets the sampling temperature
func WithTemperature(t float64) SamplingOption {
	return func(sp *SamplingParams) {
		sp.Temperature = t
	}
}

// WithTopK sets the top-k cutoff (0 disables top-k filtering)
func WithTopK(k int) SamplingOption {
	return func(sp *SamplingParams) {
		sp.TopK = k
	}
}

// WithTopP sets the nucleus sampling threshold
func WithTopP(p float64) SamplingOption {
	return func(sp *SamplingParams) {
		sp.TopP = p
	}
}

// WithMaxTokens sets the maximum number of tokens to generate
func WithMaxTokens(n int) SamplingOption {
	return func(sp *SamplingParams) {
		sp.MaxTokens = n
	}
}

// WithIgnoreEOS sets whether to ignore the EOS token
func WithIgnoreEOS(b bool) SamplingOption {
	return func(sp *SamplingParams) {
		sp.IgnoreEOS = b
	}
}
