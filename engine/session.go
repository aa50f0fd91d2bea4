package engine

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"
)

// ErrPromptTooLong is returned when the tokenized prompt does not fit the
// model context window.
var ErrPromptTooLong = errors.New("prompt exceeds model context length")

// Token is one streamed unit of output: the sampled token ID and the text
// it added to the completion.
type Token struct {
	ID   int
	Text string
}

// Result summarizes a finished (or cancelled) generation turn.
type Result struct {
	Text           string
	TokenIDs       []int
	FinishReason   FinishReason
	PromptTokens   int
	EvalCount      int
	PromptDuration time.Duration
	EvalDuration   time.Duration
}

// Session drives token-by-token generation for one connection. It owns
// the decode loop: one runner step per token, incremental detokenization,
// and cancellation between steps. A Session is not safe for concurrent
// Run calls; callers serialize turns per connection.
type Session struct {
	config      *Config
	runner      ModelRunner
	tokenizer   Tokenizer
	promptCache *PromptCache
}

// NewSession creates a session bound to a model runner and tokenizer
func NewSession(config *Config, runner ModelRunner, tokenizer Tokenizer) *Session {
	return &Session{
		config:      config,
		runner:      runner,
		tokenizer:   tokenizer,
		promptCache: NewPromptCache(config.PromptCacheSize),
	}
}

// EncodeHistory tokenizes conversation history through the session's
// prompt cache.
func (s *Session) EncodeHistory(messages []ChatMessage) ([]int, error) {
	return s.promptCache.EncodeHistory(s.tokenizer, messages)
}

// Run generates a completion for the prompt tokens, invoking emit for
// every decoded token in generation order. Cancelling ctx between steps
// stops the turn cleanly: Run returns the partial result with
// FinishCancelled and a nil error. An error returned by emit aborts the
// turn and is returned wrapped.
func (s *Session) Run(ctx context.Context, promptTokens []int, params *SamplingParams, emit func(Token) error) (*Result, error) {
	return s.run(ctx, promptTokens, nil, params, emit)
}

// RunWithImage is Run conditioned on a preprocessed image. The runner
// must implement VisionRunner.
func (s *Session) RunWithImage(ctx context.Context, promptTokens []int, img *Image, params *SamplingParams, emit func(Token) error) (*Result, error) {
	if _, ok := s.runner.(VisionRunner); !ok {
		return nil, fmt.Errorf("model runner does not support images")
	}
	return s.run(ctx, promptTokens, img, params, emit)
}

func (s *Session) run(ctx context.Context, promptTokens []int, img *Image, params *SamplingParams, emit func(Token) error) (*Result, error) {
	if len(promptTokens) == 0 {
		return nil, fmt.Errorf("empty prompt")
	}
	if len(promptTokens) >= s.config.MaxModelLen {
		return nil, fmt.Errorf("%w: %d tokens, limit %d", ErrPromptTooLong, len(promptTokens), s.config.MaxModelLen)
	}

	if params == nil {
		params = NewSamplingParams(WithMaxTokens(s.config.DefaultMaxTokens))
	}
	// The completion may not push the sequence past the context window
	if budget := s.config.MaxModelLen - len(promptTokens); params.MaxTokens > budget {
		clamped := *params
		clamped.MaxTokens = budget
		params = &clamped
	}

	seq := NewSequence(promptTokens, params)
	seq.Status = StatusRunning

	eos := s.tokenizer.EOSTokenID()

	var (
		emittedBytes int
		held         string
		firstStep    time.Duration
	)
	start := time.Now()

	for seq.Status == StatusRunning {
		select {
		case <-ctx.Done():
			seq.Status = StatusCancelled
			seq.Finish = FinishCancelled
			continue
		default:
		}

		var (
			tokenID int
			err     error
		)
		if img != nil {
			tokenID, err = s.runner.(VisionRunner).StepWithImage(seq, img)
		} else {
			tokenID, err = s.runner.Step(seq)
		}
		if err != nil {
			return nil, fmt.Errorf("model step failed: %w", err)
		}
		if firstStep == 0 {
			firstStep = time.Since(start)
		}

		if tokenID == eos && !seq.IgnoreEOS {
			seq.Status = StatusFinished
			seq.Finish = FinishStop
			continue
		}

		seq.AppendToken(tokenID)

		text, err := s.tokenizer.Decode(seq.CompletionTokenIDs())
		if err != nil {
			return nil, fmt.Errorf("failed to decode tokens: %w", err)
		}

		// Hold back bytes that do not yet form a complete rune so a
		// token boundary inside a multi-byte character never reaches
		// the client as mangled UTF-8.
		delta := text[emittedBytes:]
		held = delta[validUTF8Len(delta):]
		delta = delta[:len(delta)-len(held)]

		if delta != "" {
			if err := emit(Token{ID: tokenID, Text: delta}); err != nil {
				return nil, fmt.Errorf("emit failed: %w", err)
			}
			emittedBytes += len(delta)
		}

		if seq.NumCompletionTokens() >= seq.MaxTokens {
			seq.Status = StatusFinished
			seq.Finish = FinishLength
		}
	}

	text, err := s.tokenizer.Decode(seq.CompletionTokenIDs())
	if err != nil {
		return nil, fmt.Errorf("failed to decode tokens: %w", err)
	}

	total := time.Since(start)
	return &Result{
		Text:           text,
		TokenIDs:       seq.CompletionTokenIDs(),
		FinishReason:   seq.Finish,
		PromptTokens:   seq.NumPromptTokens,
		EvalCount:      seq.NumCompletionTokens(),
		PromptDuration: firstStep,
		EvalDuration:   total - firstStep,
	}, nil
}

// validUTF8Len returns the length of the longest prefix of s that ends on
// a complete rune boundary.
func validUTF8Len(s string) int {
	end := len(s)
	for end > 0 {
		r, size := utf8.DecodeLastRuneInString(s[:end])
		if r != utf8.RuneError || size > 1 {
			break
		}
		// A lone RuneError of size 1 at the tail may be a partial rune
		end--
		if len(s)-end >= utf8.UTFMax {
			// More than a rune's worth of invalid bytes: not a partial
			// rune, pass it through as-is
			return len(s)
		}
	}
	return end
}
