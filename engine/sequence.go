package engine

import "sync/atomic"

// SequenceStatus represents the status of a generation turn
type SequenceStatus int

const (
	StatusWaiting SequenceStatus = iota
	StatusRunning
	StatusFinished
	StatusCancelled
)

// FinishReason explains why a turn stopped producing tokens
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishLength    FinishReason = "length"
	FinishCancelled FinishReason = "cancelled"
)

// Sequence represents a single generation turn: the tokenized prompt plus
// the completion tokens appended one decode step at a time.
type Sequence struct {
	SeqID           int64
	Status          SequenceStatus
	Finish          FinishReason
	TokenIDs        []int
	LastToken       int
	NumTokens       int
	NumPromptTokens int
	Temperature     float64
	TopK            int
	TopP            float64
	MaxTokens       int
	IgnoreEOS       bool
}

var seqCounter int64 = 0

// NewSequence creates a new sequence from prompt token IDs and sampling parameters
func NewSequence(tokenIDs []int, samplingParams *SamplingParams) *Sequence {
	seqID := atomic.AddInt64(&seqCounter, 1) - 1

	// Make a copy of token IDs
	tokens := make([]int, len(tokenIDs))
	copy(tokens, tokenIDs)

	last := -1
	if len(tokens) > 0 {
		last = tokens[len(tokens)-1]
	}

	return &Sequence{
		SeqID:           seqID,
		Status:          StatusWaiting,
		TokenIDs:        tokens,
		LastToken:       last,
		NumTokens:       len(tokens),
		NumPromptTokens: len(tokens),
		Temperature:     samplingParams.Temperature,
		TopK:            samplingParams.TopK,
		TopP:            samplingParams.TopP,
		MaxTokens:       samplingParams.MaxTokens,
		IgnoreEOS:       samplingParams.IgnoreEOS,
	}
}

// Len returns the number of tokens in the sequence
func (s *Sequence) Len() int {
	return s.NumTokens
}

// IsFinished returns true if the turn is complete or was cancelled
func (s *Sequence) IsFinished() bool {
	return s.Status == StatusFinished || s.Status == StatusCancelled
}

// NumCompletionTokens returns the number of completion tokens
func (s *Sequence) NumCompletionTokens() int {
	return s.NumTokens - s.NumPromptTokens
}

// PromptTokenIDs returns the prompt token IDs
func (s *Sequence) PromptTokenIDs() []int {
	return s.TokenIDs[:s.NumPromptTokens]
}

// CompletionTokenIDs returns the completion token IDs
func (s *Sequence) CompletionTokenIDs() []int {
	return s.TokenIDs[s.NumPromptTokens:]
}

// AppendToken appends a token to the sequence
func (s *Sequence) AppendToken(tokenID int) {
	s.TokenIDs = append(s.TokenIDs, tokenID)
	s.LastToken = tokenID
	s.NumTokens++
}
