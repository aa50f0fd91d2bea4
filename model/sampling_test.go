package model

import (
	"testing"
)

func TestSampleGreedy(t *testing.T) {
	logits := []float32{0.1, 5.0, -2.0, 3.0}

	for i := 0; i < 10; i++ {
		if got := Sample(logits, 0, 0, 1.0); got != 1 {
			t.Fatalf("Greedy sampling must pick the argmax, got %d", got)
		}
	}
}

func TestSampleDoesNotMutateLogits(t *testing.T) {
	logits := []float32{1.0, 2.0, 3.0}
	Sample(logits, 0.5, 0, 0.9)

	if logits[0] != 1.0 || logits[1] != 2.0 || logits[2] != 3.0 {
		t.Errorf("Sample mutated the caller's logits: %v", logits)
	}
}

func TestSampleTopKRestrictsSupport(t *testing.T) {
	// Index 3 and 1 dominate; with top-k 2 nothing else may be drawn
	logits := []float32{0.0, 4.0, 1.0, 6.0, 0.5}

	for i := 0; i < 200; i++ {
		got := Sample(logits, 1.0, 2, 1.0)
		if got != 1 && got != 3 {
			t.Fatalf("top-k=2 sampled outside the top two, got %d", got)
		}
	}
}

func TestSampleTopPRestrictsSupport(t *testing.T) {
	// One token holds nearly all mass; a tight nucleus keeps only it
	logits := []float32{10.0, 0.0, 0.0, 0.0}

	for i := 0; i < 200; i++ {
		if got := Sample(logits, 1.0, 0, 0.5); got != 0 {
			t.Fatalf("top-p=0.5 escaped the nucleus, got %d", got)
		}
	}
}

func TestSoftmaxSumsToOne(t *testing.T) {
	probs := softmax([]float32{1.0, 2.0, 3.0, 4.0})

	var sum float32
	for _, p := range probs {
		if p < 0 {
			t.Fatalf("Negative probability %f", p)
		}
		sum += p
	}

	if sum < 0.999 || sum > 1.001 {
		t.Errorf("Expected probabilities to sum to 1, got %f", sum)
	}

	for i := 1; i < len(probs); i++ {
		if probs[i] <= probs[i-1] {
			t.Errorf("Expected monotonically increasing probabilities, got %v", probs)
		}
	}
}

func TestTopKFilteringZeroesTail(t *testing.T) {
	probs := []float32{0.1, 0.4, 0.2, 0.3}
	filtered := topKFiltering(probs, 2)

	nonzero := 0
	for _, p := range filtered {
		if p > 0 {
			nonzero++
		}
	}
	if nonzero != 2 {
		t.Errorf("Expected 2 surviving probabilities, got %d", nonzero)
	}

	if filtered[1] != 0.4 || filtered[3] != 0.3 {
		t.Errorf("Expected top-2 by mass to survive, got %v", filtered)
	}
}
