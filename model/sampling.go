package model

import (
	"math"
	"math/rand"
	"sort"
)

// Sample draws a token from last-position logits using temperature,
// top-k and top-p (nucleus) filtering. Temperature 0 is greedy argmax.
func Sample(logits []float32, temperature float64, topK int, topP float64) int {
	if temperature == 0 {
		return argmax(logits)
	}

	// Apply temperature without clobbering the caller's slice
	scaled := make([]float32, len(logits))
	copy(scaled, logits)
	if temperature != 1.0 {
		for i := range scaled {
			scaled[i] /= float32(temperature)
		}
	}

	probs := softmax(scaled)

	if topK > 0 && topK < len(probs) {
		probs = topKFiltering(probs, topK)
	}

	if topP > 0 && topP < 1.0 {
		probs = topPFiltering(probs, float32(topP))
	}

	// Renormalize probabilities
	sum := float32(0)
	for _, p := range probs {
		sum += p
	}
	if sum > 0 {
		for i := range probs {
			probs[i] /= sum
		}
	}

	return sampleMultinomial(probs)
}

// argmax returns the index of the largest logit
func argmax(logits []float32) int {
	maxIdx := 0
	maxVal := logits[0]
	for i, l := range logits[1:] {
		if l > maxVal {
			maxVal = l
			maxIdx = i + 1
		}
	}
	return maxIdx
}

// softmax converts logits to probabilities
func softmax(logits []float32) []float32 {
	// Find max for numerical stability
	maxLogit := logits[0]
	for _, l := range logits[1:] {
		if l > maxLogit {
			maxLogit = l
		}
	}

	probs := make([]float32, len(logits))
	sum := float32(0)
	for i, l := range logits {
		probs[i] = float32(math.Exp(float64(l - maxLogit)))
		sum += probs[i]
	}

	for i := range probs {
		probs[i] /= sum
	}

	return probs
}

type indexedProb struct {
	idx  int
	prob float32
}

func sortedByProb(probs []float32) []indexedProb {
	indexed := make([]indexedProb, len(probs))
	for i, p := range probs {
		indexed[i] = indexedProb{i, p}
	}
	sort.Slice(indexed, func(i, j int) bool {
		return indexed[i].prob > indexed[j].prob
	})
	return indexed
}

// topKFiltering keeps only top-k probabilities, zeros out the rest
func topKFiltering(probs []float32, k int) []float32 {
	indexed := sortedByProb(probs)

	result := make([]float32, len(probs))
	for i := 0; i < k && i < len(indexed); i++ {
		result[indexed[i].idx] = indexed[i].prob
	}

	return result
}

// topPFiltering keeps only probabilities that sum to >= p (nucleus sampling)
func topPFiltering(probs []float32, p float32) []float32 {
	indexed := sortedByProb(probs)

	cumProb := float32(0)
	cutoff := len(indexed)
	for i, item := range indexed {
		cumProb += item.prob
		if cumProb >= p {
			cutoff = i + 1
			break
		}
	}

	result := make([]float32, len(probs))
	for i := 0; i < cutoff; i++ {
		result[indexed[i].idx] = indexed[i].prob
	}

	return result
}

// sampleMultinomial samples from a probability distribution
func sampleMultinomial(probs []float32) int {
	cumProbs := make([]float32, len(probs))
	cumProbs[0] = probs[0]
	for i := 1; i < len(probs); i++ {
		cumProbs[i] = cumProbs[i-1] + probs[i]
	}

	r := rand.Float32() * cumProbs[len(cumProbs)-1]

	idx := sort.Search(len(cumProbs), func(i int) bool {
		return cumProbs[i] >= r
	})

	if idx >= len(probs) {
		idx = len(probs) - 1
	}

	return idx
}
