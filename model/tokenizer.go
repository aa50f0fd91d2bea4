package model

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/daulet/tokenizers"
)

// HFTokenizer wraps a HuggingFace tokenizer.json via the tokenizers
// bindings and implements engine.Tokenizer.
type HFTokenizer struct {
	tk    *tokenizers.Tokenizer
	eosID int
}

// NewHFTokenizer loads tokenizer.json from a model directory and resolves
// the EOS token ID from the sidecar config files.
func NewHFTokenizer(modelDir string) (*HFTokenizer, error) {
	tk, err := tokenizers.FromFile(filepath.Join(modelDir, "tokenizer.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer.json: %w", err)
	}

	eosID := loadEOSTokenID(modelDir)
	if eosID < 0 {
		tk.Close()
		return nil, fmt.Errorf("no eos_token_id found in %s", modelDir)
	}

	return &HFTokenizer{
		tk:    tk,
		eosID: eosID,
	}, nil
}

// loadEOSTokenID looks for eos_token_id in config.json and
// generation_config.json. Both a plain number and a list of IDs are seen
// in the wild; the first entry wins.
func loadEOSTokenID(modelDir string) int {
	for _, name := range []string{"generation_config.json", "config.json"} {
		data, err := os.ReadFile(filepath.Join(modelDir, name))
		if err != nil {
			continue
		}

		var config map[string]interface{}
		if err := json.Unmarshal(data, &config); err != nil {
			continue
		}

		switch v := config["eos_token_id"].(type) {
		case float64:
			return int(v)
		case []interface{}:
			if len(v) > 0 {
				if id, ok := v[0].(float64); ok {
					return int(id)
				}
			}
		}
	}
	return -1
}

// Encode converts text to token IDs, including special tokens
func (t *HFTokenizer) Encode(text string) ([]int, error) {
	ids, _ := t.tk.Encode(text, true)
	tokens := make([]int, len(ids))
	for i, id := range ids {
		tokens[i] = int(id)
	}
	return tokens, nil
}

// Decode converts token IDs to text, skipping special tokens
func (t *HFTokenizer) Decode(tokenIDs []int) (string, error) {
	ids := make([]uint32, len(tokenIDs))
	for i, id := range tokenIDs {
		if id < 0 {
			return "", fmt.Errorf("invalid token id %d", id)
		}
		ids[i] = uint32(id)
	}
	return t.tk.Decode(ids, true), nil
}

// EOSTokenID returns the EOS token ID
func (t *HFTokenizer) EOSTokenID() int {
	return t.eosID
}

// VocabSize returns the vocabulary size
func (t *HFTokenizer) VocabSize() int {
	return int(t.tk.VocabSize())
}

// Close releases the underlying native tokenizer
func (t *HFTokenizer) Close() error {
	t.tk.Close()
	return nil
}
