package engine

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// promptEntry holds the token IDs of one history message, keyed by the
// hash chain up to and including that message.
type promptEntry struct {
	hash     uint64
	tokenIDs []int
}

// PromptCache avoids re-tokenizing the unchanged prefix of a conversation
// on every turn. Histories grow append-only, so each message is hashed
// chained onto its predecessor; a turn whose history shares a hash-chain
// prefix with the previous turn reuses those token IDs and only encodes
// the new suffix messages.
type PromptCache struct {
	maxEntries int
	entries    []promptEntry
}

// NewPromptCache creates a prompt cache holding at most maxEntries
// history messages. A zero-capacity cache is valid and encodes everything.
func NewPromptCache(maxEntries int) *PromptCache {
	return &PromptCache{
		maxEntries: maxEntries,
		entries:    make([]promptEntry, 0, maxEntries),
	}
}

// chainHash hashes one message chained onto the prefix hash before it
func chainHash(prefixHash uint64, role, content string) uint64 {
	h := xxhash.New()

	if prefixHash != 0 {
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, prefixHash)
		h.Write(buf)
	}

	h.WriteString(role)
	h.Write([]byte{0})
	h.WriteString(content)

	return h.Sum64()
}

// EncodeHistory tokenizes the formatted history, reusing cached token IDs
// for the prefix of messages whose hash chain matches a previous call.
// The returned slice includes the trailing assistant cue tokens.
func (c *PromptCache) EncodeHistory(tokenizer Tokenizer, messages []ChatMessage) ([]int, error) {
	tokenIDs := make([]int, 0, 64)

	var prefixHash uint64
	matched := 0

	for i, m := range messages {
		h := chainHash(prefixHash, m.Role, m.Content)
		if i < len(c.entries) && c.entries[i].hash == h {
			tokenIDs = append(tokenIDs, c.entries[i].tokenIDs...)
			prefixHash = h
			matched++
			continue
		}
		break
	}

	// Anything past the matched prefix invalidates the stale tail
	c.entries = c.entries[:matched]

	for _, m := range messages[matched:] {
		ids, err := tokenizer.Encode(m.Role + ": " + m.Content + "\n")
		if err != nil {
			return nil, err
		}

		h := chainHash(prefixHash, m.Role, m.Content)
		if len(c.entries) < c.maxEntries {
			c.entries = append(c.entries, promptEntry{hash: h, tokenIDs: ids})
		}
		prefixHash = h

		tokenIDs = append(tokenIDs, ids...)
	}

	cue, err := tokenizer.Encode("assistant: ")
	if err != nil {
		return nil, err
	}
	tokenIDs = append(tokenIDs, cue...)

	return tokenIDs, nil
}

// Len returns the number of cached history messages
func (c *PromptCache) Len() int {
	return len(c.entries)
}

// Reset drops all cached entries
func (c *PromptCache) Reset() {
	c.entries = c.entries[:0]
}
