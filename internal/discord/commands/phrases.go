package commands

import (
	"maps"
	"slices"
	"strings"
	"sync"
)

// PhraseBook holds the named speech presets. It is swapped as a whole when
// the configuration is reloaded.
type PhraseBook struct {
	mu      sync.RWMutex
	phrases map[string]string
}

// NewPhraseBook creates a PhraseBook with the given presets.
func NewPhraseBook(phrases map[string]string) *PhraseBook {
	b := &PhraseBook{}
	b.Set(phrases)
	return b
}

// Set replaces every preset. Names are matched case-insensitively.
func (b *PhraseBook) Set(phrases map[string]string) {
	m := make(map[string]string, len(phrases))
	for name, text := range phrases {
		m[strings.ToLower(name)] = text
	}
	b.mu.Lock()
	b.phrases = m
	b.mu.Unlock()
}

// Get returns the text of the named preset.
func (b *PhraseBook) Get(name string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	text, ok := b.phrases[strings.ToLower(name)]
	return text, ok
}

// Names returns the preset names in sorted order.
func (b *PhraseBook) Names() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Sorted(maps.Keys(b.phrases))
}
