package discord

import (
	"cmp"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"unicode"

	"github.com/bwmarrin/discordgo"
)

// PrefixFunc handles one text command. args is everything after the
// command word, trimmed.
type PrefixFunc func(r Responder, m *discordgo.MessageCreate, args string)

// PrefixFallback is consulted for command words with no registered
// handler. It reports whether it handled the message.
type PrefixFallback func(r Responder, m *discordgo.MessageCreate, word, args string) bool

// PrefixRouter dispatches guild text messages such as "h!play lofi" to
// registered handlers. Command words are matched case-insensitively.
type PrefixRouter struct {
	mu       sync.RWMutex
	prefixes []string
	handlers map[string]PrefixFunc
	fallback PrefixFallback
}

// NewPrefixRouter creates a router for the given prefixes. Longer prefixes
// are tried first so "hh!" is not shadowed by "h".
func NewPrefixRouter(prefixes []string) *PrefixRouter {
	p := make([]string, 0, len(prefixes))
	for _, pre := range prefixes {
		if pre != "" {
			p = append(p, pre)
		}
	}
	slices.SortStableFunc(p, func(a, b string) int { return cmp.Compare(len(b), len(a)) })
	return &PrefixRouter{
		prefixes: p,
		handlers: make(map[string]PrefixFunc),
	}
}

// Register binds a command word to a handler.
func (r *PrefixRouter) Register(word string, h PrefixFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[strings.ToLower(word)] = h
}

// Words returns the registered command words, sorted.
func (r *PrefixRouter) Words() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.handlers))
}

// SetFallback installs the handler for unregistered command words.
func (r *PrefixRouter) SetFallback(f PrefixFallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = f
}

// Parse splits content into command word and arguments. ok is false when
// content does not start with a known prefix or has no command word.
func (r *PrefixRouter) Parse(content string) (word, args string, ok bool) {
	for _, pre := range r.prefixes {
		rest, found := strings.CutPrefix(content, pre)
		if !found {
			continue
		}
		rest = strings.TrimLeftFunc(rest, unicode.IsSpace)
		word, args = rest, ""
		if i := strings.IndexFunc(rest, unicode.IsSpace); i >= 0 {
			word, args = rest[:i], rest[i:]
		}
		if word == "" {
			return "", "", false
		}
		return strings.ToLower(word), strings.TrimSpace(args), true
	}
	return "", "", false
}

// Handle dispatches a MessageCreate event. Messages from bots, direct
// messages and messages without a prefix are ignored.
func (r *PrefixRouter) Handle(resp Responder, m *discordgo.MessageCreate) {
	if m.Message == nil || m.Author == nil || m.Author.Bot || m.GuildID == "" {
		return
	}
	word, args, ok := r.Parse(m.Content)
	if !ok {
		return
	}

	r.mu.RLock()
	h, found := r.handlers[word]
	fallback := r.fallback
	r.mu.RUnlock()

	if found {
		h(resp, m, args)
		return
	}
	if fallback != nil && fallback(resp, m, word, args) {
		return
	}
	slog.Debug("discord: unknown prefix command", "word", word, "guild_id", m.GuildID)
}
