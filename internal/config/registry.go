package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/voxqueue/pkg/provider/media"
	"github.com/MrWong99/voxqueue/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tts   map[string]func(ProviderEntry) (tts.Provider, error)
	media map[string]func(ProviderEntry) (media.Resolver, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		tts:   make(map[string]func(ProviderEntry) (tts.Provider, error)),
		media: make(map[string]func(ProviderEntry) (media.Resolver, error)),
	}
}

// RegisterTTS registers a TTS provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterTTS(name string, factory func(ProviderEntry) (tts.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = factory
}

// RegisterMedia registers a media resolver factory under name.
func (r *Registry) RegisterMedia(name string, factory func(ProviderEntry) (media.Resolver, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.media[name] = factory
}

// CreateTTS instantiates a TTS provider using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	r.mu.RLock()
	factory, ok := r.tts[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: tts/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateMedia instantiates a media resolver using the factory registered under entry.Name.
func (r *Registry) CreateMedia(entry ProviderEntry) (media.Resolver, error) {
	r.mu.RLock()
	factory, ok := r.media[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: media/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateMediaChain instantiates every entry in order and chains them.
// Construction errors are joined so the caller sees all of them at once.
func (r *Registry) CreateMediaChain(entries []ProviderEntry) (*media.Chain, error) {
	var (
		resolvers []media.Resolver
		errs      []error
	)
	for _, e := range entries {
		res, err := r.CreateMedia(e)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		resolvers = append(resolvers, res)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return media.NewChain(resolvers...), nil
}

// TTSNames returns the registered TTS provider names, sorted.
func (r *Registry) TTSNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tts))
	for name := range r.tts {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
