// Package media defines the Resolver interface for media lookup backends.
//
// A resolver turns a user query (a URL or free text) into one or more
// [Track] values, and later opens a [Stream] for a track so it can be
// transcoded and played. Lookup and opening are separate steps: lookup runs
// when a request is submitted (so playlists can be expanded into individual
// queue entries), opening runs only when the track reaches the head of the
// queue.
//
// Implementations must be safe for concurrent use.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a query matches nothing.
	ErrNotFound = errors.New("media: no results")

	// ErrUnsupported is returned when no resolver accepts a query or track.
	ErrUnsupported = errors.New("media: unsupported query")
)

// Track is a resolved, not yet opened, piece of media.
type Track struct {
	// ID is the resolver-specific identifier (e.g. a YouTube video ID).
	ID string

	// Title is the display title.
	Title string

	// Author is the uploader or artist, if known.
	Author string

	// URL is a canonical link to the track.
	URL string

	// Duration is zero when unknown (e.g. live radio).
	Duration time.Duration

	// Source names the resolver that produced the track; [Chain] uses it to
	// route [Resolver.Open].
	Source string
}

// Result is the outcome of a lookup. A non-empty Playlist marks a playlist
// result whose Tracks are in playlist order.
type Result struct {
	Tracks   []Track
	Playlist string
}

// IsPlaylist reports whether the result came from a playlist.
func (r Result) IsPlaylist() bool { return r.Playlist != "" }

// Stream is an opened track. Exactly one of Body and URL is set: Body when
// the resolver fetched the bytes itself, URL when the decoder should fetch
// them directly.
type Stream struct {
	Body io.ReadCloser
	URL  string
}

// Close releases Body, if any.
func (s *Stream) Close() error {
	if s == nil || s.Body == nil {
		return nil
	}
	return s.Body.Close()
}

// Resolver is the abstraction over any media lookup backend.
type Resolver interface {
	// Name identifies the resolver in Track.Source and configuration.
	Name() string

	// Match reports whether the resolver can handle query.
	Match(query string) bool

	// Resolve looks query up. Returns [ErrNotFound] when nothing matches.
	Resolve(ctx context.Context, query string) (Result, error)

	// Open starts fetching the audio of t. ctx bounds the whole lifetime of
	// the returned stream, not just the call.
	Open(ctx context.Context, t Track) (*Stream, error)
}

// IsURL reports whether s looks like an http(s) URL.
func IsURL(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// Chain tries resolvers in order. The first resolver that matches a query
// and resolves it successfully wins.
type Chain struct {
	resolvers []Resolver
}

// Compile-time interface assertion.
var _ Resolver = (*Chain)(nil)

// NewChain creates a Chain over resolvers.
func NewChain(resolvers ...Resolver) *Chain {
	return &Chain{resolvers: resolvers}
}

// Name implements Resolver.
func (c *Chain) Name() string { return "chain" }

// Match reports whether any resolver in the chain matches query.
func (c *Chain) Match(query string) bool {
	for _, r := range c.resolvers {
		if r.Match(query) {
			return true
		}
	}
	return false
}

// Resolve implements Resolver. Tracks without a Source are stamped with the
// name of the resolver that produced them.
func (c *Chain) Resolve(ctx context.Context, query string) (Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Result{}, fmt.Errorf("%w: empty query", ErrNotFound)
	}
	var errs []error
	for _, r := range c.resolvers {
		if !r.Match(query) {
			continue
		}
		res, err := r.Resolve(ctx, query)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Name(), err))
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if len(res.Tracks) == 0 {
			errs = append(errs, fmt.Errorf("%s: %w", r.Name(), ErrNotFound))
			continue
		}
		for i := range res.Tracks {
			if res.Tracks[i].Source == "" {
				res.Tracks[i].Source = r.Name()
			}
		}
		return res, nil
	}
	if len(errs) == 0 {
		return Result{}, fmt.Errorf("%w: %q", ErrUnsupported, query)
	}
	return Result{}, errors.Join(errs...)
}

// Open implements Resolver by routing to the resolver named in t.Source.
func (c *Chain) Open(ctx context.Context, t Track) (*Stream, error) {
	for _, r := range c.resolvers {
		if r.Name() == t.Source {
			return r.Open(ctx, t)
		}
	}
	return nil, fmt.Errorf("%w: no resolver named %q", ErrUnsupported, t.Source)
}
