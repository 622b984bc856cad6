// Package mock provides a test double for the media.Resolver interface.
//
// Results and errors are scripted per query or per track ID:
//
//	r := &mock.Resolver{
//	    Results: map[string]media.Result{
//	        "song-A": {Tracks: []media.Track{{ID: "a", Title: "Song A"}}},
//	    },
//	    OpenErrors: map[string]error{"bad": errors.New("410 gone")},
//	}
package mock

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/MrWong99/voxqueue/pkg/provider/media"
)

// Resolver is a mock implementation of media.Resolver.
type Resolver struct {
	mu sync.Mutex

	// NameResult is returned by Name. Defaults to "mock".
	NameResult string

	// MatchAll makes Match accept every query; otherwise only keys of
	// Results and ResolveErrors match.
	MatchAll bool

	// Results maps a query to its lookup result.
	Results map[string]media.Result

	// ResolveErrors maps a query to a lookup error.
	ResolveErrors map[string]error

	// OpenErrors maps a track ID to an open error.
	OpenErrors map[string]error

	// Body is the payload of every opened stream.
	Body []byte

	// ResolveCalls and OpenCalls record arguments in call order.
	ResolveCalls []string
	OpenCalls    []media.Track
}

// Name implements media.Resolver.
func (r *Resolver) Name() string {
	if r.NameResult == "" {
		return "mock"
	}
	return r.NameResult
}

// Match implements media.Resolver.
func (r *Resolver) Match(query string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.MatchAll {
		return true
	}
	_, ok := r.Results[query]
	_, bad := r.ResolveErrors[query]
	return ok || bad
}

// Resolve implements media.Resolver.
func (r *Resolver) Resolve(_ context.Context, query string) (media.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ResolveCalls = append(r.ResolveCalls, query)
	if err, ok := r.ResolveErrors[query]; ok {
		return media.Result{}, err
	}
	res, ok := r.Results[query]
	if !ok {
		return media.Result{}, media.ErrNotFound
	}
	return res, nil
}

// Open implements media.Resolver.
func (r *Resolver) Open(ctx context.Context, t media.Track) (*media.Stream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.OpenCalls = append(r.OpenCalls, t)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err, ok := r.OpenErrors[t.ID]; ok {
		return nil, err
	}
	return &media.Stream{Body: io.NopCloser(bytes.NewReader(r.Body))}, nil
}

// OpenCount returns the number of Open calls under the lock.
func (r *Resolver) OpenCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.OpenCalls)
}
