// Package direct provides a media resolver for plain audio URLs: files,
// internet radio streams and HLS playlists. Tracks are validated with a HEAD
// request and opened by URL, so the decoder fetches the bytes itself.
package direct

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/MrWong99/voxqueue/pkg/provider/media"
)

// Name is the resolver name used in Track.Source.
const Name = "direct"

// Compile-time interface assertion.
var _ media.Resolver = (*Resolver)(nil)

var validContentTypes = []string{
	"audio/",
	"video/",
	"application/vnd.apple.mpegurl",
	"application/x-mpegurl",
	"application/ogg",
	"application/x-scpls",
	"application/octet-stream",
}

var playlistExts = map[string]bool{".m3u": true, ".m3u8": true, ".pls": true, ".xspf": true, ".asx": true}

// Option is a functional option for configuring a Resolver.
type Option func(*Resolver)

// WithHTTPClient replaces the probing HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Resolver) {
		r.client = c
	}
}

// Resolver implements media.Resolver for direct http(s) audio links.
type Resolver struct {
	client *http.Client
}

// New creates a direct Resolver.
func New(opts ...Option) *Resolver {
	r := &Resolver{
		client: &http.Client{
			Timeout: 5 * time.Second,
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("direct: too many redirects")
				}
				return nil
			},
		},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Name implements media.Resolver.
func (r *Resolver) Name() string { return Name }

// Match implements media.Resolver. Any http(s) URL matches; content checks
// happen in Resolve.
func (r *Resolver) Match(query string) bool { return media.IsURL(query) }

// Resolve implements media.Resolver.
func (r *Resolver) Resolve(ctx context.Context, query string) (media.Result, error) {
	contentType, finalURL, err := r.inspect(ctx, query)
	if err != nil {
		return media.Result{}, err
	}
	if !isAllowedType(contentType) && !isLikelyPlaylist(finalURL) {
		return media.Result{}, fmt.Errorf("direct: %q is not an audio stream (content-type %q)", finalURL, contentType)
	}
	return media.Result{Tracks: []media.Track{{
		ID:     finalURL,
		Title:  titleFromURL(finalURL),
		URL:    finalURL,
		Source: Name,
	}}}, nil
}

// Open implements media.Resolver by handing the URL to the decoder.
func (r *Resolver) Open(_ context.Context, t media.Track) (*media.Stream, error) {
	if t.URL == "" {
		return nil, fmt.Errorf("direct: track %q has no URL", t.Title)
	}
	return &media.Stream{URL: t.URL}, nil
}

// inspect returns the content type and post-redirect URL of rawURL. Servers
// that reject HEAD are retried with GET; the body is never read, since a
// radio stream never ends.
func (r *Resolver) inspect(ctx context.Context, rawURL string) (string, string, error) {
	do := func(method string) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
		if err != nil {
			return nil, fmt.Errorf("direct: create request: %w", err)
		}
		req.Header.Set("User-Agent", "Mozilla/5.0")
		return r.client.Do(req)
	}

	resp, err := do(http.MethodHead)
	if err != nil || resp.StatusCode >= 400 {
		if resp != nil {
			resp.Body.Close()
		}
		resp, err = do(http.MethodGet)
		if err != nil {
			return "", "", fmt.Errorf("direct: inspect %s: %w", rawURL, err)
		}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", "", fmt.Errorf("direct: inspect %s: status %d", rawURL, resp.StatusCode)
	}
	return resp.Header.Get("Content-Type"), resp.Request.URL.String(), nil
}

func isAllowedType(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	for _, allowed := range validContentTypes {
		if strings.HasPrefix(mt, allowed) {
			return true
		}
	}
	return false
}

func isLikelyPlaylist(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return playlistExts[strings.ToLower(path.Ext(u.Path))]
}

// titleFromURL uses the last path segment, falling back to the host.
func titleFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	if base := path.Base(u.Path); base != "/" && base != "." {
		if unescaped, err := url.PathUnescape(base); err == nil {
			return unescaped
		}
		return base
	}
	return u.Host
}
