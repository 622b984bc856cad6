// Package youtube provides a media resolver for YouTube videos, playlists and
// free-text searches, backed by github.com/kkdai/youtube/v2.
//
// Free text is looked up on the YouTube results page and the first video is
// taken, the same way a user typing into the search box would. Playlist URLs
// (anything carrying a list= parameter) expand into one track per entry.
package youtube

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	yt "github.com/kkdai/youtube/v2"

	"github.com/MrWong99/voxqueue/pkg/provider/media"
)

// Name is the resolver name used in Track.Source.
const Name = "youtube"

const (
	defaultBaseURL     = "https://www.youtube.com"
	defaultMaxPlaylist = 100
	defaultTimeout     = 15 * time.Second
	watchURLFmt        = "https://www.youtube.com/watch?v=%s"
)

// Compile-time interface assertion.
var _ media.Resolver = (*Resolver)(nil)

var (
	watchURLPattern = regexp.MustCompile(`"url":"/watch\?v=([a-zA-Z0-9_-]{11})`)
	videoIDPattern  = regexp.MustCompile(`"videoId":"([a-zA-Z0-9_-]{11})"`)
)

var youtubeHosts = []string{"youtube.com", "www.youtube.com", "m.youtube.com", "music.youtube.com", "youtu.be"}

// Option is a functional option for configuring a Resolver.
type Option func(*Resolver)

// WithBaseURL overrides the site root used for searches (used by tests).
func WithBaseURL(u string) Option {
	return func(r *Resolver) {
		r.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient sets the HTTP client for both searches and the kkdai client.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Resolver) {
		r.httpClient = c
	}
}

// WithMaxPlaylist caps how many playlist entries become tracks.
func WithMaxPlaylist(n int) Option {
	return func(r *Resolver) {
		r.maxPlaylist = n
	}
}

// Resolver implements media.Resolver for YouTube.
type Resolver struct {
	client      *yt.Client
	httpClient  *http.Client
	baseURL     string
	maxPlaylist int
}

// New creates a YouTube Resolver.
func New(opts ...Option) *Resolver {
	r := &Resolver{
		httpClient:  &http.Client{Timeout: defaultTimeout},
		baseURL:     defaultBaseURL,
		maxPlaylist: defaultMaxPlaylist,
	}
	for _, o := range opts {
		o(r)
	}
	r.client = &yt.Client{HTTPClient: r.httpClient}
	return r
}

// Name implements media.Resolver.
func (r *Resolver) Name() string { return Name }

// Match implements media.Resolver. Free text and YouTube URLs match.
func (r *Resolver) Match(query string) bool {
	if !media.IsURL(query) {
		return strings.TrimSpace(query) != ""
	}
	u, err := url.Parse(strings.TrimSpace(query))
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, h := range youtubeHosts {
		if host == h {
			return true
		}
	}
	return false
}

// Resolve implements media.Resolver.
func (r *Resolver) Resolve(ctx context.Context, query string) (media.Result, error) {
	query = strings.TrimSpace(query)
	switch {
	case media.IsURL(query) && isPlaylistURL(query):
		return r.resolvePlaylist(ctx, query)
	case media.IsURL(query):
		v, err := r.client.GetVideoContext(ctx, query)
		if err != nil {
			return media.Result{}, fmt.Errorf("youtube: get video: %w", err)
		}
		return media.Result{Tracks: []media.Track{trackFromVideo(v)}}, nil
	default:
		id, err := r.search(ctx, query)
		if err != nil {
			return media.Result{}, err
		}
		v, err := r.client.GetVideoContext(ctx, id)
		if err != nil {
			return media.Result{}, fmt.Errorf("youtube: get video %s: %w", id, err)
		}
		return media.Result{Tracks: []media.Track{trackFromVideo(v)}}, nil
	}
}

func (r *Resolver) resolvePlaylist(ctx context.Context, query string) (media.Result, error) {
	pl, err := r.client.GetPlaylistContext(ctx, query)
	if err != nil {
		return media.Result{}, fmt.Errorf("youtube: get playlist: %w", err)
	}
	tracks := tracksFromPlaylist(pl, r.maxPlaylist)
	if len(tracks) == 0 {
		return media.Result{}, fmt.Errorf("youtube: playlist %q: %w", pl.Title, media.ErrNotFound)
	}
	title := pl.Title
	if title == "" {
		title = pl.ID
	}
	return media.Result{Tracks: tracks, Playlist: title}, nil
}

// Open implements media.Resolver. The best audio-only format is preferred;
// muxed formats are the fallback.
func (r *Resolver) Open(ctx context.Context, t media.Track) (*media.Stream, error) {
	v, err := r.client.GetVideoContext(ctx, t.ID)
	if err != nil {
		return nil, fmt.Errorf("youtube: get video %s: %w", t.ID, err)
	}
	f, err := pickAudioFormat(v.Formats)
	if err != nil {
		return nil, fmt.Errorf("youtube: %s: %w", t.ID, err)
	}
	body, _, err := r.client.GetStreamContext(ctx, v, f)
	if err != nil {
		return nil, fmt.Errorf("youtube: open stream %s: %w", t.ID, err)
	}
	return &media.Stream{Body: body}, nil
}

// search returns the first video ID on the results page for query.
func (r *Resolver) search(ctx context.Context, query string) (string, error) {
	searchURL := fmt.Sprintf("%s/results?search_query=%s", r.baseURL, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return "", fmt.Errorf("youtube: create search request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")
	req.Header.Set("Accept-Language", "en")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("youtube: search: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("youtube: search: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("youtube: read search page: %w", err)
	}
	id, ok := firstVideoID(body)
	if !ok {
		return "", fmt.Errorf("youtube: search %q: %w", query, media.ErrNotFound)
	}
	return id, nil
}

// firstVideoID extracts the first result from a results page.
func firstVideoID(page []byte) (string, bool) {
	for _, re := range []*regexp.Regexp{watchURLPattern, videoIDPattern} {
		if m := re.FindSubmatch(page); len(m) > 1 {
			return string(m[1]), true
		}
	}
	return "", false
}

// isPlaylistURL reports whether the URL names a playlist.
func isPlaylistURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Query().Get("list") != "" || strings.Contains(u.Path, "playlist")
}

func trackFromVideo(v *yt.Video) media.Track {
	return media.Track{
		ID:       v.ID,
		Title:    v.Title,
		Author:   v.Author,
		URL:      fmt.Sprintf(watchURLFmt, v.ID),
		Duration: v.Duration,
		Source:   Name,
	}
}

func tracksFromPlaylist(pl *yt.Playlist, limit int) []media.Track {
	tracks := make([]media.Track, 0, min(len(pl.Videos), max(limit, 0)))
	for _, e := range pl.Videos {
		if e == nil || e.ID == "" {
			continue
		}
		if limit > 0 && len(tracks) >= limit {
			break
		}
		tracks = append(tracks, media.Track{
			ID:       e.ID,
			Title:    e.Title,
			Author:   e.Author,
			URL:      fmt.Sprintf(watchURLFmt, e.ID),
			Duration: e.Duration,
			Source:   Name,
		})
	}
	return tracks
}

// pickAudioFormat chooses the highest-bitrate format carrying audio,
// preferring audio-only formats.
func pickAudioFormat(formats yt.FormatList) (*yt.Format, error) {
	withAudio := formats.WithAudioChannels()
	if len(withAudio) == 0 {
		return nil, errors.New("no audio formats")
	}
	candidates := withAudio.Select(func(f yt.Format) bool {
		return strings.HasPrefix(f.MimeType, "audio/")
	})
	if len(candidates) == 0 {
		candidates = withAudio
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Bitrate > candidates[j].Bitrate
	})
	return &candidates[0], nil
}
