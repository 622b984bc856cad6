package youtube

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	yt "github.com/kkdai/youtube/v2"

	"github.com/MrWong99/voxqueue/pkg/provider/media"
)

func TestMatch(t *testing.T) {
	t.Parallel()

	r := New()
	tests := map[string]bool{
		"son tung mtp":                                 true,
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ":  true,
		"https://youtu.be/dQw4w9WgXcQ":                 true,
		"https://music.youtube.com/playlist?list=PL1":  true,
		"https://example.com/song.mp3":                 false,
		"   ":                                          false,
	}
	for q, want := range tests {
		if got := r.Match(q); got != want {
			t.Errorf("Match(%q) = %v, want %v", q, got, want)
		}
	}
}

func TestIsPlaylistURL(t *testing.T) {
	t.Parallel()

	tests := map[string]bool{
		"https://www.youtube.com/playlist?list=PL123":            true,
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ&list=RD123": true,
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ":            false,
	}
	for u, want := range tests {
		if got := isPlaylistURL(u); got != want {
			t.Errorf("isPlaylistURL(%q) = %v, want %v", u, got, want)
		}
	}
}

func TestFirstVideoID(t *testing.T) {
	t.Parallel()

	page := []byte(`...{"url":"/watch?v=abcdefghijk&pp=x"}...{"videoId":"zzzzzzzzzzz"}`)
	id, ok := firstVideoID(page)
	if !ok || id != "abcdefghijk" {
		t.Errorf("firstVideoID = %q, %v; want abcdefghijk", id, ok)
	}

	id, ok = firstVideoID([]byte(`{"videoId":"zzzzzzzzzzz"}`))
	if !ok || id != "zzzzzzzzzzz" {
		t.Errorf("videoId fallback = %q, %v", id, ok)
	}

	if _, ok := firstVideoID([]byte("<html>no results</html>")); ok {
		t.Error("expected no match")
	}
}

func TestSearch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/results" {
			http.NotFound(w, r)
			return
		}
		if q := r.URL.Query().Get("search_query"); q == "nothing" {
			_, _ = w.Write([]byte("<html></html>"))
			return
		}
		_, _ = w.Write([]byte(`{"url":"/watch?v=dQw4w9WgXcQ"}`))
	}))
	defer srv.Close()

	r := New(WithBaseURL(srv.URL))
	id, err := r.search(context.Background(), "rick astley")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if id != "dQw4w9WgXcQ" {
		t.Errorf("id = %q, want dQw4w9WgXcQ", id)
	}

	if _, err := r.search(context.Background(), "nothing"); !errors.Is(err, media.ErrNotFound) {
		t.Errorf("empty search error = %v, want ErrNotFound", err)
	}
}

func TestTracksFromPlaylist(t *testing.T) {
	t.Parallel()

	pl := &yt.Playlist{
		Title: "Mix",
		Videos: []*yt.PlaylistEntry{
			{ID: "a", Title: "A", Duration: time.Minute},
			nil,
			{ID: "", Title: "deleted"},
			{ID: "b", Title: "B"},
			{ID: "c", Title: "C"},
		},
	}
	got := tracksFromPlaylist(pl, 2)
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
		t.Fatalf("tracks = %+v, want [a b]", got)
	}
	if got[0].Source != Name || got[0].Duration != time.Minute {
		t.Errorf("track = %+v", got[0])
	}
	if all := tracksFromPlaylist(pl, 0); len(all) != 3 {
		t.Errorf("unlimited tracks = %d, want 3", len(all))
	}
}

func TestPickAudioFormat(t *testing.T) {
	t.Parallel()

	formats := yt.FormatList{
		{ItagNo: 18, MimeType: `video/mp4; codecs="avc1, mp4a"`, AudioChannels: 2, Bitrate: 500000},
		{ItagNo: 140, MimeType: `audio/mp4; codecs="mp4a"`, AudioChannels: 2, Bitrate: 128000},
		{ItagNo: 251, MimeType: `audio/webm; codecs="opus"`, AudioChannels: 2, Bitrate: 160000},
		{ItagNo: 137, MimeType: `video/mp4`, Bitrate: 4000000},
	}
	f, err := pickAudioFormat(formats)
	if err != nil {
		t.Fatalf("pickAudioFormat: %v", err)
	}
	if f.ItagNo != 251 {
		t.Errorf("itag = %d, want 251", f.ItagNo)
	}

	if _, err := pickAudioFormat(yt.FormatList{{ItagNo: 137}}); err == nil {
		t.Error("expected error when no format carries audio")
	}
}
