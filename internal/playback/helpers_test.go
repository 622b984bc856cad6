package playback

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voxqueue/pkg/audio"
	audiomock "github.com/MrWong99/voxqueue/pkg/audio/mock"
	"github.com/MrWong99/voxqueue/pkg/provider/media"
	mediamock "github.com/MrWong99/voxqueue/pkg/provider/media/mock"
)

const testGuild = "guild-1"

var alice = Requester{UserID: "u-alice", DisplayName: "alice", ChannelID: "voice-1"}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// fakeOpener hands out small in-memory resources and counts acquisitions
// and releases. Titles listed in fail return that error; titles listed in
// block wait for their context to end.
type fakeOpener struct {
	mu sync.Mutex

	fail  map[string]error
	block map[string]bool

	order    []string
	opened   int
	released int
	live     int
	maxLive  int
}

func (o *fakeOpener) Open(ctx context.Context, _ string, it Item) (*audio.Resource, error) {
	title := it.Title()
	o.mu.Lock()
	o.order = append(o.order, title)
	o.live++
	o.maxLive = max(o.maxLive, o.live)
	err := o.fail[title]
	block := o.block[title]
	o.mu.Unlock()

	if block {
		<-ctx.Done()
		err = ctx.Err()
	}
	if err != nil {
		o.mu.Lock()
		o.live--
		o.mu.Unlock()
		return nil, err
	}

	o.mu.Lock()
	o.opened++
	o.mu.Unlock()
	pcm := bytes.NewReader(make([]byte, audio.FrameBytes))
	return audio.NewResource(title, pcm, func() error {
		o.mu.Lock()
		defer o.mu.Unlock()
		o.released++
		o.live--
		return nil
	}), nil
}

func (o *fakeOpener) counts() (opened, released int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opened, o.released
}

func (o *fakeOpener) calls() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.order...)
}

func (o *fakeOpener) setBlock(title string, block bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.block == nil {
		o.block = map[string]bool{}
	}
	o.block[title] = block
}

// recordingSink collects notices.
type recordingSink struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *recordingSink) Notify(n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

func (r *recordingSink) ofKind(k NoticeKind) []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Notice
	for _, n := range r.notices {
		if n.Kind == k {
			out = append(out, n)
		}
	}
	return out
}

type testEnv struct {
	mgr      *Manager
	platform *audiomock.Platform
	opener   *fakeOpener
	resolver *mediamock.Resolver
	sink     *recordingSink
}

func newTestEnv(t *testing.T, tweak func(*ManagerConfig)) *testEnv {
	t.Helper()
	env := &testEnv{
		platform: &audiomock.Platform{},
		opener:   &fakeOpener{},
		resolver: &mediamock.Resolver{Results: map[string]media.Result{}},
		sink:     &recordingSink{},
	}
	cfg := ManagerConfig{
		SessionConfig: SessionConfig{
			Platform:    env.platform,
			Opener:      env.opener,
			Logger:      discardLogger(),
			IdleTimeout: -1,
		},
		Resolver: env.resolver,
	}
	if tweak != nil {
		tweak(&cfg)
	}
	env.mgr = NewManager(cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = env.mgr.Shutdown(ctx)
	})
	return env
}

// addTrack registers a lookup result for query.
func (e *testEnv) addTrack(query, id, title string) {
	e.resolver.Results[query] = media.Result{Tracks: []media.Track{{ID: id, Title: title, Source: "mock"}}}
}

// conn waits for the i'th voice connection and returns it.
func (e *testEnv) conn(t *testing.T, i int) *audiomock.Connection {
	t.Helper()
	waitFor(t, "voice connection", func() bool { return len(e.platform.Conns()) > i })
	return e.platform.Conns()[i]
}

// waitPlays waits until conn has been asked to play n resources.
func waitPlays(t *testing.T, conn *audiomock.Connection, n int) []*audio.Resource {
	t.Helper()
	waitFor(t, "playback to start", func() bool {
		return len(conn.Plays()) >= n && conn.Playing()
	})
	return conn.Plays()
}

func (e *testEnv) state(t *testing.T) State {
	t.Helper()
	s, ok := e.mgr.Registry().Get(testGuild)
	if !ok {
		return StateTerminating
	}
	return s.State()
}
