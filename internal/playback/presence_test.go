package playback

import (
	"testing"

	"github.com/MrWong99/voxqueue/pkg/audio"
	audiomock "github.com/MrWong99/voxqueue/pkg/audio/mock"
)

func TestPresenceMonitor_Check(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	if err := env.mgr.SubmitUtterance(testGuild, alice, "hi", env.sink); err != nil {
		t.Fatal(err)
	}
	conn := env.conn(t, 0)
	waitPlays(t, conn, 1)
	p := env.mgr.Registry().Presence()

	if p.Check(conn) {
		t.Error("Check signalled while a listener is present")
	}

	conn.SetOccupants("bot")
	if !p.Check(conn) {
		t.Fatal("Check did not signal when alone")
	}
	waitFor(t, "teardown", func() bool { return env.mgr.Registry().Len() == 0 })

	if p.Check(conn) {
		t.Error("Check signalled with no session registered")
	}
}

func TestPresenceMonitor_WatchRegistersCallback(t *testing.T) {
	t.Parallel()

	r := NewRegistry(SessionConfig{Logger: discardLogger()})
	conn := &audiomock.Connection{Guild: "g", Self: "bot", OccupantsResult: []string{"bot"}}
	r.Presence().Watch(conn)
	if len(conn.RecordedCallbacks) != 1 {
		t.Fatalf("callbacks = %d, want 1", len(conn.RecordedCallbacks))
	}
	// No session for the guild: the event is a no-op.
	conn.EmitEvent(audio.Event{Type: audio.EventLeave, UserID: "u"})
	if r.Len() != 0 {
		t.Error("presence created a session")
	}
}
