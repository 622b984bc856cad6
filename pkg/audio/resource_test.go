package audio_test

import (
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/MrWong99/voxqueue/pkg/audio"
)

func TestResource_ReleaseExactlyOnce(t *testing.T) {
	t.Parallel()

	var calls int
	var mu sync.Mutex
	errRelease := errors.New("rm failed")
	res := audio.NewResource("clip", strings.NewReader("pcm"), func() error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return errRelease
	})

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- res.Release()
		}()
	}
	wg.Wait()
	close(errs)

	var nonNil int
	for err := range errs {
		if err != nil {
			nonNil++
			if !errors.Is(err, errRelease) {
				t.Errorf("Release error = %v, want %v", err, errRelease)
			}
		}
	}
	if calls != 1 {
		t.Errorf("release func called %d times, want 1", calls)
	}
	if nonNil != 1 {
		t.Errorf("%d Release calls returned the error, want exactly 1", nonNil)
	}
	if !res.Released() {
		t.Error("Released() = false after Release")
	}
}

func TestResource_ReadAfterRelease(t *testing.T) {
	t.Parallel()

	res := audio.NewResource("clip", strings.NewReader("abcdef"), nil)
	buf := make([]byte, 3)
	if n, err := res.Read(buf); err != nil || n != 3 {
		t.Fatalf("Read = %d, %v; want 3, nil", n, err)
	}
	if err := res.Release(); err != nil {
		t.Fatalf("Release with nil func: %v", err)
	}
	if _, err := res.Read(buf); err != io.EOF {
		t.Errorf("Read after Release error = %v, want io.EOF", err)
	}
	if res.Title() != "clip" {
		t.Errorf("Title = %q, want %q", res.Title(), "clip")
	}
}

func TestIsSoleOccupant(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		occupants []string
		want      bool
	}{
		{name: "only self", occupants: []string{"bot"}, want: true},
		{name: "self and human", occupants: []string{"bot", "alice"}, want: false},
		{name: "empty", occupants: nil, want: false},
		{name: "only someone else", occupants: []string{"alice"}, want: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := audio.IsSoleOccupant(tc.occupants, "bot"); got != tc.want {
				t.Errorf("IsSoleOccupant(%v) = %v, want %v", tc.occupants, got, tc.want)
			}
		})
	}
}

func TestEventType_String(t *testing.T) {
	t.Parallel()

	if audio.EventJoin.String() != "JOIN" || audio.EventLeave.String() != "LEAVE" {
		t.Errorf("unexpected names: %s %s", audio.EventJoin, audio.EventLeave)
	}
	if audio.EventType(9).String() != "UNKNOWN" {
		t.Errorf("unknown event type name = %s", audio.EventType(9))
	}
}
