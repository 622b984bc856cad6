package playback

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/MrWong99/voxqueue/pkg/provider/media"
)

func TestQueue_FIFO(t *testing.T) {
	t.Parallel()

	var q Queue
	q.Enqueue(NewUtterance(alice, "a", "", nil))
	q.Enqueue(NewTrack(alice, media.Track{Title: "b"}, nil), NewUtterance(alice, "c", "", nil))

	if q.Len() != 3 {
		t.Fatalf("Len = %d, want 3", q.Len())
	}
	for _, want := range []string{"a", "b", "c"} {
		it, ok := q.Dequeue()
		if !ok || it.Title() != want {
			t.Fatalf("Dequeue = %q, %v; want %q", it.Title(), ok, want)
		}
	}
	if _, ok := q.Dequeue(); ok {
		t.Error("Dequeue on empty queue reported ok")
	}
}

func TestQueue_ClearAndSnapshot(t *testing.T) {
	t.Parallel()

	var q Queue
	q.Enqueue(NewUtterance(alice, "a", "", nil), NewUtterance(alice, "b", "", nil))

	snap := q.Snapshot()
	snap[0] = NewUtterance(alice, "changed", "", nil)
	if it, _ := q.Dequeue(); it.Title() != "a" {
		t.Error("Snapshot aliases the queue")
	}

	if n := q.Clear(); n != 1 {
		t.Errorf("Clear = %d, want 1", n)
	}
	if q.Len() != 0 {
		t.Errorf("Len after Clear = %d", q.Len())
	}
}

func TestQueue_ConcurrentEnqueue(t *testing.T) {
	t.Parallel()

	var q Queue
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.Enqueue(NewUtterance(alice, fmt.Sprint(i), "", nil))
		}()
	}
	wg.Wait()

	seen := map[string]bool{}
	for {
		it, ok := q.Dequeue()
		if !ok {
			break
		}
		if seen[it.Title()] {
			t.Fatalf("item %s dequeued twice", it.Title())
		}
		seen[it.Title()] = true
	}
	if len(seen) != 50 {
		t.Errorf("dequeued %d items, want 50", len(seen))
	}
}

func TestItem_Title(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("xin chào ", 20)
	tests := []struct {
		name string
		item Item
		want string
	}{
		{"utterance", NewUtterance(alice, "  hello\n world ", "", nil), "hello world"},
		{"track", NewTrack(alice, media.Track{Title: "Song", URL: "https://x"}, nil), "Song"},
		{"untitled track", NewTrack(alice, media.Track{URL: "https://x/a.mp3"}, nil), "https://x/a.mp3"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.item.Title(); got != tc.want {
				t.Errorf("Title = %q, want %q", got, tc.want)
			}
		})
	}

	title := NewUtterance(alice, long, "", nil).Title()
	if n := len([]rune(title)); n != maxTitleRunes {
		t.Errorf("long title has %d runes, want %d", n, maxTitleRunes)
	}
	if !strings.HasSuffix(title, "…") {
		t.Errorf("long title %q not ellipsized", title)
	}
}

func TestItem_Accessors(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	it := NewUtterance(alice, "hi", "vi", sink)
	if it.Kind() != KindUtterance || it.Text() != "hi" || it.Language() != "vi" {
		t.Errorf("utterance = %+v", it)
	}
	if it.Requester() != alice || it.Sink() != sink {
		t.Error("requester or sink not kept")
	}

	it.notify(Notice{Kind: NoticeInfo, Message: "m"})
	got := sink.ofKind(NoticeInfo)
	if len(got) != 1 || got[0].Item.Text() != "hi" {
		t.Errorf("notice = %+v, want item attached", got)
	}

	// A nil sink is allowed.
	NewUtterance(alice, "x", "", nil).notify(Notice{})

	if KindUtterance.String() != "utterance" || KindTrack.String() != "track" || Kind(7).String() != "unknown" {
		t.Error("unexpected Kind names")
	}
}

func TestReplySinkFunc(t *testing.T) {
	t.Parallel()

	var got Notice
	var sink ReplySink = ReplySinkFunc(func(n Notice) { got = n })
	sink.Notify(Notice{Message: "ok"})
	if got.Message != "ok" {
		t.Errorf("Message = %q", got.Message)
	}
}
