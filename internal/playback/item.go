package playback

import (
	"strings"
	"unicode/utf8"

	"github.com/MrWong99/voxqueue/pkg/provider/media"
)

// Kind tags a [Item] as speech or media.
type Kind int

const (
	// KindUtterance is text to be synthesized and spoken.
	KindUtterance Kind = iota

	// KindTrack is externally resolved media.
	KindTrack
)

// String returns the lowercase kind name used in logs and metrics.
func (k Kind) String() string {
	switch k {
	case KindUtterance:
		return "utterance"
	case KindTrack:
		return "track"
	default:
		return "unknown"
	}
}

// Requester identifies who asked for an item.
type Requester struct {
	// UserID is the platform user ID.
	UserID string

	// DisplayName is shown in notifications only.
	DisplayName string

	// ChannelID is the voice channel the requester is in. The session joins
	// it when it has no connection yet.
	ChannelID string
}

// NoticeKind classifies a [Notice].
type NoticeKind int

const (
	// NoticeStarted is sent when an item starts playing.
	NoticeStarted NoticeKind = iota

	// NoticeFailed is sent when an item could not be resolved or played, or
	// when the session lost its connection.
	NoticeFailed

	// NoticeInfo carries any other session message.
	NoticeInfo
)

// Notice is a one-shot user-facing notification.
type Notice struct {
	Kind NoticeKind

	// GuildID is the tenant the notice is about.
	GuildID string

	// Item is the item concerned. Zero for session-level notices.
	Item Item

	// Err is set for NoticeFailed.
	Err error

	// Message is a human-readable summary.
	Message string
}

// ReplySink is where notifications for an item are delivered.
// Notify must not block; implementations hand the notice off and return.
type ReplySink interface {
	Notify(Notice)
}

// ReplySinkFunc adapts a function to [ReplySink].
type ReplySinkFunc func(Notice)

// Notify implements [ReplySink].
func (f ReplySinkFunc) Notify(n Notice) { f(n) }

// maxTitleRunes bounds how much utterance text is used as a title.
const maxTitleRunes = 60

// Item is one queued playback request. Items are values with unexported
// fields so they cannot be changed once built.
type Item struct {
	kind      Kind
	text      string
	language  string
	track     media.Track
	requester Requester
	sink      ReplySink
}

// NewUtterance builds a speech item. An empty language means the session
// default.
func NewUtterance(req Requester, text, language string, sink ReplySink) Item {
	return Item{
		kind:      KindUtterance,
		text:      text,
		language:  language,
		requester: req,
		sink:      sink,
	}
}

// NewTrack builds a media item from a looked-up track.
func NewTrack(req Requester, t media.Track, sink ReplySink) Item {
	return Item{
		kind:      KindTrack,
		track:     t,
		requester: req,
		sink:      sink,
	}
}

// Kind returns the item's kind.
func (it Item) Kind() Kind { return it.kind }

// Text returns the utterance text. Empty for tracks.
func (it Item) Text() string { return it.text }

// Language returns the requested synthesis language, possibly empty.
func (it Item) Language() string { return it.language }

// Track returns the media reference. Zero for utterances.
func (it Item) Track() media.Track { return it.track }

// Requester returns who asked for the item.
func (it Item) Requester() Requester { return it.requester }

// Sink returns the item's reply destination, possibly nil.
func (it Item) Sink() ReplySink { return it.sink }

// Title returns a display title: the track title, or the (shortened)
// utterance text.
func (it Item) Title() string {
	if it.kind == KindTrack {
		if it.track.Title != "" {
			return it.track.Title
		}
		return it.track.URL
	}
	text := strings.Join(strings.Fields(it.text), " ")
	if utf8.RuneCountInString(text) <= maxTitleRunes {
		return text
	}
	r := []rune(text)
	return string(r[:maxTitleRunes-1]) + "…"
}

// notify delivers n to the item's sink, if any.
func (it Item) notify(n Notice) {
	if it.sink == nil {
		return
	}
	n.Item = it
	it.sink.Notify(n)
}
