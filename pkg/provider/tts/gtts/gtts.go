// Package gtts provides a TTS provider backed by the public Google Translate
// speech endpoint, the same service the gTTS tooling uses. It needs no API key
// and returns MP3 audio.
//
// The endpoint accepts at most [maxChunkRunes] characters per request, so
// longer utterances are split on word boundaries, synthesised one chunk at a
// time and concatenated. MP3 frames are self-delimiting, so the concatenation
// is itself a valid stream.
//
// Typical usage:
//
//	p := gtts.New(gtts.WithDefaultLanguage("vi"))
//	clip, err := p.Synthesize(ctx, tts.Request{Text: "xin chào"})
package gtts

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/MrWong99/voxqueue/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

const (
	defaultBaseURL  = "https://translate.google.com"
	defaultLanguage = "en"
	defaultTimeout  = 15 * time.Second
	speechEndpoint  = "/translate_tts"

	// maxChunkRunes is the longest text the endpoint accepts in one call.
	maxChunkRunes = 200
)

// Option is a functional option for configuring a gtts Provider.
type Option func(*Provider)

// WithBaseURL overrides the service root (used by tests).
func WithBaseURL(u string) Option {
	return func(p *Provider) {
		p.baseURL = strings.TrimRight(u, "/")
	}
}

// WithDefaultLanguage sets the language used when a request carries none.
func WithDefaultLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 15 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// Provider implements tts.Provider against the Google Translate speech endpoint.
// It is safe for concurrent use.
type Provider struct {
	baseURL    string
	language   string
	httpClient *http.Client
}

// New creates a gtts Provider.
func New(opts ...Option) *Provider {
	p := &Provider{
		baseURL:    defaultBaseURL,
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Synthesize implements tts.Provider. The whole clip is buffered before it
// is returned so a failure on any chunk fails the request as a whole.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (*tts.Clip, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	lang := req.Language
	if lang == "" {
		lang = p.language
	}

	chunks := splitText(req.Text, maxChunkRunes)
	if len(chunks) == 0 {
		return nil, tts.ErrEmptyText
	}

	var buf bytes.Buffer
	for i, chunk := range chunks {
		if err := p.fetch(ctx, &buf, chunk, lang, i, len(chunks)); err != nil {
			return nil, err
		}
	}
	return &tts.Clip{
		Audio:    io.NopCloser(&buf),
		Encoding: tts.EncodingMP3,
	}, nil
}

// fetch appends the MP3 for one chunk to dst.
func (p *Provider) fetch(ctx context.Context, dst *bytes.Buffer, text, lang string, idx, total int) error {
	params := url.Values{}
	params.Set("ie", "UTF-8")
	params.Set("client", "tw-ob")
	params.Set("q", text)
	params.Set("tl", lang)
	params.Set("idx", strconv.Itoa(idx))
	params.Set("total", strconv.Itoa(total))
	params.Set("textlen", strconv.Itoa(utf8.RuneCountInString(text)))

	reqURL := p.baseURL + speechEndpoint + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("gtts: create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")
	req.Header.Set("Referer", "https://translate.google.com/")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gtts: GET %s: %w", speechEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &tts.StatusError{Provider: "gtts", Status: resp.StatusCode}
	}
	n, err := dst.ReadFrom(resp.Body)
	if err != nil {
		return fmt.Errorf("gtts: read response: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("gtts: empty audio for chunk %d/%d", idx+1, total)
	}
	return nil
}

// splitText breaks s into chunks of at most limit runes, preferring to cut
// at whitespace. Words longer than limit are hard-split.
func splitText(s string, limit int) []string {
	var chunks []string
	var cur strings.Builder
	curLen := 0

	flush := func() {
		if t := strings.TrimSpace(cur.String()); t != "" {
			chunks = append(chunks, t)
		}
		cur.Reset()
		curLen = 0
	}

	for _, word := range strings.FieldsFunc(s, unicode.IsSpace) {
		for utf8.RuneCountInString(word) > limit {
			flush()
			r := []rune(word)
			chunks = append(chunks, string(r[:limit]))
			word = string(r[limit:])
		}
		wl := utf8.RuneCountInString(word)
		if curLen > 0 && curLen+1+wl > limit {
			flush()
		}
		if curLen > 0 {
			cur.WriteByte(' ')
			curLen++
		}
		cur.WriteString(word)
		curLen += wl
	}
	flush()
	return chunks
}
