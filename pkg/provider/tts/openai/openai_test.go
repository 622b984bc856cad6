package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/voxqueue/pkg/provider/tts"
)

// TestNew_DefaultModel verifies that an empty model string defaults to DefaultModel.
func TestNew_DefaultModel(t *testing.T) {
	p, err := New("sk-test", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ModelID() != DefaultModel {
		t.Errorf("expected default model %s, got %s", DefaultModel, p.ModelID())
	}
	if p.voice != string(DefaultVoice) {
		t.Errorf("expected default voice %s, got %s", DefaultVoice, p.voice)
	}
}

func TestNew_EmptyAPIKey(t *testing.T) {
	if _, err := New("", ""); err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestNew_SpeedOutOfRange(t *testing.T) {
	if _, err := New("sk-test", "", WithSpeed(5)); err == nil {
		t.Error("expected error for speed 5")
	}
}

func TestBuildParams_Optional(t *testing.T) {
	p, err := New("sk-test", "tts-1", WithInstructions("calm"), WithSpeed(1.5))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	params := p.buildParams("hello", "nova")
	if params.Input != "hello" || params.Model != "tts-1" || string(params.Voice) != "nova" {
		t.Errorf("unexpected params: %+v", params)
	}
	if !params.Instructions.Valid() || params.Instructions.Value != "calm" {
		t.Errorf("instructions not set: %v", params.Instructions)
	}
	if !params.Speed.Valid() || params.Speed.Value != 1.5 {
		t.Errorf("speed not set: %v", params.Speed)
	}

	bare, _ := New("sk-test", "")
	if bp := bare.buildParams("x", "alloy"); bp.Instructions.Valid() || bp.Speed.Valid() {
		t.Error("optional fields should be omitted when unset")
	}
}

func TestSynthesize_ReturnsPCMClip(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/speech" {
			t.Errorf("path = %s, want /v1/audio/speech", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = io.WriteString(w, "pcmdata")
	}))
	defer srv.Close()

	p, err := New("sk-test", "", WithBaseURL(srv.URL+"/v1"), WithVoice("echo"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	clip, err := p.Synthesize(context.Background(), tts.Request{Text: "xin chào", Language: "vi"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	defer clip.Audio.Close()

	got, _ := io.ReadAll(clip.Audio)
	if string(got) != "pcmdata" {
		t.Errorf("audio = %q, want pcmdata", got)
	}
	if clip.Encoding != tts.EncodingPCM || clip.Format != pcmFormat {
		t.Errorf("clip = %s %v, want pcm %v", clip.Encoding, clip.Format, pcmFormat)
	}
	if body["voice"] != "echo" || body["response_format"] != "pcm" || body["input"] != "xin chào" {
		t.Errorf("unexpected request body: %v", body)
	}
}
