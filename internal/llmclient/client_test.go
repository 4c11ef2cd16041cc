package llmclient

import (
	"context"
	"testing"
)

func TestTranscribeFallbackIsDeterministic(t *testing.T) {
	c := New(Config{APIKey: ""})
	t1, err := c.Transcribe(context.Background(), "audio.mp3", 60)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	t2, _ := c.Transcribe(context.Background(), "audio.mp3", 60)
	if t1.Text != t2.Text {
		t.Fatalf("fallback transcript is not deterministic: %q vs %q", t1.Text, t2.Text)
	}
	if len(t1.Segments) < 3 || len(t1.Segments) > 4 {
		t.Fatalf("expected 3-4 segments, got %d", len(t1.Segments))
	}
}

func TestAnalyzeFallbackScalesWithTranscriptLength(t *testing.T) {
	c := New(Config{})
	short, _ := c.Analyze(context.Background(), MultimodalRequest{VideoID: "v1", Transcript: Transcript{Text: "hi"}})
	long, _ := c.Analyze(context.Background(), MultimodalRequest{VideoID: "v1", Transcript: Transcript{Text: stringsRepeat("word ", 40)}})
	if long.OverallScore <= short.OverallScore {
		t.Fatalf("expected longer transcript to score higher: short=%v long=%v", short.OverallScore, long.OverallScore)
	}
}

func TestGenerateScriptsUnavailableWithoutKey(t *testing.T) {
	c := New(Config{})
	if _, err := c.GenerateScripts(context.Background(), ScriptGenerationRequest{}); err != ErrProviderUnavailable {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
}

func stringsRepeat(s string, n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += s
	}
	return out
}
