package platformclient

import (
	"context"
	"testing"
)

func TestFetchVideoMetadataFallbackIsDeterministic(t *testing.T) {
	c := New(Config{})
	m1, err := c.FetchVideoMetadata(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("FetchVideoMetadata: %v", err)
	}
	m2, _ := c.FetchVideoMetadata(context.Background(), "abc123")
	if m1 != m2 {
		t.Fatalf("fallback metadata is not deterministic: %+v vs %+v", m1, m2)
	}
}

func TestFetchChannelVideosClampsLimit(t *testing.T) {
	c := New(Config{})
	videos, err := c.FetchChannelVideos(context.Background(), "chan1", 500)
	if err != nil {
		t.Fatalf("FetchChannelVideos: %v", err)
	}
	if len(videos) != 50 {
		t.Fatalf("expected limit clamped to 50, got %d", len(videos))
	}
}

func TestInferPlatformFromURL(t *testing.T) {
	cases := map[string]string{
		"https://www.youtube.com/watch?v=x": "youtube",
		"https://youtu.be/x":                "youtube",
		"https://www.tiktok.com/@x/video/1": "tiktok",
		"https://www.instagram.com/reel/x":  "instagram",
		"https://example.com/video":         "",
	}
	for url, want := range cases {
		platform, ok := InferPlatformFromURL(url)
		if want == "" {
			if ok {
				t.Errorf("InferPlatformFromURL(%q) = %v, want not ok", url, platform)
			}
			continue
		}
		if !ok || string(platform) != want {
			t.Errorf("InferPlatformFromURL(%q) = %v, want %v", url, platform, want)
		}
	}
}
