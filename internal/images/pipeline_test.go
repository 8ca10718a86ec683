package images

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDownloadBackoffLadder(t *testing.T) {
	require.Equal(t, time.Second, downloadBackoff(1))
	require.Equal(t, 2*time.Second, downloadBackoff(2))
	require.Equal(t, 4*time.Second, downloadBackoff(3))
}

func TestCleanURLIdempotent(t *testing.T) {
	cases := []string{
		"https://example.com/a.png).",
		"https://example.com/a.png",
		"https://example.com/a.png!?",
		"  https://example.com/a.png  ",
	}
	for _, s := range cases {
		once := CleanURL(s)
		twice := CleanURL(once)
		require.Equal(t, once, twice, "CleanURL not idempotent for %q", s)
	}
}

func TestDeduplicatePreservesFirstSeenOrder(t *testing.T) {
	urls := []string{
		"https://a.com/x.png",
		"https://a.com/x.png?cachebust=1",
		"https://b.com/y.png",
		"https://a.com/x.png",
	}
	once := Deduplicate(urls)
	require.Equal(t, []string{"https://a.com/x.png", "https://b.com/y.png"}, once)

	twice := Deduplicate(once)
	require.Equal(t, once, twice)
}

func TestIsProblematicFlagsSignedURLs(t *testing.T) {
	require.True(t, IsProblematic("https://oaidalleapiprodscus.blob.core.windows.net/private/abc?sig=xyz"))
	require.True(t, IsProblematic("https://cdn.example.com/a.png?token=abc123"))
	require.False(t, IsProblematic("https://example.com/a.png"))
}

func TestRescueBase64AssetsIsIdempotent(t *testing.T) {
	pipeline := NewPipeline(Config{Blobs: newFakeBlobStore()})

	raw := []byte(`{"assets":[{"encoding":"base64","content_type":"image/png","data":"aGVsbG8="}]}`)

	rewritten, urls, err := pipeline.RescueBase64Assets(context.Background(), raw, "tenant", "job")
	require.NoError(t, err)
	require.Len(t, urls, 1)

	rewritten2, urls2, err := pipeline.RescueBase64Assets(context.Background(), rewritten, "tenant", "job")
	require.NoError(t, err)
	require.Empty(t, urls2)
	require.Equal(t, rewritten, rewritten2)
}
