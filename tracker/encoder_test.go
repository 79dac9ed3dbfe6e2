package tracker

import (
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackingURL(t *testing.T) {
	sentAt := time.Date(2024, 1, 1, 10, 0, 5, 0, time.UTC)

	raw, err := TrackingURL("https://track.example.com/", "Nana Mails&Co", 12, " asha+news@example.com ", sentAt)
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "track.example.com", u.Host)
	assert.Equal(t, "/track", u.Path)

	q := u.Query()
	assert.Equal(t, "Nana Mails&Co", q.Get("sheet"))
	assert.Equal(t, "12", q.Get("row"))
	assert.Equal(t, "asha+news@example.com", q.Get("email"))
	assert.Equal(t, "1704103205", q.Get("t"))
}

func TestTrackingURLOptionalTime(t *testing.T) {
	raw, err := TrackingURL("https://track.example.com/prefix", "S", 2, "a@example.com", time.Time{})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(raw, "https://track.example.com/prefix/track?"))
	assert.NotContains(t, raw, "t=")
}

func TestTrackingURLInvalidBase(t *testing.T) {
	for _, base := range []string{"", "track.example.com", "://bad"} {
		_, err := TrackingURL(base, "S", 2, "a@example.com", time.Time{})
		assert.Error(t, err, "base %q", base)
	}
}

func TestEmbedTrackingPixel(t *testing.T) {
	const pixelURL = "https://track.example.com/track?sheet=S&row=2"

	out, err := EmbedTrackingPixel("<html><BODY><p>Hi</p></Body></html>", pixelURL)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "<html><BODY><p>Hi</p><img"))
	assert.True(t, strings.HasSuffix(out, `style="display:none;border:0;"></Body></html>`))
	// html/template escapes the ampersand inside the attribute
	assert.Contains(t, out, `src="https://track.example.com/track?sheet=S&amp;row=2"`)

	out, err = EmbedTrackingPixel("plain message", pixelURL)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "plain message<img"))
	assert.Contains(t, out, `width="1" height="1"`)

	// only the last closing tag is used
	out, err = EmbedTrackingPixel("a</body>b</body>", pixelURL)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "a</body>b<img"))
}
