package tracker

import (
	"bytes"
	"fmt"
	"html/template"
	"net/url"
	"strconv"
	"strings"
	"time"
)

var pixelTemplate = template.Must(template.New("pixel").Parse(
	`<img src="{{.URL}}" width="1" height="1" alt="" style="display:none;border:0;">`))

// TrackingURL builds the pixel reference for one row. sentAt is carried as the
// optional t parameter; a zero time omits it.
func TrackingURL(baseURL, sheet string, row int, email string, sentAt time.Time) (string, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return "", fmt.Errorf("invalid tracking base url %q", baseURL)
	}
	base.Path = strings.TrimRight(base.Path, "/") + "/track"

	q := url.Values{}
	q.Set("sheet", sheet)
	q.Set("row", strconv.Itoa(row))
	q.Set("email", strings.TrimSpace(email))
	if !sentAt.IsZero() {
		q.Set("t", strconv.FormatInt(sentAt.Unix(), 10))
	}
	base.RawQuery = q.Encode()
	return base.String(), nil
}

// EmbedTrackingPixel places the pixel right before the last closing body tag,
// or appends it when the content has none.
func EmbedTrackingPixel(emailContent, trackingURL string) (string, error) {
	var pixelHTML bytes.Buffer
	if err := pixelTemplate.Execute(&pixelHTML, struct{ URL string }{URL: trackingURL}); err != nil {
		return "", fmt.Errorf("failed to execute tracking template: %w", err)
	}

	if i := lastIndexFold(emailContent, "</body>"); i >= 0 {
		return emailContent[:i] + pixelHTML.String() + emailContent[i:], nil
	}
	return emailContent + pixelHTML.String(), nil
}

// lastIndexFold is strings.LastIndex with ASCII case folding. It keeps byte
// offsets of s intact, which lowercasing the whole string would not.
func lastIndexFold(s, substr string) int {
	for i := len(s) - len(substr); i >= 0; i-- {
		if strings.EqualFold(s[i:i+len(substr)], substr) {
			return i
		}
	}
	return -1
}
