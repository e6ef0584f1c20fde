package service

import (
	"encoding/json"
	"html"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/publome/publishing-api/internal/models"
)

func decodeJSON(resp *http.Response, v interface{}) error {
	return json.NewDecoder(resp.Body).Decode(v)
}

func GetExpiresAt(expiresIn int) time.Time {
	return time.Now().Add(time.Duration(expiresIn) * time.Second)
}

var (
	tagPattern     = regexp.MustCompile(`<[^>]*>`)
	spacesPattern  = regexp.MustCompile(`[ \t]+`)
	newlinePattern = regexp.MustCompile(`\n{3,}`)
)

// NormalizeContent converts authored rich text into the plain-text form the
// platforms accept: tags stripped, entities decoded (twice, because captions
// saved through the editor arrive double-encoded), whitespace collapsed.
func NormalizeContent(text string) string {
	text = strings.ReplaceAll(text, "<br>", "\n")
	text = strings.ReplaceAll(text, "<br/>", "\n")
	text = strings.ReplaceAll(text, "<br />", "\n")
	text = tagPattern.ReplaceAllString(text, "")
	text = html.UnescapeString(html.UnescapeString(text))
	text = spacesPattern.ReplaceAllString(text, " ")
	text = newlinePattern.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// MediaKindOf classifies an asset by its MIME type.
func MediaKindOf(fileType string) models.MediaKind {
	switch {
	case strings.HasPrefix(fileType, "video/"):
		return models.MediaKindVideo
	case strings.HasPrefix(fileType, "image/"):
		return models.MediaKindImage
	default:
		return models.MediaKindNone
	}
}
