package blog

import (
	"bytes"
	"html"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
)

// excerptLength is the number of characters kept from the rendered post
const excerptLength = 200

var tagPattern = regexp.MustCompile(`<[^>]*>`)

var markdown = goldmark.New()

// Excerpt renders md and keeps the first excerptLength characters of its text
func Excerpt(md []byte) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert(md, &buf); err != nil {
		return "", err
	}

	text := html.UnescapeString(tagPattern.ReplaceAllString(buf.String(), ""))
	text = strings.TrimSpace(text)

	runes := []rune(text)
	if len(runes) < excerptLength {
		return text, nil
	}
	return string(runes[:excerptLength]) + "…", nil
}

// ReadTime estimates minutes of reading at 200 words per minute, at least one
func ReadTime(md string) int {
	words := len(strings.Fields(md))
	minutes := (words + 100) / 200
	if minutes < 1 {
		return 1
	}
	return minutes
}

var nonSlugChars = regexp.MustCompile(`[^a-z0-9\-]+`)

// Slugify lowercases s and collapses everything but letters, digits and
// dashes into single dashes
func Slugify(s string) string {
	slug := nonSlugChars.ReplaceAllString(strings.ToLower(s), "-")
	return strings.Trim(slug, "-")
}
