// Package blog turns a folder of markdown posts into the files the site
// serves: the post index, an RSS feed and a sitemap.
package blog

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// dateLayout is the date format of the index and of the mtime fallback
const dateLayout = "2006-01-02"

var dateLayouts = []string{
	dateLayout,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// Post is one entry of index.json
type Post struct {
	Title       string   `json:"title"`
	Date        string   `json:"date"`
	Tags        []string `json:"tags"`
	Description string   `json:"description"`
	File        string   `json:"file"`
	Slug        string   `json:"slug"`
	Draft       bool     `json:"draft"`
}

// Time parses Date. Unknown formats yield the zero time.
func (p Post) Time() time.Time {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, p.Date); err == nil {
			return t
		}
	}
	return time.Time{}
}

// frontmatter is the YAML header of a post
type frontmatter struct {
	Title       string     `yaml:"title"`
	Date        string     `yaml:"date"`
	Tags        stringList `yaml:"tags"`
	Description string     `yaml:"description"`
	Slug        string     `yaml:"slug"`
	Draft       bool       `yaml:"draft"`
}

// stringList accepts both a YAML sequence and a single scalar
type stringList []string

func (l *stringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Value == "" {
			*l = nil
			return nil
		}
		*l = stringList{node.Value}
		return nil
	case yaml.SequenceNode:
		var items []string
		if err := node.Decode(&items); err != nil {
			return err
		}
		*l = items
		return nil
	default:
		return fmt.Errorf("line %d: tags must be a string or a list of strings", node.Line)
	}
}

var frontmatterDelimiter = []byte("---")

// splitFrontmatter separates a leading "---" delimited YAML block from the
// markdown body. Content without one is all body.
func splitFrontmatter(raw []byte) (header, body []byte) {
	raw = bytes.TrimPrefix(raw, []byte("\ufeff"))
	firstLine, rest, ok := bytes.Cut(raw, []byte("\n"))
	if !ok || !bytes.Equal(bytes.TrimSpace(firstLine), frontmatterDelimiter) {
		return nil, raw
	}

	for offset := 0; offset <= len(rest); {
		line, next, found := bytes.Cut(rest[offset:], []byte("\n"))
		if bytes.Equal(bytes.TrimSpace(line), frontmatterDelimiter) {
			header = rest[:offset]
			if found {
				return header, next
			}
			return header, nil
		}
		if !found {
			break
		}
		offset += len(line) + 1
	}

	// unterminated header
	return nil, raw
}

// ParsePost builds the index entry for one markdown file. Missing
// frontmatter fields fall back to values derived from the file.
func ParsePost(file string, raw []byte, modTime time.Time) (Post, error) {
	header, body := splitFrontmatter(raw)

	var meta frontmatter
	if len(header) > 0 {
		if err := yaml.Unmarshal(header, &meta); err != nil {
			return Post{}, fmt.Errorf("parse frontmatter of %s: %w", file, err)
		}
	}

	name := strings.TrimSuffix(file, ".md")
	post := Post{
		Title:       meta.Title,
		Date:        strings.TrimSpace(meta.Date),
		Tags:        []string(meta.Tags),
		Description: meta.Description,
		File:        file,
		Slug:        meta.Slug,
		Draft:       meta.Draft,
	}

	if post.Title == "" {
		post.Title = name
	}
	if post.Date == "" {
		post.Date = modTime.UTC().Format(dateLayout)
	}
	if post.Tags == nil {
		post.Tags = []string{}
	}
	if post.Description == "" {
		excerpt, err := Excerpt(body)
		if err != nil {
			return Post{}, fmt.Errorf("render %s: %w", file, err)
		}
		post.Description = excerpt
	}
	if post.Slug == "" {
		post.Slug = Slugify(name)
	}

	return post, nil
}

// LoadPosts parses every *.md file directly inside dir, newest first.
// Drafts are kept; List drops them.
func LoadPosts(dir string) ([]Post, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read posts dir: %w", err)
	}

	posts := make([]Post, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read post: %w", err)
		}
		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("stat post: %w", err)
		}

		post, err := ParsePost(entry.Name(), raw, info.ModTime())
		if err != nil {
			return nil, err
		}
		if post.Time().IsZero() {
			logrus.WithField("file", entry.Name()).Warnf("Unrecognized date %q, sorting last", post.Date)
		}
		posts = append(posts, post)
	}

	SortByDate(posts)
	return posts, nil
}

// SortByDate orders posts newest first, keeping the order of equal dates
func SortByDate(posts []Post) {
	sort.SliceStable(posts, func(i, j int) bool {
		return posts[i].Time().After(posts[j].Time())
	})
}
