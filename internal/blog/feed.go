package blog

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Site describes where the built files are published
type Site struct {
	URL   string
	Title string
}

// PostURL returns the public URL of a post's markdown file
func (s Site) PostURL(p Post) string {
	return strings.TrimSuffix(s.URL, "/") + "/blogs/" + p.File
}

// WriteIndex writes posts as the JSON index the client and the API read
func WriteIndex(w io.Writer, posts []Post) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(posts); err != nil {
		return fmt.Errorf("encode index: %w", err)
	}
	return nil
}

// ReadIndex parses a JSON index written by WriteIndex
func ReadIndex(r io.Reader) ([]Post, error) {
	var posts []Post
	if err := json.NewDecoder(r).Decode(&posts); err != nil {
		return nil, fmt.Errorf("decode index: %w", err)
	}
	return posts, nil
}

type rss struct {
	XMLName xml.Name   `xml:"rss"`
	Version string     `xml:"version,attr"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title       string    `xml:"title"`
	Link        string    `xml:"link"`
	Description string    `xml:"description"`
	Items       []rssItem `xml:"item"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	GUID        string `xml:"guid"`
	PubDate     string `xml:"pubDate,omitempty"`
	Description string `xml:"description"`
}

// WriteRSS writes an RSS 2.0 feed with one item per post
func WriteRSS(w io.Writer, site Site, posts []Post) error {
	feed := rss{
		Version: "2.0",
		Channel: rssChannel{
			Title:       site.Title,
			Link:        site.URL,
			Description: "RSS feed for " + site.Title,
			Items:       make([]rssItem, 0, len(posts)),
		},
	}

	for _, p := range posts {
		item := rssItem{
			Title:       p.Title,
			Link:        site.PostURL(p),
			GUID:        site.PostURL(p),
			Description: p.Description,
		}
		if t := p.Time(); !t.IsZero() {
			item.PubDate = t.UTC().Format(http.TimeFormat)
		}
		feed.Channel.Items = append(feed.Channel.Items, item)
	}

	return writeXML(w, feed)
}

type urlset struct {
	XMLName xml.Name     `xml:"urlset"`
	Xmlns   string       `xml:"xmlns,attr"`
	URLs    []sitemapURL `xml:"url"`
}

type sitemapURL struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod,omitempty"`
}

// WriteSitemap lists the site root and every post
func WriteSitemap(w io.Writer, site Site, posts []Post) error {
	set := urlset{
		Xmlns: "http://www.sitemaps.org/schemas/sitemap/0.9",
		URLs:  []sitemapURL{{Loc: site.URL}},
	}
	for _, p := range posts {
		set.URLs = append(set.URLs, sitemapURL{Loc: site.PostURL(p), LastMod: p.Date})
	}
	return writeXML(w, set)
}

func writeXML(w io.Writer, v interface{}) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode xml: %w", err)
	}
	_, err := io.WriteString(w, "\n")
	return err
}
