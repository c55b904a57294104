package blog

import "bytes"

// RenderedPost is a post's index entry along with its rendered body
type RenderedPost struct {
	Post
	HTML     string `json:"html"`
	ReadTime int    `json:"read_time"`
}

// Render converts the markdown file raw of p to HTML. The frontmatter is
// dropped before rendering and does not count towards the read time.
func Render(p Post, raw []byte) (RenderedPost, error) {
	_, body := splitFrontmatter(raw)

	var buf bytes.Buffer
	if err := markdown.Convert(body, &buf); err != nil {
		return RenderedPost{}, err
	}
	return RenderedPost{Post: p, HTML: buf.String(), ReadTime: ReadTime(string(body))}, nil
}

// Find returns the published post with the given slug
func Find(posts []Post, slug string) (Post, bool) {
	for _, p := range posts {
		if p.Slug == slug && !p.Draft {
			return p, true
		}
	}
	return Post{}, false
}
