package blog

import (
	"slices"
	"sort"
	"strings"
)

// DefaultPerPage is the page size of the post list
const DefaultPerPage = 8

// Query selects a page of the post list
type Query struct {
	// Page starts at 1 and is clamped to the available pages
	Page    int
	PerPage int
	// Tag keeps posts carrying exactly this tag
	Tag string
	// Search keeps posts whose title, description or tags contain it, ignoring case
	Search string
}

// Page is one page of the post list
type Page struct {
	Posts      []Post   `json:"posts"`
	Page       int      `json:"page"`
	TotalPages int      `json:"total_pages"`
	Total      int      `json:"total"`
	Tags       []string `json:"tags"`
}

// List drops drafts, applies the query filters and cuts one page, newest first
func List(posts []Post, q Query) Page {
	published := make([]Post, 0, len(posts))
	for _, p := range posts {
		if !p.Draft {
			published = append(published, p)
		}
	}
	SortByDate(published)

	filtered := published[:0:0]
	search := strings.ToLower(strings.TrimSpace(q.Search))
	for _, p := range published {
		if q.Tag != "" && !slices.Contains(p.Tags, q.Tag) {
			continue
		}
		if search != "" && !matches(p, search) {
			continue
		}
		filtered = append(filtered, p)
	}

	perPage := q.PerPage
	if perPage <= 0 {
		perPage = DefaultPerPage
	}
	totalPages := (len(filtered) + perPage - 1) / perPage
	page := min(max(q.Page, 1), max(totalPages, 1))

	start := min((page-1)*perPage, len(filtered))
	end := min(start+perPage, len(filtered))

	return Page{
		Posts:      filtered[start:end],
		Page:       page,
		TotalPages: totalPages,
		Total:      len(filtered),
		Tags:       Tags(published),
	}
}

func matches(p Post, search string) bool {
	haystack := p.Title + " " + p.Description + " " + strings.Join(p.Tags, " ")
	return strings.Contains(strings.ToLower(haystack), search)
}

// Tags returns the sorted, de-duplicated tags of posts
func Tags(posts []Post) []string {
	seen := map[string]bool{}
	tags := []string{}
	for _, p := range posts {
		for _, tag := range p.Tags {
			if !seen[tag] {
				seen[tag] = true
				tags = append(tags, tag)
			}
		}
	}
	sort.Strings(tags)
	return tags
}
