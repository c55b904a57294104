package blog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// BuildOptions locates the inputs and outputs of Build
type BuildOptions struct {
	PostsDir    string
	IndexPath   string
	RSSPath     string
	SitemapPath string
	Site        Site
}

// DefaultBuildOptions lays the outputs out the way the site serves them:
// posts and their index under blogs/, feeds at the root
func DefaultBuildOptions(siteDir string) BuildOptions {
	return BuildOptions{
		PostsDir:    filepath.Join(siteDir, "blogs"),
		IndexPath:   filepath.Join(siteDir, "blogs", "index.json"),
		RSSPath:     filepath.Join(siteDir, "rss.xml"),
		SitemapPath: filepath.Join(siteDir, "sitemap.xml"),
		Site:        Site{URL: "https://0xkiire.coredumped", Title: "0xKiire.coredumped"},
	}
}

// Build reads every post and writes the index, the feed and the sitemap
func Build(opts BuildOptions) ([]Post, error) {
	posts, err := LoadPosts(opts.PostsDir)
	if err != nil {
		return nil, err
	}

	outputs := []struct {
		path  string
		write func(io.Writer) error
	}{
		{opts.IndexPath, func(w io.Writer) error { return WriteIndex(w, posts) }},
		{opts.RSSPath, func(w io.Writer) error { return WriteRSS(w, opts.Site, posts) }},
		{opts.SitemapPath, func(w io.Writer) error { return WriteSitemap(w, opts.Site, posts) }},
	}

	for _, out := range outputs {
		if err := writeFile(out.path, out.write); err != nil {
			return nil, err
		}
		logrus.WithField("posts", len(posts)).Infof("Wrote %s", out.path)
	}

	return posts, nil
}

// writeFile replaces path atomically with what write produces
func writeFile(path string, write func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".build-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := write(tmp); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	return os.Rename(tmp.Name(), path)
}
