package main

import (
	"os"

	"github.com/namsral/flag"
	"github.com/sirupsen/logrus"

	"github.com/0xkiire/coredumped/internal/blog"
	"github.com/0xkiire/coredumped/internal/logging"
)

var (
	siteDir   = flag.String("site-dir", "site", "Site directory with the posts under blogs/")
	siteURL   = flag.String("site-url", "https://0xkiire.coredumped", "Public URL of the site, used in the feed and the sitemap")
	siteTitle = flag.String("site-title", "0xKiire.coredumped", "Title of the feed")
	verbose   = flag.Bool("verbose", false, "Debug logging")
)

func main() {
	flag.Parse()

	level := "info"
	if *verbose {
		level = "debug"
	}
	if err := logging.Configure(os.Stderr, level, "text", false); err != nil {
		logrus.Fatalf("Invalid log configuration: %v", err)
	}

	opts := blog.DefaultBuildOptions(*siteDir)
	opts.Site = blog.Site{URL: *siteURL, Title: *siteTitle}

	posts, err := blog.Build(opts)
	if err != nil {
		logrus.Fatalf("Build failed: %v", err)
	}

	drafts := 0
	for _, p := range posts {
		if p.Draft {
			drafts++
		}
	}
	logrus.Infof("Built %d posts (%d drafts)", len(posts), drafts)
}
