package worker

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/0xkiire/coredumped/internal/config"
)

// Strategy decides where a response comes from
type Strategy int

const (
	// CacheFirstWithRevalidate serves the stored copy and refreshes it in the background
	CacheFirstWithRevalidate Strategy = iota
	// NetworkFirst serves the network response and falls back to the stored copy
	NetworkFirst
)

func (s Strategy) String() string {
	switch s {
	case NetworkFirst:
		return "network_first"
	case CacheFirstWithRevalidate:
		return "cache_first"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// ParseStrategy is the inverse of Strategy.String
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "network_first":
		return NetworkFirst, nil
	case "cache_first":
		return CacheFirstWithRevalidate, nil
	default:
		return 0, fmt.Errorf("unknown strategy: %q", s)
	}
}

// Rule selects Strategy for URLs whose path matches both of the
// configured patterns. An empty pattern matches every path.
type Rule struct {
	Name       string
	PathPrefix string
	PathSuffix string
	Strategy   Strategy
}

// Match checks if the URL path matches this rule
func (r Rule) Match(u *url.URL) bool {
	if r.PathPrefix == "" && r.PathSuffix == "" {
		return false
	}

	path := u.Path
	if path == "" {
		path = "/"
	}

	if !strings.HasPrefix(path, r.PathPrefix) {
		return false
	}
	return strings.HasSuffix(path, r.PathSuffix)
}

// Classifier maps a URL to a Strategy using the first matching rule.
// URLs no rule matches use CacheFirstWithRevalidate.
type Classifier struct {
	rules []Rule
}

// NewClassifier creates a classifier evaluating rules in order
func NewClassifier(rules ...Rule) *Classifier {
	return &Classifier{rules: append([]Rule(nil), rules...)}
}

// DefaultClassifier sends the post index and XML feeds to the network first
func DefaultClassifier() *Classifier {
	classifier, err := ClassifierFromConfig(config.DefaultRules)
	if err != nil {
		panic(err)
	}
	return classifier
}

// ClassifierFromConfig builds a classifier from configured rules
func ClassifierFromConfig(specs []config.RuleSpec) (*Classifier, error) {
	rules := make([]Rule, 0, len(specs))
	for i, spec := range specs {
		strategy, err := ParseStrategy(spec.Strategy)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		rules = append(rules, Rule{
			Name:       spec.Name,
			PathPrefix: spec.PathPrefix,
			PathSuffix: spec.PathSuffix,
			Strategy:   strategy,
		})
	}
	return NewClassifier(rules...), nil
}

// Classify returns the strategy for u. It only looks at the URL path.
func (c *Classifier) Classify(u *url.URL) Strategy {
	for _, rule := range c.rules {
		if rule.Match(u) {
			return rule.Strategy
		}
	}
	return CacheFirstWithRevalidate
}
