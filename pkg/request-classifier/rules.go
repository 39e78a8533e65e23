package requestclassifier

import (
	"net/url"
	"strings"
)

// Category is the kind of resource a request is for.
// It decides which caching strategy serves the request.
type Category string

const (
	CategoryAPI    Category = "api"
	CategoryStatic Category = "static"
	CategoryBundle Category = "bundle"
	CategoryOther  Category = "other"
)

var (
	// StaticExtensions are the path suffixes of images, stylesheets, scripts and fonts.
	StaticExtensions = []string{".png", ".jpg", ".jpeg", ".svg", ".ico", ".css", ".js", ".woff", ".woff2", ".ttf"}
	// BundleSuffixes are the suffixes of generated app bundles.
	BundleSuffixes = []string{".dart.js", ".js.map"}
	// DefaultAPIEndpoints are the external APIs served network-first.
	DefaultAPIEndpoints = []string{
		"https://api.zotero.org",
		"https://api.opencitations.net",
	}
)

type Rules []Rule

// Rule matches a request URL if all of its non-empty matchers match.
// Multi-valued matchers (Suffixes, Origins) match if any value matches.
type Rule struct {
	Category Category
	// Origins are matched as string prefixes of the full URL.
	Origins  []string
	Prefix   string
	Path     string
	Suffixes []string
	Contains string
}

// DefaultRules returns the ordered rules for the given API endpoints.
// Order is API, static assets, bundle assets; anything else is CategoryOther.
func DefaultRules(apiEndpoints []string) Rules {
	return Rules{
		{Category: CategoryAPI, Origins: apiEndpoints},
		{Category: CategoryStatic, Suffixes: StaticExtensions},
		{Category: CategoryStatic, Prefix: "/icons/"},
		{Category: CategoryStatic, Path: "/favicon.ico"},
		{Category: CategoryStatic, Path: "/manifest.json"},
		{Category: CategoryBundle, Prefix: "/assets/"},
		{Category: CategoryBundle, Contains: "flutter"},
		{Category: CategoryBundle, Suffixes: BundleSuffixes},
	}
}

// Classify returns the category of the first rule matching u,
// or CategoryOther if none does.
func (r Rules) Classify(u *url.URL) Category {
	if rule := r.find(u); rule != nil {
		return rule.Category
	}
	return CategoryOther
}

func (r Rules) find(u *url.URL) *Rule {
	href := u.String()
	for i := range r {
		if r[i].matches(href, u.Path) {
			return &r[i]
		}
	}
	return nil
}

func (rule Rule) matches(href, path string) bool {
	if rule.Origins == nil && rule.Prefix == "" && rule.Path == "" && rule.Suffixes == nil && rule.Contains == "" {
		return false
	}
	if rule.Origins != nil && !anyOf(rule.Origins, func(o string) bool { return strings.HasPrefix(href, o) }) {
		return false
	}
	if rule.Prefix != "" && !strings.HasPrefix(path, rule.Prefix) {
		return false
	}
	if rule.Path != "" && rule.Path != path {
		return false
	}
	if rule.Suffixes != nil && !anyOf(rule.Suffixes, func(s string) bool { return strings.HasSuffix(path, s) }) {
		return false
	}
	if rule.Contains != "" && !strings.Contains(path, rule.Contains) {
		return false
	}
	return true
}

func anyOf(values []string, match func(string) bool) bool {
	for _, v := range values {
		if match(v) {
			return true
		}
	}
	return false
}
