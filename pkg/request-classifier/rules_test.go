package requestclassifier

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	rules := DefaultRules(DefaultAPIEndpoints)

	tests := []struct {
		url  string
		want Category
	}{
		{"https://api.zotero.org/x", CategoryAPI},
		{"https://api.opencitations.net/index/v1/citations/10.1/x", CategoryAPI},
		{"https://api.zotero.org/users/1/items.png", CategoryAPI},
		{"https://example.com/icons/icon-192.png", CategoryStatic},
		{"https://example.com/styles/site.css", CategoryStatic},
		{"https://example.com/fonts/inter.woff2", CategoryStatic},
		{"https://example.com/icons/readme", CategoryStatic},
		{"https://example.com/favicon.ico", CategoryStatic},
		{"https://example.com/manifest.json", CategoryStatic},
		// static extensions win over the bundle suffix
		{"https://example.com/main.dart.js", CategoryStatic},
		{"https://example.com/main.dart.js.map", CategoryBundle},
		{"https://example.com/assets/AssetManifest.json", CategoryBundle},
		{"https://example.com/canvaskit/flutter_service_worker", CategoryBundle},
		{"https://example.com/", CategoryOther},
		{"https://example.com/about", CategoryOther},
		{"https://example.com/version.json", CategoryOther},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			u, err := url.Parse(tt.url)
			require.NoError(t, err)
			assert.Equal(t, tt.want, rules.Classify(u))
		})
	}
}

func TestClassifyWithoutAPIEndpoints(t *testing.T) {
	u, _ := url.Parse("https://api.zotero.org/x")
	assert.Equal(t, CategoryOther, DefaultRules(nil).Classify(u))
	assert.Equal(t, CategoryOther, DefaultRules([]string{}).Classify(u))
}

func TestRuleFinderFirstMatchWins(t *testing.T) {
	rules := Rules{
		{Category: CategoryBundle, Prefix: "/assets/"},
		{Category: CategoryStatic, Suffixes: []string{".png"}},
	}
	u, _ := url.Parse("/assets/logo.png")
	if rule := rules.find(u); rule == nil || rule.Category != CategoryBundle {
		t.Fatal("Incorrect rule")
	}
	u, _ = url.Parse("/logo.png")
	if rule := rules.find(u); rule == nil || rule.Category != CategoryStatic {
		t.Fatal("Incorrect rule")
	}
	u, _ = url.Parse("/logo.gif")
	if rule := rules.find(u); rule != nil {
		t.Fatal("Incorrect rule")
	}
}

func TestEmptyRuleNeverMatches(t *testing.T) {
	u, _ := url.Parse("/anything")
	assert.False(t, Rule{Category: CategoryAPI}.matches(u.String(), u.Path))
}
