package annotate

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/berlinonline/fisbroker-harvester/internal/catalog"
)

// NormalizeURL sorts query parameters and lowercases their values (parameter
// values are not case sensitive in WMS/WFS). Unparseable URLs pass through
// unchanged.
func NormalizeURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	query := parsed.Query()
	keys := make([]string, 0, len(query))
	for key := range query {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	normalized := make([]string, 0, len(keys))
	for _, key := range keys {
		normalized = append(normalized, fmt.Sprintf("%s=%s", key, strings.ToLower(query[key][0])))
	}
	parsed.RawQuery = strings.Join(normalized, "&")

	return parsed.String()
}

// UniqueByURL considers resources with the same normalized URL identical and
// keeps only the first occurrence.
func UniqueByURL(resources []catalog.Resource) []catalog.Resource {
	unique := make([]catalog.Resource, 0, len(resources))
	seen := make(map[string]bool)

	for _, resource := range resources {
		normalized := NormalizeURL(resource.URL)
		if seen[normalized] {
			continue
		}
		seen[normalized] = true
		unique = append(unique, resource)
	}

	return unique
}
