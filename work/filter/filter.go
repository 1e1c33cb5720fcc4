// Package filter decides which M3U entries an import keeps and which category each lands in.
package filter

import (
	"fmt"
	"strings"

	"iptv-gate/work/logger"
	"iptv-gate/work/parser"
	"iptv-gate/work/types"

	"github.com/grafana/regexp"
)

// Content type detection, matched against both the entry name and its URL.
var (
	seriesRegex = regexp.MustCompile(`(?i)24\/7|247|\/series\/|\/shows\/|\/show\/`)
	vodRegex    = regexp.MustCompile(`(?i)\/vods\/|\/vod\/|\/movies\/|\/movie\/`)
)

// Name keywords for entries whose group-title is not a known category.
var keywordCategories = []struct {
	pattern  *regexp.Regexp
	category types.Category
}{
	{regexp.MustCompile(`(?i)\b(sport|sports|espn|football|soccer|nba|nfl|f1)\b`), types.CategorySports},
	{regexp.MustCompile(`(?i)\b(news|cnn|bbc world|al jazeera)\b`), types.CategoryNews},
	{regexp.MustCompile(`(?i)\b(kids|cartoon|junior|disney)\b`), types.CategoryKids},
	{regexp.MustCompile(`(?i)\b(music|mtv|hits|radio)\b`), types.CategoryMusic},
	{regexp.MustCompile(`(?i)\b(documentary|docu|discovery|nat geo|history)\b`), types.CategoryDocumentary},
}

// ImportFilter holds compiled include/exclude patterns tested against lower-cased entry names.
// A nil *ImportFilter keeps everything.
type ImportFilter struct {
	Include *regexp.Regexp
	Exclude *regexp.Regexp
}

// Compile builds a filter from raw patterns. Empty patterns are skipped; it returns nil when
// both are empty.
func Compile(include, exclude string) (*ImportFilter, error) {
	if include == "" && exclude == "" {
		return nil, nil
	}

	f := &ImportFilter{}
	if include != "" {
		re, err := regexp.Compile(include)
		if err != nil {
			return nil, fmt.Errorf("bad include pattern: %w", err)
		}
		f.Include = re
	}
	if exclude != "" {
		re, err := regexp.Compile(exclude)
		if err != nil {
			return nil, fmt.Errorf("bad exclude pattern: %w", err)
		}
		f.Exclude = re
	}
	return f, nil
}

// Keep reports whether e passes the filter. The include pattern must match when set, then the
// exclude pattern must not.
func (f *ImportFilter) Keep(e parser.Entry) bool {
	if f == nil {
		return true
	}
	name := strings.TrimSpace(strings.ToLower(e.Name))

	if f.Include != nil && !f.Include.MatchString(name) {
		logger.Debug("{filter/filter - Keep} excluded by include pattern: %q", e.Name)
		return false
	}
	if f.Exclude != nil && f.Exclude.MatchString(name) {
		logger.Debug("{filter/filter - Keep} excluded by exclude pattern: %q", e.Name)
		return false
	}
	return true
}

// Apply returns the entries f keeps, in order.
func (f *ImportFilter) Apply(entries []parser.Entry) []parser.Entry {
	if f == nil {
		return entries
	}
	kept := make([]parser.Entry, 0, len(entries))
	for _, e := range entries {
		if f.Keep(e) {
			kept = append(kept, e)
		}
	}
	logger.Debug("{filter/filter - Apply} filtered %d -> %d entries", len(entries), len(kept))
	return kept
}

// Classify picks a category for e: group-title when it names a category, then series and VOD
// URL/name patterns, then name keywords, otherwise general.
func Classify(e parser.Entry) types.Category {
	if c := types.Category(strings.ToLower(strings.TrimSpace(e.Attributes["group-title"]))); c.Valid() {
		return c
	}

	switch {
	case seriesRegex.MatchString(e.Name) || seriesRegex.MatchString(e.URL):
		return types.CategorySeries
	case vodRegex.MatchString(e.Name) || vodRegex.MatchString(e.URL):
		return types.CategoryMovies
	}

	for _, kc := range keywordCategories {
		if kc.pattern.MatchString(e.Name) {
			return kc.category
		}
	}
	return types.CategoryGeneral
}
