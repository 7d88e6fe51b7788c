package twitter

import (
	"golang.org/x/text/cases"

	"orbot/internal/types"
)

type FilterSource interface {
	HashtagFilters() types.HashtagFilters
}

// HashtagFilter accepts a tweet when none of its hashtags is blacklisted and
// at least one is whitelisted. Tweets without hashtags are rejected. Filters
// are read on every call so edits apply without a restart.
type HashtagFilter struct {
	source FilterSource
}

func NewHashtagFilter(source FilterSource) *HashtagFilter {
	return &HashtagFilter{source: source}
}

func (f *HashtagFilter) Allow(ev types.StreamEvent) bool {
	if len(ev.Hashtags) == 0 {
		return false
	}

	// Casers keep state, so each call gets its own.
	fold := cases.Fold()
	filters := f.source.HashtagFilters()
	white := foldSet(fold, filters.Whitelist)
	black := foldSet(fold, filters.Blacklist)

	whitelisted := false
	for _, tag := range ev.Hashtags {
		tag = fold.String(tag)
		if _, ok := black[tag]; ok {
			return false
		}
		if _, ok := white[tag]; ok {
			whitelisted = true
		}
	}
	return whitelisted
}

func foldSet(fold cases.Caser, tags []string) map[string]struct{} {
	out := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		out[fold.String(t)] = struct{}{}
	}
	return out
}
