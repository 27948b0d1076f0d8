// Package diversity scores how independent the evidence behind a candidate
// incident is. A cluster corroborated by official feeds, news, and social
// media earns a confidence bonus; a single uncorroborated report is
// penalized. Both functions are pure and safe for concurrent use.
package diversity

import (
	"sort"
	"strings"

	"github.com/linnemanlabs/beacon/internal/signal"
)

// Category buckets a raw source string into one of four provenance classes.
type Category string

const (
	CategoryOfficial    Category = "official"
	CategoryUserReport  Category = "user_report"
	CategorySocialMedia Category = "social_media"
	CategoryNews        Category = "news"
)

// SourceBreakdown counts signals per provenance category.
// Total always equals the sum of the four counts.
type SourceBreakdown struct {
	Official      int      `json:"official"`
	UserReport    int      `json:"user_report"`
	SocialMedia   int      `json:"social_media"`
	News          int      `json:"news"`
	Total         int      `json:"total"`
	UniqueSources []string `json:"unique_sources"`
}

// MultiVectorResult is the derived diversity assessment for a signal set.
type MultiVectorResult struct {
	Breakdown         SourceBreakdown `json:"source_breakdown"`
	DiversityBonus    float64         `json:"diversity_bonus"`
	CategoryCount     int             `json:"category_count"`
	HasOfficialSource bool            `json:"has_official_source"`
}

// categorize maps a raw source string to a Category. Unrecognized sources
// are bucketed as user_report rather than dropped.
func categorize(source string) Category {
	switch strings.ToLower(strings.TrimSpace(source)) {
	case "bmkg", "bnpb", "official":
		return CategoryOfficial
	case "user_report", "user":
		return CategoryUserReport
	case "social_media", "tiktok", "twitter", "instagram":
		return CategorySocialMedia
	case "news", "rss":
		return CategoryNews
	default:
		return CategoryUserReport
	}
}

// Categorize builds a SourceBreakdown for a set of signals.
func Categorize(signals []signal.Signal) SourceBreakdown {
	var b SourceBreakdown
	seen := make(map[string]struct{})

	for _, s := range signals {
		src := string(s.Source)
		if _, ok := seen[src]; !ok {
			seen[src] = struct{}{}
			b.UniqueSources = append(b.UniqueSources, src)
		}

		switch categorize(src) {
		case CategoryOfficial:
			b.Official++
		case CategoryUserReport:
			b.UserReport++
		case CategorySocialMedia:
			b.SocialMedia++
		case CategoryNews:
			b.News++
		}
		b.Total++
	}

	sort.Strings(b.UniqueSources)
	return b
}

// Score computes the diversity assessment from a breakdown.
//
// Bonus schedule:
//   - 3+ categories: 0.15
//   - 2 categories: 0.10
//   - 1 category, multiple signals: 0.05
//   - 1 category, single signal: -0.05 (single-source penalty, takes
//     precedence over the weak single-category bonus)
//
// Any official-category signal adds a further 0.05. The result is not
// clamped here; clamping happens where the bonus is applied to a
// confidence score.
func Score(b SourceBreakdown) MultiVectorResult {
	count := 0
	for _, n := range []int{b.Official, b.UserReport, b.SocialMedia, b.News} {
		if n > 0 {
			count++
		}
	}

	var bonus float64
	switch {
	case b.Total == 1 && count == 1:
		bonus = -0.05
	case count >= 3:
		bonus = 0.15
	case count == 2:
		bonus = 0.10
	case count == 1 && b.Total > 1:
		bonus = 0.05
	default:
		bonus = 0
	}

	if b.Official > 0 {
		bonus += 0.05
	}

	return MultiVectorResult{
		Breakdown:         b,
		DiversityBonus:    bonus,
		CategoryCount:     count,
		HasOfficialSource: b.Official > 0,
	}
}
