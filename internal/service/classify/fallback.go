package classify

import (
	"fmt"
	"math"
	"strings"

	"inboxtriage/internal/model"
)

const (
	// FallbackConfidenceCeiling caps keyword-based confidence.
	FallbackConfidenceCeiling = 0.7
	fallbackHitWeight         = 0.1

	noMatchSummary = "Email content analyzed but no clear category match found"
)

type keywordRule struct {
	categoryNames []string
	keywords      []string
	label         string
}

var keywordRules = []keywordRule{
	{
		categoryNames: []string{"promotion", "promotions"},
		label:         "promotional",
		keywords: []string{
			"promotion", "promotional", "sale", "discount", "offer", "deal", "special",
			"limited time", "buy now", "shop", "store", "coupon", "% off",
			"marketing", "campaign", "advertisement", "sponsored",
		},
	},
	{
		categoryNames: []string{"newsletter", "newsletters"},
		label:         "newsletter",
		keywords: []string{
			"newsletter", "digest", "weekly", "monthly", "edition", "issue",
			"subscribe", "unsubscribe", "read more", "view in browser",
		},
	},
}

// keywordFallback classifies by fixed keyword rules. Confidence is
// min(ceiling, hits*0.1); no rule match yields a nil category and zero confidence.
func keywordFallback(content string, categories []model.CategoryRef) *model.ClassificationResult {
	text := strings.ToLower(content)

	var (
		best     *model.CategoryRef
		bestHits int
		bestWord string
		bestRule keywordRule
	)
	for _, rule := range keywordRules {
		cat := findCategory(categories, rule.categoryNames)
		if cat == nil {
			continue
		}
		hits, first := 0, ""
		for _, kw := range rule.keywords {
			if strings.Contains(text, kw) {
				if hits == 0 {
					first = kw
				}
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits, bestWord, bestRule = cat, hits, first, rule
		}
	}

	if best == nil {
		return &model.ClassificationResult{Confidence: 0, Summary: noMatchSummary, Fallback: true}
	}

	id := best.ID
	return &model.ClassificationResult{
		CategoryID: &id,
		Confidence: math.Min(FallbackConfidenceCeiling, float64(bestHits)*fallbackHitWeight),
		Summary:    fmt.Sprintf("Email appears to be %s content (%s)", bestRule.label, bestWord),
		Fallback:   true,
	}
}

func findCategory(categories []model.CategoryRef, names []string) *model.CategoryRef {
	for i := range categories {
		name := strings.ToLower(strings.TrimSpace(categories[i].Name))
		for _, n := range names {
			if name == n {
				return &categories[i]
			}
		}
	}
	return nil
}
