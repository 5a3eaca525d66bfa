package unsubscribe

import (
	"context"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"inboxtriage/internal/model"
)

// Oracle extracts unsubscribe information from free text as a last resort.
type Oracle interface {
	ExtractUnsubscribe(ctx context.Context, content string) model.UnsubscribeInfo
}

const urlChars = "[^\\s<>\"{}|\\\\^`\\[\\]]+"

const hrefValue = `[^>]*href\s*=\s*["']([^"']+)["']`

var urlPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)unsubscribe\s*:\s*(https?://` + urlChars + `)`),
	regexp.MustCompile(`(?i)unsubscribe\s*at\s*(https?://` + urlChars + `)`),
	regexp.MustCompile(`(?i)click\s*here\s*to\s*unsubscribe` + hrefValue),
	regexp.MustCompile(`(?i)<a[^>]*unsubscribe` + hrefValue + `[^>]*>`),
	regexp.MustCompile(`(?i)unsubscribe\s*link` + hrefValue),
	regexp.MustCompile(`(?i)opt.?out` + hrefValue),
	regexp.MustCompile(`(?i)remove\s*me` + hrefValue),
	regexp.MustCompile(`(?i)cancel\s*subscription` + hrefValue),
}

var mailtoPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)mailto:((?:unsubscribe|remove|optout|opt-out|leave)[^"'\s?<>]*@[a-z0-9.-]+\.[a-z]{2,})`),
	regexp.MustCompile(`(?i)\b((?:unsubscribe|remove|optout)\s*@\s*[a-z0-9.-]+\.[a-z]{2,})`),
}

var anchorWords = []string{"unsubscribe", "opt-out", "opt out", "optout"}

var headerEntry = regexp.MustCompile(`<([^>]+)>`)

// Extractor finds an unsubscribe mechanism in a message.
type Extractor struct {
	oracle Oracle
	logger *zap.Logger
}

func NewExtractor(oracle Oracle, logger *zap.Logger) *Extractor {
	return &Extractor{oracle: oracle, logger: logger}
}

// Extract tries, in order: the List-Unsubscribe header, URL patterns, an anchor
// scan of HTML content, mailto patterns and finally the oracle.
func (e *Extractor) Extract(ctx context.Context, content, listUnsubscribe string) model.UnsubscribeInfo {
	if info := fromHeader(listUnsubscribe); info.Found {
		return info
	}
	if url := matchURL(content); url != "" {
		return model.UnsubscribeInfo{URL: url, Found: true}
	}
	if url := scanAnchors(content); url != "" {
		return model.UnsubscribeInfo{URL: url, Found: true}
	}
	if addr := matchMailto(content); addr != "" {
		return model.UnsubscribeInfo{Email: addr, Found: true}
	}
	if e.oracle == nil || strings.TrimSpace(content) == "" {
		return model.UnsubscribeInfo{}
	}

	info := e.oracle.ExtractUnsubscribe(ctx, content)
	if info.Found {
		e.logger.Debug("Unsubscribe info found by oracle",
			zap.String("url", info.URL),
			zap.String("email", info.Email),
		)
	}
	return info
}

// fromHeader prefers the first http(s) entry of a List-Unsubscribe header and
// falls back to its first mailto entry.
func fromHeader(header string) model.UnsubscribeInfo {
	var mailto string
	for _, m := range headerEntry.FindAllStringSubmatch(header, -1) {
		entry := strings.TrimSpace(m[1])
		lower := strings.ToLower(entry)
		switch {
		case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
			return model.UnsubscribeInfo{URL: entry, Found: true}
		case strings.HasPrefix(lower, "mailto:") && mailto == "":
			mailto = entry[len("mailto:"):]
			if i := strings.IndexByte(mailto, '?'); i >= 0 {
				mailto = mailto[:i]
			}
		}
	}
	if mailto != "" {
		return model.UnsubscribeInfo{Email: mailto, Found: true}
	}
	return model.UnsubscribeInfo{}
}

func matchURL(content string) string {
	for _, re := range urlPatterns {
		for _, m := range re.FindAllStringSubmatch(content, -1) {
			if url := trimURL(m[1]); strings.HasPrefix(strings.ToLower(url), "http") {
				return url
			}
		}
	}
	return ""
}

func scanAnchors(content string) string {
	if !strings.Contains(strings.ToLower(content), "<a") {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return ""
	}

	var found string
	doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		href = strings.TrimSpace(href)
		if !strings.HasPrefix(strings.ToLower(href), "http") {
			return true
		}
		text := strings.ToLower(a.Text() + " " + href)
		for _, w := range anchorWords {
			if strings.Contains(text, w) {
				found = href
				return false
			}
		}
		return true
	})
	return found
}

func matchMailto(content string) string {
	for _, re := range mailtoPatterns {
		if m := re.FindStringSubmatch(content); m != nil {
			return strings.Join(strings.Fields(m[1]), "")
		}
	}
	return ""
}

// trimURL drops punctuation that usually ends the surrounding sentence.
func trimURL(url string) string {
	return strings.TrimRight(url, ".,;:!)'\"")
}
