package content

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// minCleanLength is the rune count above which a structural clean is accepted.
const minCleanLength = 20

var structuralPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<!DOCTYPE[^>]*>`),
	regexp.MustCompile(`(?i)<html(\s[^>]*)?>`),
	regexp.MustCompile(`(?i)</html\s*>`),
	regexp.MustCompile(`(?is)<head(\s[^>]*)?>.*?</head\s*>`),
	regexp.MustCompile(`(?i)<body(\s[^>]*)?>`),
	regexp.MustCompile(`(?i)</body\s*>`),
	// comments, including <!--[if mso]> conditional blocks
	regexp.MustCompile(`(?s)<!--.*?-->`),
	regexp.MustCompile(`(?is)<xml(\s[^>]*)?>.*?</xml\s*>`),
	regexp.MustCompile(`(?is)<o:[^>]*>.*?</o:[^>]*>`),
	regexp.MustCompile(`(?i)<o:[^>]*/>`),
	regexp.MustCompile(`(?is)<script(\s[^>]*)?>.*?</script\s*>`),
	regexp.MustCompile(`(?is)<style(\s[^>]*)?>.*?</style\s*>`),
	regexp.MustCompile(`(?i)<meta(\s[^>]*)?/?>`),
	regexp.MustCompile(`(?i)<link(\s[^>]*)?/?>`),
	regexp.MustCompile(`(?is)<title(\s[^>]*)?>.*?</title\s*>`),
}

var (
	anchorPattern     = regexp.MustCompile(`(?is)<a\s[^>]*?href\s*=\s*"([^"]*)"[^>]*>(.*?)</a\s*>`)
	tagPattern        = regexp.MustCompile(`<[^>]*>`)
	whitespacePattern = regexp.MustCompile(`\s+`)
	bracketRunPattern = regexp.MustCompile(`[<>]+`)
)

var entityReplacer = strings.NewReplacer(
	"&nbsp;", " ",
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&#39;", "'",
	"&#8202;", " ",
)

// CleanHTML converts arbitrary, possibly malformed HTML into readable text.
// Links are kept as "text (url)". It never panics.
func CleanHTML(html string) (text string) {
	defer func() {
		if r := recover(); r != nil {
			text = fallbackClean(html)
		}
	}()

	if html == "" {
		return ""
	}

	cleaned := html
	for _, p := range structuralPatterns {
		cleaned = p.ReplaceAllString(cleaned, "")
	}
	cleaned = strings.TrimSpace(whitespacePattern.ReplaceAllString(cleaned, " "))

	text = extractText(cleaned)
	if utf8.RuneCountInString(text) > minCleanLength {
		return text
	}

	// The structural pass can remove everything useful from unusual markup;
	// retry on the untouched input.
	return extractText(html)
}

// extractText rewrites anchors, strips tags, collapses whitespace and decodes entities.
func extractText(s string) string {
	s = anchorPattern.ReplaceAllString(s, "$2 ($1)")
	s = tagPattern.ReplaceAllString(s, " ")
	s = whitespacePattern.ReplaceAllString(s, " ")
	s = entityReplacer.Replace(s)
	return strings.TrimSpace(s)
}

func fallbackClean(html string) (text string) {
	defer func() {
		if r := recover(); r != nil {
			text = bracketRunPattern.ReplaceAllString(html, " ")
		}
	}()
	return extractText(html)
}
