package classify

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"inboxtriage/internal/model"
)

const (
	categorizeSystemPrompt = "You are a helpful AI assistant that categorizes emails and provides meaningful summaries. " +
		"Always respond with valid JSON. Provide specific, informative summaries that help users understand the email content."

	unsubscribeSystemPrompt = "You are an expert at extracting unsubscribe information from emails. Return only valid JSON."

	// maxPromptContent bounds the email text sent to the oracle, in runes.
	maxPromptContent = 8000
)

func buildCategorizePrompt(content string, categories []model.CategoryRef) string {
	var b strings.Builder
	b.WriteString("You are an AI email categorizer. Analyze the following email content and categorize it into one of the available categories.\n\n")
	b.WriteString("Available categories:\n")
	for _, c := range categories {
		fmt.Fprintf(&b, "- id %d, %s: %s\n", c.ID, c.Name, c.Description)
	}
	b.WriteString("\nEmail content:\n")
	b.WriteString(truncateRunes(content, maxPromptContent))
	b.WriteString(`

Please respond with a JSON object in this exact format:
{
  "category_id": <id number from the list above, or null>,
  "confidence": <number between 0 and 1>,
  "summary": "<brief summary of the email content>"
}

If the email doesn't fit any category well, set category_id to null and confidence to 0.`)
	return b.String()
}

func buildUnsubscribePrompt(content string) string {
	return `Extract unsubscribe information from this email. Look for:
1. Unsubscribe URLs
2. Unsubscribe email addresses
3. Any other unsubscribe mechanisms

Email content:
` + truncateRunes(content, maxPromptContent) + `

Respond with JSON only:
{
  "url": "unsubscribe_url_if_found",
  "email": "unsubscribe_email_if_found",
  "found": true/false
}`
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
