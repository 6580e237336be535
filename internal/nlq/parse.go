package nlq

import (
	"regexp"
	"strings"
)

var (
	thinkPattern  = regexp.MustCompile(`(?is)<think>.*?</think>`)
	fencedPattern = regexp.MustCompile("(?is)```(?:sql|json)?\\s*(.*?)```")
	objectPattern = regexp.MustCompile(`(?s)\{.*\}`)
	selectPattern = regexp.MustCompile(`(?i)select\b`)
)

// extractSQL pulls a single SELECT statement out of model chatter: reasoning
// tags and markdown fences are stripped, leading prose before the SELECT is
// dropped and anything after the first semicolon is cut.
func extractSQL(text string) string {
	cleaned := thinkPattern.ReplaceAllString(text, "")
	if match := fencedPattern.FindStringSubmatch(cleaned); match != nil {
		cleaned = match[1]
	}
	cleaned = strings.TrimSpace(cleaned)

	if loc := selectPattern.FindStringIndex(cleaned); loc != nil && loc[0] > 0 {
		cleaned = cleaned[loc[0]:]
	}
	if idx := strings.Index(cleaned, ";"); idx >= 0 {
		cleaned = cleaned[:idx]
	}
	return strings.TrimSpace(cleaned)
}

// extractJSONObject returns the first JSON object in the text, tolerating
// markdown fences and surrounding prose.
func extractJSONObject(text string) string {
	cleaned := thinkPattern.ReplaceAllString(text, "")
	if match := fencedPattern.FindStringSubmatch(cleaned); match != nil {
		cleaned = match[1]
	}
	cleaned = strings.TrimSpace(cleaned)
	if strings.HasPrefix(cleaned, "{") && strings.HasSuffix(cleaned, "}") {
		return cleaned
	}
	return objectPattern.FindString(cleaned)
}
