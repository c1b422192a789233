package challenge

import (
	"regexp"
	"strings"
)

// pinPatterns find verification codes in e-mail text, most specific first
var pinPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:code|pin|otp)[\s:\-]*(?:is[\s:\-]*)?(\d{6})\b`),
	regexp.MustCompile(`(?i)verification[\s\w]*?[\s:\-]+(\d{6})\b`),
	regexp.MustCompile(`(?m)^\s*(\d{6})\s*$`),
	regexp.MustCompile(`\b(\d{6})\b`),
}

// DetectPIN returns the first verification code found in text
func DetectPIN(text string) (string, bool) {
	for _, re := range pinPatterns {
		if m := re.FindStringSubmatch(text); len(m) > 1 {
			return strings.TrimSpace(m[1]), true
		}
	}
	return "", false
}
