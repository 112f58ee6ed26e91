package utils

import (
	"regexp"
	"strings"
)

// ChatIDSuffix is appended to bare phone numbers to form a user chat id
const ChatIDSuffix = "@c.us"

var nonDigits = regexp.MustCompile(`\D`)

// FirstNonEmpty returns the first non-empty value, or "" when all are empty
func FirstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func SplitByMultipleDelimiters(s string, delimiters ...string) []string {
	if len(delimiters) == 0 {
		return []string{s}
	}
	delimiterPattern := "[" + regexp.QuoteMeta(strings.Join(delimiters, "")) + "]"
	re := regexp.MustCompile(delimiterPattern)
	return re.Split(s, -1)
}

// NormalizeChatID turns a phone number into a chat id. Values that already
// carry a domain ("@") are returned untouched; anything else is stripped to
// its digits and suffixed with ChatIDSuffix.
func NormalizeChatID(number string) string {
	number = strings.TrimSpace(number)
	if strings.Contains(number, "@") {
		return number
	}
	return nonDigits.ReplaceAllString(number, "") + ChatIDSuffix
}

// DigitsOnly strips everything but digits
func DigitsOnly(s string) string {
	return nonDigits.ReplaceAllString(s, "")
}
