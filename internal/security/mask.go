package security

import "regexp"

var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api[_-]?key|api[_-]?secret|access[_-]?token|request[_-]?token|password|twofa[_-]?value|totp)([=:\s]+["']?)([^\s"'&]+)`),
}

// Mask hides credential values in free text such as error messages.
func Mask(s string) string {
	for _, p := range sensitivePatterns {
		s = p.ReplaceAllString(s, "${1}${2}****")
	}
	return s
}
