// Package privacy scrubs credentials from item text before it leaves the
// service, e.g. in prompts sent to an external naming model.
package privacy

import (
	"regexp"
	"strings"
)

// Marker replaces every redacted value.
const Marker = "[REDACTED]"

// rule is one kind of credential. Keyed rules keep the "key=" or "key:" part
// of a match and replace only the value.
type rule struct {
	re    *regexp.Regexp
	name  string
	keyed bool
}

var rules = []rule{
	{name: "api_key", keyed: true, re: regexp.MustCompile(`(?i)(api[_-]?key|apikey)\s*[:=]\s*['"]?[a-zA-Z0-9_-]{20,}['"]?`)},
	{name: "password", keyed: true, re: regexp.MustCompile(`(?i)(password|passwd|pwd)\s*[:=]\s*['"][^'"]{8,}['"]`)},
	{name: "secret", keyed: true, re: regexp.MustCompile(`(?i)(secret[_-]?key|secret[_-]?token|auth[_-]?token)\s*[:=]\s*['"]?[a-zA-Z0-9_-]{20,}['"]?`)},
	{name: "aws_secret", keyed: true, re: regexp.MustCompile(`(?i)aws[_-]?secret[_-]?access[_-]?key\s*[:=]\s*['"]?[a-zA-Z0-9/+=]{40}['"]?`)},
	{name: "anthropic", re: regexp.MustCompile(`sk-ant-[a-zA-Z0-9-]{20,}`)},
	{name: "openai", re: regexp.MustCompile(`sk-[a-zA-Z0-9]{20,}`)},
	{name: "github", re: regexp.MustCompile(`gh[pous]_[a-zA-Z0-9]{36,}|github_pat_[a-zA-Z0-9_]{22,}`)},
	{name: "aws_access_key", re: regexp.MustCompile(`AKIA[0-9A-Z]{16}`)},
	{name: "private_key", re: regexp.MustCompile(`-----BEGIN (RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----`)},
	{name: "jwt", re: regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`)},
	{name: "bearer", re: regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9_-]{20,}`)},
}

// ContainsSecrets reports whether text matches any credential rule.
func ContainsSecrets(text string) bool {
	if text == "" {
		return false
	}
	for _, r := range rules {
		if r.re.MatchString(text) {
			return true
		}
	}
	return false
}

// Redact replaces credentials in text and returns the scrubbed text with the
// names of the rules that fired, in rule order.
func Redact(text string) (string, []string) {
	if text == "" {
		return text, nil
	}

	var fired []string
	for _, r := range rules {
		if !r.re.MatchString(text) {
			continue
		}
		fired = append(fired, r.name)
		keyed := r.keyed
		text = r.re.ReplaceAllStringFunc(text, func(match string) string {
			if keyed {
				if idx := strings.IndexAny(match, "=:"); idx >= 0 {
					return match[:idx+1] + Marker
				}
			}
			if len(match) > 8 {
				return match[:4] + "..." + Marker
			}
			return Marker
		})
	}
	return text, fired
}

// RedactString is Redact without the rule names.
func RedactString(text string) string {
	out, _ := Redact(text)
	return out
}
