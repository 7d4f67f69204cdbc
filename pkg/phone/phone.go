// Package phone holds phone number checks shared by the call flow.
package phone

import (
	"regexp"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// DefaultRegion is used to interpret numbers given without a leading '+'.
const DefaultRegion = "US"

var e164Pattern = regexp.MustCompile(`^\+?[1-9]\d{1,14}$`)

// ValidE164 reports whether s is E.164 shaped and a possible number.
// Numbers without '+' are read in region.
func ValidE164(s, region string) bool {
	s = strings.TrimSpace(s)
	if !e164Pattern.MatchString(s) {
		return false
	}
	if region == "" {
		region = DefaultRegion
	}
	n, err := phonenumbers.Parse(s, region)
	if err != nil {
		return false
	}
	return phonenumbers.IsPossibleNumber(n)
}

// NormalizeE164 formats s as +<cc><number>. Unparseable input is returned trimmed.
func NormalizeE164(s, region string) string {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return trimmed
	}
	if region == "" {
		region = DefaultRegion
	}
	n, err := phonenumbers.Parse(trimmed, region)
	if err != nil || !phonenumbers.IsPossibleNumber(n) {
		return trimmed
	}
	return phonenumbers.Format(n, phonenumbers.E164)
}
