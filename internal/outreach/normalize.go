package outreach

import (
	"strings"
	"unicode"

	"github.com/nyaruka/phonenumbers"
)

const defaultRegion = "US"

// NormalizePhone formats a phone number to E.164. If parsing fails, it returns the trimmed input.
func NormalizePhone(input string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return trimmed
	}
	number, err := phonenumbers.Parse(trimmed, defaultRegion)
	if err != nil || !phonenumbers.IsValidNumber(number) {
		return trimmed
	}
	return phonenumbers.Format(number, phonenumbers.E164)
}

var streetSuffixes = map[string]string{
	"street":    "st",
	"avenue":    "ave",
	"road":      "rd",
	"drive":     "dr",
	"lane":      "ln",
	"court":     "ct",
	"boulevard": "blvd",
	"place":     "pl",
	"circle":    "cir",
	"terrace":   "ter",
	"highway":   "hwy",
	"parkway":   "pkwy",
	"north":     "n",
	"south":     "s",
	"east":      "e",
	"west":      "w",
}

// AddressKey reduces a street address to a comparable key: lower-case,
// punctuation stripped, common suffixes abbreviated.
func AddressKey(address string) string {
	tokens := tokenize(address)
	for i, tok := range tokens {
		if short, ok := streetSuffixes[tok]; ok {
			tokens[i] = short
		}
	}
	return strings.Join(tokens, " ")
}

// NameKey is the normalized owner-name prefix used to group skip-traced
// relatives of one lead: parenthesized or dashed suffixes are dropped and the
// first two name tokens are kept.
func NameKey(name string) string {
	if idx := strings.IndexAny(name, "(-#"); idx >= 0 {
		name = name[:idx]
	}
	tokens := tokenize(name)
	if len(tokens) > 2 {
		tokens = tokens[:2]
	}
	return strings.Join(tokens, " ")
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
