package conversation

import (
	"regexp"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// keywordSet matches whole words and phrases, so "Russell" is not "sell".
type keywordSet struct {
	handoff *regexp.Regexp
	booking *regexp.Regexp
	seller  *regexp.Regexp
	buyer   *regexp.Regexp
}

func defaultKeywords() *keywordSet {
	return &keywordSet{
		handoff: wordPattern(
			"speak to someone", "speak with someone", "talk to someone", "talk to a person",
			"real person", "a human", "call me", "give me a call", "call me back",
			"phone call", "speak to an agent", "talk to an agent",
		),
		booking: wordPattern(
			"schedule", "appointment", "book a", "set up a time", "meet with",
			"walkthrough", "walk through", "come by", "come out",
		),
		seller: wordPattern(
			"sell", "selling", "offer", "cash", "what's it worth", "whats it worth",
			"how much is my", "value", "list my", "get rid of",
		),
		buyer: wordPattern(
			"buy", "buying", "looking for a home", "looking for a house", "purchase",
			"bedroom", "bedrooms", "move to", "relocate", "relocating", "relocation", "first home",
		),
	}
}

// wordPattern compiles phrases into one case-insensitive alternation anchored
// on word boundaries. Runs of whitespace inside a phrase match any spacing.
func wordPattern(phrases ...string) *regexp.Regexp {
	alts := make([]string, 0, len(phrases))
	for _, p := range phrases {
		words := strings.Fields(p)
		for i, w := range words {
			words[i] = regexp.QuoteMeta(w)
		}
		alts = append(alts, strings.Join(words, `\s+`))
	}
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(alts, "|") + `)\b`)
}

func (k *keywordSet) wantsHandoff(text string) bool { return k.handoff.MatchString(text) }
func (k *keywordSet) wantsBooking(text string) bool { return k.booking.MatchString(text) }
func (k *keywordSet) sellerIntent(text string) bool { return k.seller.MatchString(text) }
func (k *keywordSet) buyerIntent(text string) bool  { return k.buyer.MatchString(text) }

var phoneCandidate = regexp.MustCompile(`\+?1?[\s.\-(]*\d{3}[\s.\-)]*\d{3}[\s.\-]*\d{4}`)

// containsPhoneNumber reports whether text volunteers a valid US number.
func containsPhoneNumber(text string) bool {
	for _, candidate := range phoneCandidate.FindAllString(text, -1) {
		num, err := phonenumbers.Parse(candidate, "US")
		if err != nil {
			continue
		}
		if phonenumbers.IsValidNumber(num) {
			return true
		}
	}
	return false
}
