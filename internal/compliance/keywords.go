package compliance

import (
	"regexp"
	"strings"

	"github.com/wolfman30/propreach/internal/outreach"
)

type outcomePattern struct {
	outcome outreach.Outcome
	re      *regexp.Regexp
}

// Detector maps inbound replies to terminal dispositions: carrier opt-out
// keywords plus the common seller brush-offs.
type Detector struct {
	stopRegex *regexp.Regexp
	patterns  []outcomePattern
}

// NewDetector returns a keyword detector with sane defaults.
func NewDetector() *Detector {
	return &Detector{
		stopRegex: regexp.MustCompile(`(?i)^\s*(?:please\s+)?(stop|stopall|unsubscribe|cancel|end|quit)\s*[.!]*\s*$`),
		patterns: []outcomePattern{
			{outreach.OutcomeDNC, regexp.MustCompile(`(?i)\b(do\s*not|don'?t)\s+(text|contact|call|message)\b|\b(remove|take)\s+me\s+off\b|\bremove\s+me\b`)},
			{outreach.OutcomeWrongNumber, regexp.MustCompile(`(?i)\bwrong\s+(number|person)\b|\b(i\s+)?(don'?t|do\s+not)\s+own\b|\bnot\s+(the\s+)?owner\b`)},
			{outreach.OutcomeAlreadySold, regexp.MustCompile(`(?i)\balready\s+sold\b|\bsold\s+(it|the\s+(house|property|home))\b`)},
			{outreach.OutcomeAlreadyListed, regexp.MustCompile(`(?i)\balready\s+(listed|under\s+contract)\b|\b(listed|working)\s+with\s+an?\s+(agent|realtor)\b`)},
			{outreach.OutcomeNotInterested, regexp.MustCompile(`(?i)\bnot\s+interested\b|\bno\s+thanks?\b|\bnot\s+selling\b`)},
		},
	}
}

// IsStop returns true when body is a carrier opt-out keyword.
func (d *Detector) IsStop(body string) bool {
	if d == nil || d.stopRegex == nil {
		return false
	}
	return d.stopRegex.MatchString(strings.TrimSpace(body))
}

// Classify returns the terminal outcome implied by body, if any.
func (d *Detector) Classify(body string) (outreach.Outcome, bool) {
	if d == nil {
		return "", false
	}
	if d.IsStop(body) {
		return outreach.OutcomeDNC, true
	}
	for _, p := range d.patterns {
		if p.re.MatchString(body) {
			return p.outcome, true
		}
	}
	return "", false
}
