package outreach

import (
	"fmt"
	"strings"
)

// Touch is a rendered outbound message.
type Touch struct {
	Subject string
	Body    string
}

// TemplateData carries the per-account values merged into touch templates.
type TemplateData struct {
	AgentName   string
	CompanyName string
}

var smsTouches = []string{
	"Hi %[1]s, this is %[2]s with %[3]s. Are you the owner of %[4]s? We're buying in the area and wanted to see if you'd consider an offer.",
	"Hi %[1]s, following up on %[4]s. Would a fair cash offer with no repairs be worth a quick chat?",
	"%[1]s, just checking back about %[4]s. Any interest in selling in the next few months?",
	"Hi %[1]s, %[2]s again. Still happy to put together a no-obligation number for %[4]s if you're curious.",
	"%[1]s, we close on your timeline and cover closing costs. Want an estimate for %[4]s?",
	"Hi %[1]s, one more try on %[4]s. A simple yes or no helps us a lot.",
	"Last note from %[2]s about %[4]s. If selling ever makes sense, just reply here and we'll pick it up.",
}

var emailTouches = []struct {
	subject string
	body    string
}{
	{"Question about %[4]s", "Hi %[1]s,\n\nMy name is %[2]s with %[3]s. We're interested in %[4]s and would like to make you a fair offer. Would you be open to a short conversation?\n\nThanks,\n%[2]s"},
	{"Following up on %[4]s", "Hi %[1]s,\n\nFollowing up on my earlier note about %[4]s. We buy as-is, cover closing costs and can close on your schedule.\n\nBest,\n%[2]s"},
	{"Still interested in %[4]s", "Hi %[1]s,\n\nJust checking in. If you've thought about selling %[4]s, I'd be glad to share what we could offer.\n\n%[2]s"},
	{"A quick estimate for %[4]s", "Hi %[1]s,\n\nI can put together a no-obligation estimate for %[4]s. Reply with a good time to talk.\n\n%[2]s"},
	{"Selling %[4]s on your terms", "Hi %[1]s,\n\nNo agents, no repairs, no showings. If that sounds useful for %[4]s, let me know.\n\n%[2]s"},
	{"Checking in about %[4]s", "Hi %[1]s,\n\nI haven't heard back and want to be respectful of your time. Is selling %[4]s something you'd consider this year?\n\n%[2]s"},
	{"Closing the loop on %[4]s", "Hi %[1]s,\n\nThis is my last note about %[4]s. If anything changes, just reply to this email.\n\n%[2]s"},
}

// RenderTouch renders the touchNumber-th (1-based) templated touch for item.
// Touch numbers beyond the template list reuse the final template.
func RenderTouch(item *QueueItem, touchNumber int, data TemplateData) (Touch, error) {
	if item == nil {
		return Touch{}, fmt.Errorf("outreach: item required")
	}
	if touchNumber < 1 {
		return Touch{}, fmt.Errorf("outreach: invalid touch number %d", touchNumber)
	}
	agent := strings.TrimSpace(data.AgentName)
	if agent == "" {
		agent = "our team"
	}
	company := strings.TrimSpace(data.CompanyName)
	if company == "" {
		company = "a local home buyer"
	}
	property := strings.TrimSpace(item.PropertyAddress)
	if property == "" {
		property = "your property"
	}
	args := []any{item.FirstName(), agent, company, property}

	switch item.Channel {
	case ChannelSMS:
		tpl := smsTouches[min(touchNumber, len(smsTouches))-1]
		body := fmt.Sprintf(tpl, args...)
		if touchNumber == 1 {
			body += " Reply STOP to opt out."
		}
		return Touch{Body: body}, nil
	case ChannelEmail:
		tpl := emailTouches[min(touchNumber, len(emailTouches))-1]
		return Touch{
			Subject: fmt.Sprintf(tpl.subject, args...),
			Body:    fmt.Sprintf(tpl.body, args...),
		}, nil
	default:
		return Touch{}, fmt.Errorf("outreach: unsupported channel %q", item.Channel)
	}
}
