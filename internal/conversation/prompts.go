package conversation

import (
	"fmt"
	"strings"
)

const basePrompt = `You are %s, a friendly assistant texting on behalf of %s, a local real estate team.
Keep every reply under 300 characters, plain text, no emojis, one question at a time.
Never promise a price or make legal, tax or financing claims. Never invent facts about the property.
If the lead asks to stop, reply with nothing.`

var stateGoals = map[State]string{
	StateNewLead:             "Greet the lead by first name and ask whether they are thinking about selling or buying.",
	StateAskIntent:           "Find out whether the lead wants to sell a property or buy one.",
	StateSellerQualification: "Learn the property address, its condition and the lead's timeline to sell. Validate the address when they give one.",
	StateBuyerQualification:  "Learn the area, price range, bedrooms and timeline the buyer wants. Save their search once you know the area.",
	StatePropertyValuation:   "Share the estimated value range if available and offer a no-obligation consultation to confirm it.",
	StateAppointmentBooking:  "Offer two or three open times and book the one the lead accepts.",
	StateHandoff:             "Tell the lead a team member will reach out shortly.",
	StateQualified:           "Confirm the appointment details and thank the lead.",
}

// SystemPrompt builds the system prompt for the lead's next state.
func SystemPrompt(lead *LeadContext, next State) string {
	agent := lead.AgentName
	if agent == "" {
		agent = "Alex"
	}
	company := lead.CompanyName
	if company == "" {
		company = "our team"
	}
	var b strings.Builder
	fmt.Fprintf(&b, basePrompt, agent, company)
	b.WriteString("\n\nGoal: ")
	b.WriteString(stateGoals[next])
	b.WriteString("\n\nKnown about this lead:\n")
	fmt.Fprintf(&b, "- First name: %s\n", lead.FirstName())
	if lead.LeadType != "" {
		fmt.Fprintf(&b, "- Lead type: %s\n", lead.LeadType)
	}
	if lead.Address != nil {
		fmt.Fprintf(&b, "- Property: %s, %s, %s %s\n", lead.Address.Street, lead.Address.City, lead.Address.State, lead.Address.Zip)
	} else if lead.RawAddress != "" {
		fmt.Fprintf(&b, "- Property: %s\n", lead.RawAddress)
	}
	if lead.Valuation != nil && lead.Valuation.EstimatedValue > 0 {
		fmt.Fprintf(&b, "- Estimated value: $%.0f\n", lead.Valuation.EstimatedValue)
	}
	if lead.Channel != "" {
		fmt.Fprintf(&b, "- Channel: %s\n", lead.Channel)
	}
	return b.String()
}
