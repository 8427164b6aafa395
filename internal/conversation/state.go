// Package conversation drives the AI reply flow for inbound lead messages:
// a keyword state machine, a tool-using generator and the side effects of
// each exchange.
package conversation

import "strings"

// State is the lead's position in the qualification flow.
type State string

const (
	StateNewLead             State = "NEW_LEAD"
	StateAskIntent           State = "ASK_INTENT"
	StateSellerQualification State = "SELLER_QUALIFICATION"
	StateBuyerQualification  State = "BUYER_QUALIFICATION"
	StatePropertyValuation   State = "PROPERTY_VALUATION"
	StateAppointmentBooking  State = "APPOINTMENT_BOOKING"
	StateQualified           State = "QUALIFIED"
	StateHandoff             State = "HANDOFF"
)

// ParseState reads the AI-state custom field. Unknown or empty values start a new lead.
func ParseState(raw string) State {
	s := State(strings.ToUpper(strings.TrimSpace(raw)))
	switch s {
	case StateNewLead, StateAskIntent, StateSellerQualification, StateBuyerQualification,
		StatePropertyValuation, StateAppointmentBooking, StateQualified, StateHandoff:
		return s
	}
	return StateNewLead
}

// Terminal states get no further AI replies.
func (s State) Terminal() bool {
	return s == StateQualified || s == StateHandoff
}

// Intent is what the lead wants to do with real estate.
type Intent string

const (
	IntentUnknown Intent = ""
	IntentSeller  Intent = "seller"
	IntentBuyer   Intent = "buyer"
)

// Signals are the facts the transition function decides on.
type Signals struct {
	Text            string
	HasKnownAddress bool
	DeclaredIntent  Intent
}

// Transitioner computes the next state for an inbound message.
type Transitioner interface {
	Next(current State, sig Signals) State
}

// KeywordTransitioner is the default heuristic classifier.
type KeywordTransitioner struct {
	kw *keywordSet
}

// NewKeywordTransitioner returns the default keyword-driven transition table.
func NewKeywordTransitioner() *KeywordTransitioner {
	return &KeywordTransitioner{kw: defaultKeywords()}
}

var _ Transitioner = (*KeywordTransitioner)(nil)

// Next applies the transition table. Terminal states never move.
func (t *KeywordTransitioner) Next(current State, sig Signals) State {
	if current.Terminal() {
		return current
	}
	text := strings.ToLower(sig.Text)
	if t.kw.wantsHandoff(text) || containsPhoneNumber(sig.Text) {
		return StateHandoff
	}
	if t.kw.wantsBooking(text) {
		return StateAppointmentBooking
	}

	switch current {
	case StateNewLead, StateAskIntent:
		switch t.intent(text, sig.DeclaredIntent) {
		case IntentSeller:
			if sig.HasKnownAddress {
				return StatePropertyValuation
			}
			return StateSellerQualification
		case IntentBuyer:
			return StateBuyerQualification
		}
		return StateAskIntent
	case StateSellerQualification:
		if sig.HasKnownAddress {
			return StatePropertyValuation
		}
	case StatePropertyValuation:
		return StateAppointmentBooking
	case StateAppointmentBooking:
		return StateQualified
	}
	return current
}

// intent resolves the message intent. The declared intent only breaks a tie
// when the message matches both vocabularies.
func (t *KeywordTransitioner) intent(text string, declared Intent) Intent {
	seller := t.kw.sellerIntent(text)
	buyer := t.kw.buyerIntent(text)
	switch {
	case seller && buyer:
		if declared != IntentUnknown {
			return declared
		}
		return IntentUnknown
	case seller:
		return IntentSeller
	case buyer:
		return IntentBuyer
	}
	return IntentUnknown
}

// IntentFromLeadType maps a CRM lead-type label to a declared intent.
func IntentFromLeadType(leadType string) Intent {
	lt := strings.ToLower(leadType)
	switch {
	case strings.Contains(lt, "buyer"):
		return IntentBuyer
	case lt == "":
		return IntentUnknown
	default:
		return IntentSeller
	}
}
