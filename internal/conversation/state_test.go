package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeywordTransitions(t *testing.T) {
	tr := NewKeywordTransitioner()
	tests := []struct {
		name    string
		current State
		sig     Signals
		want    State
	}{
		{"seller without address", StateNewLead, Signals{Text: "Yes I might sell"}, StateSellerQualification},
		{"seller with address", StateAskIntent, Signals{Text: "thinking about selling", HasKnownAddress: true}, StatePropertyValuation},
		{"buyer", StateNewLead, Signals{Text: "We want to buy a 3 bedroom"}, StateBuyerQualification},
		{"ambiguous new lead", StateNewLead, Signals{Text: "who is this?"}, StateAskIntent},
		{"name containing a keyword", StateNewLead, Signals{Text: "This is Russell, who is this?"}, StateAskIntent},
		{"keyword inside longer words", StateNewLead, Signals{Text: "Uncashed checks and a buyout notice?"}, StateAskIntent},
		{"buyer stem", StateNewLead, Signals{Text: "We're relocating this spring"}, StateBuyerQualification},
		{"ambiguous ask intent stays", StateAskIntent, Signals{Text: "hmm maybe"}, StateAskIntent},
		{"tie broken by declared intent", StateNewLead, Signals{Text: "sell mine and buy another", DeclaredIntent: IntentBuyer}, StateBuyerQualification},
		{"tie without declared intent", StateNewLead, Signals{Text: "sell mine and buy another"}, StateAskIntent},
		{"seller qualification gets address", StateSellerQualification, Signals{Text: "it's 12 Oak St", HasKnownAddress: true}, StatePropertyValuation},
		{"seller qualification without address stays", StateSellerQualification, Signals{Text: "not sure yet"}, StateSellerQualification},
		{"valuation advances", StatePropertyValuation, Signals{Text: "ok"}, StateAppointmentBooking},
		{"booking qualifies", StateAppointmentBooking, Signals{Text: "tuesday works"}, StateQualified},
		{"booking keyword from any state", StateBuyerQualification, Signals{Text: "can we schedule a time"}, StateAppointmentBooking},
		{"handoff keyword", StateSellerQualification, Signals{Text: "Can I speak to someone?"}, StateHandoff},
		{"volunteered phone", StateNewLead, Signals{Text: "reach me at (202) 456-1111"}, StateHandoff},
		{"handoff beats booking", StateNewLead, Signals{Text: "call me to schedule"}, StateHandoff},
		{"qualified is terminal", StateQualified, Signals{Text: "call me"}, StateQualified},
		{"handoff is terminal", StateHandoff, Signals{Text: "I want to sell"}, StateHandoff},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tr.Next(tt.current, tt.sig))
		})
	}
}

func TestParseState(t *testing.T) {
	assert.Equal(t, StateSellerQualification, ParseState("seller_qualification"))
	assert.Equal(t, StateNewLead, ParseState(""))
	assert.Equal(t, StateNewLead, ParseState("bogus"))
}

func TestIntentFromLeadType(t *testing.T) {
	assert.Equal(t, IntentBuyer, IntentFromLeadType("Buyer Lead"))
	assert.Equal(t, IntentSeller, IntentFromLeadType("Absentee Owner"))
	assert.Equal(t, IntentUnknown, IntentFromLeadType(""))
}

func TestContainsPhoneNumber(t *testing.T) {
	assert.True(t, containsPhoneNumber("my cell is 202.456.1111"))
	assert.True(t, containsPhoneNumber("+1 202 456 1111"))
	assert.False(t, containsPhoneNumber("the house is 1200 sqft"))
	assert.False(t, containsPhoneNumber("call 123-456-7890"))
}
