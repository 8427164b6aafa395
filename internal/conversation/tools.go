package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/propreach/internal/crm"
)

// Tool names offered to the generator.
const (
	ToolValidateAddress   = "validate_address"
	ToolLookupValuation   = "lookup_valuation"
	ToolCheckAvailability = "check_availability"
	ToolBookAppointment   = "book_appointment"
	ToolSaveSearch        = "save_search"
)

// Address is a validated postal address.
type Address struct {
	Street string  `json:"street"`
	City   string  `json:"city"`
	State  string  `json:"state"`
	Zip    string  `json:"zip"`
	Lat    float64 `json:"lat,omitempty"`
	Lng    float64 `json:"lng,omitempty"`
}

// Valuation is an automated property estimate.
type Valuation struct {
	EstimatedValue float64 `json:"estimatedValue"`
	Sqft           int     `json:"sqft,omitempty"`
	Beds           int     `json:"beds,omitempty"`
	Baths          float64 `json:"baths,omitempty"`
	YearBuilt      int     `json:"yearBuilt,omitempty"`
}

// AddressValidator normalizes free-text addresses.
type AddressValidator interface {
	Validate(ctx context.Context, address string) (*Address, error)
}

// ValuationLookup estimates a property's value. A nil result means no estimate.
type ValuationLookup interface {
	GetValuation(ctx context.Context, addr Address) (*Valuation, error)
}

// Scheduler lists and books calendar slots.
type Scheduler interface {
	ListFreeSlots(ctx context.Context, calendarID string, start, end time.Time, timezone string) ([]time.Time, error)
	BookAppointment(ctx context.Context, req crm.AppointmentRequest) (*crm.Appointment, error)
}

// SearchSaver records a buyer's search criteria.
type SearchSaver interface {
	SaveSearch(ctx context.Context, contactID string, criteria map[string]any) error
}

var toolSpecs = map[string]ToolSpec{
	ToolValidateAddress: {
		Name:        ToolValidateAddress,
		Description: "Validate and normalize a property address the lead mentioned.",
		Params:      []ToolParam{{Name: "address", Description: "Full street address", Required: true}},
	},
	ToolLookupValuation: {
		Name:        ToolLookupValuation,
		Description: "Look up an estimated market value for the lead's property.",
		Params:      []ToolParam{{Name: "address", Description: "Full street address; defaults to the address on file"}},
	},
	ToolCheckAvailability: {
		Name:        ToolCheckAvailability,
		Description: "List open consultation times over the next few days.",
		Params:      []ToolParam{{Name: "days", Type: "number", Description: "How many days ahead to search (1-7)"}},
	},
	ToolBookAppointment: {
		Name:        ToolBookAppointment,
		Description: "Book a consultation at a time the lead accepted.",
		Params:      []ToolParam{{Name: "start_time", Description: "RFC3339 start time of an offered slot", Required: true}},
	},
	ToolSaveSearch: {
		Name:        ToolSaveSearch,
		Description: "Save a buyer's home search so matching listings are sent to them.",
		Params: []ToolParam{
			{Name: "area", Description: "City, neighborhood or zip", Required: true},
			{Name: "max_price", Type: "number", Description: "Maximum price in dollars"},
			{Name: "min_beds", Type: "number", Description: "Minimum bedrooms"},
		},
	},
}

// toolsForState returns the tools offered in a state.
func toolsForState(s State) []ToolSpec {
	var names []string
	switch s {
	case StateSellerQualification:
		names = []string{ToolValidateAddress, ToolLookupValuation}
	case StatePropertyValuation:
		names = []string{ToolLookupValuation, ToolCheckAvailability}
	case StateAppointmentBooking:
		names = []string{ToolCheckAvailability, ToolBookAppointment}
	case StateBuyerQualification:
		names = []string{ToolSaveSearch, ToolCheckAvailability}
	}
	out := make([]ToolSpec, 0, len(names))
	for _, n := range names {
		out = append(out, toolSpecs[n])
	}
	return out
}

// ToolSet executes tool calls against the configured collaborators. Any
// collaborator may be nil, in which case its tool reports unavailability.
type ToolSet struct {
	Addresses  AddressValidator
	Valuations ValuationLookup
	Scheduler  Scheduler
	Searches   SearchSaver
	Now        func() time.Time
}

// Execute runs one tool call and returns a text result for the model. Tool
// failures are reported to the model as text rather than aborting the reply.
func (t *ToolSet) Execute(ctx context.Context, call ToolCall, lead *LeadContext) (string, error) {
	switch call.Name {
	case ToolValidateAddress:
		if t.Addresses == nil {
			return unavailable(call.Name), nil
		}
		addr, err := t.Addresses.Validate(ctx, call.StringArg("address"))
		if err != nil {
			return fmt.Sprintf("The address could not be validated: %v", err), nil
		}
		lead.Address = addr
		return toJSON(addr)

	case ToolLookupValuation:
		if t.Valuations == nil {
			return unavailable(call.Name), nil
		}
		addr := lead.Address
		if raw := call.StringArg("address"); raw != "" && t.Addresses != nil {
			if v, err := t.Addresses.Validate(ctx, raw); err == nil {
				addr = v
			}
		}
		if addr == nil {
			return "No property address is known yet. Ask the lead for it.", nil
		}
		val, err := t.Valuations.GetValuation(ctx, *addr)
		if err != nil {
			return fmt.Sprintf("Valuation lookup failed: %v", err), nil
		}
		if val == nil {
			return "No estimate is available for this property.", nil
		}
		lead.Valuation = val
		return toJSON(val)

	case ToolCheckAvailability:
		if t.Scheduler == nil || lead.CalendarID == "" {
			return unavailable(call.Name), nil
		}
		days := 3
		if d, ok := call.Input["days"].(float64); ok && d >= 1 && d <= 7 {
			days = int(d)
		}
		start := t.now()
		slots, err := t.Scheduler.ListFreeSlots(ctx, lead.CalendarID, start, start.AddDate(0, 0, days), lead.Timezone)
		if err != nil {
			return fmt.Sprintf("Calendar lookup failed: %v", err), nil
		}
		if len(slots) == 0 {
			return "No open times in that range.", nil
		}
		if len(slots) > 6 {
			slots = slots[:6]
		}
		formatted := make([]string, 0, len(slots))
		for _, s := range slots {
			formatted = append(formatted, s.Format(time.RFC3339))
		}
		return "Open times: " + strings.Join(formatted, ", "), nil

	case ToolBookAppointment:
		if t.Scheduler == nil || lead.CalendarID == "" {
			return unavailable(call.Name), nil
		}
		start, err := time.Parse(time.RFC3339, call.StringArg("start_time"))
		if err != nil {
			return "The requested time was not understood. Offer the open times again.", nil
		}
		appt, err := t.Scheduler.BookAppointment(ctx, crm.AppointmentRequest{
			CalendarID: lead.CalendarID,
			ContactID:  lead.ContactID,
			StartTime:  start,
			Title:      "Consultation with " + lead.FirstName(),
		})
		if err != nil {
			return fmt.Sprintf("Booking failed: %v", err), nil
		}
		lead.Booked = true
		return fmt.Sprintf("Booked appointment %s at %s.", appt.ID, start.Format(time.RFC3339)), nil

	case ToolSaveSearch:
		if t.Searches == nil {
			return unavailable(call.Name), nil
		}
		if err := t.Searches.SaveSearch(ctx, lead.ContactID, call.Input); err != nil {
			return fmt.Sprintf("Saving the search failed: %v", err), nil
		}
		return "Search saved.", nil
	}
	return "", fmt.Errorf("conversation: unknown tool %q", call.Name)
}

func (t *ToolSet) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}

func unavailable(name string) string {
	return name + " is not available right now. Continue without it."
}

func toJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", errors.New("conversation: encode tool result")
	}
	return string(data), nil
}

// CRMSearchSaver stores buyer searches as a contact note plus a tag.
type CRMSearchSaver struct {
	CRM interface {
		AddNote(ctx context.Context, contactID, body string) error
		AddTags(ctx context.Context, contactID string, tags ...string) error
	}
}

func (s *CRMSearchSaver) SaveSearch(ctx context.Context, contactID string, criteria map[string]any) error {
	data, err := json.Marshal(criteria)
	if err != nil {
		return err
	}
	if err := s.CRM.AddNote(ctx, contactID, "Saved home search: "+string(data)); err != nil {
		return err
	}
	return s.CRM.AddTags(ctx, contactID, "buyer-saved-search")
}
