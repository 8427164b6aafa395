package conversation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/propreach/internal/crm"
)

type fakeScheduler struct {
	slots  []time.Time
	booked []crm.AppointmentRequest
}

func (s *fakeScheduler) ListFreeSlots(ctx context.Context, calendarID string, start, end time.Time, tz string) ([]time.Time, error) {
	return s.slots, nil
}

func (s *fakeScheduler) BookAppointment(ctx context.Context, req crm.AppointmentRequest) (*crm.Appointment, error) {
	s.booked = append(s.booked, req)
	return &crm.Appointment{ID: "appt-1"}, nil
}

type fakeValidator struct{ err error }

func (v fakeValidator) Validate(ctx context.Context, raw string) (*Address, error) {
	if v.err != nil {
		return nil, v.err
	}
	return &Address{Street: "12 Oak St", City: "Austin", State: "TX", Zip: "78701"}, nil
}

type fakeValuations struct{ val *Valuation }

func (f fakeValuations) GetValuation(ctx context.Context, addr Address) (*Valuation, error) {
	return f.val, nil
}

type noteRecorder struct {
	notes []string
	tags  []string
}

func (n *noteRecorder) AddNote(ctx context.Context, contactID, body string) error {
	n.notes = append(n.notes, body)
	return nil
}

func (n *noteRecorder) AddTags(ctx context.Context, contactID string, tags ...string) error {
	n.tags = append(n.tags, tags...)
	return nil
}

func TestToolValidateThenValue(t *testing.T) {
	tools := &ToolSet{Addresses: fakeValidator{}, Valuations: fakeValuations{val: &Valuation{EstimatedValue: 425000}}}
	lead := &LeadContext{ContactID: "c-1"}

	out, err := tools.Execute(context.Background(), ToolCall{Name: ToolValidateAddress, Input: map[string]any{"address": "12 oak"}}, lead)
	require.NoError(t, err)
	assert.Contains(t, out, "12 Oak St")
	require.NotNil(t, lead.Address)

	out, err = tools.Execute(context.Background(), ToolCall{Name: ToolLookupValuation}, lead)
	require.NoError(t, err)
	assert.Contains(t, out, "425000")
	assert.Contains(t, SystemPrompt(lead, StatePropertyValuation), "$425000")
}

func TestToolFailuresAreReportedAsText(t *testing.T) {
	tools := &ToolSet{Addresses: fakeValidator{err: errors.New("no match")}}
	out, err := tools.Execute(context.Background(), ToolCall{Name: ToolValidateAddress}, &LeadContext{})
	require.NoError(t, err)
	assert.Contains(t, out, "could not be validated")

	out, err = (&ToolSet{}).Execute(context.Background(), ToolCall{Name: ToolCheckAvailability}, &LeadContext{})
	require.NoError(t, err)
	assert.Contains(t, out, "not available")

	out, err = (&ToolSet{Valuations: fakeValuations{}}).Execute(context.Background(), ToolCall{Name: ToolLookupValuation}, &LeadContext{})
	require.NoError(t, err)
	assert.Contains(t, out, "No property address")
}

func TestToolUnknown(t *testing.T) {
	_, err := (&ToolSet{}).Execute(context.Background(), ToolCall{Name: "delete_everything"}, &LeadContext{})
	assert.Error(t, err)
}

func TestToolBookBadTime(t *testing.T) {
	tools := &ToolSet{Scheduler: &fakeScheduler{}}
	out, err := tools.Execute(context.Background(), ToolCall{Name: ToolBookAppointment, Input: map[string]any{"start_time": "tuesday"}}, &LeadContext{CalendarID: "cal-1"})
	require.NoError(t, err)
	assert.Contains(t, out, "not understood")
}

func TestSaveSearchWritesNoteAndTag(t *testing.T) {
	rec := &noteRecorder{}
	tools := &ToolSet{Searches: &CRMSearchSaver{CRM: rec}}
	out, err := tools.Execute(context.Background(), ToolCall{Name: ToolSaveSearch, Input: map[string]any{"area": "Austin", "min_beds": float64(3)}}, &LeadContext{ContactID: "c-1"})
	require.NoError(t, err)
	assert.Equal(t, "Search saved.", out)
	require.Len(t, rec.notes, 1)
	assert.Contains(t, rec.notes[0], `"area":"Austin"`)
	assert.Equal(t, []string{"buyer-saved-search"}, rec.tags)
}

func TestToolsForState(t *testing.T) {
	assert.Empty(t, toolsForState(StateNewLead))
	names := func(specs []ToolSpec) []string {
		out := []string{}
		for _, s := range specs {
			out = append(out, s.Name)
		}
		return out
	}
	assert.Equal(t, []string{ToolCheckAvailability, ToolBookAppointment}, names(toolsForState(StateAppointmentBooking)))
	assert.Equal(t, []string{ToolSaveSearch, ToolCheckAvailability}, names(toolsForState(StateBuyerQualification)))
}

func TestToolSpecJSONSchema(t *testing.T) {
	schema := toolSpecs[ToolSaveSearch].JSONSchema()
	assert.Equal(t, "object", schema["type"])
	assert.Equal(t, []any{"area"}, schema["required"])
	props := schema["properties"].(map[string]any)
	assert.Equal(t, "number", props["max_price"].(map[string]any)["type"])
}
