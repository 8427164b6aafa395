package crm

import (
	"fmt"
	"sort"
)

// Logical custom field names. Vendor ids differ per CRM location and are
// injected through a FieldMap.
const (
	FieldAIState         = "ai_state"
	FieldSMSTouchCount   = "sms_touch_count"
	FieldLastSMSAt       = "last_sms_at"
	FieldEmailTouchCount = "email_touch_count"
	FieldLastEmailAt     = "last_email_at"
	FieldDialAttempts    = "dial_attempts"
	FieldLastDialAt      = "last_dial_at"
	FieldCallOutcome     = "call_outcome"
	FieldLeadType        = "lead_type"
	FieldLeadID          = "lead_id"
	FieldPropertyAddress = "property_address"
	FieldEstimatedValue  = "estimated_value"
	FieldDisposition     = "disposition"
)

// FieldMap resolves logical field names to vendor custom field ids.
type FieldMap struct {
	ids map[string]string
}

// NewFieldMap copies ids into a FieldMap.
func NewFieldMap(ids map[string]string) FieldMap {
	cp := make(map[string]string, len(ids))
	for k, v := range ids {
		cp[k] = v
	}
	return FieldMap{ids: cp}
}

// ID returns the vendor id for name.
func (m FieldMap) ID(name string) (string, bool) {
	id, ok := m.ids[name]
	return id, ok && id != ""
}

// Read returns the contact's value for the logical field, or "" when unmapped.
func (m FieldMap) Read(c *Contact, name string) string {
	id, ok := m.ID(name)
	if !ok || c == nil {
		return ""
	}
	return c.FieldValue(id)
}

// Resolve converts logical name/value pairs into vendor field ids. Unmapped
// names are an error so a misconfigured location fails loudly.
func (m FieldMap) Resolve(values map[string]string) ([]CustomFieldValue, error) {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]CustomFieldValue, 0, len(values))
	for _, name := range names {
		id, ok := m.ID(name)
		if !ok {
			return nil, fmt.Errorf("crm: unmapped custom field %q", name)
		}
		out = append(out, CustomFieldValue{ID: id, Value: values[name]})
	}
	return out, nil
}
