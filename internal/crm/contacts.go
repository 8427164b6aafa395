package crm

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type fieldWrite struct {
	ID         string `json:"id"`
	FieldValue string `json:"field_value"`
}

// GetContact fetches a contact by id.
func (c *Client) GetContact(ctx context.Context, contactID string) (*Contact, error) {
	if contactID == "" {
		return nil, errors.New("crm: contactID required")
	}
	ctx, span := tracer.Start(ctx, "crm.get_contact")
	defer span.End()
	span.SetAttributes(attribute.String("crm.contact_id", contactID))

	var resp struct {
		Contact Contact `json:"contact"`
	}
	err := c.invoke(ctx, call{
		method:    "GET",
		path:      "/contacts/" + url.PathEscape(contactID),
		retryable: true,
	}, &resp)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return &resp.Contact, nil
}

// UpdateCustomFields sets logical custom fields on a contact. Setting a value
// is idempotent, so the write is retried like a read.
func (c *Client) UpdateCustomFields(ctx context.Context, contactID string, values map[string]string) error {
	if contactID == "" {
		return errors.New("crm: contactID required")
	}
	if len(values) == 0 {
		return nil
	}
	resolved, err := c.fields.Resolve(values)
	if err != nil {
		return err
	}
	ctx, span := tracer.Start(ctx, "crm.update_custom_fields")
	defer span.End()
	span.SetAttributes(
		attribute.String("crm.contact_id", contactID),
		attribute.Int("crm.field_count", len(resolved)),
	)

	writes := make([]fieldWrite, 0, len(resolved))
	for _, f := range resolved {
		writes = append(writes, fieldWrite{ID: f.ID, FieldValue: f.String()})
	}
	err = c.invoke(ctx, call{
		method:    "PUT",
		path:      "/contacts/" + url.PathEscape(contactID),
		body:      map[string]any{"customFields": writes},
		retryable: true,
	}, nil)
	recordErr(span, err)
	return err
}

// AddTags adds tags to a contact. Tags are a set on the CRM side.
func (c *Client) AddTags(ctx context.Context, contactID string, tags ...string) error {
	if contactID == "" {
		return errors.New("crm: contactID required")
	}
	clean := make([]string, 0, len(tags))
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" {
			clean = append(clean, t)
		}
	}
	if len(clean) == 0 {
		return nil
	}
	ctx, span := tracer.Start(ctx, "crm.add_tags")
	defer span.End()
	span.SetAttributes(
		attribute.String("crm.contact_id", contactID),
		attribute.StringSlice("crm.tags", clean),
	)

	err := c.invoke(ctx, call{
		method:    "POST",
		path:      "/contacts/" + url.PathEscape(contactID) + "/tags",
		body:      map[string]any{"tags": clean},
		retryable: true,
	}, nil)
	recordErr(span, err)
	return err
}

// SearchContacts runs a location-scoped contact search.
func (c *Client) SearchContacts(ctx context.Context, req SearchRequest) ([]Contact, error) {
	ctx, span := tracer.Start(ctx, "crm.search_contacts")
	defer span.End()

	limit := req.PageLimit
	if limit <= 0 {
		limit = 20
	}
	body := map[string]any{"pageLimit": limit}
	if q := strings.TrimSpace(req.Query); q != "" {
		body["query"] = q
	}
	if req.Tag != "" {
		body["filters"] = []map[string]any{{
			"field":    "tags",
			"operator": "contains",
			"value":    req.Tag,
		}}
	}
	var resp struct {
		Contacts []Contact `json:"contacts"`
	}
	err := c.invoke(ctx, call{
		method:       "POST",
		path:         "/contacts/search",
		body:         body,
		retryable:    true,
		locationBody: true,
	}, &resp)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("crm.result_count", len(resp.Contacts)))
	return resp.Contacts, nil
}

// AddNote appends a note to the contact timeline.
func (c *Client) AddNote(ctx context.Context, contactID, body string) error {
	if contactID == "" || strings.TrimSpace(body) == "" {
		return errors.New("crm: contactID and body required")
	}
	ctx, span := tracer.Start(ctx, "crm.add_note")
	defer span.End()
	span.SetAttributes(attribute.String("crm.contact_id", contactID))

	err := c.invoke(ctx, call{
		method: "POST",
		path:   "/contacts/" + url.PathEscape(contactID) + "/notes",
		body:   map[string]any{"body": body},
	}, nil)
	recordErr(span, err)
	return err
}

func recordErr(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
	}
}
