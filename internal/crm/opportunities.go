package crm

import (
	"context"
	"errors"
	"net/url"

	"go.opentelemetry.io/otel/attribute"
)

// GetOpportunitiesForContact lists the contact's pipeline opportunities.
func (c *Client) GetOpportunitiesForContact(ctx context.Context, contactID string) ([]Opportunity, error) {
	if contactID == "" {
		return nil, errors.New("crm: contactID required")
	}
	ctx, span := tracer.Start(ctx, "crm.get_opportunities")
	defer span.End()
	span.SetAttributes(attribute.String("crm.contact_id", contactID))

	var resp struct {
		Opportunities []Opportunity `json:"opportunities"`
	}
	err := c.invoke(ctx, call{
		method:        "GET",
		path:          "/opportunities/search",
		query:         url.Values{"contact_id": {contactID}},
		retryable:     true,
		locationQuery: "location_id",
	}, &resp)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return resp.Opportunities, nil
}

// UpdateOpportunity applies a partial update to an opportunity.
func (c *Client) UpdateOpportunity(ctx context.Context, opportunityID string, upd OpportunityUpdate) error {
	if opportunityID == "" {
		return errors.New("crm: opportunityID required")
	}
	body := map[string]any{}
	if upd.Status != "" {
		body["status"] = upd.Status
	}
	if upd.StageID != "" {
		body["pipelineStageId"] = upd.StageID
	}
	if len(upd.CustomFields) > 0 {
		resolved, err := c.fields.Resolve(upd.CustomFields)
		if err != nil {
			return err
		}
		writes := make([]fieldWrite, 0, len(resolved))
		for _, f := range resolved {
			writes = append(writes, fieldWrite{ID: f.ID, FieldValue: f.String()})
		}
		body["customFields"] = writes
	}
	if len(body) == 0 {
		return nil
	}
	ctx, span := tracer.Start(ctx, "crm.update_opportunity")
	defer span.End()
	span.SetAttributes(attribute.String("crm.opportunity_id", opportunityID))

	err := c.invoke(ctx, call{
		method:    "PUT",
		path:      "/opportunities/" + url.PathEscape(opportunityID),
		body:      body,
		retryable: true,
	}, nil)
	recordErr(span, err)
	return err
}
