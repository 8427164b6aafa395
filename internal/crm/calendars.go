package crm

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"sort"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// ListFreeSlots returns open appointment start times between start and end.
func (c *Client) ListFreeSlots(ctx context.Context, calendarID string, start, end time.Time, timezone string) ([]time.Time, error) {
	if calendarID == "" {
		return nil, errors.New("crm: calendarID required")
	}
	ctx, span := tracer.Start(ctx, "crm.list_free_slots")
	defer span.End()
	span.SetAttributes(attribute.String("crm.calendar_id", calendarID))

	query := url.Values{
		"startDate": {strconv.FormatInt(start.UnixMilli(), 10)},
		"endDate":   {strconv.FormatInt(end.UnixMilli(), 10)},
	}
	if timezone != "" {
		query.Set("timezone", timezone)
	}
	// Response is keyed by date: {"2024-03-05": {"slots": [...]}, "traceId": "..."}.
	var resp map[string]json.RawMessage
	if err := c.invoke(ctx, call{
		method:    "GET",
		path:      "/calendars/" + url.PathEscape(calendarID) + "/free-slots",
		query:     query,
		retryable: true,
	}, &resp); err != nil {
		span.RecordError(err)
		return nil, err
	}

	var slots []time.Time
	for key, raw := range resp {
		if key == "traceId" {
			continue
		}
		var day struct {
			Slots []string `json:"slots"`
		}
		if err := json.Unmarshal(raw, &day); err != nil {
			continue
		}
		for _, s := range day.Slots {
			ts, err := time.Parse(time.RFC3339, s)
			if err != nil {
				continue
			}
			slots = append(slots, ts)
		}
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].Before(slots[j]) })
	span.SetAttributes(attribute.Int("crm.slot_count", len(slots)))
	return slots, nil
}

// BookAppointment creates a confirmed appointment. Not retried.
func (c *Client) BookAppointment(ctx context.Context, req AppointmentRequest) (*Appointment, error) {
	if req.CalendarID == "" || req.ContactID == "" || req.StartTime.IsZero() {
		return nil, errors.New("crm: calendarID, contactID and startTime required")
	}
	ctx, span := tracer.Start(ctx, "crm.book_appointment")
	defer span.End()
	span.SetAttributes(
		attribute.String("crm.calendar_id", req.CalendarID),
		attribute.String("crm.contact_id", req.ContactID),
	)

	end := req.EndTime
	if end.IsZero() {
		end = req.StartTime.Add(30 * time.Minute)
	}
	title := req.Title
	if title == "" {
		title = "Property consultation"
	}
	body := map[string]any{
		"calendarId":        req.CalendarID,
		"contactId":         req.ContactID,
		"startTime":         req.StartTime.Format(time.RFC3339),
		"endTime":           end.Format(time.RFC3339),
		"title":             title,
		"appointmentStatus": "confirmed",
	}
	var appt Appointment
	if err := c.invoke(ctx, call{
		method:       "POST",
		path:         "/calendars/events/appointments",
		body:         body,
		locationBody: true,
	}, &appt); err != nil {
		span.RecordError(err)
		return nil, err
	}
	return &appt, nil
}
