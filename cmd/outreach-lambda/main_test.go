package main

import (
	"context"
	"testing"

	outreachworker "github.com/wolfman30/propreach/internal/worker/outreach"
)

type stubRunner struct {
	smsCalls   []outreachworker.Request
	emailCalls []outreachworker.Request
}

func (s *stubRunner) RunSMS(_ context.Context, req outreachworker.Request) (outreachworker.SMSResult, error) {
	s.smsCalls = append(s.smsCalls, req)
	return outreachworker.SMSResult{StatusCode: 200, ContactsProcessed: 3}, nil
}

func (s *stubRunner) RunEmail(_ context.Context, req outreachworker.Request) (outreachworker.EmailResult, error) {
	s.emailCalls = append(s.emailCalls, req)
	return outreachworker.EmailResult{StatusCode: 200, EmailsSent: 5}, nil
}

func TestHandleUsesDefaultChannel(t *testing.T) {
	runner := &stubRunner{}
	resp, err := handle(context.Background(), runner, "SMS", invocation{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != 200 || resp.ContactsProcessed != 3 || resp.Channel != "SMS" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if len(runner.smsCalls) != 1 || len(runner.emailCalls) != 0 {
		t.Fatalf("expected one sms pass, got sms=%d email=%d", len(runner.smsCalls), len(runner.emailCalls))
	}
}

func TestHandleEventChannelOverridesDefault(t *testing.T) {
	runner := &stubRunner{}
	resp, err := handle(context.Background(), runner, "SMS", invocation{UserID: " user-1 ", Channel: "email"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.EmailsSent != 5 || resp.Channel != "EMAIL" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if len(runner.emailCalls) != 1 || runner.emailCalls[0].UserID != "user-1" {
		t.Fatalf("expected scoped email pass, got %+v", runner.emailCalls)
	}
}

func TestHandleRejectsUnknownChannel(t *testing.T) {
	runner := &stubRunner{}
	resp, err := handle(context.Background(), runner, "SMS", invocation{Channel: "fax"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != 400 {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if len(runner.smsCalls)+len(runner.emailCalls) != 0 {
		t.Fatalf("expected no runs")
	}
}
