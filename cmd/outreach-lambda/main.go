package main

import (
	"context"
	"os"
	"strings"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/wolfman30/propreach/cmd/mainconfig"
	"github.com/wolfman30/propreach/internal/app/bootstrap"
	appconfig "github.com/wolfman30/propreach/internal/config"
	"github.com/wolfman30/propreach/internal/outreach"
	outreachworker "github.com/wolfman30/propreach/internal/worker/outreach"
	"github.com/wolfman30/propreach/pkg/logging"
)

// invocation is the scheduled or manual trigger payload. Channel overrides
// OUTREACH_CHANNEL so one deployment can serve both schedules.
type invocation struct {
	UserID  string `json:"userId,omitempty"`
	Channel string `json:"channel,omitempty"`
}

type response struct {
	StatusCode        int    `json:"statusCode"`
	Channel           string `json:"channel"`
	ContactsProcessed int    `json:"contactsProcessed,omitempty"`
	EmailsSent        int    `json:"emailsSent,omitempty"`
	Message           string `json:"message,omitempty"`
}

type outreachRunner interface {
	RunSMS(ctx context.Context, req outreachworker.Request) (outreachworker.SMSResult, error)
	RunEmail(ctx context.Context, req outreachworker.Request) (outreachworker.EmailResult, error)
}

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	ctx := context.Background()
	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}
	core, err := bootstrap.BuildCore(ctx, cfg, awsCfg, nil, logger)
	if err != nil {
		logger.Error("failed to wire core", "error", err)
		os.Exit(1)
	}
	runner := bootstrap.BuildRunner(core)

	lambda.Start(func(ctx context.Context, evt invocation) (response, error) {
		return handle(ctx, runner, cfg.OutreachChannel, evt)
	})
}

func handle(ctx context.Context, runner outreachRunner, defaultChannel string, evt invocation) (response, error) {
	raw := strings.TrimSpace(evt.Channel)
	if raw == "" {
		raw = defaultChannel
	}
	channel, err := outreach.ParseChannel(raw)
	if err != nil {
		return response{StatusCode: 400, Channel: raw, Message: err.Error()}, nil
	}

	req := outreachworker.Request{UserID: strings.TrimSpace(evt.UserID)}
	if channel == outreach.ChannelEmail {
		res, err := runner.RunEmail(ctx, req)
		return response{StatusCode: res.StatusCode, Channel: string(channel), EmailsSent: res.EmailsSent, Message: res.Message}, err
	}
	res, err := runner.RunSMS(ctx, req)
	return response{StatusCode: res.StatusCode, Channel: string(channel), ContactsProcessed: res.ContactsProcessed, Message: res.Message}, err
}
