package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/propreach/internal/cadence"
	"github.com/wolfman30/propreach/internal/compliance"
	appconfig "github.com/wolfman30/propreach/internal/config"
	"github.com/wolfman30/propreach/internal/conversation"
	"github.com/wolfman30/propreach/internal/crm"
	"github.com/wolfman30/propreach/internal/disposition"
	"github.com/wolfman30/propreach/internal/integrations"
	"github.com/wolfman30/propreach/internal/notify"
	"github.com/wolfman30/propreach/internal/observability/metrics"
	"github.com/wolfman30/propreach/internal/outreach"
	"github.com/wolfman30/propreach/internal/property"
	"github.com/wolfman30/propreach/internal/ratelimit"
	outreachworker "github.com/wolfman30/propreach/internal/worker/outreach"
	"github.com/wolfman30/propreach/pkg/logging"
)

// Core holds the collaborators shared by every binary.
type Core struct {
	Config       *appconfig.Config
	Logger       *logging.Logger
	AWS          aws.Config
	Queue        *outreach.DynamoQueue
	Integrations *integrations.Store
	Tokens       *integrations.TokenProvider
	CRM          *crm.Client
	Limiter      *ratelimit.Limiter
	Hours        *compliance.BusinessHours
	SMSCadence   *cadence.Tracker
	EmailCadence *cadence.Tracker
	DialCadence  *cadence.Tracker
	TouchLog     *compliance.TouchLog
	Metrics      *metrics.OutreachMetrics
}

// BuildCore wires storage, CRM access, quotas and cadences from config.
// reg may be nil when metrics are not exported.
func BuildCore(ctx context.Context, cfg *appconfig.Config, awsCfg aws.Config, reg prometheus.Registerer, logger *logging.Logger) (*Core, error) {
	if cfg == nil {
		return nil, errors.New("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	hours, err := compliance.NewBusinessHours(cfg.BusinessHoursTimezone)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: business hours: %w", err)
	}
	fieldIDs, err := cfg.CustomFieldIDs()
	if err != nil {
		return nil, fmt.Errorf("bootstrap: CRM_CUSTOM_FIELDS_JSON: %w", err)
	}

	ddb := dynamodb.NewFromConfig(awsCfg)
	store := integrations.NewStore(ddb, cfg.IntegrationsTable, logger)
	tokens := integrations.NewTokenProvider(store, integrations.NewOAuthConfig(cfg.CRMClientID, cfg.CRMClientSecret, cfg.CRMTokenURL), logger)

	client, err := crm.New(crm.Config{
		BaseURL:    cfg.CRMBaseURL,
		APIVersion: cfg.CRMAPIVersion,
		Timeout:    cfg.CRMTimeout,
		Fields:     crm.NewFieldMap(fieldIDs),
		Logger:     logger,
	}, tokens)
	if err != nil {
		return nil, err
	}

	limiter := ratelimit.New(store, map[ratelimit.Kind]ratelimit.Limits{
		ratelimit.KindSMS:      {Hourly: cfg.SMSHourlyCap, Daily: cfg.SMSDailyCap},
		ratelimit.KindEmail:    {Hourly: cfg.EmailHourlyCap, Daily: cfg.EmailDailyCap},
		ratelimit.KindCRMWrite: {Hourly: cfg.CRMHourlyCap, Daily: cfg.CRMDailyCap},
	}, logger)

	loc := hours.Location()
	core := &Core{
		Config:       cfg,
		Logger:       logger,
		AWS:          awsCfg,
		Queue:        outreach.NewDynamoQueue(ddb, cfg.OutreachQueueTable, logger),
		Integrations: store,
		Tokens:       tokens,
		CRM:          client,
		Limiter:      limiter,
		Hours:        hours,
		SMSCadence:   cadence.NewTracker(cadence.SMSPolicy(cfg.SMSMaxTouches).WithSpacing(cfg.CadenceSpacingEnabled, cfg.CadenceMinBusinessDays), client, loc, logger),
		EmailCadence: cadence.NewTracker(cadence.EmailPolicy(cfg.EmailMaxTouches).WithSpacing(cfg.CadenceSpacingEnabled, cfg.CadenceMinBusinessDays), client, loc, logger),
		DialCadence:  cadence.NewTracker(cadence.DialTrackingPolicy(cfg.DialMaxTouches), client, loc, logger),
	}
	if reg != nil {
		core.Metrics = metrics.NewOutreachMetrics(reg)
	}
	if pool := BuildPostgresPool(ctx, cfg, logger); pool != nil {
		core.TouchLog = compliance.NewTouchLog(pool)
	}
	return core, nil
}

// BuildRunner wires the scheduled outreach runner.
func BuildRunner(core *Core) *outreachworker.Runner {
	cfg := core.Config
	runner := outreachworker.NewRunner(core.Hours, core.Integrations, core.Tokens, core.Queue, core.CRM, core.Limiter,
		core.SMSCadence, core.EmailCadence, outreachworker.Config{
			SMSBatchSize:   cfg.SMSBatchSize,
			EmailBatchSize: cfg.EmailBatchSize,
			SMSSendDelay:   cfg.SMSSendDelay,
			EmailSendDelay: cfg.EmailSendDelay,
			MinTouchGap:    cfg.OutreachMinTouchGap,
			EmailFrom:      cfg.CRMEmailFrom,
		}, core.Logger).WithMetrics(core.Metrics)
	if core.TouchLog != nil {
		runner.WithLedger(core.TouchLog)
	}
	return runner
}

// BuildBroadcaster wires the sibling disposition fan-out.
func BuildBroadcaster(core *Core) *disposition.Broadcaster {
	b := disposition.NewBroadcaster(core.Queue, core.Queue, core.CRM, core.Limiter, core.Config.SiblingUpdateSpacing, core.Logger).
		WithDialTracking(core.DialCadence).
		WithMetrics(core.Metrics)
	if core.TouchLog != nil {
		b.WithLedger(core.TouchLog)
	}
	return b
}

// BuildPublisher returns an SQS publisher when a queue is configured and
// an inline broadcaster otherwise.
func BuildPublisher(core *Core, broadcaster *disposition.Broadcaster) conversation.DispositionPublisher {
	if url := core.Config.DispositionQueueURL; url != "" {
		return disposition.NewPublisher(disposition.NewSQSQueue(sqs.NewFromConfig(core.AWS), url))
	}
	core.Logger.Warn("DISPOSITION_QUEUE_URL not set; broadcasting dispositions inline")
	return disposition.NewInlinePublisher(broadcaster)
}

// BuildEngine wires the inbound conversation engine.
func BuildEngine(ctx context.Context, core *Core, redisClient *redis.Client, publisher conversation.DispositionPublisher) (*conversation.Engine, error) {
	cfg := core.Config
	if redisClient == nil {
		return nil, errors.New("bootstrap: redis is required for inbound dedup")
	}
	gen, err := buildGenerator(ctx, core)
	if err != nil {
		return nil, err
	}

	tools := &conversation.ToolSet{
		Scheduler: core.CRM,
		Searches:  &conversation.CRMSearchSaver{CRM: core.CRM},
	}
	if props := property.NewClient(cfg.PropertyAPIURL, cfg.PropertyAPIKey, cfg.CRMTimeout, core.Logger); props != nil {
		tools.Addresses = props
		tools.Valuations = props
	}

	return conversation.NewEngine(conversation.Deps{
		CRM:         core.CRM,
		Generator:   gen,
		Dedup:       conversation.NewRedisDeduper(redisClient, cfg.InboundDedupTTL),
		Quota:       core.Limiter,
		Publisher:   publisher,
		Eligibility: conversation.NewEligibility(cfg.AILeadTypes),
		Tools:       tools,
		Accounts:    core.Integrations,
		History:     conversation.NewRedisHistory(redisClient),
		Queue:       core.Queue,
		Notifier:    buildHandoffNotifier(core),
		Metrics:     core.Metrics,
		Logger:      core.Logger,
		Timezone:    cfg.BusinessHoursTimezone,
		EmailFrom:   cfg.CRMEmailFrom,
		Now:         func() time.Time { return time.Now().UTC() },
	})
}

func buildGenerator(ctx context.Context, core *Core) (conversation.Generator, error) {
	cfg := core.Config
	var primary, fallback conversation.Generator
	if cfg.BedrockModelID != "" {
		primary = conversation.NewBedrockGenerator(bedrockruntime.NewFromConfig(core.AWS), cfg.BedrockModelID)
	}
	if cfg.GeminiAPIKey != "" {
		gem, err := conversation.NewGeminiGenerator(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID)
		if err != nil {
			core.Logger.Warn("gemini fallback unavailable", "error", err)
		} else {
			fallback = gem
		}
	}
	switch {
	case primary != nil && fallback != nil:
		return conversation.NewFallbackGenerator(primary, fallback, core.Logger), nil
	case primary != nil:
		return primary, nil
	case fallback != nil:
		return fallback, nil
	}
	return nil, errors.New("bootstrap: BEDROCK_MODEL_ID or GEMINI_API_KEY is required")
}

func buildHandoffNotifier(core *Core) *notify.HandoffNotifier {
	cfg := core.Config
	var sender notify.EmailSender
	switch cfg.EmailProvider {
	case "ses":
		if cfg.SESFromEmail != "" {
			sender = notify.NewSESSender(sesv2.NewFromConfig(core.AWS), notify.SESConfig{FromEmail: cfg.SESFromEmail, FromName: cfg.SendGridFromName}, core.Logger)
		}
	default:
		if s := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, core.Logger); s != nil {
			sender = s
		}
	}
	if sender == nil {
		core.Logger.Warn("no email provider configured; handoff emails are logged only")
		sender = notify.NewStubEmailSender(core.Logger)
	}
	return notify.NewHandoffNotifier(sender, cfg.HandoffNotifyEmail, core.Logger)
}
