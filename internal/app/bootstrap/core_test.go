package bootstrap

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/wolfman30/propreach/internal/config"
	"github.com/wolfman30/propreach/internal/disposition"
	"github.com/wolfman30/propreach/pkg/logging"
)

func testConfig() *appconfig.Config {
	return &appconfig.Config{
		OutreachQueueTable:    "outreach-queue",
		IntegrationsTable:     "crm-integrations",
		CRMBaseURL:            "https://crm.example.com",
		CRMTokenURL:           "https://crm.example.com/oauth/token",
		CRMCustomFieldsJSON:   `{"call_outcome":"fld_1"}`,
		BusinessHoursTimezone: "America/New_York",
		SMSMaxTouches:         7,
		EmailMaxTouches:       7,
		DialMaxTouches:        8,
		SMSBatchSize:          10,
		EmailBatchSize:        25,
		EmailProvider:         "sendgrid",
	}
}

func testAWS() aws.Config {
	return aws.Config{Region: "us-east-1"}
}

func TestBuildCoreWiresComponents(t *testing.T) {
	core, err := BuildCore(context.Background(), testConfig(), testAWS(), prometheus.NewRegistry(), logging.Default())
	require.NoError(t, err)

	assert.NotNil(t, core.Queue)
	assert.NotNil(t, core.CRM)
	assert.NotNil(t, core.Limiter)
	assert.NotNil(t, core.Metrics)
	assert.Nil(t, core.TouchLog, "no DATABASE_URL means no ledger")
	assert.Equal(t, 7, core.SMSCadence.Policy().MaxTouches)
	assert.Equal(t, 8, core.DialCadence.Policy().MaxTouches)

	id, ok := core.CRM.Fields().ID("call_outcome")
	assert.True(t, ok)
	assert.Equal(t, "fld_1", id)

	assert.NotNil(t, BuildRunner(core))
	assert.NotNil(t, BuildBroadcaster(core))
}

func TestBuildCoreRejectsBadInput(t *testing.T) {
	_, err := BuildCore(context.Background(), nil, testAWS(), nil, nil)
	require.Error(t, err)

	cfg := testConfig()
	cfg.BusinessHoursTimezone = "Not/AZone"
	_, err = BuildCore(context.Background(), cfg, testAWS(), nil, nil)
	require.Error(t, err)

	cfg = testConfig()
	cfg.CRMCustomFieldsJSON = "{broken"
	_, err = BuildCore(context.Background(), cfg, testAWS(), nil, nil)
	require.Error(t, err)
}

func TestBuildPublisherFallsBackInline(t *testing.T) {
	core, err := BuildCore(context.Background(), testConfig(), testAWS(), nil, logging.Default())
	require.NoError(t, err)

	pub := BuildPublisher(core, BuildBroadcaster(core))
	_, inline := pub.(*disposition.InlinePublisher)
	assert.True(t, inline)

	core.Config.DispositionQueueURL = "https://sqs.us-east-1.amazonaws.com/123/dispositions"
	pub = BuildPublisher(core, BuildBroadcaster(core))
	_, queued := pub.(*disposition.Publisher)
	assert.True(t, queued)
}

func TestBuildEngine(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.RedisAddr = mr.Addr()

	core, err := BuildCore(context.Background(), cfg, testAWS(), nil, logging.Default())
	require.NoError(t, err)
	client := BuildRedisClient(context.Background(), cfg, core.Logger, true)
	require.NotNil(t, client)
	defer client.Close()

	pub := BuildPublisher(core, BuildBroadcaster(core))

	_, err = BuildEngine(context.Background(), core, nil, pub)
	require.Error(t, err, "redis required")

	_, err = BuildEngine(context.Background(), core, client, pub)
	require.Error(t, err, "no generator configured")

	cfg.BedrockModelID = "anthropic.claude-3-haiku"
	engine, err := BuildEngine(context.Background(), core, client, pub)
	require.NoError(t, err)
	assert.NotNil(t, engine)
	assert.Same(t, core.Limiter, engine.Quota)
}

func TestBuildRedisClientDisabled(t *testing.T) {
	assert.Nil(t, BuildRedisClient(context.Background(), &appconfig.Config{}, nil, true))
	assert.Nil(t, BuildPostgresPool(context.Background(), &appconfig.Config{}, nil))
}
