package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/wolfman30/propreach/cmd/mainconfig"
	"github.com/wolfman30/propreach/internal/app/bootstrap"
	appconfig "github.com/wolfman30/propreach/internal/config"
	"github.com/wolfman30/propreach/internal/disposition"
	"github.com/wolfman30/propreach/pkg/logging"
)

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	if cfg.DispositionQueueURL == "" {
		logger.Error("DISPOSITION_QUEUE_URL is required")
		os.Exit(1)
	}

	awsConfig, err := mainconfig.LoadAWSConfig(context.Background(), cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}
	core, err := bootstrap.BuildCore(context.Background(), cfg, awsConfig, nil, logger)
	if err != nil {
		logger.Error("failed to wire core", "error", err)
		os.Exit(1)
	}

	queue := disposition.NewSQSQueue(sqs.NewFromConfig(awsConfig), cfg.DispositionQueueURL)
	worker := disposition.NewWorker(bootstrap.BuildBroadcaster(core), queue, logger,
		disposition.WithWorkerCount(2),
	)

	// Under Lambda the SQS event source mapping does the polling.
	if os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != "" {
		lambda.Start(worker.HandleSQSEvent)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	worker.Start(ctx)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down disposition worker...")
	cancel()

	doneCtx, doneCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer doneCancel()

	waitCh := make(chan struct{})
	go func() {
		worker.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Info("disposition worker stopped")
	case <-doneCtx.Done():
		logger.Error("disposition worker shutdown timed out", "error", doneCtx.Err())
	}
}
