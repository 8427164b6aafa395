package disposition

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/wolfman30/propreach/internal/outreach"
	"github.com/wolfman30/propreach/pkg/logging"
)

const (
	defaultWorkerCount   = 1
	defaultWaitSeconds   = 10
	defaultBatchSize     = 5
	maxWaitSeconds       = 20
	maxReceiveBatchSize  = 10
	deleteTimeoutSeconds = 5
)

type eventHandler interface {
	Handle(ctx context.Context, evt outreach.DispositionEvent) (Result, error)
}

// Worker drains the disposition queue and broadcasts each event.
type Worker struct {
	handler eventHandler
	queue   queueClient
	logger  *logging.Logger

	workers   int
	waitSecs  int
	batchSize int
	wg        sync.WaitGroup
}

// WorkerOption customizes worker behavior.
type WorkerOption func(*Worker)

func WithWorkerCount(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.workers = n
		}
	}
}

// WithReceiveWaitSeconds sets the SQS long-poll wait duration.
func WithReceiveWaitSeconds(seconds int) WorkerOption {
	return func(w *Worker) {
		if seconds < 0 {
			return
		}
		if seconds > maxWaitSeconds {
			seconds = maxWaitSeconds
		}
		w.waitSecs = seconds
	}
}

func WithReceiveBatchSize(size int) WorkerOption {
	return func(w *Worker) {
		if size <= 0 {
			return
		}
		if size > maxReceiveBatchSize {
			size = maxReceiveBatchSize
		}
		w.batchSize = size
	}
}

func NewWorker(handler eventHandler, queue queueClient, logger *logging.Logger, opts ...WorkerOption) *Worker {
	if handler == nil {
		panic("disposition: handler cannot be nil")
	}
	if queue == nil {
		panic("disposition: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	w := &Worker{
		handler:   handler,
		queue:     queue,
		logger:    logger,
		workers:   defaultWorkerCount,
		waitSecs:  defaultWaitSeconds,
		batchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start launches consumer goroutines until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i+1)
	}
}

// Wait blocks until all consumer goroutines exit.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()
	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, err := w.RunOnce(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.logger.Error("failed to receive disposition events", "error", err, "worker_id", workerID)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second
		if n == 0 && w.waitSecs == 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
	}
}

// RunOnce receives one batch and processes it, returning the batch size.
// Only handled, undecodable and permanently failed messages are deleted;
// everything else stays on the queue for redelivery.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	messages, err := w.queue.Receive(ctx, w.batchSize, w.waitSecs)
	if err != nil {
		return 0, err
	}
	for _, msg := range messages {
		if w.process(ctx, msg.Body) {
			w.deleteMessage(msg.ReceiptHandle)
		}
	}
	return len(messages), nil
}

// process reports whether the message is done and can be deleted. Errors not
// marked permanent (store throttling, timeouts, CRM outages) are retried so
// an opt-out is never dropped.
func (w *Worker) process(ctx context.Context, body string) bool {
	var evt outreach.DispositionEvent
	if err := json.Unmarshal([]byte(body), &evt); err != nil {
		w.logger.Error("failed to decode disposition event", "error", err)
		return true
	}
	res, err := w.handler.Handle(ctx, evt)
	if err != nil {
		w.logger.Error("disposition broadcast failed",
			"error", err,
			"contact_id", evt.ContactID,
			"outcome", evt.Outcome,
			"retry", !outreach.IsPermanent(err),
		)
		return outreach.IsPermanent(err)
	}
	w.logger.Debug("disposition processed", "contact_id", evt.ContactID, "updated", res.UpdatedContacts, "failed", res.Failed)
	return true
}

func (w *Worker) deleteMessage(receiptHandle string) {
	ctx, cancel := context.WithTimeout(context.Background(), deleteTimeoutSeconds*time.Second)
	defer cancel()
	if err := w.queue.Delete(ctx, receiptHandle); err != nil {
		w.logger.Error("failed to delete disposition message", "error", err)
	}
}

// HandleSQSEvent processes a Lambda SQS batch, reporting records that must be
// retried back so only they are redelivered.
func (w *Worker) HandleSQSEvent(ctx context.Context, evt events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, record := range evt.Records {
		if !w.process(ctx, record.Body) {
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
		}
	}
	if n := len(resp.BatchItemFailures); n > 0 {
		w.logger.Warn("disposition batch had failures", "failed", n, "total", len(evt.Records))
	}
	return resp, nil
}
